package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-payment-reconciler/internal/idempotency"
	"github.com/imrishuroy/go-payment-reconciler/internal/orders"
)

// Claims records which side effects have already been attempted.
type Claims interface {
	Claim(ctx context.Context, key, orderID string) (bool, error)
	MarkDone(ctx context.Context, key, messageID string) error
	MarkFailed(ctx context.Context, key, note string) error
}

type OrderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

type Renderer interface {
	Render(o *orders.Order) (Message, error)
}

var errNoRecipient = errors.New("order has no customer email")

// Dispatcher sends the payment confirmation email. Each order's email is claimed before
// sending, so duplicate rising edges never produce a second email. Failures are logged and
// recorded on the claim; they are never returned to the caller.
type Dispatcher struct {
	claims    Claims
	orders    OrderReader
	renderer  Renderer
	transport Transport
	logger    *zap.SugaredLogger
}

func NewDispatcher(claims Claims, reader OrderReader, renderer Renderer, transport Transport, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		claims:    claims,
		orders:    reader,
		renderer:  renderer,
		transport: transport,
		logger:    logger,
	}
}

func (d *Dispatcher) OrderPaid(ctx context.Context, orderID string) {
	key := idempotency.ConfirmationKey(orderID)
	claimed, err := d.claims.Claim(ctx, key, orderID)
	if err != nil {
		d.logger.Errorw("failed to claim confirmation email", "order_id", orderID, "error", err)
		return
	}
	if !claimed {
		d.logger.Infow("confirmation email already claimed", "order_id", orderID)
		return
	}

	messageID, err := d.send(ctx, orderID)
	if err != nil {
		d.logger.Errorw("confirmation email failed", "order_id", orderID, "error", err)
		if markErr := d.claims.MarkFailed(ctx, key, err.Error()); markErr != nil {
			d.logger.Warnw("failed to record email failure", "order_id", orderID, "error", markErr)
		}
		return
	}

	if err := d.claims.MarkDone(ctx, key, messageID); err != nil {
		d.logger.Warnw("failed to record email delivery", "order_id", orderID, "error", err)
	}
	d.logger.Infow("confirmation email sent", "order_id", orderID, "message_id", messageID)
}

func (d *Dispatcher) send(ctx context.Context, orderID string) (string, error) {
	o, err := d.orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	if o.CustomerEmail == "" {
		return "", errNoRecipient
	}
	msg, err := d.renderer.Render(o)
	if err != nil {
		return "", err
	}
	msg.ID = uuid.NewString()
	return d.transport.Send(ctx, msg)
}
