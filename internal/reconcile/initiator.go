package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-payment-reconciler/internal/gateway"
	"github.com/imrishuroy/go-payment-reconciler/internal/orders"
)

// ErrNotPayable is returned when initiating payment for an order that is no longer pending.
var ErrNotPayable = errors.New("order is not awaiting payment")

type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, req gateway.CreateInvoiceRequest) (*gateway.Invoice, error)
}

type InitiatorStore interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	AttachReference(ctx context.Context, orderID, reference string) error
}

// Initiation describes the invoice attached to an order.
type Initiation struct {
	OrderID    string `json:"order_id"`
	Reference  string `json:"reference"`
	InvoiceURL string `json:"invoice_url,omitempty"`
	Created    bool   `json:"created"`
}

// Initiator opens a processor invoice for an order and records its id as the
// order's external reference.
type Initiator struct {
	store   InitiatorStore
	gateway InvoiceCreator
	logger  *zap.SugaredLogger
}

func NewInitiator(store InitiatorStore, gw InvoiceCreator, logger *zap.SugaredLogger) *Initiator {
	return &Initiator{
		store:   store,
		gateway: gw,
		logger:  logger,
	}
}

// Initiate is repeatable: an order that already has a reference returns it unchanged.
func (i *Initiator) Initiate(ctx context.Context, orderID string) (Initiation, error) {
	o, err := i.store.Get(ctx, orderID)
	if err != nil {
		return Initiation{}, err
	}
	if o.ExternalReference != "" {
		return Initiation{OrderID: orderID, Reference: o.ExternalReference}, nil
	}
	if o.PaymentStatus != orders.PaymentPending {
		return Initiation{}, ErrNotPayable
	}

	inv, err := i.gateway.CreateInvoice(ctx, gateway.CreateInvoiceRequest{
		ExternalID:  o.OrderID,
		Amount:      o.Total(),
		Currency:    o.Currency,
		PayerEmail:  o.CustomerEmail,
		Description: fmt.Sprintf("Order %s", o.OrderID),
	})
	if err != nil {
		return Initiation{}, fmt.Errorf("create invoice: %w", err)
	}

	err = i.store.AttachReference(ctx, orderID, inv.ID)
	if errors.Is(err, orders.ErrReferenceConflict) {
		// A concurrent initiation attached its invoice first; that one wins.
		current, getErr := i.store.Get(ctx, orderID)
		if getErr != nil {
			return Initiation{}, getErr
		}
		i.logger.Warnw("discarding invoice, order already has a reference",
			"order_id", orderID,
			"invoice_id", inv.ID,
			"reference", current.ExternalReference,
		)
		return Initiation{OrderID: orderID, Reference: current.ExternalReference}, nil
	}
	if err != nil {
		return Initiation{}, fmt.Errorf("attach reference: %w", err)
	}

	i.logger.Infow("payment initiated", "order_id", orderID, "invoice_id", inv.ID)
	return Initiation{
		OrderID:    orderID,
		Reference:  inv.ID,
		InvoiceURL: inv.InvoiceURL,
		Created:    true,
	}, nil
}
