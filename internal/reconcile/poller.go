package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/imrishuroy/go-payment-reconciler/internal/gateway"
	"github.com/imrishuroy/go-payment-reconciler/internal/orders"
)

// ErrNoReference means the order has no processor invoice to poll yet.
var ErrNoReference = errors.New("order has no external reference")

// Gateway reads invoice state from the payment processor.
type Gateway interface {
	GetInvoice(ctx context.Context, invoiceID string) (*gateway.Invoice, error)
}

// PollResult is the reconciliation result plus the processor's raw payload.
type PollResult struct {
	Result
	Gateway json.RawMessage `json:"gateway,omitempty"`
}

// Poller asks the processor for the current invoice status and merges it.
type Poller struct {
	store      Store
	gateway    Gateway
	reconciler *Reconciler
}

func NewPoller(store Store, gw Gateway, reconciler *Reconciler) *Poller {
	return &Poller{
		store:      store,
		gateway:    gw,
		reconciler: reconciler,
	}
}

// PollOrder polls the invoice attached to orderID.
func (p *Poller) PollOrder(ctx context.Context, orderID string, source Source) (PollResult, error) {
	o, err := p.store.Get(ctx, orderID)
	if err != nil {
		return PollResult{}, err
	}
	return p.poll(ctx, o, source)
}

// PollInvoice polls by processor invoice id. The order is resolved from the reference.
func (p *Poller) PollInvoice(ctx context.Context, invoiceID string, source Source) (PollResult, error) {
	inv, err := p.gateway.GetInvoice(ctx, invoiceID)
	if err != nil {
		return PollResult{}, fmt.Errorf("get invoice %s: %w", invoiceID, err)
	}
	res, err := p.reconciler.Apply(ctx, candidateFromInvoice("", invoiceID, inv, source))
	if err != nil {
		return PollResult{}, err
	}
	return PollResult{Result: res, Gateway: inv.Raw}, nil
}

func (p *Poller) poll(ctx context.Context, o *orders.Order, source Source) (PollResult, error) {
	if o.ExternalReference == "" {
		return PollResult{}, ErrNoReference
	}
	inv, err := p.gateway.GetInvoice(ctx, o.ExternalReference)
	if err != nil {
		return PollResult{}, fmt.Errorf("get invoice %s: %w", o.ExternalReference, err)
	}
	res, err := p.reconciler.Apply(ctx, candidateFromInvoice(o.OrderID, o.ExternalReference, inv, source))
	if err != nil {
		return PollResult{}, err
	}
	return PollResult{Result: res, Gateway: inv.Raw}, nil
}

func candidateFromInvoice(orderID, reference string, inv *gateway.Invoice, source Source) Candidate {
	return Candidate{
		OrderID:        orderID,
		Reference:      reference,
		RawStatus:      inv.Status,
		FailureReason:  inv.FailureReason,
		PaymentAccount: inv.PaymentAccount,
		Source:         source,
	}
}
