package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/imrishuroy/go-payment-reconciler/internal/gateway"
	"github.com/imrishuroy/go-payment-reconciler/internal/orders"
)

// memStore is an in-memory Repository with the same compare-and-swap contract as the real backends.
type memStore struct {
	mu     sync.Mutex
	orders map[string]orders.Order
	writes int
	// beforeApply runs once, just before the next conditional write is evaluated.
	beforeApply func(s *memStore)
}

func newMemStore(list ...orders.Order) *memStore {
	s := &memStore{orders: map[string]orders.Order{}}
	for _, o := range list {
		s.orders[o.OrderID] = o
	}
	return s
}

func (s *memStore) Get(ctx context.Context, orderID string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &o, nil
}

func (s *memStore) GetByReference(ctx context.Context, reference string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.ExternalReference == reference {
			return &o, nil
		}
	}
	return nil, orders.ErrNotFound
}

func (s *memStore) ApplyTransition(ctx context.Context, orderID string, expected orders.PaymentStatus, t orders.Transition) error {
	if hook := s.takeHook(); hook != nil {
		hook(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	if o.PaymentStatus != expected {
		return orders.ErrStatusMismatch
	}
	o.PaymentStatus = t.PaymentStatus
	if t.Status != "" {
		o.Status = t.Status
	}
	if t.PaymentError != "" {
		o.PaymentError = t.PaymentError
	} else if t.ClearPaymentError {
		o.PaymentError = ""
	}
	if o.ExternalReference == "" {
		o.ExternalReference = t.ExternalReference
	}
	if o.PaymentAccount == "" {
		o.PaymentAccount = t.PaymentAccount
	}
	o.UpdatedAt = time.Now()
	s.orders[orderID] = o
	s.writes++
	return nil
}

func (s *memStore) AttachReference(ctx context.Context, orderID, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	if o.ExternalReference != "" && o.ExternalReference != reference {
		return orders.ErrReferenceConflict
	}
	o.ExternalReference = reference
	s.orders[orderID] = o
	return nil
}

func (s *memStore) ListPending(ctx context.Context, limit int) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []orders.Order
	for _, o := range s.orders {
		if o.PaymentStatus == orders.PaymentPending && o.ExternalReference != "" && len(result) < limit {
			result = append(result, o)
		}
	}
	return result, nil
}

// force overwrites the stored payment status outside the reconciler, simulating a racing writer.
func (s *memStore) force(orderID string, ps orders.PaymentStatus, st orders.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[orderID]
	o.PaymentStatus = ps
	o.Status = st
	s.orders[orderID] = o
}

func (s *memStore) takeHook() func(*memStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.beforeApply
	s.beforeApply = nil
	return h
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type countingNotifier struct {
	mu    sync.Mutex
	calls map[string]int
}

func (n *countingNotifier) OrderPaid(ctx context.Context, orderID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.calls == nil {
		n.calls = map[string]int{}
	}
	n.calls[orderID]++
}

func (n *countingNotifier) count(orderID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[orderID]
}

type fakeGateway struct {
	mu       sync.Mutex
	invoices map[string]*gateway.Invoice
	err      error
	calls    int
}

func (g *fakeGateway) GetInvoice(ctx context.Context, invoiceID string) (*gateway.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	inv, ok := g.invoices[invoiceID]
	if !ok {
		return nil, gateway.ErrInvoiceNotFound
	}
	return inv, nil
}

func (g *fakeGateway) CreateInvoice(ctx context.Context, req gateway.CreateInvoiceRequest) (*gateway.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	inv := &gateway.Invoice{ID: "INV-" + req.ExternalID, ExternalID: req.ExternalID, Status: "PENDING"}
	if g.invoices == nil {
		g.invoices = map[string]*gateway.Invoice{}
	}
	g.invoices[inv.ID] = inv
	return inv, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]float64
}

func (m *recordingMetrics) PutCount(ctx context.Context, metric string, value float64, dims map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]float64{}
	}
	key := metric
	if o, ok := dims["Outcome"]; ok {
		key += "/" + dims["Source"] + "/" + o
	}
	m.counts[key] += value
	return nil
}

func pendingOrder(id, ref string) orders.Order {
	now := time.Now().UTC()
	return orders.Order{
		OrderID:           id,
		CustomerEmail:     "buyer@example.com",
		Currency:          "IDR",
		PaymentStatus:     orders.PaymentPending,
		Status:            orders.StatusPending,
		ExternalReference: ref,
		Items: []orders.Item{
			{ProductName: "Kopi", Quantity: 2, UnitPrice: "15000"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
