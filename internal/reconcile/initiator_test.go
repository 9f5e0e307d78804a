package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-payment-reconciler/internal/gateway"
	"github.com/imrishuroy/go-payment-reconciler/internal/orders"
)

func TestInitiate_AttachesInvoice(t *testing.T) {
	store := newMemStore(pendingOrder("o1", ""))
	gw := &fakeGateway{}
	i := NewInitiator(store, gw, zap.NewNop().Sugar())

	got, err := i.Initiate(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, got.Created)
	assert.Equal(t, "INV-o1", got.Reference)

	o, _ := store.Get(context.Background(), "o1")
	assert.Equal(t, "INV-o1", o.ExternalReference)

	again, err := i.Initiate(context.Background(), "o1")
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, "INV-o1", again.Reference)
	assert.Equal(t, 1, gw.callCount())
}

type racingCreator struct {
	store *memStore
}

func (c racingCreator) CreateInvoice(ctx context.Context, req gateway.CreateInvoiceRequest) (*gateway.Invoice, error) {
	// another initiation attaches its invoice while ours is being created
	_ = c.store.AttachReference(ctx, req.ExternalID, "INV-first")
	return &gateway.Invoice{ID: "INV-second"}, nil
}

func TestInitiate_ConcurrentInitiationKeepsFirst(t *testing.T) {
	store := newMemStore(pendingOrder("o1", ""))
	i := NewInitiator(store, racingCreator{store: store}, zap.NewNop().Sugar())

	got, err := i.Initiate(context.Background(), "o1")
	require.NoError(t, err)
	assert.False(t, got.Created)
	assert.Equal(t, "INV-first", got.Reference)
}

func TestInitiate_NotPayable(t *testing.T) {
	o := pendingOrder("o1", "")
	o.PaymentStatus = orders.PaymentFailed
	i := NewInitiator(newMemStore(o), &fakeGateway{}, zap.NewNop().Sugar())

	_, err := i.Initiate(context.Background(), "o1")
	assert.ErrorIs(t, err, ErrNotPayable)

	_, err = i.Initiate(context.Background(), "missing")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}
