package orders

import "context"

// Repository is the store contract shared by the DynamoDB and Postgres backends.
type Repository interface {
	// Get returns the order with its items, or ErrNotFound.
	Get(ctx context.Context, orderID string) (*Order, error)
	// GetByReference resolves an order by its processor reference, or ErrNotFound.
	GetByReference(ctx context.Context, reference string) (*Order, error)
	// ApplyTransition writes t only if the stored payment_status still equals expected;
	// otherwise it returns ErrStatusMismatch (or ErrNotFound if the order is gone).
	ApplyTransition(ctx context.Context, orderID string, expected PaymentStatus, t Transition) error
	// AttachReference sets external_reference if it is empty. Attaching the same value
	// again is a no-op; a different value yields ErrReferenceConflict.
	AttachReference(ctx context.Context, orderID, reference string) error
	// ListPending returns up to limit pending orders that already carry an external reference,
	// oldest first.
	ListPending(ctx context.Context, limit int) ([]Order, error)
}
