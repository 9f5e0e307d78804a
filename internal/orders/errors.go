package orders

import "errors"

var (
	// ErrNotFound is returned when no order matches the id or reference.
	ErrNotFound = errors.New("order not found")

	// ErrStatusMismatch indicates the conditional update failed because the stored
	// payment_status no longer equals the expected value.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")

	// ErrReferenceConflict is returned by AttachReference when the order already carries a different reference.
	ErrReferenceConflict = errors.New("order already has a different external reference")
)
