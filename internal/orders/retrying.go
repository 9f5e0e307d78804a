package orders

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-payment-reconciler/internal/retry"
)

// RetryingStore applies one retry policy to every Repository call. Only errors the backend
// marked transient are retried; ErrNotFound, ErrStatusMismatch and friends pass straight through.
type RetryingStore struct {
	next   Repository
	policy retry.Policy
	logger *zap.SugaredLogger
}

func NewRetryingStore(next Repository, policy retry.Policy, logger *zap.SugaredLogger) *RetryingStore {
	return &RetryingStore{
		next:   next,
		policy: policy,
		logger: logger,
	}
}

func (s *RetryingStore) Get(ctx context.Context, orderID string) (*Order, error) {
	var o *Order
	err := s.do(ctx, "get", orderID, func(ctx context.Context) error {
		var err error
		o, err = s.next.Get(ctx, orderID)
		return err
	})
	return o, err
}

func (s *RetryingStore) GetByReference(ctx context.Context, reference string) (*Order, error) {
	var o *Order
	err := s.do(ctx, "get_by_reference", reference, func(ctx context.Context) error {
		var err error
		o, err = s.next.GetByReference(ctx, reference)
		return err
	})
	return o, err
}

// ApplyTransition retries transient failures. A write can commit and still report a transient
// error (a timeout on the response), in which case the retry fails its condition. If the stored
// status already equals the target after such a failure, the earlier attempt is taken as the one
// that committed.
func (s *RetryingStore) ApplyTransition(ctx context.Context, orderID string, expected PaymentStatus, t Transition) error {
	sawTransient := false
	err := s.do(ctx, "apply_transition", orderID, func(ctx context.Context) error {
		err := s.next.ApplyTransition(ctx, orderID, expected, t)
		if retry.IsTransient(err) {
			sawTransient = true
		}
		return err
	})
	if !sawTransient || !errors.Is(err, ErrStatusMismatch) {
		return err
	}

	current, getErr := s.Get(ctx, orderID)
	if getErr != nil {
		return err
	}
	if current.PaymentStatus != t.PaymentStatus {
		return err
	}
	s.logger.Infow("transition committed before a transient failure",
		"order_id", orderID,
		"payment_status", t.PaymentStatus,
	)
	return nil
}

func (s *RetryingStore) AttachReference(ctx context.Context, orderID, reference string) error {
	return s.do(ctx, "attach_reference", orderID, func(ctx context.Context) error {
		return s.next.AttachReference(ctx, orderID, reference)
	})
}

func (s *RetryingStore) ListPending(ctx context.Context, limit int) ([]Order, error) {
	var result []Order
	err := s.do(ctx, "list_pending", "", func(ctx context.Context) error {
		var err error
		result, err = s.next.ListPending(ctx, limit)
		return err
	})
	return result, err
}

func (s *RetryingStore) do(ctx context.Context, op, key string, fn func(ctx context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, s.policy, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && retry.IsTransient(err) {
			s.logger.Warnw("transient order store failure",
				"op", op,
				"key", key,
				"attempt", attempt,
				"error", err,
			)
		}
		return err
	})
}
