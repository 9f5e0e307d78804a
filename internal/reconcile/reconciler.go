package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-payment-reconciler/internal/orders"
)

const defaultMaxAttempts = 5

var (
	// ErrContention is returned when the order kept changing underneath every conditional write.
	ErrContention = errors.New("order changed concurrently too many times")

	// ErrMissingCorrelation is returned for a candidate with neither order id nor reference.
	ErrMissingCorrelation = errors.New("candidate carries neither order id nor reference")
)

// Store is the part of orders.Repository the reconciler needs.
type Store interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	GetByReference(ctx context.Context, reference string) (*orders.Order, error)
	ApplyTransition(ctx context.Context, orderID string, expected orders.PaymentStatus, t orders.Transition) error
}

// Notifier is told when an order's payment first reaches completed.
type Notifier interface {
	OrderPaid(ctx context.Context, orderID string)
}

// Metrics receives best-effort outcome counters.
type Metrics interface {
	PutCount(ctx context.Context, metric string, value float64, dims map[string]string) error
}

// Candidate is a payment status reported by one of the entry points.
type Candidate struct {
	OrderID   string
	Reference string
	// RawStatus is in the processor's vocabulary, see MapProcessorStatus.
	RawStatus      string
	FailureReason  string
	PaymentAccount string
	Source         Source
}

// Result is the merged view returned to every entry point.
type Result struct {
	OrderID       string               `json:"order_id,omitempty"`
	Outcome       Outcome              `json:"outcome"`
	PaymentStatus orders.PaymentStatus `json:"payment_status,omitempty"`
	Status        orders.Status        `json:"status,omitempty"`
}

// Reconciler is the only writer of payment_status.
type Reconciler struct {
	store       Store
	notifier    Notifier
	metrics     Metrics
	logger      *zap.SugaredLogger
	maxAttempts int
}

// NewReconciler wires the core. metrics may be nil.
func NewReconciler(store Store, notifier Notifier, metrics Metrics, logger *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		store:       store,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
	}
}

// Apply merges a candidate status into the stored order.
//
// Stale and unchanged candidates are successes. The write is a compare-and-swap on the
// stored payment_status; when it loses a race the order is re-read and the decision
// re-made, up to maxAttempts times.
func (r *Reconciler) Apply(ctx context.Context, c Candidate) (Result, error) {
	status, ok := MapProcessorStatus(c.RawStatus)
	if !ok {
		r.logger.Warnw("ignoring unknown processor status",
			"order_id", c.OrderID,
			"reference", c.Reference,
			"raw_status", c.RawStatus,
			"source", c.Source,
		)
		r.count(ctx, c.Source, OutcomeIgnored)
		return Result{OrderID: c.OrderID, Outcome: OutcomeIgnored}, nil
	}

	o, err := r.resolve(ctx, c)
	if errors.Is(err, orders.ErrNotFound) {
		r.logger.Warnw("no order matches payment notification",
			"order_id", c.OrderID,
			"reference", c.Reference,
			"raw_status", c.RawStatus,
			"source", c.Source,
		)
		return Result{}, err
	}
	if err != nil {
		return Result{}, err
	}
	if c, err = r.checkReference(ctx, c, o, status); err != nil {
		return Result{}, err
	}

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		outcome := Decide(o.PaymentStatus, status)
		if outcome != OutcomeApplied {
			r.finish(ctx, c, o.OrderID, outcome)
			return Result{
				OrderID:       o.OrderID,
				Outcome:       outcome,
				PaymentStatus: o.PaymentStatus,
				Status:        o.Status,
			}, nil
		}

		t := buildTransition(status, c)
		err := r.store.ApplyTransition(ctx, o.OrderID, o.PaymentStatus, t)
		if err == nil {
			r.finish(ctx, c, o.OrderID, OutcomeApplied)
			if status == orders.PaymentCompleted {
				r.notifier.OrderPaid(ctx, o.OrderID)
			}
			return Result{
				OrderID:       o.OrderID,
				Outcome:       OutcomeApplied,
				PaymentStatus: t.PaymentStatus,
				Status:        t.Status,
			}, nil
		}
		if !errors.Is(err, orders.ErrStatusMismatch) {
			return Result{}, fmt.Errorf("apply %s to order %s: %w", status, o.OrderID, err)
		}

		r.logger.Infow("order changed during reconciliation, re-reading",
			"order_id", o.OrderID,
			"expected", o.PaymentStatus,
			"attempt", attempt,
		)
		if o, err = r.store.Get(ctx, o.OrderID); err != nil {
			return Result{}, fmt.Errorf("re-read order: %w", err)
		}
	}
	return Result{}, fmt.Errorf("order %s: %w", o.OrderID, ErrContention)
}

// ForceTimeout fails an order that is still pending. Any other stored status leaves the
// order alone and reports stale.
func (r *Reconciler) ForceTimeout(ctx context.Context, orderID, reason string) (Result, error) {
	t := orders.Transition{
		PaymentStatus: orders.PaymentFailed,
		Status:        derivedStatus(orders.PaymentFailed),
		PaymentError:  reason,
	}
	err := r.store.ApplyTransition(ctx, orderID, orders.PaymentPending, t)
	switch {
	case err == nil:
		r.logger.Infow("payment timed out", "order_id", orderID, "reason", reason)
		r.count(ctx, SourceSweep, OutcomeApplied)
		return Result{
			OrderID:       orderID,
			Outcome:       OutcomeApplied,
			PaymentStatus: t.PaymentStatus,
			Status:        t.Status,
		}, nil
	case errors.Is(err, orders.ErrStatusMismatch):
		r.count(ctx, SourceSweep, OutcomeStale)
		return Result{OrderID: orderID, Outcome: OutcomeStale}, nil
	default:
		return Result{}, fmt.Errorf("time out order %s: %w", orderID, err)
	}
}

func (r *Reconciler) resolve(ctx context.Context, c Candidate) (*orders.Order, error) {
	switch {
	case c.OrderID != "":
		return r.store.Get(ctx, c.OrderID)
	case c.Reference != "":
		return r.store.GetByReference(ctx, c.Reference)
	default:
		return nil, ErrMissingCorrelation
	}
}

// checkReference drops a candidate reference that already belongs to a different order, so
// a payment correlated by order id never attaches another order's invoice.
func (r *Reconciler) checkReference(ctx context.Context, c Candidate, o *orders.Order, status orders.PaymentStatus) (Candidate, error) {
	if status != orders.PaymentCompleted || c.Reference == "" || o.ExternalReference != "" {
		return c, nil
	}
	owner, err := r.store.GetByReference(ctx, c.Reference)
	if errors.Is(err, orders.ErrNotFound) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("check reference %s: %w", c.Reference, err)
	}
	if owner.OrderID != o.OrderID {
		r.logger.Warnw("reference belongs to another order, not attaching",
			"order_id", o.OrderID,
			"reference", c.Reference,
			"owner_order_id", owner.OrderID,
			"source", c.Source,
		)
		c.Reference = ""
	}
	return c, nil
}

func (r *Reconciler) finish(ctx context.Context, c Candidate, orderID string, outcome Outcome) {
	r.logger.Infow("reconciled payment status",
		"order_id", orderID,
		"source", c.Source,
		"raw_status", c.RawStatus,
		"outcome", outcome,
	)
	r.count(ctx, c.Source, outcome)
}

func (r *Reconciler) count(ctx context.Context, source Source, outcome Outcome) {
	if r.metrics == nil {
		return
	}
	err := r.metrics.PutCount(ctx, "ReconcileOutcome", 1, map[string]string{
		"Source":  string(source),
		"Outcome": string(outcome),
	})
	if err != nil {
		r.logger.Warnw("failed to publish reconcile metric", "error", err)
	}
}

func buildTransition(status orders.PaymentStatus, c Candidate) orders.Transition {
	t := orders.Transition{
		PaymentStatus: status,
		Status:        derivedStatus(status),
	}
	switch status {
	case orders.PaymentFailed:
		t.PaymentError = c.FailureReason
	case orders.PaymentCompleted:
		t.ClearPaymentError = true
		t.ExternalReference = c.Reference
		t.PaymentAccount = c.PaymentAccount
	}
	return t
}
