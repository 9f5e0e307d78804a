package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/imrishuroy/go-payment-reconciler/internal/orders"
)

// Lister returns pending orders that carry a processor reference.
type Lister interface {
	ListPending(ctx context.Context, limit int) ([]orders.Order, error)
}

type SweepConfig struct {
	StaleAfter  time.Duration
	BatchSize   int
	Concurrency int
	// GatewayRPS caps gateway calls per second across workers; zero disables the limit.
	GatewayRPS float64
}

// SweepResult counts what one sweep did. Updated counts polled orders whose status changed;
// TimedOut counts orders forced to failed.
type SweepResult struct {
	Examined int `json:"examined"`
	Updated  int `json:"updated"`
	TimedOut int `json:"timed_out"`
	Errors   int `json:"errors"`
}

// Sweeper is the batch backstop for lost webhooks and abandoned payments.
type Sweeper struct {
	lister     Lister
	poller     *Poller
	reconciler *Reconciler
	metrics    Metrics
	cfg        SweepConfig
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger
	nowFunc    func() time.Time
}

// NewSweeper creates a sweeper. metrics may be nil.
func NewSweeper(lister Lister, poller *Poller, reconciler *Reconciler, metrics Metrics, cfg SweepConfig, logger *zap.SugaredLogger) *Sweeper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	var limiter *rate.Limiter
	if cfg.GatewayRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.GatewayRPS), 1)
	}
	return &Sweeper{
		lister:     lister,
		poller:     poller,
		reconciler: reconciler,
		metrics:    metrics,
		cfg:        cfg,
		limiter:    limiter,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// Run sweeps one batch. Only a failure to list the batch is returned as an error;
// per-order failures are logged and counted.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	pending, err := s.lister.ListPending(ctx, s.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list pending orders: %w", err)
	}

	var (
		mu     sync.Mutex
		result = SweepResult{Examined: len(pending)}
	)
	now := s.nowFunc()
	reason := fmt.Sprintf("payment timed out after %s", s.cfg.StaleAfter)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range pending {
		o := pending[i]
		g.Go(func() error {
			timedOut, updated, err := s.sweepOne(gctx, &o, now, reason)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Errors++
				s.logger.Errorw("sweep order failed", "order_id", o.OrderID, "error", err)
			case timedOut:
				result.TimedOut++
			case updated:
				result.Updated++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Infow("sweep finished",
		"examined", result.Examined,
		"updated", result.Updated,
		"timed_out", result.TimedOut,
		"errors", result.Errors,
	)
	s.publish(ctx, result)
	return result, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, o *orders.Order, now time.Time, reason string) (timedOut, updated bool, err error) {
	if s.cfg.StaleAfter > 0 && now.Sub(o.CreatedAt) > s.cfg.StaleAfter {
		res, err := s.reconciler.ForceTimeout(ctx, o.OrderID, reason)
		if err != nil {
			return false, false, err
		}
		return res.Outcome == OutcomeApplied, false, nil
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return false, false, err
		}
	}
	res, err := s.poller.poll(ctx, o, SourceSweep)
	if err != nil {
		return false, false, err
	}
	return false, res.Outcome == OutcomeApplied, nil
}

func (s *Sweeper) publish(ctx context.Context, r SweepResult) {
	if s.metrics == nil {
		return
	}
	counts := map[string]int{
		"SweepExamined": r.Examined,
		"SweepUpdated":  r.Updated,
		"SweepTimedOut": r.TimedOut,
		"SweepErrors":   r.Errors,
	}
	for metric, v := range counts {
		if err := s.metrics.PutCount(ctx, metric, float64(v), nil); err != nil {
			s.logger.Warnw("failed to publish sweep metric", "metric", metric, "error", err)
		}
	}
}
