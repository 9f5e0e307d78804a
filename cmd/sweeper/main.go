package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-payment-reconciler/internal/app"
	"github.com/imrishuroy/go-payment-reconciler/internal/config"
	"github.com/imrishuroy/go-payment-reconciler/internal/logging"
	"github.com/imrishuroy/go-payment-reconciler/internal/reconcile"
)

type sweeper interface {
	Run(ctx context.Context) (reconcile.SweepResult, error)
}

// handler runs one sweep per scheduled CloudWatch event.
func handler(s sweeper, logger *zap.SugaredLogger) func(ctx context.Context, ev events.CloudWatchEvent) (reconcile.SweepResult, error) {
	return func(ctx context.Context, ev events.CloudWatchEvent) (reconcile.SweepResult, error) {
		logger.Infow("scheduled sweep", "event_id", ev.ID, "time", ev.Time)
		return s.Run(ctx)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.RunLocal)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatalw("failed to init app", "error", err)
	}
	defer a.Close()

	h := handler(a.Sweeper, logger)

	// RUN_LOCAL runs a single sweep and exits.
	if cfg.RunLocal {
		res, err := h(context.Background(), events.CloudWatchEvent{ID: "local"})
		if err != nil {
			logger.Fatalw("sweep failed", "error", err)
		}
		logger.Infow("sweep result", "result", res)
		return
	}

	lambda.Start(h)
}
