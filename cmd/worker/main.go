package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-payment-reconciler/internal/app"
	"github.com/imrishuroy/go-payment-reconciler/internal/config"
	"github.com/imrishuroy/go-payment-reconciler/internal/logging"
	"github.com/imrishuroy/go-payment-reconciler/internal/notify"
)

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

	claims, closeClaims, err := app.NewClaimStore(context.Background(), cfg)
	if err != nil {
		logger.Fatalw("failed to init claim store", "error", err)
	}
	defer closeClaims()

	var transport notify.Transport = notify.NewLogTransport(logger)
	if cfg.SMTPAddr != "" {
		transport = notify.NewSMTPTransport(cfg.SMTPAddr, cfg.SMTPUsername, cfg.SMTPPassword)
	}
	p := NewProcessor(claims, transport, logger)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"id":"local-message-1","order_id":"local-order-1","from":"orders@example.com","to":"buyer@example.com","subject":"Payment received","body":"local test"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: testBody},
			},
		}
		resp, err := p.Handle(context.Background(), event)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logger.Fatalw("local handler error", "error", err, "failures", resp.BatchItemFailures)
		}
		return
	}

	lambda.Start(p.Handle)
}
