package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-payment-reconciler/internal/app"
	"github.com/imrishuroy/go-payment-reconciler/internal/idempotency"
	"github.com/imrishuroy/go-payment-reconciler/internal/notify"
)

// Processor delivers queued confirmation emails.
type Processor struct {
	claims    app.ClaimStore
	transport notify.Transport
	logger    *zap.SugaredLogger
}

func NewProcessor(claims app.ClaimStore, transport notify.Transport, logger *zap.SugaredLogger) *Processor {
	return &Processor{
		claims:    claims,
		transport: transport,
		logger:    logger,
	}
}

// Handle processes an SQS batch and reports failed records individually, so only those
// are redelivered (and eventually dead-lettered).
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	p.logger.Infow("received mail batch", "records", len(ev.Records))

	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Errorw("mail delivery failed", "sqs_message_id", rec.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg notify.Message
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if msg.ID == "" || msg.To == "" {
		return fmt.Errorf("message %s is missing id or recipient", rec.MessageId)
	}

	key := idempotency.DeliveryKey(msg.ID)
	claimed, err := p.claims.Claim(ctx, key, msg.OrderID)
	if err != nil {
		return fmt.Errorf("claim delivery: %w", err)
	}
	if !claimed {
		// Redelivery. Only skip when an earlier attempt is known to have sent it.
		existing, err := p.claims.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("read delivery claim: %w", err)
		}
		if existing != nil && existing.Status == idempotency.StatusDone {
			p.logger.Infow("mail already delivered", "message_id", msg.ID, "order_id", msg.OrderID)
			return nil
		}
	}

	if _, err := p.transport.Send(ctx, msg); err != nil {
		if markErr := p.claims.MarkFailed(ctx, key, err.Error()); markErr != nil {
			p.logger.Warnw("failed to record delivery failure", "message_id", msg.ID, "error", markErr)
		}
		return err
	}

	if err := p.claims.MarkDone(ctx, key, msg.ID); err != nil {
		p.logger.Warnw("failed to record delivery", "message_id", msg.ID, "error", err)
	}
	p.logger.Infow("mail delivered", "message_id", msg.ID, "order_id", msg.OrderID)
	return nil
}
