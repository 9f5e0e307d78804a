package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-payment-reconciler/internal/idempotency"
	"github.com/imrishuroy/go-payment-reconciler/internal/notify"
)

// --- mock implementations ---

type memClaims struct {
	mu      sync.Mutex
	records map[string]*idempotency.Record
}

func newMemClaims() *memClaims {
	return &memClaims{records: map[string]*idempotency.Record{}}
}

func (m *memClaims) Claim(ctx context.Context, key, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[key]; ok {
		return false, nil
	}
	m.records[key] = &idempotency.Record{Key: key, OrderID: orderID, Status: idempotency.StatusInProgress}
	return true, nil
}

func (m *memClaims) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[key], nil
}

func (m *memClaims) MarkDone(ctx context.Context, key, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key].Status = idempotency.StatusDone
	return nil
}

func (m *memClaims) MarkFailed(ctx context.Context, key, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key].Status = idempotency.StatusFailed
	return nil
}

type mockTransport struct {
	sent    []string
	failFor map[string]bool
}

func (t *mockTransport) Send(ctx context.Context, msg notify.Message) (string, error) {
	if t.failFor[msg.ID] {
		return "", errors.New("smtp: 451 try again")
	}
	t.sent = append(t.sent, msg.ID)
	return msg.ID, nil
}

func record(t *testing.T, sqsID string, msg notify.Message) events.SQSMessage {
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return events.SQSMessage{MessageId: sqsID, Body: string(body)}
}

// --- test cases ---

func TestProcessor_PartialBatchFailure(t *testing.T) {
	tr := &mockTransport{failFor: map[string]bool{"m2": true}}
	p := NewProcessor(newMemClaims(), tr, zap.NewNop().Sugar())

	ev := events.SQSEvent{Records: []events.SQSMessage{
		record(t, "sqs-1", notify.Message{ID: "m1", OrderID: "o1", To: "a@example.com"}),
		record(t, "sqs-2", notify.Message{ID: "m2", OrderID: "o2", To: "b@example.com"}),
		{MessageId: "sqs-3", Body: "not json"},
	}}

	resp, err := p.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected worker error: %v", err)
	}
	if len(resp.BatchItemFailures) != 2 {
		t.Fatalf("expected 2 failures, got %+v", resp.BatchItemFailures)
	}
	if resp.BatchItemFailures[0].ItemIdentifier != "sqs-2" || resp.BatchItemFailures[1].ItemIdentifier != "sqs-3" {
		t.Fatalf("unexpected failure ids: %+v", resp.BatchItemFailures)
	}
	if len(tr.sent) != 1 || tr.sent[0] != "m1" {
		t.Fatalf("expected only m1 sent, got %v", tr.sent)
	}
}

func TestProcessor_RedeliverySkipsDelivered(t *testing.T) {
	claims := newMemClaims()
	tr := &mockTransport{}
	p := NewProcessor(claims, tr, zap.NewNop().Sugar())

	rec := record(t, "sqs-1", notify.Message{ID: "m1", OrderID: "o1", To: "a@example.com"})
	for i := 0; i < 2; i++ {
		resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{rec}})
		if err != nil || len(resp.BatchItemFailures) != 0 {
			t.Fatalf("unexpected failure: %v %+v", err, resp.BatchItemFailures)
		}
	}
	if len(tr.sent) != 1 {
		t.Fatalf("expected one delivery, got %d", len(tr.sent))
	}
}

func TestProcessor_RetriesAfterFailedAttempt(t *testing.T) {
	claims := newMemClaims()
	tr := &mockTransport{failFor: map[string]bool{"m1": true}}
	p := NewProcessor(claims, tr, zap.NewNop().Sugar())

	rec := record(t, "sqs-1", notify.Message{ID: "m1", OrderID: "o1", To: "a@example.com"})
	resp, _ := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{rec}})
	if len(resp.BatchItemFailures) != 1 {
		t.Fatalf("expected failure on first attempt")
	}

	tr.failFor = nil
	resp, _ = p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{rec}})
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("expected redelivery to succeed, got %+v", resp.BatchItemFailures)
	}
	if claims.records[idempotency.DeliveryKey("m1")].Status != idempotency.StatusDone {
		t.Fatal("expected claim to be DONE")
	}
}
