package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestClaim_Get_MarkDone_MarkFailed(t *testing.T) {
	mock := newSimpleMock()
	s := NewStore(mock, "idempotency-table", 48*time.Hour)

	ctx := context.Background()
	key := ConfirmationKey("order-123")

	claimed, err := s.Claim(ctx, key, "order-123")
	if err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	if !claimed {
		t.Fatalf("expected claimed=true")
	}

	// second claim loses
	claimed2, err := s.Claim(ctx, key, "order-123")
	if err != nil {
		t.Fatalf("second Claim error: %v", err)
	}
	if claimed2 {
		t.Fatalf("expected claimed=false on duplicate claim")
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected record, got nil")
	}
	if rec.Status != StatusInProgress || rec.OrderID != "order-123" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.ExpiresAt <= time.Now().Unix() {
		t.Fatalf("expected expires_at in the future, got %d", rec.ExpiresAt)
	}

	if err := s.MarkDone(ctx, key, "msg-42"); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}
	item := mock.table[key]
	if st, ok := item["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusDone {
		t.Fatalf("status not updated to DONE, got %+v", item["status"])
	}
	if id, ok := item["message_id"].(*types.AttributeValueMemberS); !ok || id.Value != "msg-42" {
		t.Fatalf("message_id not set correctly: %+v", item["message_id"])
	}

	if err := s.MarkFailed(ctx, key, "smtp 550"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	rec, _ = s.Get(ctx, key)
	if rec.Status != StatusFailed || rec.Note != "smtp 550" {
		t.Fatalf("expected FAILED with note, got %+v", rec)
	}
}

func TestGet_Missing(t *testing.T) {
	s := NewStore(newSimpleMock(), "idempotency-table", time.Hour)

	rec, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestClaim_PropagatesOtherErrors(t *testing.T) {
	mock := newSimpleMock()
	mock.putErr = errors.New("network down")
	s := NewStore(mock, "idempotency-table", time.Hour)

	claimed, err := s.Claim(context.Background(), "k", "o")
	if err == nil || claimed {
		t.Fatalf("expected error and no claim, got claimed=%v err=%v", claimed, err)
	}
}

func TestRecordMarshal_UsesTableKeyName(t *testing.T) {
	m, err := attributevalue.MarshalMap(Record{Key: "k1", Status: StatusInProgress})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, ok := m["idempotency_key"]; !ok {
		t.Fatalf("expected idempotency_key attribute, got %v", m)
	}
}
