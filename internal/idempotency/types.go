package idempotency

import "time"

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Record is the shape persisted in the idempotency table. One record guards one side effect,
// e.g. the confirmation email of a single order.
type Record struct {
	Key       string    `dynamodbav:"idempotency_key"` // PK
	Status    string    `dynamodbav:"status"`
	OrderID   string    `dynamodbav:"order_id,omitempty"`
	MessageID string    `dynamodbav:"message_id,omitempty"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
	ExpiresAt int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note      string    `dynamodbav:"note,omitempty"`
}

// ConfirmationKey is the claim key for an order's payment confirmation email.
func ConfirmationKey(orderID string) string {
	return "order-confirmation#" + orderID
}

// DeliveryKey guards a single queued mail message against SQS redelivery.
func DeliveryKey(messageID string) string {
	return "mail-delivery#" + messageID
}
