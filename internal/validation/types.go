package validation

// PaymentNotification is the payload of POST /webhooks/payments.
type PaymentNotification struct {
	OrderID        string `json:"order_id" validate:"omitempty,max=128"`
	Reference      string `json:"reference" validate:"omitempty,max=128"` // processor invoice id
	Status         string `json:"status" validate:"required,max=32"`      // processor vocabulary, e.g. COMPLETE
	FailureReason  string `json:"failure_reason,omitempty" validate:"max=1024"`
	PaymentAccount string `json:"payment_account,omitempty" validate:"max=256"`
	Challenge      string `json:"challenge,omitempty"` // legacy verification token
}

// StatusQuery is the query string of GET /payments/status.
type StatusQuery struct {
	OrderID   string `form:"order_id" validate:"omitempty,max=128"`
	InvoiceID string `form:"invoice_id" validate:"omitempty,max=128"`
}
