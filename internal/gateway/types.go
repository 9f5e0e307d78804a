package gateway

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Invoice is the processor's view of a payment request.
type Invoice struct {
	ID             string `json:"id"`
	ExternalID     string `json:"external_id"`
	Status         string `json:"status"`
	Amount         string `json:"amount,omitempty"`
	Currency       string `json:"currency,omitempty"`
	InvoiceURL     string `json:"invoice_url,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`
	PaymentAccount string `json:"payment_account,omitempty"`

	// Raw is the undecoded response body, kept for diagnostics.
	Raw json.RawMessage `json:"-"`
}

// CreateInvoiceRequest asks the processor to open a payment for an order.
type CreateInvoiceRequest struct {
	ExternalID  string          `json:"external_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency,omitempty"`
	PayerEmail  string          `json:"payer_email,omitempty"`
	Description string          `json:"description,omitempty"`
}

type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}
