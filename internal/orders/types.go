package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the internal payment vocabulary. Only the reconciler writes it.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed:
		return true
	}
	return false
}

// Status is the business/delivery status shown to customers and staff.
type Status string

const (
	StatusPending        Status = "pending"
	StatusPaid           Status = "paid"
	StatusPreparing      Status = "preparing"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// Order represents the item stored in the Orders DynamoDB table (or the orders row in Postgres).
type Order struct {
	OrderID           string        `dynamodbav:"order_id" json:"order_id"` // PK
	CustomerEmail     string        `dynamodbav:"customer_email,omitempty" json:"customer_email,omitempty"`
	CustomerName      string        `dynamodbav:"customer_name,omitempty" json:"customer_name,omitempty"`
	Currency          string        `dynamodbav:"currency,omitempty" json:"currency,omitempty"`
	PaymentStatus     PaymentStatus `dynamodbav:"payment_status" json:"payment_status"`
	Status            Status        `dynamodbav:"status" json:"status"`
	ExternalReference string        `dynamodbav:"external_reference,omitempty" json:"external_reference,omitempty"`
	PaymentAccount    string        `dynamodbav:"payment_account,omitempty" json:"payment_account,omitempty"`
	PaymentError      string        `dynamodbav:"payment_error,omitempty" json:"payment_error,omitempty"`
	Items             []Item        `dynamodbav:"items,omitempty" json:"items,omitempty"`
	CreatedAt         time.Time     `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `dynamodbav:"updated_at" json:"updated_at"`
}

// Item is an order line. Prices are decimal strings so they survive both backends unchanged.
type Item struct {
	ProductName string `dynamodbav:"product_name" json:"product_name"`
	Quantity    int    `dynamodbav:"quantity" json:"quantity"`
	UnitPrice   string `dynamodbav:"unit_price" json:"unit_price"`
	LineTotal   string `dynamodbav:"line_total,omitempty" json:"line_total,omitempty"`
}

// Total returns the line total, computing it from unit price and quantity when it was not stored.
func (i Item) Total() decimal.Decimal {
	if i.LineTotal != "" {
		if d, err := decimal.NewFromString(i.LineTotal); err == nil {
			return d
		}
	}
	price, err := decimal.NewFromString(i.UnitPrice)
	if err != nil {
		return decimal.Zero
	}
	return price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Total sums the line totals.
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Total())
	}
	return total
}

// Transition is a single accepted change to an order's payment state.
// Empty fields leave the stored value untouched.
type Transition struct {
	PaymentStatus PaymentStatus
	Status        Status
	// PaymentError is written when non-empty; ClearPaymentError removes any stored reason.
	PaymentError      string
	ClearPaymentError bool
	// ExternalReference and PaymentAccount are only written when the order has none.
	ExternalReference string
	PaymentAccount    string
}
