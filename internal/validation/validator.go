package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// both request types must identify the order one way or the other
	v.RegisterStructValidation(paymentNotificationValidation, PaymentNotification{})
	v.RegisterStructValidation(statusQueryValidation, StatusQuery{})

	return v
}

func paymentNotificationValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(PaymentNotification)
	if req.OrderID == "" && req.Reference == "" {
		sl.ReportError(req.OrderID, "order_id", "OrderID", "order_id_or_reference", "")
	}
}

func statusQueryValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(StatusQuery)
	if req.OrderID == "" && req.InvoiceID == "" {
		sl.ReportError(req.OrderID, "order_id", "OrderID", "order_id_or_invoice_id", "")
	}
}
