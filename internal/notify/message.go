package notify

// Message is a rendered email. It is also the body of mail queue messages.
type Message struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
