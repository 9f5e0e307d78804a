package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// Transport delivers a rendered message and returns a provider message id.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// LogTransport writes messages to the log instead of sending them. Used for local runs.
type LogTransport struct {
	logger *zap.SugaredLogger
}

func NewLogTransport(logger *zap.SugaredLogger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(ctx context.Context, msg Message) (string, error) {
	t.logger.Infow("confirmation email",
		"message_id", msg.ID,
		"order_id", msg.OrderID,
		"to", msg.To,
		"subject", msg.Subject,
	)
	return msg.ID, nil
}

// Enqueuer is satisfied by aws.Publisher.
type Enqueuer interface {
	Send(ctx context.Context, body string, attributes map[string]string) (string, error)
}

// QueueTransport hands messages to the mail worker through SQS.
type QueueTransport struct {
	queue Enqueuer
}

func NewQueueTransport(queue Enqueuer) *QueueTransport {
	return &QueueTransport{queue: queue}
}

func (t *QueueTransport) Send(ctx context.Context, msg Message) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal mail message: %w", err)
	}
	id, err := t.queue.Send(ctx, string(body), map[string]string{
		"order_id":   msg.OrderID,
		"message_id": msg.ID,
	})
	if err != nil {
		return "", fmt.Errorf("enqueue mail: %w", err)
	}
	return id, nil
}

// SMTPTransport sends through a plain SMTP relay.
type SMTPTransport struct {
	addr     string
	auth     smtp.Auth
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPTransport creates an SMTP transport. PLAIN auth is used when username is set.
func NewSMTPTransport(addr, username, password string) *SMTPTransport {
	t := &SMTPTransport{
		addr:     addr,
		sendMail: smtp.SendMail,
	}
	if username != "" {
		host := addr
		if i := strings.LastIndex(addr, ":"); i >= 0 {
			host = addr[:i]
		}
		t.auth = smtp.PlainAuth("", username, password, host)
	}
	return t
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := t.sendMail(t.addr, t.auth, msg.From, []string{msg.To}, formatMIME(msg)); err != nil {
		return "", fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return msg.ID, nil
}

func formatMIME(msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + msg.From + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	if msg.ID != "" {
		b.WriteString("Message-ID: <" + msg.ID + ">\r\n")
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}
