package notify

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/imrishuroy/go-payment-reconciler/internal/orders"
)

const confirmationBody = `Hi {{if .Order.CustomerName}}{{.Order.CustomerName}}{{else}}there{{end}},

We have received your payment for order {{.Order.OrderID}}.

{{range .Lines}}{{.Quantity}} x {{.ProductName}} @ {{.UnitPrice}} = {{.Total}}
{{end}}
Total: {{.Total}} {{.Order.Currency}}

Thank you for your order.
`

type line struct {
	ProductName string
	Quantity    int
	UnitPrice   string
	Total       string
}

// TextRenderer renders the plain-text payment confirmation.
type TextRenderer struct {
	from string
	tmpl *template.Template
}

func NewTextRenderer(from string) *TextRenderer {
	return &TextRenderer{
		from: from,
		tmpl: template.Must(template.New("confirmation").Parse(confirmationBody)),
	}
}

func (r *TextRenderer) Render(o *orders.Order) (Message, error) {
	lines := make([]line, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, line{
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Total:       it.Total().StringFixed(2),
		})
	}

	var buf bytes.Buffer
	err := r.tmpl.Execute(&buf, map[string]interface{}{
		"Order": o,
		"Lines": lines,
		"Total": o.Total().StringFixed(2),
	})
	if err != nil {
		return Message{}, fmt.Errorf("render confirmation: %w", err)
	}

	return Message{
		OrderID: o.OrderID,
		From:    r.from,
		To:      o.CustomerEmail,
		Subject: fmt.Sprintf("Payment received for order %s", o.OrderID),
		Body:    buf.String(),
	}, nil
}
