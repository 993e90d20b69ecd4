package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"storefront/internal/models"
)

var receiptHTML = template.Must(template.New("receipt").Parse(`<h2>Thank you for your order, {{.Name}}</h2>
<p>Order <strong>{{.Order.OrderNumber}}</strong></p>
<table>
{{- range .Order.Items}}
<tr><td>{{.Name}} &times; {{.Quantity}}</td><td>{{.LineTotal}}</td></tr>
{{- end}}
<tr><td>Subtotal</td><td>{{.Order.Subtotal}}</td></tr>
{{- if .Order.TaxAmount}}
<tr><td>{{.TaxLabel}}</td><td>{{.Order.TaxAmount}}</td></tr>
{{- end}}
{{- if .Order.ShippingAmount}}
<tr><td>Shipping</td><td>{{.Order.ShippingAmount}}</td></tr>
{{- end}}
<tr><td><strong>Total</strong></td><td><strong>{{.Order.TotalAmount}} {{.Order.Currency}}</strong></td></tr>
</table>
{{- with .Order.ShippingAddress}}
<p>Ships to: {{.FullName}}, {{.Street}}, {{.City}} {{.State}} {{.Zip}}, {{.Country}}</p>
{{- end}}`))

type receiptView struct {
	Name     string
	TaxLabel string
	Order    models.Order
}

// RenderReceipt builds the order confirmation email. Admin copies get a
// prefixed subject.
func RenderReceipt(order models.Order, forAdmin bool) (Email, error) {
	view := receiptView{
		Name:     strings.TrimSpace(order.CustomerName),
		TaxLabel: order.TaxLabel,
		Order:    order,
	}
	if view.Name == "" {
		view.Name = "friend"
	}
	if view.TaxLabel == "" {
		view.TaxLabel = "Tax"
	}

	var html bytes.Buffer
	if err := receiptHTML.Execute(&html, view); err != nil {
		return Email{}, fmt.Errorf("render receipt: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Order %s\n", order.OrderNumber)
	for _, item := range order.Items {
		fmt.Fprintf(&text, "%s x%d  %s\n", item.Name, item.Quantity, item.LineTotal())
	}
	fmt.Fprintf(&text, "Subtotal %s\n", order.Subtotal)
	if order.TaxAmount > 0 {
		fmt.Fprintf(&text, "%s %s\n", view.TaxLabel, order.TaxAmount)
	}
	if order.ShippingAmount > 0 {
		fmt.Fprintf(&text, "Shipping %s\n", order.ShippingAmount)
	}
	fmt.Fprintf(&text, "Total %s %s\n", order.TotalAmount, order.Currency)

	subject := "Your order " + order.OrderNumber
	if forAdmin {
		subject = fmt.Sprintf("[New order] %s from %s", order.OrderNumber, order.CustomerEmail)
	}
	return Email{Subject: subject, HTML: html.String(), Text: text.String()}, nil
}
