// Package events publishes order lifecycle messages to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"storefront/internal/models"
	"storefront/internal/money"
)

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var newWriter = func(brokers []string, topic string) writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
}

// OrderMessage is the payload written for each committed order.
type OrderMessage struct {
	OrderNumber   string      `json:"orderNumber"`
	Status        string      `json:"status"`
	PaymentStatus string      `json:"paymentStatus"`
	PaymentMethod string      `json:"paymentMethod"`
	Currency      string      `json:"currency"`
	Subtotal      money.Cents `json:"subtotal"`
	TaxAmount     money.Cents `json:"taxAmount"`
	Shipping      money.Cents `json:"shippingAmount"`
	Total         money.Cents `json:"totalAmount"`
	ItemCount     int         `json:"itemCount"`
	Country       string      `json:"shippingCountry,omitempty"`
	AffiliateCode string      `json:"affiliateCode,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// Publisher is a no-op when no brokers are configured.
type Publisher struct {
	Brokers []string
	Topic   string

	Logf func(string, ...any)

	w writer
}

func NewPublisher(brokersCSV, topic string, logf func(string, ...any)) *Publisher {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	p := &Publisher{Brokers: splitCSV(brokersCSV), Topic: topic, Logf: logf}
	if p.Enabled() {
		p.w = newWriter(p.Brokers, p.Topic)
		p.Logf("[KAFKA] [INFO] publisher ready (topic=%s brokers=%v)", p.Topic, p.Brokers)
	}
	return p
}

func (p *Publisher) Enabled() bool {
	return p != nil && len(p.Brokers) > 0 && p.Topic != ""
}

// PublishOrder writes the order keyed by its number so updates for one order
// stay on one partition.
func (p *Publisher) PublishOrder(ctx context.Context, order models.Order) error {
	if !p.Enabled() {
		return nil
	}
	items := 0
	for _, item := range order.Items {
		items += item.Quantity
	}
	payload, err := json.Marshal(OrderMessage{
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		PaymentMethod: order.PaymentMethod,
		Currency:      order.Currency,
		Subtotal:      order.Subtotal,
		TaxAmount:     order.TaxAmount,
		Shipping:      order.ShippingAmount,
		Total:         order.TotalAmount,
		ItemCount:     items,
		Country:       order.ShippingCountry,
		AffiliateCode: order.AffiliateCode,
		CreatedAt:     order.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode order message: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(order.OrderNumber),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(models.EventOrderPublished)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", order.OrderNumber, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
