package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"storefront/internal/models"
	"storefront/internal/money"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

func withFakeWriter(t *testing.T, fw *fakeWriter) {
	t.Helper()
	orig := newWriter
	newWriter = func([]string, string) writer { return fw }
	t.Cleanup(func() { newWriter = orig })
}

func TestPublishOrder(t *testing.T) {
	fw := &fakeWriter{}
	withFakeWriter(t, fw)

	var logs []string
	p := NewPublisher(" broker1:9092, ,broker2:9092", "storefront.orders", func(f string, _ ...any) { logs = append(logs, f) })
	require.Equal(t, []string{"broker1:9092", "broker2:9092"}, p.Brokers)
	require.NotEmpty(t, logs)

	order := models.Order{
		OrderNumber:   "STRIPE_cs_1",
		Status:        models.OrderStatusProcessing,
		PaymentStatus: models.PaymentStatusPaid,
		Currency:      "USD",
		Subtotal:      2000,
		TaxAmount:     260,
		TotalAmount:   2760,
		Items:         []models.OrderItem{{Name: "A", Quantity: 2}, {Name: "B", Quantity: 1}},
	}
	require.NoError(t, p.PublishOrder(context.Background(), order))
	require.Len(t, fw.msgs, 1)
	require.Equal(t, "STRIPE_cs_1", string(fw.msgs[0].Key))

	var got OrderMessage
	require.NoError(t, json.Unmarshal(fw.msgs[0].Value, &got))
	require.Equal(t, 3, got.ItemCount)
	require.Equal(t, money.Cents(2760), got.Total)

	require.NoError(t, p.Close())
	require.True(t, fw.closed)
}

func TestPublishOrderWrapsWriterError(t *testing.T) {
	fw := &fakeWriter{err: errors.New("leader not available")}
	withFakeWriter(t, fw)

	p := NewPublisher("broker:9092", "orders", nil)
	err := p.PublishOrder(context.Background(), models.Order{OrderNumber: "ORD-2025-000001"})
	require.ErrorContains(t, err, "ORD-2025-000001")
	require.ErrorContains(t, err, "leader not available")
}

func TestDisabledPublisherIsNoop(t *testing.T) {
	p := NewPublisher("", "orders", nil)
	require.False(t, p.Enabled())
	require.NoError(t, p.PublishOrder(context.Background(), models.Order{OrderNumber: "X"}))
	require.NoError(t, p.Close())
}
