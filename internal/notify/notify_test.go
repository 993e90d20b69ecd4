package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"storefront/internal/models"
)

func TestResendSend(t *testing.T) {
	var auth string
	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		_, _ = w.Write([]byte(`{"id":"49a3999c"}`))
	}))
	defer srv.Close()

	client := NewResendClient("re_123", "shop@example.com", srv.URL)
	err := client.Send(context.Background(), Email{To: []string{"a@example.com"}, Subject: "Hi", Text: "hello"})
	require.NoError(t, err)
	require.Equal(t, "Bearer re_123", auth)
	require.Equal(t, "shop@example.com", got.From)
	require.Equal(t, []string{"a@example.com"}, got.To)
}

func TestResendErrors(t *testing.T) {
	require.ErrorIs(t, NewResendClient("", "shop@example.com", "http://unused").Send(context.Background(), Email{To: []string{"a@b.c"}}), ErrDisabled)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid from"}`))
	}))
	defer srv.Close()

	err := NewResendClient("k", "bad", srv.URL).Send(context.Background(), Email{To: []string{"a@b.c"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid from")
}

func TestAffiliateReport(t *testing.T) {
	var got Conversion
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
	}))
	defer srv.Close()

	err := NewAffiliateClient(srv.URL).Report(context.Background(), Conversion{AffiliateCode: "LUNA10", OrderNumber: "STRIPE_cs_1", Amount: 27.6, Currency: "USD"})
	require.NoError(t, err)
	require.Equal(t, "LUNA10", got.AffiliateCode)

	require.ErrorIs(t, NewAffiliateClient("").Report(context.Background(), Conversion{}), ErrDisabled)
}

func TestRenderReceipt(t *testing.T) {
	order := models.Order{
		OrderNumber:    "STRIPE_cs_1",
		CustomerName:   "Luna <Moss>",
		CustomerEmail:  "luna@example.com",
		Currency:       "USD",
		Subtotal:       2000,
		TaxAmount:      260,
		ShippingAmount: 500,
		TotalAmount:    2760,
		TaxLabel:       "Estimated sales tax",
		Items:          []models.OrderItem{{Name: "Amethyst Cluster", Quantity: 2, Price: 1000}},
	}

	msg, err := RenderReceipt(order, false)
	require.NoError(t, err)
	require.Equal(t, "Your order STRIPE_cs_1", msg.Subject)
	require.Contains(t, msg.HTML, "Luna &lt;Moss&gt;")
	require.Contains(t, msg.HTML, "27.60 USD")
	require.Contains(t, msg.Text, "Amethyst Cluster x2  20.00")
	require.Contains(t, msg.Text, "Estimated sales tax 2.60")

	admin, err := RenderReceipt(order, true)
	require.NoError(t, err)
	require.Contains(t, admin.Subject, "[New order]")
}

func TestRedactEmail(t *testing.T) {
	require.Equal(t, "lu***@example.com", RedactEmail("luna@example.com"))
	require.Equal(t, "***@example.com", RedactEmail("al@example.com"))
	require.Equal(t, "", RedactEmail(" "))
}
