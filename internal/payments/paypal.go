package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"storefront/internal/models"
	"storefront/internal/money"
)

const PayPalCustomIDLimit = 127

type PayPalClient struct {
	BaseURL string
	HTTP    *http.Client

	oauth *clientcredentials.Config
}

func NewPayPalClient(clientID, clientSecret, baseURL string) *PayPalClient {
	baseURL = strings.TrimRight(baseURL, "/")
	c := &PayPalClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 20 * time.Second},
	}
	if clientID != "" && clientSecret != "" {
		c.oauth = &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     baseURL + "/v1/oauth2/token",
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
	}
	return c
}

func (c *PayPalClient) Name() string { return models.PaymentMethodPayPal }

func (c *PayPalClient) MetadataLimit() int { return PayPalCustomIDLimit }

// client returns an HTTP client that attaches a cached bearer token.
func (c *PayPalClient) client(ctx context.Context) (*http.Client, error) {
	if c == nil || c.oauth == nil {
		return nil, errors.WithMessage(ErrNotConfigured, "paypal client credentials missing")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.HTTP)
	return c.oauth.Client(ctx), nil
}

type paypalAmount struct {
	CurrencyCode string                 `json:"currency_code"`
	Value        string                 `json:"value"`
	Breakdown    *paypalAmountBreakdown `json:"breakdown,omitempty"`
}

type paypalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalAmountBreakdown struct {
	ItemTotal paypalMoney  `json:"item_total"`
	Shipping  *paypalMoney `json:"shipping,omitempty"`
	TaxTotal  *paypalMoney `json:"tax_total,omitempty"`
}

type paypalItem struct {
	Name       string      `json:"name"`
	Quantity   string      `json:"quantity"`
	UnitAmount paypalMoney `json:"unit_amount"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id"`
	CustomID    string       `json:"custom_id,omitempty"`
	Amount      paypalAmount `json:"amount"`
	Items       []paypalItem `json:"items,omitempty"`
}

type paypalOrderRequest struct {
	Intent             string               `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnit `json:"purchase_units"`
	ApplicationContext struct {
		ReturnURL  string `json:"return_url"`
		CancelURL  string `json:"cancel_url"`
		UserAction string `json:"user_action"`
	} `json:"application_context"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalOrderResponse struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Links  []paypalLink `json:"links"`
}

func (c *PayPalClient) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	httpClient, err := c.client(ctx)
	if err != nil {
		return Session{}, err
	}

	currency := strings.ToUpper(req.Currency)
	amount := func(v money.Cents) paypalMoney {
		return paypalMoney{CurrencyCode: currency, Value: v.String()}
	}

	unit := paypalPurchaseUnit{
		ReferenceID: req.Ref,
		CustomID:    req.Metadata,
		Amount: paypalAmount{
			CurrencyCode: currency,
			Value:        req.Total.String(),
			Breakdown:    &paypalAmountBreakdown{ItemTotal: amount(req.Subtotal)},
		},
	}
	if req.Shipping > 0 {
		m := amount(req.Shipping)
		unit.Amount.Breakdown.Shipping = &m
	}
	if req.TaxAmount > 0 {
		m := amount(req.TaxAmount)
		unit.Amount.Breakdown.TaxTotal = &m
	}
	for _, line := range req.Lines {
		unit.Items = append(unit.Items, paypalItem{
			Name:       truncate(line.Name, 127),
			Quantity:   strconv.Itoa(line.Quantity),
			UnitAmount: amount(line.UnitPrice),
		})
	}

	body := paypalOrderRequest{Intent: "CAPTURE", PurchaseUnits: []paypalPurchaseUnit{unit}}
	body.ApplicationContext.ReturnURL = req.SuccessURL
	body.ApplicationContext.CancelURL = req.CancelURL
	body.ApplicationContext.UserAction = "PAY_NOW"

	payload, err := json.Marshal(body)
	if err != nil {
		return Session{}, errors.Wrap(err, "encode paypal order")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v2/checkout/orders", bytes.NewReader(payload))
	if err != nil {
		return Session{}, errors.Wrap(err, "build paypal request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("PayPal-Request-Id", req.Ref)

	var out paypalOrderResponse
	if err := doJSON(httpClient, httpReq, "paypal", &out); err != nil {
		return Session{}, err
	}

	approve := ""
	for _, link := range out.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			approve = link.Href
			break
		}
	}
	if approve == "" {
		return Session{}, errors.New("paypal response has no approval link")
	}
	return Session{Provider: c.Name(), ID: out.ID, URL: approve}, nil
}

// PayPalCapture is the outcome of capturing an approved order.
type PayPalCapture struct {
	OrderID   string
	Status    string
	CaptureID string
	CustomID  string
	Amount    money.Cents
	Currency  string
	PayerName string
	Email     string
}

type paypalCaptureResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		CustomID    string `json:"custom_id"`
		Payments    struct {
			Captures []struct {
				ID       string      `json:"id"`
				Status   string      `json:"status"`
				CustomID string      `json:"custom_id"`
				Amount   paypalMoney `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
	Payer struct {
		EmailAddress string `json:"email_address"`
		Name         struct {
			GivenName string `json:"given_name"`
			Surname   string `json:"surname"`
		} `json:"name"`
	} `json:"payer"`
}

func (c *PayPalClient) Capture(ctx context.Context, orderID string) (PayPalCapture, error) {
	httpClient, err := c.client(ctx)
	if err != nil {
		return PayPalCapture{}, err
	}
	if strings.TrimSpace(orderID) == "" {
		return PayPalCapture{}, errors.New("paypal order id is empty")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v2/checkout/orders/"+orderID+"/capture", bytes.NewReader([]byte("{}")))
	if err != nil {
		return PayPalCapture{}, errors.Wrap(err, "build paypal capture request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var out paypalCaptureResponse
	if err := doJSON(httpClient, httpReq, "paypal", &out); err != nil {
		return PayPalCapture{}, err
	}

	result := PayPalCapture{
		OrderID:   out.ID,
		Status:    out.Status,
		Email:     out.Payer.EmailAddress,
		PayerName: strings.TrimSpace(out.Payer.Name.GivenName + " " + out.Payer.Name.Surname),
	}
	if len(out.PurchaseUnits) > 0 {
		unit := out.PurchaseUnits[0]
		result.CustomID = unit.CustomID
		if len(unit.Payments.Captures) > 0 {
			capture := unit.Payments.Captures[0]
			result.CaptureID = capture.ID
			if capture.CustomID != "" {
				result.CustomID = capture.CustomID
			}
			result.Currency = capture.Amount.CurrencyCode
			if amount, err := money.Parse(capture.Amount.Value); err == nil {
				result.Amount = amount
			}
		}
	}
	return result, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
