package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"storefront/internal/models"
	"storefront/internal/money"
)

type ShippoClient struct {
	APIKey         string
	BaseURL        string
	CarrierAccount string
	Provider       string
	HTTPClient     *http.Client
	Now            func() time.Time
}

func NewShippoClient(apiKey, baseURL, carrierAccount, provider string) *ShippoClient {
	return &ShippoClient{
		APIKey:         apiKey,
		BaseURL:        strings.TrimRight(baseURL, "/"),
		CarrierAccount: carrierAccount,
		Provider:       provider,
		HTTPClient:     &http.Client{Timeout: 20 * time.Second},
		Now:            time.Now,
	}
}

func (c *ShippoClient) Name() string { return models.CarrierShippo }

type shippoAddress struct {
	Name    string `json:"name"`
	Street1 string `json:"street1"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

type shippoParcel struct {
	Length       string `json:"length"`
	Width        string `json:"width"`
	Height       string `json:"height"`
	DistanceUnit string `json:"distance_unit"`
	Weight       string `json:"weight"`
	MassUnit     string `json:"mass_unit"`
}

type shippoCustomsItem struct {
	Description   string `json:"description"`
	Quantity      int    `json:"quantity"`
	NetWeight     string `json:"net_weight"`
	MassUnit      string `json:"mass_unit"`
	ValueAmount   string `json:"value_amount"`
	ValueCurrency string `json:"value_currency"`
	OriginCountry string `json:"origin_country"`
	TariffNumber  string `json:"tariff_number,omitempty"`
}

type shippoCustomsDeclaration struct {
	Certify       bool                `json:"certify"`
	CertifySigner string              `json:"certify_signer"`
	ContentsType  string              `json:"contents_type"`
	NonDelivery   string              `json:"non_delivery_option"`
	Incoterm      string              `json:"incoterm,omitempty"`
	Items         []shippoCustomsItem `json:"items"`
}

type shippoShipmentRequest struct {
	AddressFrom        shippoAddress  `json:"address_from"`
	AddressTo          shippoAddress  `json:"address_to"`
	Parcels            []shippoParcel `json:"parcels"`
	CustomsDeclaration string         `json:"customs_declaration,omitempty"`
	Metadata           string         `json:"metadata,omitempty"`
	Async              bool           `json:"async"`
}

type shippoRate struct {
	ObjectID       string `json:"object_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Provider       string `json:"provider"`
	CarrierAccount string `json:"carrier_account"`
	EstimatedDays  int    `json:"estimated_days"`
	ServiceLevel   struct {
		Name  string `json:"name"`
		Token string `json:"token"`
	} `json:"servicelevel"`
}

type shippoShipmentResponse struct {
	ObjectID string       `json:"object_id"`
	Status   string       `json:"status"`
	Rates    []shippoRate `json:"rates"`
}

type shippoMessage struct {
	Source string `json:"source"`
	Code   string `json:"code"`
	Text   string `json:"text"`
}

type shippoTransaction struct {
	ObjectID       string          `json:"object_id"`
	Status         string          `json:"status"`
	TrackingNumber string          `json:"tracking_number"`
	LabelURL       string          `json:"label_url"`
	ETA            string          `json:"eta"`
	Messages       []shippoMessage `json:"messages"`
}

type shippoRefund struct {
	ObjectID string `json:"object_id"`
	Status   string `json:"status"`
}

type shippoTrack struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
	ETA            string `json:"eta"`
	TrackingStatus struct {
		Status        string    `json:"status"`
		StatusDetails string    `json:"status_details"`
		StatusDate    time.Time `json:"status_date"`
	} `json:"tracking_status"`
	TrackingHistory []struct {
		Status        string    `json:"status"`
		StatusDetails string    `json:"status_details"`
		StatusDate    time.Time `json:"status_date"`
	} `json:"tracking_history"`
}

func (c *ShippoClient) Quote(ctx context.Context, req CarrierRequest) ([]Rate, error) {
	shipment, _, err := c.createShipment(ctx, req)
	if err != nil {
		return nil, err
	}
	rates := make([]Rate, 0, len(shipment.Rates))
	for _, r := range shipment.Rates {
		rates = append(rates, toRate(r))
	}
	return rates, nil
}

// Purchase creates the shipment synchronously, picks a rate and buys the
// transaction.
func (c *ShippoClient) Purchase(ctx context.Context, req CarrierRequest) (Label, error) {
	shipment, audit, err := c.createShipment(ctx, req)
	if err != nil {
		return Label{}, err
	}
	rate, ok := c.pickRate(shipment.Rates, req.ServiceCode)
	if !ok {
		return Label{}, ErrNoRates
	}

	var tx shippoTransaction
	raw, status, err := c.do(ctx, http.MethodPost, "/transactions/", map[string]any{
		"rate":            rate.ObjectID,
		"label_file_type": "PDF",
		"async":           false,
	}, &tx)
	audit = append(audit, c.audit("transaction", status, raw))
	if err != nil {
		return Label{}, err
	}
	if !strings.EqualFold(tx.Status, "SUCCESS") {
		return Label{}, fmt.Errorf("shippo transaction %s: %s", strings.ToLower(tx.Status), joinMessages(tx.Messages))
	}

	cost, _ := money.Parse(rate.Amount)
	return Label{
		Service:            rate.ServiceLevel.Token,
		TrackingNumber:     tx.TrackingNumber,
		LabelURL:           tx.LabelURL,
		ProviderShipmentID: tx.ObjectID,
		Cost:               cost,
		Currency:           strings.ToUpper(rate.Currency),
		EstimatedDelivery:  tx.ETA,
		Meta: map[string]string{
			"shipmentId":  shipment.ObjectID,
			"rateId":      rate.ObjectID,
			"provider":    rate.Provider,
			"serviceName": rate.ServiceLevel.Name,
		},
		Audit: audit,
	}, nil
}

func (c *ShippoClient) Cancel(ctx context.Context, shipment models.Shipment, _ string) (models.APIAuditEntry, error) {
	if shipment.ProviderShipmentID == "" {
		return models.APIAuditEntry{}, errors.New("shipment has no shippo transaction id")
	}
	var refund shippoRefund
	raw, status, err := c.do(ctx, http.MethodPost, "/refunds/", map[string]any{
		"transaction": shipment.ProviderShipmentID,
		"async":       false,
	}, &refund)
	entry := c.audit("refund", status, raw)
	if err != nil {
		return entry, err
	}
	if strings.EqualFold(refund.Status, "ERROR") {
		return entry, fmt.Errorf("shippo refund rejected for %s", shipment.ProviderShipmentID)
	}
	return entry, nil
}

func (c *ShippoClient) Track(ctx context.Context, carrier, trackingNumber string) (TrackingStatus, error) {
	var track shippoTrack
	path := fmt.Sprintf("/tracks/%s/%s", carrier, trackingNumber)
	if _, _, err := c.do(ctx, http.MethodGet, path, nil, &track); err != nil {
		return TrackingStatus{}, err
	}
	out := TrackingStatus{
		Carrier:        carrier,
		TrackingNumber: trackingNumber,
		Status:         track.TrackingStatus.Status,
		Details:        track.TrackingStatus.StatusDetails,
		ETA:            track.ETA,
	}
	for _, h := range track.TrackingHistory {
		out.History = append(out.History, TrackingEvent{Status: h.Status, Details: h.StatusDetails, At: h.StatusDate})
	}
	return out, nil
}

func (c *ShippoClient) createShipment(ctx context.Context, req CarrierRequest) (shippoShipmentResponse, []models.APIAuditEntry, error) {
	var audit []models.APIAuditEntry
	body := shippoShipmentRequest{
		AddressFrom: toShippoAddress(req.From),
		AddressTo:   toShippoAddress(req.To),
		Parcels:     []shippoParcel{toShippoParcel(req)},
		Metadata:    req.Reference,
		Async:       false,
	}

	if req.Customs != nil {
		var decl struct {
			ObjectID string `json:"object_id"`
		}
		raw, status, err := c.do(ctx, http.MethodPost, "/customs/declarations/", toShippoCustoms(*req.Customs, req.From.FullName), &decl)
		audit = append(audit, c.audit("customs", status, raw))
		if err != nil {
			return shippoShipmentResponse{}, audit, err
		}
		body.CustomsDeclaration = decl.ObjectID
	}

	var shipment shippoShipmentResponse
	raw, status, err := c.do(ctx, http.MethodPost, "/shipments/", body, &shipment)
	audit = append(audit, c.audit("shipment", status, raw))
	if err != nil {
		return shippoShipmentResponse{}, audit, err
	}
	return shipment, audit, nil
}

// pickRate prefers the configured carrier account and provider, then the
// requested service token, then the first rate.
func (c *ShippoClient) pickRate(rates []shippoRate, service string) (shippoRate, bool) {
	if len(rates) == 0 {
		return shippoRate{}, false
	}
	if service != "" {
		for _, r := range rates {
			if strings.EqualFold(r.ServiceLevel.Token, service) || r.ObjectID == service {
				return r, true
			}
		}
	}
	if c.CarrierAccount != "" {
		for _, r := range rates {
			if r.CarrierAccount == c.CarrierAccount && (c.Provider == "" || strings.EqualFold(r.Provider, c.Provider)) {
				return r, true
			}
		}
	}
	if c.Provider != "" {
		for _, r := range rates {
			if strings.EqualFold(r.Provider, c.Provider) {
				return r, true
			}
		}
	}
	return rates[0], true
}

func (c *ShippoClient) do(ctx context.Context, method, path string, in, out any) ([]byte, int, error) {
	if c == nil || c.APIKey == "" {
		return nil, 0, errors.WithMessage(ErrNotConfigured, "shippo api key missing")
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, 0, errors.Wrap(err, "marshal shippo request")
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, 0, errors.Wrap(err, "create shippo request")
	}
	req.Header.Set("Authorization", "ShippoToken "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "send shippo request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, "read shippo response")
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return raw, resp.StatusCode, fmt.Errorf("shippo API error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, resp.StatusCode, errors.Wrap(err, "decode shippo response")
		}
	}
	return raw, resp.StatusCode, nil
}

func (c *ShippoClient) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	return c.HTTPClient
}

func (c *ShippoClient) audit(step string, status int, raw []byte) models.APIAuditEntry {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return models.APIAuditEntry{Step: step, Status: status, Body: string(raw), At: now().UTC()}
}

func toRate(r shippoRate) Rate {
	amount, _ := money.Parse(r.Amount)
	return Rate{
		Carrier:       models.CarrierShippo,
		Provider:      r.Provider,
		ServiceCode:   r.ServiceLevel.Token,
		ServiceName:   r.ServiceLevel.Name,
		RateID:        r.ObjectID,
		Amount:        amount,
		Currency:      strings.ToUpper(r.Currency),
		EstimatedDays: r.EstimatedDays,
	}
}

func toShippoAddress(a models.Address) shippoAddress {
	return shippoAddress{
		Name:    a.FullName,
		Street1: a.Street,
		Street2: a.Street2,
		City:    a.City,
		State:   a.State,
		Zip:     a.Zip,
		Country: a.Country,
		Phone:   a.Phone,
		Email:   a.Email,
	}
}

func toShippoParcel(req CarrierRequest) shippoParcel {
	return shippoParcel{
		Length:       formatFloat(req.Parcel.LengthCm),
		Width:        formatFloat(req.Parcel.WidthCm),
		Height:       formatFloat(req.Parcel.HeightCm),
		DistanceUnit: "cm",
		Weight:       strconv.Itoa(req.Parcel.WeightGrams),
		MassUnit:     "g",
	}
}

func toShippoCustoms(c Customs, signer string) shippoCustomsDeclaration {
	decl := shippoCustomsDeclaration{
		Certify:       true,
		CertifySigner: first(signer, "Shipper"),
		ContentsType:  "MERCHANDISE",
		NonDelivery:   "RETURN",
		Incoterm:      c.Incoterm,
	}
	for _, item := range c.Items {
		decl.Items = append(decl.Items, shippoCustomsItem{
			Description:   item.Description,
			Quantity:      item.Quantity,
			NetWeight:     strconv.Itoa(item.MassGrams * item.Quantity),
			MassUnit:      "g",
			ValueAmount:   item.UnitValueCAD.Times(item.Quantity).String(),
			ValueCurrency: c.Currency,
			OriginCountry: item.OriginCountry,
			TariffNumber:  item.HSCode,
		})
	}
	return decl
}

func joinMessages(msgs []shippoMessage) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	if len(parts) == 0 {
		return "no details"
	}
	return strings.Join(parts, "; ")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
