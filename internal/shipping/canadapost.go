package shipping

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"storefront/internal/models"
	"storefront/internal/money"
)

const (
	cpRateNS     = "http://www.canadapost.ca/ws/ship/rate-v4"
	cpShipmentNS = "http://www.canadapost.ca/ws/ncshipment-v4"

	cpRateMedia     = "application/vnd.cpc.ship.rate-v4+xml"
	cpShipmentMedia = "application/vnd.cpc.ncshipment-v4+xml"
)

// CPRefundError is a refund call rejected with a non-success status.
type CPRefundError struct {
	StatusCode int
	Body       string
}

func (e *CPRefundError) Error() string {
	return fmt.Sprintf("canada post refund error %d: %s", e.StatusCode, e.Body)
}

type CanadaPostClient struct {
	BaseURL        string
	Username       string
	Password       string
	CustomerNumber string
	HTTPClient     *http.Client
	Now            func() time.Time
}

func NewCanadaPostClient(username, password, customerNumber, baseURL string) *CanadaPostClient {
	return &CanadaPostClient{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		Username:       username,
		Password:       password,
		CustomerNumber: customerNumber,
		HTTPClient:     &http.Client{Timeout: 20 * time.Second},
		Now:            time.Now,
	}
}

func (c *CanadaPostClient) Name() string { return models.CarrierCanadaPost }

func (c *CanadaPostClient) configured() error {
	if c == nil || c.Username == "" || c.Password == "" {
		return errors.WithMessage(ErrNotConfigured, "canada post credentials missing")
	}
	return nil
}

func (c *CanadaPostClient) Quote(ctx context.Context, req CarrierRequest) ([]Rate, error) {
	quotes, _, err := c.getRates(ctx, req)
	if err != nil {
		return nil, err
	}
	rates := make([]Rate, 0, len(quotes.PriceQuotes))
	for _, q := range quotes.PriceQuotes {
		rates = append(rates, Rate{
			Carrier:       models.CarrierCanadaPost,
			Provider:      "Canada Post",
			ServiceCode:   q.ServiceCode,
			ServiceName:   q.ServiceName,
			Amount:        money.FromFloat(q.PriceDetails.Due),
			Currency:      "CAD",
			EstimatedDays: q.ServiceStandard.ExpectedTransitTime,
		})
	}
	return rates, nil
}

// Purchase quotes the parcel, picks the requested or first service and
// creates a non-contract shipment.
func (c *CanadaPostClient) Purchase(ctx context.Context, req CarrierRequest) (Label, error) {
	quotes, audit, err := c.getRates(ctx, req)
	if err != nil {
		return Label{}, err
	}
	quote, ok := pickQuote(quotes.PriceQuotes, req.ServiceCode)
	if !ok {
		return Label{}, ErrNoRates
	}

	body := c.shipmentRequest(req, quote.ServiceCode)
	var resp cpShipmentResponse
	raw, status, err := c.send(ctx, http.MethodPost, fmt.Sprintf("%s/rs/%s/ncshipment", c.BaseURL, c.CustomerNumber), cpShipmentMedia, body, &resp)
	audit = append(audit, c.audit("shipment", status, raw))
	if err != nil {
		return Label{}, err
	}

	return Label{
		Service:            quote.ServiceCode,
		TrackingNumber:     resp.TrackingPIN,
		LabelURL:           resp.link("label"),
		ProviderShipmentID: resp.ShipmentID,
		RefundLink:         resp.link("refund"),
		Cost:               money.FromFloat(quote.PriceDetails.Due),
		Currency:           "CAD",
		EstimatedDelivery:  quote.ServiceStandard.ExpectedDeliveryDate,
		Meta: map[string]string{
			"provider":    "canada_post",
			"serviceName": quote.ServiceName,
			"receiptUrl":  resp.link("receipt"),
		},
		Audit: audit,
	}, nil
}

// Cancel submits a refund request for the shipment's refund link.
func (c *CanadaPostClient) Cancel(ctx context.Context, shipment models.Shipment, contact string) (models.APIAuditEntry, error) {
	if strings.TrimSpace(shipment.RefundLink) == "" {
		return models.APIAuditEntry{}, errors.New("canada post refund link not found")
	}
	if strings.TrimSpace(contact) == "" {
		return models.APIAuditEntry{}, errors.New("contact email required by canada post refund request")
	}
	resp, raw, err := c.RefundShipment(ctx, shipment.RefundLink, contact)
	entry := c.audit("refund", http.StatusOK, raw)
	if err != nil {
		var refundErr *CPRefundError
		if errors.As(err, &refundErr) {
			entry.Status = refundErr.StatusCode
		}
		return entry, err
	}
	entry.Body = fmt.Sprintf("ticket=%s date=%s", resp.ServiceTicketID, resp.ServiceTicketDate)
	return entry, nil
}

func (c *CanadaPostClient) RefundShipment(ctx context.Context, refundLink, email string) (*cpRefundResponse, []byte, error) {
	if err := c.configured(); err != nil {
		return nil, nil, err
	}
	payload, err := xml.Marshal(cpRefundRequest{XMLNS: cpShipmentNS, Email: email})
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshal refund request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, refundLink, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, errors.Wrap(err, "create refund request")
	}
	c.setHeaders(httpReq, cpShipmentMedia)

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, nil, errors.Wrap(err, "send refund request")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, raw, &CPRefundError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	refund, msg, err := parseRefundResponse(raw)
	if err != nil {
		return nil, raw, err
	}
	if msg != nil {
		return nil, raw, fmt.Errorf("canada post refund rejected %s: %s", msg.Code, msg.Description)
	}
	return refund, raw, nil
}

// parseRefundResponse accepts either the refund info document or a
// messages document.
func parseRefundResponse(body []byte) (*cpRefundResponse, *cpMessage, error) {
	trimmed := bytes.TrimSpace(body)
	switch {
	case bytes.Contains(trimmed, []byte("<non-contract-shipment-refund-request-info")):
		var resp cpRefundResponse
		if err := xml.Unmarshal(trimmed, &resp); err != nil {
			return nil, nil, errors.Wrap(err, "decode refund response")
		}
		return &resp, nil, nil
	case bytes.Contains(trimmed, []byte("<messages")):
		var msgs cpMessages
		if err := xml.Unmarshal(trimmed, &msgs); err != nil {
			return nil, nil, errors.Wrap(err, "decode refund messages")
		}
		if len(msgs.Messages) == 0 {
			return nil, nil, errors.New("empty refund messages")
		}
		return nil, &msgs.Messages[0], nil
	default:
		return nil, nil, fmt.Errorf("unexpected refund payload: %.120s", string(trimmed))
	}
}

func (c *CanadaPostClient) getRates(ctx context.Context, req CarrierRequest) (cpRateResponse, []models.APIAuditEntry, error) {
	body := cpRateRequest{
		XMLNS:                 cpRateNS,
		CustomerNumber:        c.CustomerNumber,
		QuoteType:             "counter",
		ParcelCharacteristics: cpParcelFrom(req),
		OriginPostalCode:      postalCode(req.From.Zip),
	}
	switch req.To.Country {
	case "CA":
		body.Destination.Domestic = &cpDomestic{PostalCode: postalCode(req.To.Zip)}
	case "US":
		body.Destination.UnitedStates = &cpUnitedStates{ZipCode: strings.TrimSpace(req.To.Zip)}
	default:
		body.Destination.International = &cpInternational{CountryCode: req.To.Country}
	}

	var resp cpRateResponse
	raw, status, err := c.send(ctx, http.MethodPost, c.BaseURL+"/rs/ship/price", cpRateMedia, body, &resp)
	audit := []models.APIAuditEntry{c.audit("rates", status, raw)}
	if err != nil {
		return cpRateResponse{}, audit, err
	}
	return resp, audit, nil
}

func (c *CanadaPostClient) shipmentRequest(req CarrierRequest, service string) cpShipmentRequest {
	body := cpShipmentRequest{XMLNS: cpShipmentNS}
	spec := &body.DeliverySpec
	spec.ServiceCode = service
	spec.Sender = cpSender{
		Name:         req.From.FullName,
		Company:      first(req.From.FullName, "Shipper"),
		ContactPhone: first(req.From.Phone, "000-000-0000"),
		AddressDetails: cpAddressDetails{
			AddressLine1: req.From.Street,
			AddressLine2: req.From.Street2,
			City:         req.From.City,
			ProvState:    req.From.State,
			PostalCode:   postalCode(req.From.Zip),
		},
	}
	spec.Destination = cpDestination{
		Name:        req.To.FullName,
		ClientVoice: req.To.Phone,
		AddressDetails: cpAddressDetails{
			AddressLine1: req.To.Street,
			AddressLine2: req.To.Street2,
			City:         req.To.City,
			ProvState:    req.To.State,
			CountryCode:  req.To.Country,
			PostalCode:   postalCode(req.To.Zip),
		},
	}
	spec.ParcelCharacteristics = cpParcelFrom(req)
	spec.Preferences.ShowPackingInstructions = true
	if req.To.Email != "" {
		spec.Notification = &cpNotification{Email: req.To.Email, OnShipment: true, OnException: true, OnDelivery: true}
	}
	if req.Reference != "" {
		spec.References = &cpReferences{CustomerRef1: req.Reference}
	}
	if req.Customs != nil {
		customs := &cpCustoms{Currency: req.Customs.Currency, ReasonForExport: "SOG"}
		for _, item := range req.Customs.Items {
			customs.SkuList = append(customs.SkuList, cpSkuItem{
				CustomsNumberOfUnits: item.Quantity,
				CustomsDescription:   truncateRunes(item.Description, 45),
				HSTariffCode:         item.HSCode,
				UnitWeight:           kilograms(item.MassGrams),
				CustomsValuePerUnit:  item.UnitValueCAD.String(),
				CountryOfOrigin:      item.OriginCountry,
			})
		}
		spec.Customs = customs
	}
	return body
}

func (c *CanadaPostClient) send(ctx context.Context, method, url, media string, in, out any) ([]byte, int, error) {
	if err := c.configured(); err != nil {
		return nil, 0, err
	}
	payload, err := xml.MarshalIndent(in, "", "  ")
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to marshal request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to create request")
	}
	c.setHeaders(httpReq, media)

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return raw, resp.StatusCode, fmt.Errorf("canada post API error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := xml.Unmarshal(raw, out); err != nil {
		return raw, resp.StatusCode, errors.Wrap(err, "failed to decode response")
	}
	return raw, resp.StatusCode, nil
}

func (c *CanadaPostClient) setHeaders(req *http.Request, media string) {
	req.Header.Set("Content-Type", media)
	req.Header.Set("Accept", media)
	req.Header.Set("Accept-Language", "en-CA")
	req.SetBasicAuth(c.Username, c.Password)
}

func (c *CanadaPostClient) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	return c.HTTPClient
}

func (c *CanadaPostClient) audit(step string, status int, raw []byte) models.APIAuditEntry {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return models.APIAuditEntry{Step: step, Status: status, Body: string(raw), At: now().UTC()}
}

func pickQuote(quotes []cpPriceQuote, service string) (cpPriceQuote, bool) {
	if len(quotes) == 0 {
		return cpPriceQuote{}, false
	}
	for _, q := range quotes {
		if service != "" && strings.EqualFold(q.ServiceCode, service) {
			return q, true
		}
	}
	return quotes[0], true
}

func cpParcelFrom(req CarrierRequest) cpParcel {
	parcel := cpParcel{Weight: kilograms(req.Parcel.WeightGrams)}
	if req.Parcel.LengthCm > 0 && req.Parcel.WidthCm > 0 && req.Parcel.HeightCm > 0 {
		parcel.Dimensions = &cpDimensions{
			Length: roundTo(req.Parcel.LengthCm, 1),
			Width:  roundTo(req.Parcel.WidthCm, 1),
			Height: roundTo(req.Parcel.HeightCm, 1),
		}
	}
	return parcel
}

func kilograms(grams int) float64 {
	if grams <= 0 {
		return 0.001
	}
	return roundTo(float64(grams)/1000, 3)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func postalCode(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
