package shipping

import "encoding/xml"

type cpDimensions struct {
	Length float64 `xml:"length"`
	Width  float64 `xml:"width"`
	Height float64 `xml:"height"`
}

type cpParcel struct {
	Weight     float64       `xml:"weight"`
	Dimensions *cpDimensions `xml:"dimensions,omitempty"`
}

type cpDomestic struct {
	PostalCode string `xml:"postal-code"`
}

type cpUnitedStates struct {
	ZipCode string `xml:"zip-code"`
}

type cpInternational struct {
	CountryCode string `xml:"country-code"`
}

type cpRateDestination struct {
	Domestic      *cpDomestic      `xml:"domestic,omitempty"`
	UnitedStates  *cpUnitedStates  `xml:"united-states,omitempty"`
	International *cpInternational `xml:"international,omitempty"`
}

type cpRateRequest struct {
	XMLName               xml.Name          `xml:"mailing-scenario"`
	XMLNS                 string            `xml:"xmlns,attr"`
	CustomerNumber        string            `xml:"customer-number,omitempty"`
	QuoteType             string            `xml:"quote-type,omitempty"`
	ParcelCharacteristics cpParcel          `xml:"parcel-characteristics"`
	OriginPostalCode      string            `xml:"origin-postal-code"`
	Destination           cpRateDestination `xml:"destination"`
}

type cpRateResponse struct {
	XMLName     xml.Name       `xml:"price-quotes"`
	PriceQuotes []cpPriceQuote `xml:"price-quote"`
}

type cpPriceQuote struct {
	ServiceCode  string `xml:"service-code"`
	ServiceName  string `xml:"service-name"`
	PriceDetails struct {
		Base float64 `xml:"base"`
		Due  float64 `xml:"due"`
	} `xml:"price-details"`
	ServiceStandard struct {
		ExpectedTransitTime  int    `xml:"expected-transit-time"`
		ExpectedDeliveryDate string `xml:"expected-delivery-date"`
	} `xml:"service-standard"`
}

type cpAddressDetails struct {
	AddressLine1 string `xml:"address-line-1"`
	AddressLine2 string `xml:"address-line-2,omitempty"`
	City         string `xml:"city"`
	ProvState    string `xml:"prov-state,omitempty"`
	CountryCode  string `xml:"country-code,omitempty"`
	PostalCode   string `xml:"postal-zip-code,omitempty"`
}

type cpSender struct {
	Name           string           `xml:"name,omitempty"`
	Company        string           `xml:"company"`
	ContactPhone   string           `xml:"contact-phone"`
	AddressDetails cpAddressDetails `xml:"address-details"`
}

type cpDestination struct {
	Name           string           `xml:"name"`
	Company        string           `xml:"company,omitempty"`
	ClientVoice    string           `xml:"client-voice-number,omitempty"`
	AddressDetails cpAddressDetails `xml:"address-details"`
}

type cpSkuItem struct {
	CustomsNumberOfUnits int     `xml:"customs-number-of-units"`
	CustomsDescription   string  `xml:"customs-description"`
	HSTariffCode         string  `xml:"hs-tariff-code,omitempty"`
	UnitWeight           float64 `xml:"unit-weight"`
	CustomsValuePerUnit  string  `xml:"customs-value-per-unit"`
	CountryOfOrigin      string  `xml:"country-of-origin,omitempty"`
}

type cpCustoms struct {
	Currency        string      `xml:"currency"`
	ReasonForExport string      `xml:"reason-for-export"`
	SkuList         []cpSkuItem `xml:"sku-list>item"`
}

type cpNotification struct {
	Email       string `xml:"email"`
	OnShipment  bool   `xml:"on-shipment"`
	OnException bool   `xml:"on-exception"`
	OnDelivery  bool   `xml:"on-delivery"`
}

type cpDeliverySpec struct {
	ServiceCode           string          `xml:"service-code"`
	Sender                cpSender        `xml:"sender"`
	Destination           cpDestination   `xml:"destination"`
	ParcelCharacteristics cpParcel        `xml:"parcel-characteristics"`
	Notification          *cpNotification `xml:"notification,omitempty"`
	Preferences           struct {
		ShowPackingInstructions bool `xml:"show-packing-instructions"`
	} `xml:"preferences"`
	References *cpReferences `xml:"references,omitempty"`
	Customs    *cpCustoms    `xml:"customs,omitempty"`
}

type cpReferences struct {
	CustomerRef1 string `xml:"customer-ref-1"`
}

type cpShipmentRequest struct {
	XMLName      xml.Name       `xml:"non-contract-shipment"`
	XMLNS        string         `xml:"xmlns,attr"`
	DeliverySpec cpDeliverySpec `xml:"delivery-spec"`
}

type cpLink struct {
	Rel       string `xml:"rel,attr"`
	Href      string `xml:"href,attr"`
	MediaType string `xml:"media-type,attr"`
}

type cpShipmentResponse struct {
	XMLName     xml.Name `xml:"non-contract-shipment-info"`
	ShipmentID  string   `xml:"shipment-id"`
	TrackingPIN string   `xml:"tracking-pin"`
	Links       []cpLink `xml:"links>link"`
}

func (r cpShipmentResponse) link(rel string) string {
	for _, l := range r.Links {
		if l.Rel == rel {
			return l.Href
		}
	}
	return ""
}

type cpRefundRequest struct {
	XMLName xml.Name `xml:"non-contract-shipment-refund-request"`
	XMLNS   string   `xml:"xmlns,attr"`
	Email   string   `xml:"email"`
}

type cpRefundResponse struct {
	XMLName           xml.Name `xml:"non-contract-shipment-refund-request-info"`
	ServiceTicketDate string   `xml:"service-ticket-date"`
	ServiceTicketID   string   `xml:"service-ticket-id"`
}

type cpMessages struct {
	XMLName  xml.Name    `xml:"messages"`
	Messages []cpMessage `xml:"message"`
}

type cpMessage struct {
	Code        string `xml:"code"`
	Description string `xml:"description"`
}
