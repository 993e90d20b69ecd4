package checkout

import (
	"errors"
	"fmt"
	"strings"

	"storefront/internal/models"
	"storefront/internal/money"
)

const (
	ItemTypePhysical = "physical"
	ItemTypeDigital  = "digital"
	ItemTypeSeal     = "seal"
	ItemTypeService  = "service"

	BaseCurrency = "USD"
)

var ErrAuthRequired = errors.New("sign in to purchase digital items")

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type CartItem struct {
	ProductID  string         `json:"productId"`
	Type       string         `json:"type" binding:"required,oneof=physical digital seal service"`
	Name       string         `json:"name" binding:"required"`
	Price      money.Cents    `json:"price" binding:"gte=0"`
	Quantity   int            `json:"quantity" binding:"gt=0"`
	ImageURL   string         `json:"imageUrl"`
	CustomData map[string]any `json:"customData"`
}

func (i CartItem) IsDigital() bool {
	return i.Type != ItemTypePhysical
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email" binding:"omitempty,email"`
	Phone string `json:"phone"`
}

type CartRequest struct {
	Items           []CartItem      `json:"items" binding:"required,min=1,dive"`
	ShippingAddress *models.Address `json:"shippingAddress"`
	Currency        string          `json:"currency"`
	Customer        Customer        `json:"customer"`
}

// Caller identifies who is checking out. A zero Caller is a guest.
type Caller struct {
	UserID string
	Email  string
	Name   string
}

func (c Caller) Authenticated() bool {
	return c.UserID != ""
}

// Validate checks the cart shape independently of the catalog.
func Validate(req CartRequest, caller Caller) error {
	if len(req.Items) == 0 {
		return invalid("items", "cart is empty")
	}

	hasPhysical := false
	hasDigital := false
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
		if item.Price < 0 {
			return invalid(fmt.Sprintf("items[%d].price", i), "must not be negative")
		}
		if strings.TrimSpace(item.Name) == "" {
			return invalid(fmt.Sprintf("items[%d].name", i), "is required")
		}
		if item.IsDigital() {
			hasDigital = true
		} else {
			hasPhysical = true
		}
	}

	if hasDigital && !caller.Authenticated() {
		return ErrAuthRequired
	}

	if hasPhysical {
		if req.ShippingAddress == nil || !trimmedAddress(*req.ShippingAddress).IsComplete() {
			return invalid("shippingAddress", "full shipping address is required for physical items")
		}
	}

	if customerEmail(req, caller) == "" {
		return invalid("customer.email", "is required")
	}
	return nil
}

func customerEmail(req CartRequest, caller Caller) string {
	if email := strings.TrimSpace(req.Customer.Email); email != "" {
		return strings.ToLower(email)
	}
	return strings.ToLower(strings.TrimSpace(caller.Email))
}

func customerName(req CartRequest, caller Caller) string {
	if name := strings.TrimSpace(req.Customer.Name); name != "" {
		return name
	}
	if req.ShippingAddress != nil && strings.TrimSpace(req.ShippingAddress.FullName) != "" {
		return strings.TrimSpace(req.ShippingAddress.FullName)
	}
	return strings.TrimSpace(caller.Name)
}

func trimmedAddress(a models.Address) models.Address {
	return models.Address{
		FullName: strings.TrimSpace(a.FullName),
		Street:   strings.TrimSpace(a.Street),
		Street2:  strings.TrimSpace(a.Street2),
		City:     strings.TrimSpace(a.City),
		State:    strings.ToUpper(strings.TrimSpace(a.State)),
		Zip:      strings.ToUpper(strings.TrimSpace(a.Zip)),
		Country:  strings.ToUpper(strings.TrimSpace(a.Country)),
		Phone:    strings.TrimSpace(a.Phone),
		Email:    strings.TrimSpace(a.Email),
	}
}
