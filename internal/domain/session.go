package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SessionField enumerates the snapshot fields that may be rewritten individually.
type SessionField string

const (
	// SessionFieldCustomer holds the transient customer address/contact mapping.
	SessionFieldCustomer SessionField = "customer"
	// SessionFieldCart holds the ordered cart line records.
	SessionFieldCart SessionField = "cart"
	// SessionFieldAppliedCoupons holds the set of applied coupon codes.
	SessionFieldAppliedCoupons SessionField = "applied_coupons"
	// SessionFieldChosenShippingMethods maps shipping package ids to chosen rate ids.
	SessionFieldChosenShippingMethods SessionField = "chosen_shipping_methods"
	// SessionFieldChosenPaymentMethod holds the selected payment method id.
	SessionFieldChosenPaymentMethod SessionField = "chosen_payment_method"
	// SessionFieldCustomerEmail holds the email the hosted checkout captured for the shopper.
	SessionFieldCustomerEmail SessionField = "customer_email"
	// SessionFieldAbandonedCartID links the session to its abandoned-cart recovery record.
	SessionFieldAbandonedCartID SessionField = "wcf_session_id"
)

// Valid reports whether the field is one of the writable snapshot fields.
func (f SessionField) Valid() bool {
	switch f {
	case SessionFieldCustomer, SessionFieldCart, SessionFieldAppliedCoupons,
		SessionFieldChosenShippingMethods, SessionFieldChosenPaymentMethod, SessionFieldCustomerEmail,
		SessionFieldAbandonedCartID:
		return true
	default:
		return false
	}
}

// SessionSnapshot is the persisted cart session keyed by an opaque session key.
// It is the source of truth at rest; live cart calculations are derived from it.
type SessionSnapshot struct {
	Key                   string
	Customer              SessionCustomer
	Cart                  []SessionCartLine
	AppliedCoupons        []string
	ChosenShippingMethods map[string]string
	ChosenPaymentMethod   string
	CustomerEmail         string
	AbandonedCartID       string
	Currency              string
	UpdatedAt             time.Time
	ExpiresAt             time.Time
}

// AccountID returns the numeric account identifier encoded in the session key, if any.
func (s SessionSnapshot) AccountID() (string, bool) {
	return NumericAccountID(s.Key)
}

// NumericAccountID reports whether key identifies an authenticated account (numeric id > 0).
func NumericAccountID(key string) (string, bool) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", false
	}
	id, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil || id == 0 {
		return "", false
	}
	return strconv.FormatUint(id, 10), true
}

// HasCoupon reports whether the normalised coupon code is applied on the snapshot.
func (s SessionSnapshot) HasCoupon(code string) bool {
	code = NormalizeCouponCode(code)
	for _, applied := range s.AppliedCoupons {
		if NormalizeCouponCode(applied) == code {
			return true
		}
	}
	return false
}

// SortedShippingPackages returns chosen shipping package ids in ascending order.
func (s SessionSnapshot) SortedShippingPackages() []string {
	keys := make([]string, 0, len(s.ChosenShippingMethods))
	for key := range s.ChosenShippingMethods {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// NormalizeCouponCode trims and lower-cases coupon codes.
func NormalizeCouponCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// SessionCartLine is one serialised cart entry as stored on the session.
type SessionCartLine struct {
	Key             string
	ProductID       string
	VariationID     string
	Quantity        int
	Variation       map[string]string
	LineSubtotal    decimal.Decimal
	LineSubtotalTax decimal.Decimal
	LineTotal       decimal.Decimal
	LineTax         decimal.Decimal
	DataHash        string
	Extra           map[string]any
}

// EffectiveProductID returns the variation id when present, otherwise the product id.
func (l SessionCartLine) EffectiveProductID() string {
	if v := strings.TrimSpace(l.VariationID); v != "" && v != "0" {
		return v
	}
	return strings.TrimSpace(l.ProductID)
}

// HasVariation reports whether the line references a product variation.
func (l SessionCartLine) HasVariation() bool {
	v := strings.TrimSpace(l.VariationID)
	return v != "" && v != "0"
}

// SessionCustomer is the typed form of the session's customer mapping.
type SessionCustomer struct {
	ID                string
	FirstName         string
	LastName          string
	Company           string
	Email             string
	Phone             string
	Address1          string
	Address2          string
	City              string
	State             string
	Postcode          string
	Country           string
	ShippingFirstName string
	ShippingLastName  string
	ShippingCompany   string
	ShippingPhone     string
	ShippingAddress1  string
	ShippingAddress2  string
	ShippingCity      string
	ShippingState     string
	ShippingPostcode  string
	ShippingCountry   string
	OrderComments     string
	IsVatExempt       bool
}

// customerKeys lists the wire keys of SessionCustomer in output order.
var customerKeys = []string{
	"id", "first_name", "last_name", "company", "email", "phone",
	"address_1", "address_2", "city", "state", "postcode", "country",
	"shipping_first_name", "shipping_last_name", "shipping_company", "shipping_phone",
	"shipping_address_1", "shipping_address_2", "shipping_city", "shipping_state",
	"shipping_postcode", "shipping_country", "order_comments",
}

func (c *SessionCustomer) field(key string) *string {
	switch key {
	case "id":
		return &c.ID
	case "first_name":
		return &c.FirstName
	case "last_name":
		return &c.LastName
	case "company":
		return &c.Company
	case "email":
		return &c.Email
	case "phone":
		return &c.Phone
	case "address_1", "address":
		return &c.Address1
	case "address_2":
		return &c.Address2
	case "city":
		return &c.City
	case "state":
		return &c.State
	case "postcode":
		return &c.Postcode
	case "country":
		return &c.Country
	case "shipping_first_name":
		return &c.ShippingFirstName
	case "shipping_last_name":
		return &c.ShippingLastName
	case "shipping_company":
		return &c.ShippingCompany
	case "shipping_phone":
		return &c.ShippingPhone
	case "shipping_address_1", "shipping_address":
		return &c.ShippingAddress1
	case "shipping_address_2":
		return &c.ShippingAddress2
	case "shipping_city":
		return &c.ShippingCity
	case "shipping_state":
		return &c.ShippingState
	case "shipping_postcode":
		return &c.ShippingPostcode
	case "shipping_country":
		return &c.ShippingCountry
	case "order_comments":
		return &c.OrderComments
	default:
		return nil
	}
}

// Get returns the value stored under a customer mapping key.
func (c SessionCustomer) Get(key string) (string, bool) {
	ptr := c.field(strings.TrimSpace(key))
	if ptr == nil {
		return "", false
	}
	return *ptr, true
}

// Set writes the value under a customer mapping key. Unknown keys are ignored and reported.
func (c *SessionCustomer) Set(key, value string) bool {
	ptr := c.field(strings.TrimSpace(key))
	if ptr == nil {
		return false
	}
	*ptr = value
	return true
}

// Fields renders the customer as its wire mapping. The `address` aliases are included.
func (c SessionCustomer) Fields() map[string]any {
	out := make(map[string]any, len(customerKeys)+3)
	for _, key := range customerKeys {
		value, _ := c.Get(key)
		out[key] = value
	}
	out["address"] = c.Address1
	out["shipping_address"] = c.ShippingAddress1
	out["is_vat_exempt"] = c.IsVatExempt
	return out
}

// CustomerFromFields builds a SessionCustomer from a loosely typed mapping, ignoring unknown keys.
func CustomerFromFields(values map[string]any) SessionCustomer {
	var customer SessionCustomer
	for _, key := range customerKeys {
		if raw, ok := values[key]; ok {
			customer.Set(key, stringify(raw))
		}
	}
	if customer.Address1 == "" {
		if raw, ok := values["address"]; ok {
			customer.Address1 = stringify(raw)
		}
	}
	if customer.ShippingAddress1 == "" {
		if raw, ok := values["shipping_address"]; ok {
			customer.ShippingAddress1 = stringify(raw)
		}
	}
	switch v := values["is_vat_exempt"].(type) {
	case bool:
		customer.IsVatExempt = v
	case string:
		customer.IsVatExempt = strings.EqualFold(v, "yes") || strings.EqualFold(v, "true")
	}
	return customer
}

// ValidPhone reports whether the customer phone is present and not the hosted checkout placeholder.
func (c SessionCustomer) ValidPhone() bool {
	phone := strings.TrimSpace(c.Phone)
	return phone != "" && phone != PlaceholderPhone
}

// PlaceholderPhone is the dummy number the hosted checkout sends before the shopper enters one.
const PlaceholderPhone = "1234567890"

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}
