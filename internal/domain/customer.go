package domain

import (
	"strings"
	"time"
)

// Customer is a registered store account.
type Customer struct {
	ID             string
	Email          string
	Username       string
	FirstName      string
	LastName       string
	DisplayName    string
	FirebaseUID    string
	Meta           map[string]string
	PersistentCart []SessionCartLine
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MetaValue returns the trimmed profile meta value stored under key.
func (c Customer) MetaValue(key string) string {
	if c.Meta == nil {
		return ""
	}
	return strings.TrimSpace(c.Meta[key])
}

// ShippingDestination returns the stored shipping address used for rate lookup.
func (c Customer) ShippingDestination() ShippingDestination {
	return ShippingDestination{
		Country:  c.MetaValue("shipping_country"),
		State:    c.MetaValue("shipping_state"),
		Postcode: c.MetaValue("shipping_postcode"),
	}
}

// BillingAddress reconstructs the billing address from profile meta.
func (c Customer) BillingAddress() OrderAddress {
	return OrderAddress{
		FirstName: c.MetaValue("billing_first_name"),
		LastName:  c.MetaValue("billing_last_name"),
		Company:   c.MetaValue("billing_company"),
		Address1:  c.MetaValue("billing_address_1"),
		Address2:  c.MetaValue("billing_address_2"),
		City:      c.MetaValue("billing_city"),
		State:     c.MetaValue("billing_state"),
		Postcode:  c.MetaValue("billing_postcode"),
		Country:   c.MetaValue("billing_country"),
		Email:     c.MetaValue("billing_email"),
		Phone:     c.MetaValue("billing_phone"),
	}
}

// ShippingAddress reconstructs the shipping address from profile meta.
func (c Customer) ShippingAddress() OrderAddress {
	return OrderAddress{
		FirstName: c.MetaValue("shipping_first_name"),
		LastName:  c.MetaValue("shipping_last_name"),
		Company:   c.MetaValue("shipping_company"),
		Address1:  c.MetaValue("shipping_address_1"),
		Address2:  c.MetaValue("shipping_address_2"),
		City:      c.MetaValue("shipping_city"),
		State:     c.MetaValue("shipping_state"),
		Postcode:  c.MetaValue("shipping_postcode"),
		Country:   c.MetaValue("shipping_country"),
		Phone:     c.MetaValue("shipping_phone"),
	}
}

// WalletTransaction records a ledger debit.
type WalletTransaction struct {
	ID         string
	CustomerID string
	Amount     string
	Note       string
	CreatedAt  time.Time
}

// AbandonedCart is the recovery record published while a shopper has not completed checkout.
type AbandonedCart struct {
	SessionID    string
	SessionKey   string
	Email        string
	CartContents []SessionCartLine
	CartTotal    string
	Time         time.Time
	OtherFields  map[string]string
	CheckoutID   string
	OrderStatus  string
}
