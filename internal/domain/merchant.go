package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AdjustmentType controls how a fee or discount value is interpreted.
type AdjustmentType string

const (
	AdjustmentFixed      AdjustmentType = "fixed"
	AdjustmentPercentage AdjustmentType = "percentage"
)

// AdjustmentRule configures one conditional fee or discount.
// Min defaults to zero; a nil Max means the upper bound is unlimited.
type AdjustmentRule struct {
	Enabled bool
	Value   decimal.Decimal
	Type    AdjustmentType
	Min     decimal.Decimal
	Max     *decimal.Decimal
}

// InRange reports whether base lies within the rule's inclusive bounds.
func (r AdjustmentRule) InRange(base decimal.Decimal) bool {
	if base.LessThan(r.Min) {
		return false
	}
	if r.Max != nil && base.GreaterThan(*r.Max) {
		return false
	}
	return true
}

// PaymentRules groups the fee and discount rules for one payment method.
type PaymentRules struct {
	Fee      AdjustmentRule
	Discount AdjustmentRule
}

// PricingResult is the computed fee and discount for one payment method.
type PricingResult struct {
	Fee      decimal.Decimal
	Discount decimal.Decimal
}

// CodAvailabilityMode selects whether configured lists allow or block COD.
type CodAvailabilityMode string

const (
	CodModeEnable  CodAvailabilityMode = "enable"
	CodModeDisable CodAvailabilityMode = "disable"
)

// CodRestrictionMode selects how enable-mode lists are matched against the cart.
type CodRestrictionMode string

const (
	CodRestrictAny CodRestrictionMode = "any"
	CodRestrictAll CodRestrictionMode = "all"
)

// CodRestrictions configures COD availability.
type CodRestrictions struct {
	MinCartValue    decimal.Decimal
	MaxCartValue    *decimal.Decimal
	Mode            CodAvailabilityMode
	RestrictionMode CodRestrictionMode
	CategoryIDs     []string
	ProductIDs      []string
}

// CodBlockRule flags carts whose custom-field payload opts out of COD for a given merchant.
type CodBlockRule struct {
	Enabled       bool
	MerchantID    string
	ElementPrefix string
}

// Active reports whether the rule applies to the configured merchant id.
func (r CodBlockRule) Active(merchantID string) bool {
	if !r.Enabled {
		return false
	}
	if strings.TrimSpace(r.ElementPrefix) == "" {
		return false
	}
	want := strings.TrimSpace(r.MerchantID)
	return want == "" || want == strings.TrimSpace(merchantID)
}

// GSTMirrorRule copies the billing GST number into a field-editor structured meta block.
// HostPattern limits the rule to storefront hosts containing the pattern; empty matches every host.
type GSTMirrorRule struct {
	Enabled     bool
	HostPattern string
	FieldName   string
	FieldLabel  string
}

// Matches reports whether the rule applies for the request host.
func (r GSTMirrorRule) Matches(host string) bool {
	if !r.Enabled {
		return false
	}
	pattern := strings.ToLower(strings.TrimSpace(r.HostPattern))
	if pattern == "" {
		return true
	}
	labels := strings.Split(strings.ToLower(strings.TrimSpace(host)), ".")
	if len(labels) > 0 && strings.Contains(labels[0], pattern) {
		return true
	}
	return len(labels) > 2 && strings.Contains(labels[1], pattern)
}

// CouponListing configures the coupon listing endpoint.
type CouponListing struct {
	Enabled              bool
	SelectedCouponIDs    []string
	ShowUserSpecific     bool
	ShowValidCouponsOnly bool
}

// MerchantConfig is the immutable, per-request view of store settings.
type MerchantConfig struct {
	MerchantID              string
	SandboxMode             bool
	CheckoutEnabled         bool
	CheckoutFromCartPage    bool
	CheckoutFromSideCart    bool
	OverwriteNativeCheckout bool
	BuyNowEnabled           bool
	RegisterAfterCheckout   bool
	PendingOrderFlow        bool
	OTPLoginIntegration     bool
	CodGatewayEnabled       bool
	WalletEnabled           bool
	AbandonedCartEnabled    bool
	PricesIncludeTax        bool
	Currency                string
	StoreURL                string
	CartPath                string
	CheckoutPath            string
	PlaceholderImageURL     string
	Cod                     PaymentRules
	Prepaid                 PaymentRules
	CodRestrictions         CodRestrictions
	CodBlock                CodBlockRule
	GSTMirror               GSTMirrorRule
	Coupons                 CouponListing
}

// RulesFor returns the pricing rules for a payment method, reporting whether any apply.
func (m MerchantConfig) RulesFor(method string) (PaymentRules, bool) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case PaymentMethodCOD:
		return m.Cod, true
	case PaymentMethodPrepaid:
		return m.Prepaid, true
	default:
		return PaymentRules{}, false
	}
}

// ScriptURL returns the hosted checkout client build for the configured environment.
func (m MerchantConfig) ScriptURL() string {
	if m.SandboxMode {
		return "https://sandbox.pdp.gokwik.co/v4/build/gokwik.js"
	}
	return "https://pdp.gokwik.co/v4/build/gokwik.js"
}

// Environment returns "sandbox" or "production".
func (m MerchantConfig) Environment() string {
	if m.SandboxMode {
		return "sandbox"
	}
	return "production"
}

// Payment method identifiers understood by the checkout API.
const (
	PaymentMethodCOD     = "cod"
	PaymentMethodPrepaid = "gokwik_prepaid"
	PaymentMethodWallet  = "wallet"
)

// Fee line names used for payment adjustments.
const (
	FeeNameCOD             = "COD Fee"
	FeeNameCODDiscount     = "COD Discount"
	FeeNamePrepaid         = "Prepaid Fee"
	FeeNamePrepaidDiscount = "Prepaid Discount"
	FeeNameWalletApplied   = "Wallet Applied"
	DiscountSourcePrepaid  = "gkp"
)
