package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
)

// CheckoutSessionService exposes the session-bound operations the hosted checkout drives before placement.
type CheckoutSessionService interface {
	GetCart(ctx context.Context, cmd GetCartCommand) (CartView, error)
	GetCoupons(ctx context.Context, sessionKey string) ([]CouponSummary, error)
	ApplyCoupon(ctx context.Context, cmd CouponCommand) (MessageResult, error)
	RemoveCoupon(ctx context.Context, cmd CouponCommand) (MessageResult, error)
	SetAddress(ctx context.Context, cmd SetAddressCommand) (MessageResult, error)
	SetShippingMethod(ctx context.Context, cmd SetShippingMethodCommand) (MessageResult, error)
	SetPaymentMethod(ctx context.Context, cmd SetPaymentMethodCommand) (MessageResult, error)
	GetWalletBalance(ctx context.Context, customerEmail string) (WalletBalance, error)
	DeductWalletBalance(ctx context.Context, cmd DeductWalletCommand) (WalletDeduction, error)
}

// OrderPlacementService converts a reconciled session into an order and manages checkout orders afterwards.
type OrderPlacementService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacedOrder, error)
	CheckOrderExists(ctx context.Context, cmd CheckOrderExistsCommand) (ExistingOrder, error)
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (OrderStatusChange, error)
}

// CheckoutScriptService serves the storefront-side helpers of the hosted checkout client.
type CheckoutScriptService interface {
	ScriptConfig(ctx context.Context, cmd ScriptConfigCommand) (ScriptConfig, error)
	CartStatus(ctx context.Context, sessionKey string) (CartStatus, error)
	ClearCart(ctx context.Context, cmd ClearCartCommand) (ClearCartResult, error)
	VisibleGateways(ctx context.Context, sessionKey string) ([]payments.Gateway, error)
}

// SystemService reports dependency health for the readiness probe.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.HealthReport, error)
}

// MerchantConfigSource resolves the merchant configuration for a request.
type MerchantConfigSource interface {
	Current(ctx context.Context) domain.MerchantConfig
}

// WalletLedger is the external stored-credit ledger. Active reports whether the ledger is installed.
type WalletLedger interface {
	Active(ctx context.Context) bool
	Balance(ctx context.Context, customerID string) (decimal.Decimal, error)
	Debit(ctx context.Context, customerID string, amount decimal.Decimal, note string) (string, error)
}

// AbandonedCartRecorder forwards recovery records to the abandoned-cart tracker.
type AbandonedCartRecorder interface {
	RecordAbandonedCart(ctx context.Context, cart domain.AbandonedCart) error
}

// PlacementClaimer grants one in-flight placement per session key.
type PlacementClaimer interface {
	Claim(ctx context.Context, sessionKey string, ttl time.Duration) (release func(context.Context), acquired bool, err error)
}

// IdentityProvisioner creates a sign-in identity for an account registered during checkout.
type IdentityProvisioner interface {
	ProvisionIdentity(ctx context.Context, customer domain.Customer, phone string) (string, error)
}

// CountryResolver resolves the ISO country of a client IP.
type CountryResolver interface {
	CountryForIP(ctx context.Context, ip string) (string, error)
}

// Command and DTO definitions ------------------------------------------------

type GetCartCommand struct {
	SessionKey string
}

type CartView struct {
	UserID                string
	CustomerEmail         string
	Customer              map[string]any
	Items                 []map[string]any
	CouponApplied         []string
	ChosenShippingMethods map[string]string
	ChosenPaymentMethod   string
	ShippingMethods       []map[string]any
	PaymentMethods        []PaymentMethodOption
	Totals                map[string]any
}

type PaymentMethodOption struct {
	PaymentMethod string
	Amount        decimal.Decimal
	Charge        decimal.Decimal
	Discount      decimal.Decimal
}

// CouponSummary is one listed coupon. With a cart, Amount is the monetary discount and DiscountValue
// the configured amount.
type CouponSummary struct {
	Code          string
	Amount        string
	DiscountType  string
	Description   string
	DiscountValue string
	WithCart      bool
}

type CouponCommand struct {
	SessionKey string
	Code       string
}

type MessageResult struct {
	Message string
}

// SetAddressCommand carries the supplied address parameters; absent keys are left untouched.
type SetAddressCommand struct {
	SessionKey    string
	Fields        map[string]string
	CustomerEmail string
}

type SetShippingMethodCommand struct {
	SessionKey string
	Methods    map[string]string
}

type SetPaymentMethodCommand struct {
	SessionKey    string
	PaymentMethod string
}

type WalletBalance struct {
	CustomerID string
	Balance    decimal.Decimal
}

type DeductWalletCommand struct {
	Email  string
	Amount string
	Note   string
}

type WalletDeduction struct {
	TransactionID string
}

// OrderAddressInput is the loosely typed billing or shipping block supplied at placement.
type OrderAddressInput map[string]string

// FeeLineInput is a fee line supplied by the hosted checkout at placement.
type FeeLineInput struct {
	Name           string
	Total          string
	DiscountSource string
}

type MetaInput struct {
	Key   string
	Value string
}

type PlaceOrderCommand struct {
	SessionKey        string
	Billing           OrderAddressInput
	Shipping          OrderAddressInput
	PaymentMethod     string
	Status            string
	TransactionID     string
	SetPaid           bool
	OrderTotal        string
	FeeLines          []FeeLineInput
	Meta              []MetaInput
	CustomerIP        string
	CustomerUserAgent string
	Host              string
}

type PlacedOrder struct {
	OrderID  string
	Warnings []IntegrityWarning
}

type CheckOrderExistsCommand struct {
	SessionKey    string
	CustomerEmail string
}

type ExistingOrder struct {
	OrderID string
}

type UpdateOrderStatusCommand struct {
	MerchantOrderID string
	OrderStatus     string
}

type OrderStatusChange struct {
	OrderID   string
	OldStatus domain.OrderStatus
	NewStatus domain.OrderStatus
}

type ScriptConfigCommand struct {
	SessionKey     string
	ClientIP       string
	IsCheckoutPage bool
}

// ScriptConfig is the bootstrap payload of the hosted checkout client script.
type ScriptConfig struct {
	AjaxURL                 string
	Environment             string
	MerchantID              string
	IsCheckoutPage          bool
	IsCartEmpty             bool
	CartURL                 string
	CheckoutURL             string
	SessionID               string
	OverwriteNativeCheckout bool
	BuyNowEnabled           bool
	IsInternationalUser     bool
	CheckoutFromSideCart    bool
	CheckoutFromCartPage    bool
	ScriptURL               string
	Events                  []string
	CheckoutEnabled         bool
}

type CartStatus struct {
	SessionKey string
	IsEmpty    bool
	ItemCount  int
}

type ClearCartCommand struct {
	SessionKey string
	OrderID    string
}

type ClearCartResult struct {
	Cleared     bool
	RedirectURL string
	OrderNumber string
	PPCOD       domain.PPCODAmounts
}
