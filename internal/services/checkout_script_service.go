package services

import (
	"context"
	"errors"
	"net/url"
	"strings"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/repositories"
)

// domesticCountry is the shopper country served without the international flag.
const domesticCountry = "IN"

// checkoutClientEvents are the lifecycle events the hosted checkout client emits to the storefront.
var checkoutClientEvents = []string{"checkout-close", "order-complete", "checkout-initiation-failure"}

// CheckoutScriptServiceDeps wires the storefront helpers of the hosted checkout.
type CheckoutScriptServiceDeps struct {
	Sessions  *SessionStore
	Engine    *CartEngine
	Guard     *EligibilityGuard
	Customers repositories.CustomerRepository
	Orders    repositories.OrderRepository
	Merchant  MerchantConfigSource
	Gateways  *payments.Registry
	Countries CountryResolver
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type checkoutScriptService struct {
	loader    *sessionLoader
	sessions  *SessionStore
	guard     *EligibilityGuard
	orders    repositories.OrderRepository
	merchant  MerchantConfigSource
	gateways  *payments.Registry
	countries CountryResolver
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutScriptService validates dependencies. Countries is optional; without it every shopper is domestic.
func NewCheckoutScriptService(deps CheckoutScriptServiceDeps) (CheckoutScriptService, error) {
	if deps.Guard == nil {
		return nil, errors.New("checkout script: eligibility guard is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout script: order repository is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("checkout script: gateway registry is required")
	}
	loader, err := newSessionLoader(deps.Sessions, deps.Engine, deps.Customers, deps.Merchant)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutScriptService{
		loader:    loader,
		sessions:  deps.Sessions,
		guard:     deps.Guard,
		orders:    deps.Orders,
		merchant:  deps.Merchant,
		gateways:  deps.Gateways,
		countries: deps.Countries,
		logger:    logger,
	}, nil
}

func (s *checkoutScriptService) ScriptConfig(ctx context.Context, cmd ScriptConfigCommand) (ScriptConfig, error) {
	merchant := s.merchant.Current(ctx)
	key := strings.TrimSpace(cmd.SessionKey)

	empty := true
	if key != "" {
		snapshot, err := s.sessions.Load(ctx, key)
		switch {
		case err == nil:
			empty = countItems(snapshot.Cart) == 0
		case !errors.Is(err, ErrSessionNotFound):
			return ScriptConfig{}, err
		}
	}

	return ScriptConfig{
		AjaxURL:                 storeLink(merchant.StoreURL, "/wp-admin/admin-ajax.php"),
		Environment:             merchant.Environment(),
		MerchantID:              merchant.MerchantID,
		IsCheckoutPage:          cmd.IsCheckoutPage,
		IsCartEmpty:             empty,
		CartURL:                 storeLink(merchant.StoreURL, merchant.CartPath),
		CheckoutURL:             storeLink(merchant.StoreURL, merchant.CheckoutPath),
		SessionID:               key,
		OverwriteNativeCheckout: merchant.OverwriteNativeCheckout,
		BuyNowEnabled:           merchant.BuyNowEnabled,
		IsInternationalUser:     s.isInternationalUser(ctx, cmd.ClientIP),
		CheckoutFromSideCart:    merchant.CheckoutFromSideCart,
		CheckoutFromCartPage:    merchant.CheckoutFromCartPage,
		ScriptURL:               merchant.ScriptURL(),
		Events:                  append([]string(nil), checkoutClientEvents...),
		CheckoutEnabled:         merchant.CheckoutEnabled,
	}, nil
}

// isInternationalUser reports whether the client IP resolves outside India. Lookup failures count as domestic.
func (s *checkoutScriptService) isInternationalUser(ctx context.Context, ip string) bool {
	ip = strings.TrimSpace(ip)
	if s.countries == nil || ip == "" {
		return false
	}
	country, err := s.countries.CountryForIP(ctx, ip)
	if err != nil {
		s.logger(ctx, "checkout_script.geo_lookup_failed", map[string]any{"error": err.Error()})
		return false
	}
	country = strings.ToUpper(strings.TrimSpace(country))
	return country != "" && country != domesticCountry
}

func (s *checkoutScriptService) CartStatus(ctx context.Context, sessionKey string) (CartStatus, error) {
	snapshot, err := s.sessions.Load(ctx, sessionKey)
	if err != nil {
		return CartStatus{}, err
	}
	count := countItems(snapshot.Cart)
	return CartStatus{SessionKey: snapshot.Key, IsEmpty: count == 0, ItemCount: count}, nil
}

func (s *checkoutScriptService) ClearCart(ctx context.Context, cmd ClearCartCommand) (ClearCartResult, error) {
	snapshot, err := s.sessions.Load(ctx, cmd.SessionKey)
	if err != nil {
		return ClearCartResult{}, err
	}
	if err := s.sessions.WriteField(ctx, snapshot.Key, domain.SessionFieldCart, []domain.SessionCartLine{}); err != nil {
		return ClearCartResult{}, err
	}
	if len(snapshot.AppliedCoupons) > 0 {
		if err := s.sessions.WriteField(ctx, snapshot.Key, domain.SessionFieldAppliedCoupons, []string{}); err != nil {
			return ClearCartResult{}, err
		}
	}
	result := ClearCartResult{Cleared: true}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return result, nil
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return ClearCartResult{}, ErrOrderNotFound
		}
		return ClearCartResult{}, dependencyError(err)
	}
	merchant := s.merchant.Current(ctx)
	result.RedirectURL = storeLink(merchant.StoreURL, strings.TrimRight(merchant.CheckoutPath, "/")+"/order-received/"+url.PathEscape(order.ID)+"/")
	result.OrderNumber = order.DisplayNumber()
	result.PPCOD = order.PPCODAmounts()
	s.logger(ctx, "checkout_script.cart_cleared", map[string]any{
		"sessionKey": snapshot.Key,
		"orderID":    order.ID,
	})
	return result, nil
}

func (s *checkoutScriptService) VisibleGateways(ctx context.Context, sessionKey string) ([]payments.Gateway, error) {
	loaded, err := s.loader.load(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	merchant := loaded.Merchant
	codOK := false
	if merchant.CodGatewayEnabled && !loaded.Cart.Empty() {
		codOK, err = s.guard.IsCodAvailable(ctx, loaded.Cart.CodCart(), merchant.CodRestrictions)
		if err != nil {
			s.logger(ctx, "checkout_script.cod_check_failed", map[string]any{"error": err.Error()})
			codOK = false
		}
	}
	return s.gateways.Visible(ctx, payments.VisibilityContext{
		CheckoutEnabled: merchant.CheckoutEnabled,
		CodAvailable:    codOK,
		CodBlocked:      HasCodBlock(loaded.Cart.SnapshotLines(), merchant.CodBlock, merchant.MerchantID),
	}), nil
}

func countItems(lines []domain.SessionCartLine) int {
	count := 0
	for _, line := range lines {
		if line.Quantity > 0 {
			count += line.Quantity
		}
	}
	return count
}

// storeLink joins the store base URL with a path, tolerating missing or duplicated slashes.
func storeLink(base, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	path = strings.TrimSpace(path)
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
