package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	settingPrefix           = "wc_settings_gokwik_"
	defaultMerchantCacheTTL = 30 * time.Second
)

// ApplyMerchantSettings overlays store option values (keyed by their wc_settings_gokwik_* names) on
// base. Keys that are absent leave the base value untouched.
func ApplyMerchantSettings(base domain.MerchantConfig, values map[string]string) domain.MerchantConfig {
	cfg := base
	get := func(name string) (string, bool) {
		value, ok := values[name]
		if !ok {
			value, ok = values[settingPrefix+name]
		}
		return strings.TrimSpace(value), ok
	}
	flag := func(name string, target *bool) {
		if value, ok := get(name); ok {
			*target = isYes(value)
		}
	}
	text := func(name string, target *string) {
		if value, ok := get(name); ok {
			*target = value
		}
	}

	text("section_mid", &cfg.MerchantID)
	flag("section_sandbox_mode", &cfg.SandboxMode)
	flag("section_enable_checkout", &cfg.CheckoutEnabled)
	flag("section_enable_checkout_from_cart_page", &cfg.CheckoutFromCartPage)
	flag("section_enable_checkout_from_side_cart", &cfg.CheckoutFromSideCart)
	flag("section_enable_buy_now_button", &cfg.BuyNowEnabled)
	flag("section_register_after_checkout", &cfg.RegisterAfterCheckout)
	flag("pending_order_flow", &cfg.PendingOrderFlow)
	flag("otp_login_integration", &cfg.OTPLoginIntegration)
	flag("cod_gateway_enabled", &cfg.CodGatewayEnabled)
	flag("wallet_enabled", &cfg.WalletEnabled)
	flag("abandoned_cart_enabled", &cfg.AbandonedCartEnabled)
	flag("woocommerce_prices_include_tax", &cfg.PricesIncludeTax)
	text("store_url", &cfg.StoreURL)
	text("placeholder_image_url", &cfg.PlaceholderImageURL)
	if value, ok := get("section_overwrite_native_checkout_page"); ok {
		cfg.OverwriteNativeCheckout = value == "" || isYes(value)
	}

	cfg.Cod = applyPaymentRules(cfg.Cod, "cod", get)
	cfg.Prepaid = applyPaymentRules(cfg.Prepaid, "prepaid", get)

	if value, ok := get("cod_min_cart_value_enable"); ok {
		cfg.CodRestrictions.MinCartValue = parseSettingAmount(value)
	}
	if value, ok := get("cod_max_cart_value_enable"); ok {
		cfg.CodRestrictions.MaxCartValue = parseOptionalAmount(value)
	}
	if value, ok := get("cod_enable_disable"); ok {
		cfg.CodRestrictions.Mode = domain.CodModeEnable
		if strings.EqualFold(value, string(domain.CodModeDisable)) {
			cfg.CodRestrictions.Mode = domain.CodModeDisable
		}
	}
	if value, ok := get("cod_restriction_mode"); ok {
		cfg.CodRestrictions.RestrictionMode = domain.CodRestrictAny
		if strings.EqualFold(value, string(domain.CodRestrictAll)) {
			cfg.CodRestrictions.RestrictionMode = domain.CodRestrictAll
		}
	}
	if value, ok := get("cod_categories"); ok {
		cfg.CodRestrictions.CategoryIDs = splitSettingList(value)
	}
	if value, ok := get("cod_products"); ok {
		cfg.CodRestrictions.ProductIDs = splitSettingList(value)
	}

	flag("section_show_coupons_list", &cfg.Coupons.Enabled)
	flag("show_user_specific_coupons", &cfg.Coupons.ShowUserSpecific)
	flag("show_valid_coupons_only", &cfg.Coupons.ShowValidCouponsOnly)
	if value, ok := get("selected_coupons"); ok {
		cfg.Coupons.SelectedCouponIDs = splitSettingList(value)
	}

	flag("cod_block_enabled", &cfg.CodBlock.Enabled)
	text("cod_block_merchant_id", &cfg.CodBlock.MerchantID)
	text("cod_block_element_prefix", &cfg.CodBlock.ElementPrefix)
	flag("gst_mirror_enabled", &cfg.GSTMirror.Enabled)
	text("gst_mirror_host_pattern", &cfg.GSTMirror.HostPattern)
	return cfg
}

func applyPaymentRules(rules domain.PaymentRules, method string, get func(string) (string, bool)) domain.PaymentRules {
	apply := func(rule domain.AdjustmentRule, enableKey, valueKey, boundSuffix string) domain.AdjustmentRule {
		if value, ok := get(enableKey); ok {
			rule.Enabled = isYes(value)
		}
		if value, ok := get(valueKey); ok {
			rule.Value = parseSettingAmount(value)
		}
		if value, ok := get(valueKey + "_type"); ok {
			rule.Type = domain.AdjustmentFixed
			if strings.EqualFold(value, string(domain.AdjustmentPercentage)) {
				rule.Type = domain.AdjustmentPercentage
			}
		}
		if value, ok := get(method + "_min_cart_value_" + boundSuffix); ok {
			rule.Min = parseSettingAmount(value)
		}
		if value, ok := get(method + "_max_cart_value_" + boundSuffix); ok {
			rule.Max = parseRuleCeiling(value)
		}
		return rule
	}
	rules.Fee = apply(rules.Fee, "enable_"+method+"_extra_fees", method+"_extra_fees", "fees")
	rules.Discount = apply(rules.Discount, "enable_"+method+"_discount", method+"_discount", "discount")
	return rules
}

func isYes(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "true", "1", "on":
		return true
	default:
		return false
	}
}

func parseSettingAmount(value string) decimal.Decimal {
	amount, err := domain.ParseAmount(value)
	if err != nil {
		return decimal.Zero
	}
	return amount
}

// parseOptionalAmount treats empty and zero values as "no bound".
func parseOptionalAmount(value string) *decimal.Decimal {
	amount, err := domain.ParseAmount(value)
	if err != nil || amount.IsZero() {
		return nil
	}
	return &amount
}

// parseRuleCeiling reads a fee or discount max cart value. Only a blank value is unbounded; "0" is
// a real ceiling and unparsable input reads as 0.
func parseRuleCeiling(value string) *decimal.Decimal {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	amount := parseSettingAmount(value)
	return &amount
}

func splitSettingList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' })
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, field)
		}
	}
	return out
}

// MerchantConfigProvider serves the merchant configuration with runtime overrides from the settings
// store, refreshed at most once per TTL.
type MerchantConfigProvider struct {
	base     domain.MerchantConfig
	settings repositories.MerchantSettingsRepository
	ttl      time.Duration
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)

	group     singleflight.Group
	mu        sync.RWMutex
	current   domain.MerchantConfig
	expiresAt time.Time
	lastErr   error
}

// MerchantConfigProviderDeps wires the provider.
type MerchantConfigProviderDeps struct {
	Base     domain.MerchantConfig
	Settings repositories.MerchantSettingsRepository
	TTL      time.Duration
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewMerchantConfigProvider constructs a provider. Without a settings repository the base
// configuration is served as is.
func NewMerchantConfigProvider(deps MerchantConfigProviderDeps) (*MerchantConfigProvider, error) {
	if strings.TrimSpace(deps.Base.Currency) == "" {
		return nil, errors.New("merchant config: currency is required")
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultMerchantCacheTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &MerchantConfigProvider{
		base:     deps.Base,
		settings: deps.Settings,
		ttl:      ttl,
		now:      clock,
		logger:   logger,
		current:  deps.Base,
	}, nil
}

// Current returns the effective configuration. A failed refresh keeps serving the last known value.
func (p *MerchantConfigProvider) Current(ctx context.Context) domain.MerchantConfig {
	if p.settings == nil {
		return p.base
	}
	p.mu.RLock()
	cfg, fresh := p.current, p.now().Before(p.expiresAt)
	p.mu.RUnlock()
	if fresh {
		return cfg
	}

	result, _, _ := p.group.Do("merchant", func() (any, error) {
		values, err := p.settings.Load(ctx)
		p.mu.Lock()
		defer p.mu.Unlock()
		if err != nil {
			if !isRepoNotFound(err) {
				p.logger(ctx, "merchant_config.refresh_failed", map[string]any{"error": err.Error()})
				p.lastErr = err
				p.expiresAt = p.now().Add(p.ttl / 2)
				return p.current, nil
			}
			values = nil
		}
		p.current = ApplyMerchantSettings(p.base, values)
		p.lastErr = nil
		p.expiresAt = p.now().Add(p.ttl)
		return p.current, nil
	})
	return result.(domain.MerchantConfig)
}

// LastRefreshError reports why the most recent settings refresh failed, or nil.
func (p *MerchantConfigProvider) LastRefreshError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}
