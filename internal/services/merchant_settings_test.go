package services

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
)

type stubSettings struct {
	mu     sync.Mutex
	values map[string]string
	err    error
	loads  int
}

func (s *stubSettings) Load(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out, nil
}

func TestApplyMerchantSettingsOverlaysValues(t *testing.T) {
	base := testMerchant()
	cfg := ApplyMerchantSettings(base, map[string]string{
		"wc_settings_gokwik_section_mid":               "mid-42",
		"wc_settings_gokwik_section_sandbox_mode":      "yes",
		"wc_settings_gokwik_enable_cod_extra_fees":     "yes",
		"wc_settings_gokwik_cod_extra_fees":            "2",
		"wc_settings_gokwik_cod_extra_fees_type":       "percentage",
		"wc_settings_gokwik_cod_max_cart_value_fees":   "0",
		"wc_settings_gokwik_cod_enable_disable":        "enable",
		"wc_settings_gokwik_cod_restriction_mode":      "all",
		"wc_settings_gokwik_cod_categories":            "12, 14\n15",
		"wc_settings_gokwik_show_valid_coupons_only":   "no",
		"section_overwrite_native_checkout_page":       "",
		"wc_settings_gokwik_cod_min_cart_value_enable": "bogus",
	})

	if cfg.MerchantID != "mid-42" || !cfg.SandboxMode {
		t.Fatalf("expected merchant id and sandbox overlay, got %+v", cfg)
	}
	if cfg.Environment() != "sandbox" {
		t.Fatalf("expected sandbox environment")
	}
	fee := cfg.Cod.Fee
	if !fee.Enabled || fee.Type != domain.AdjustmentPercentage || !fee.Value.Equal(mustDec("2")) {
		t.Fatalf("unexpected cod fee rule %+v", fee)
	}
	if fee.Max == nil || !fee.Max.IsZero() {
		t.Fatalf("a zero fee max is a ceiling of 0, got %v", fee.Max)
	}
	if cfg.CodRestrictions.Mode != domain.CodModeEnable || cfg.CodRestrictions.RestrictionMode != domain.CodRestrictAll {
		t.Fatalf("unexpected cod restrictions %+v", cfg.CodRestrictions)
	}
	if got := cfg.CodRestrictions.CategoryIDs; len(got) != 3 || got[2] != "15" {
		t.Fatalf("unexpected categories %v", got)
	}
	if !cfg.CodRestrictions.MinCartValue.IsZero() {
		t.Fatalf("malformed amount should parse as zero")
	}
	if !cfg.OverwriteNativeCheckout {
		t.Fatalf("empty overwrite flag should enable overwrite")
	}
	if cfg.StoreURL != base.StoreURL || !cfg.CheckoutEnabled {
		t.Fatalf("absent keys must keep base values")
	}
}

func TestApplyMerchantSettingsRuleCeilings(t *testing.T) {
	cfg := ApplyMerchantSettings(testMerchant(), map[string]string{
		"wc_settings_gokwik_enable_prepaid_discount":         "yes",
		"wc_settings_gokwik_prepaid_discount":                "50",
		"wc_settings_gokwik_prepaid_max_cart_value_discount": "",
		"wc_settings_gokwik_enable_cod_extra_fees":           "yes",
		"wc_settings_gokwik_cod_extra_fees":                  "40",
		"wc_settings_gokwik_cod_max_cart_value_fees":         "0",
		"wc_settings_gokwik_cod_max_cart_value_enable":       "0",
	})

	if cfg.Prepaid.Discount.Max != nil {
		t.Fatalf("blank max must be unbounded, got %v", cfg.Prepaid.Discount.Max)
	}
	if cfg.CodRestrictions.MaxCartValue != nil {
		t.Fatalf("zero cod max cart value must be unbounded, got %v", cfg.CodRestrictions.MaxCartValue)
	}

	base := mustDec("500")
	if got := ComputeFeeAndDiscount(base, cfg.Cod); !got.Fee.IsZero() {
		t.Fatalf("fee above a zero ceiling must not apply, got %s", got.Fee)
	}
	if got := ComputeFeeAndDiscount(base, cfg.Prepaid); !got.Discount.Equal(mustDec("50")) {
		t.Fatalf("unbounded discount must apply, got %s", got.Discount)
	}
}

func TestMerchantConfigProviderCachesWithinTTL(t *testing.T) {
	now := testNow
	settings := &stubSettings{values: map[string]string{"section_mid": "mid-1"}}
	provider, err := NewMerchantConfigProvider(MerchantConfigProviderDeps{
		Base:     testMerchant(),
		Settings: settings,
		TTL:      time.Minute,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := context.Background()

	if got := provider.Current(ctx).MerchantID; got != "mid-1" {
		t.Fatalf("expected mid-1, got %s", got)
	}
	settings.mu.Lock()
	settings.values["section_mid"] = "mid-2"
	settings.mu.Unlock()
	if got := provider.Current(ctx).MerchantID; got != "mid-1" {
		t.Fatalf("expected cached mid-1, got %s", got)
	}

	now = now.Add(2 * time.Minute)
	if got := provider.Current(ctx).MerchantID; got != "mid-2" {
		t.Fatalf("expected refreshed mid-2, got %s", got)
	}
	if settings.loads != 2 {
		t.Fatalf("expected two loads, got %d", settings.loads)
	}
}

func TestMerchantConfigProviderKeepsLastValueOnFailure(t *testing.T) {
	now := testNow
	settings := &stubSettings{values: map[string]string{"section_mid": "mid-1"}}
	var events []string
	provider, err := NewMerchantConfigProvider(MerchantConfigProviderDeps{
		Base:     testMerchant(),
		Settings: settings,
		TTL:      time.Minute,
		Clock:    func() time.Time { return now },
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := context.Background()
	provider.Current(ctx)

	settings.err = errUnavailable()
	now = now.Add(2 * time.Minute)
	if got := provider.Current(ctx).MerchantID; got != "mid-1" {
		t.Fatalf("expected last known mid-1, got %s", got)
	}
	if len(events) != 1 || events[0] != "merchant_config.refresh_failed" {
		t.Fatalf("expected refresh failure logged, got %v", events)
	}
}

func TestNewMerchantConfigProviderRequiresCurrency(t *testing.T) {
	if _, err := NewMerchantConfigProvider(MerchantConfigProviderDeps{}); err == nil {
		t.Fatalf("expected error without currency")
	}
}
