package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout/internal/domain"
)

// codCatalog is the slice of the catalog needed to expand COD restriction lists.
type codCatalog interface {
	CategoryDescendants(ctx context.Context, categoryIDs []string) ([]string, error)
	ProductVariations(ctx context.Context, productIDs []string) ([]string, error)
}

// CodCartLine is the projection of a cart line used for COD eligibility.
// CategoryIDs are the categories of the line's parent product.
type CodCartLine struct {
	ProductID   string
	VariationID string
	CategoryIDs []string
}

// CodCart is the eligibility view of a live cart. Base is subtotal plus shipping.
type CodCart struct {
	Base  decimal.Decimal
	Lines []CodCartLine
}

// EligibilityGuard decides COD availability and per-shopper coupon usage.
type EligibilityGuard struct {
	catalog codCatalog
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewEligibilityGuard constructs a guard backed by the catalog category tree.
func NewEligibilityGuard(catalog codCatalog, logger func(context.Context, string, map[string]any)) (*EligibilityGuard, error) {
	if catalog == nil {
		return nil, errors.New("eligibility guard: catalog is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &EligibilityGuard{catalog: catalog, logger: logger}, nil
}

// IsCodAvailable evaluates value bounds first and then the configured category/product lists.
func (g *EligibilityGuard) IsCodAvailable(ctx context.Context, cart CodCart, cfg domain.CodRestrictions) (bool, error) {
	if cart.Base.LessThan(cfg.MinCartValue) {
		return false, nil
	}
	if cfg.MaxCartValue != nil && cart.Base.GreaterThan(*cfg.MaxCartValue) {
		return false, nil
	}

	configuredCategories := cleanIDs(cfg.CategoryIDs)
	configuredProducts := cleanIDs(cfg.ProductIDs)
	if len(configuredCategories) == 0 && len(configuredProducts) == 0 {
		return true, nil
	}

	allowedCategories, err := g.expandCategories(ctx, configuredCategories)
	if err != nil {
		return false, err
	}
	allowedProducts, err := g.expandProducts(ctx, configuredProducts)
	if err != nil {
		return false, err
	}

	cartProducts := make(map[string]struct{})
	cartCategories := make(map[string]struct{})
	for _, line := range cart.Lines {
		id := strings.TrimSpace(line.VariationID)
		if id == "" || id == "0" {
			id = strings.TrimSpace(line.ProductID)
		}
		if id != "" {
			cartProducts[id] = struct{}{}
		}
		for _, categoryID := range line.CategoryIDs {
			if categoryID = strings.TrimSpace(categoryID); categoryID != "" {
				cartCategories[categoryID] = struct{}{}
			}
		}
	}

	categoryMatches := countMatches(cartCategories, allowedCategories)
	productMatches := countMatches(cartProducts, allowedProducts)

	if cfg.Mode == domain.CodModeDisable {
		return categoryMatches == 0 && productMatches == 0, nil
	}

	if cfg.RestrictionMode == domain.CodRestrictAll {
		if len(allowedCategories) > 0 && categoryMatches != len(cartCategories) {
			return false, nil
		}
		if len(allowedProducts) > 0 && productMatches != len(cartProducts) {
			return false, nil
		}
		return true, nil
	}
	return categoryMatches > 0 || productMatches > 0, nil
}

func (g *EligibilityGuard) expandCategories(ctx context.Context, ids []string) (map[string]struct{}, error) {
	out := toSet(ids)
	if len(ids) == 0 {
		return out, nil
	}
	descendants, err := g.catalog.CategoryDescendants(ctx, ids)
	if err != nil {
		g.logger(ctx, "eligibility.category_expand_failed", map[string]any{"error": err.Error()})
		return nil, dependencyError(err)
	}
	for _, id := range descendants {
		out[id] = struct{}{}
	}
	return out, nil
}

func (g *EligibilityGuard) expandProducts(ctx context.Context, ids []string) (map[string]struct{}, error) {
	out := toSet(ids)
	if len(ids) == 0 {
		return out, nil
	}
	variations, err := g.catalog.ProductVariations(ctx, ids)
	if err != nil {
		g.logger(ctx, "eligibility.variation_expand_failed", map[string]any{"error": err.Error()})
		return nil, dependencyError(err)
	}
	for _, id := range variations {
		out[id] = struct{}{}
	}
	return out, nil
}

// CheckCouponUsage enforces the email allow-list and the per-user usage limit against every
// email the shopper is known by, so switching emails cannot bypass a limit.
func CheckCouponUsage(coupon domain.Coupon, emails ...string) bool {
	candidates := candidateEmails(emails...)

	if restrictions := cleanIDs(coupon.EmailRestrictions); len(restrictions) > 0 {
		if !anyEmailAllowed(candidates, restrictions) {
			return false
		}
	}

	if coupon.UsageLimitPerUser > 0 {
		for _, email := range candidates {
			if coupon.UsageByEmail(email) >= coupon.UsageLimitPerUser {
				return false
			}
		}
	}
	return true
}

func candidateEmails(emails ...string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, email := range emails {
		normalized := strings.ToLower(strings.TrimSpace(email))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

func anyEmailAllowed(candidates, patterns []string) bool {
	for _, pattern := range patterns {
		matcher := emailPattern(pattern)
		for _, email := range candidates {
			if matcher.MatchString(email) {
				return true
			}
		}
	}
	return false
}

// emailPattern compiles an allow-list entry where "*" matches any run of characters.
func emailPattern(pattern string) *regexp.Regexp {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(pattern)), "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}

// HasCodBlock reports whether any item carries a filled custom text field matching the merchant's
// block rule. Items expose the field payload under the "wcpa_data" key as sections of field rows.
func HasCodBlock(items []domain.SessionCartLine, rule domain.CodBlockRule, merchantID string) bool {
	if !rule.Active(merchantID) {
		return false
	}
	for _, item := range items {
		sections, ok := item.Extra["wcpa_data"].([]any)
		if !ok {
			continue
		}
		for _, rawSection := range sections {
			section, ok := rawSection.(map[string]any)
			if !ok {
				continue
			}
			rows, _ := section["fields"].([]any)
			for _, rawRow := range rows {
				row, _ := rawRow.([]any)
				for _, rawField := range row {
					if blockedField(rawField, rule.ElementPrefix) {
						return true
					}
				}
			}
		}
	}
	return false
}

func blockedField(raw any, prefix string) bool {
	field, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	elementID, _ := field["elementId"].(string)
	if !strings.Contains(elementID, prefix) {
		return false
	}
	switch value := field["value"].(type) {
	case nil:
		return false
	case string:
		return value != "" && value != "0"
	case []any:
		return len(value) > 0
	default:
		return true
	}
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func countMatches(have, allowed map[string]struct{}) int {
	count := 0
	for id := range have {
		if _, ok := allowed[id]; ok {
			count++
		}
	}
	return count
}
