package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// ShippingTaxKey is the tax bucket used for shipping and line taxes.
const ShippingTaxKey = "gst"

// ShippingRateCalculator prices a shipping package.
type ShippingRateCalculator interface {
	CalculateRates(ctx context.Context, pkg domain.ShippingPackage) ([]domain.ShippingRate, error)
}

// ShippingRateCache keeps computed package rates between requests of one session.
type ShippingRateCache interface {
	GetRates(ctx context.Context, key string) ([]domain.ShippingRate, bool, error)
	PutRates(ctx context.Context, key string, rates []domain.ShippingRate) error
}

// ZoneRateCalculator matches the package destination against the configured shipping zones.
type ZoneRateCalculator struct {
	zones   repositories.ShippingZoneRepository
	taxRate decimal.Decimal
}

// NewZoneRateCalculator constructs a calculator. taxRate is the percentage applied to taxable methods.
func NewZoneRateCalculator(zones repositories.ShippingZoneRepository, taxRate decimal.Decimal) (*ZoneRateCalculator, error) {
	if zones == nil {
		return nil, errors.New("shipping calculator: zone repository is required")
	}
	return &ZoneRateCalculator{zones: zones, taxRate: taxRate}, nil
}

// CalculateRates returns the rates of the first matching zone, in method order.
func (c *ZoneRateCalculator) CalculateRates(ctx context.Context, pkg domain.ShippingPackage) ([]domain.ShippingRate, error) {
	zones, err := c.zones.ListZones(ctx)
	if err != nil {
		return nil, dependencyError(err)
	}
	sort.SliceStable(zones, func(i, j int) bool { return zones[i].Order < zones[j].Order })

	for _, zone := range zones {
		if !zoneMatches(zone, pkg.Destination) {
			continue
		}
		rates := make([]domain.ShippingRate, 0, len(zone.Methods))
		for _, method := range zone.Methods {
			if rate, ok := c.rateFor(method, pkg); ok {
				rates = append(rates, rate)
			}
		}
		return rates, nil
	}
	return nil, nil
}

func (c *ZoneRateCalculator) rateFor(method domain.ShippingMethod, pkg domain.ShippingPackage) (domain.ShippingRate, bool) {
	if !method.Enabled {
		return domain.ShippingRate{}, false
	}
	cost := method.Cost
	switch method.Kind {
	case domain.ShippingMethodFreeShipping:
		if method.RequiresCoupon && !pkg.FreeShippingCoupon {
			return domain.ShippingRate{}, false
		}
		if method.MinAmount.Valid && pkg.CartSubtotal.LessThan(method.MinAmount.Decimal) {
			return domain.ShippingRate{}, false
		}
		cost = decimal.Zero
	case domain.ShippingMethodFlatRate, domain.ShippingMethodLocalPickup:
	default:
		return domain.ShippingRate{}, false
	}

	taxes := map[string]decimal.Decimal{}
	if method.Taxable && cost.IsPositive() && c.taxRate.IsPositive() {
		taxes[ShippingTaxKey] = domain.RoundMoney(domain.PercentOf(cost, c.taxRate))
	}
	return domain.ShippingRate{
		ID:         method.RateID(),
		MethodID:   string(method.Kind),
		InstanceID: method.InstanceID,
		Label:      method.Title,
		Cost:       domain.RoundMoney(cost),
		Taxes:      taxes,
	}, true
}

func zoneMatches(zone domain.ShippingZone, dest domain.ShippingDestination) bool {
	country := strings.ToUpper(strings.TrimSpace(dest.Country))
	state := strings.ToUpper(strings.TrimSpace(dest.State))

	if len(zone.Countries) > 0 || len(zone.States) > 0 {
		matched := false
		for _, candidate := range zone.Countries {
			if strings.EqualFold(strings.TrimSpace(candidate), country) {
				matched = true
				break
			}
		}
		if !matched {
			for _, candidate := range zone.States {
				if strings.EqualFold(strings.TrimSpace(candidate), country+":"+state) {
					matched = true
					break
				}
			}
		}
		if !matched {
			return false
		}
	}

	if len(zone.Postcodes) == 0 {
		return true
	}
	postcode := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(dest.Postcode), " ", ""))
	for _, pattern := range zone.Postcodes {
		if postcodeMatches(strings.ToUpper(strings.TrimSpace(pattern)), postcode) {
			return true
		}
	}
	return false
}

// postcodeMatches supports exact codes, trailing "*" wildcards and numeric "from...to" ranges.
func postcodeMatches(pattern, postcode string) bool {
	if pattern == "" || postcode == "" {
		return false
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(postcode, prefix)
	}
	if from, to, ok := strings.Cut(pattern, "..."); ok {
		value, err := strconv.Atoi(postcode)
		if err != nil {
			return false
		}
		lo, errLo := strconv.Atoi(strings.TrimSpace(from))
		hi, errHi := strconv.Atoi(strings.TrimSpace(to))
		return errLo == nil && errHi == nil && value >= lo && value <= hi
	}
	return pattern == postcode
}

// packageFingerprint identifies a package by destination, contents and subtotal so cached rates
// are never reused after the cart or address changes.
func packageFingerprint(pkg domain.ShippingPackage) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(pkg.Destination.Country))
	b.WriteByte('|')
	b.WriteString(strings.ToUpper(pkg.Destination.State))
	b.WriteByte('|')
	b.WriteString(pkg.Destination.Postcode)
	b.WriteByte('|')
	b.WriteString(pkg.CartSubtotal.String())
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(pkg.FreeShippingCoupon))
	for _, line := range pkg.Contents {
		b.WriteByte('|')
		b.WriteString(line.EffectiveProductID())
		b.WriteByte('x')
		b.WriteString(strconv.Itoa(line.Quantity))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

// shippingCacheKey scopes cached rates to a session package.
func shippingCacheKey(sessionKey string, pkg domain.ShippingPackage) string {
	return "shipping_for_package_" + pkg.ID + ":" + sessionKey + ":" + packageFingerprint(pkg)
}
