package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout/internal/domain"
)

type stubZones struct {
	zones []domain.ShippingZone
	err   error
}

func (s stubZones) ListZones(context.Context) ([]domain.ShippingZone, error) {
	return s.zones, s.err
}

func testZones() []domain.ShippingZone {
	return []domain.ShippingZone{
		{
			ID:        "rest",
			Name:      "Rest of India",
			Order:     2,
			Countries: []string{"IN"},
			Methods: []domain.ShippingMethod{
				{InstanceID: 4, Kind: domain.ShippingMethodFlatRate, Title: "Standard", Enabled: true, Cost: mustDec("80"), Taxable: true},
			},
		},
		{
			ID:        "mumbai",
			Name:      "Mumbai",
			Order:     1,
			States:    []string{"IN:MH"},
			Postcodes: []string{"400001...400099"},
			Methods: []domain.ShippingMethod{
				{InstanceID: 1, Kind: domain.ShippingMethodFlatRate, Title: "Express", Enabled: true, Cost: mustDec("40")},
				{InstanceID: 2, Kind: domain.ShippingMethodFreeShipping, Title: "Free", Enabled: true, MinAmount: decimal.NewNullDecimal(mustDec("999"))},
				{InstanceID: 3, Kind: domain.ShippingMethodFreeShipping, Title: "Coupon free", Enabled: true, RequiresCoupon: true},
				{InstanceID: 5, Kind: domain.ShippingMethodLocalPickup, Title: "Pickup", Enabled: false},
			},
		},
	}
}

func TestZoneRateCalculatorMatchesPriorityZone(t *testing.T) {
	calc, err := NewZoneRateCalculator(stubZones{zones: testZones()}, mustDec("18"))
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}
	pkg := domain.ShippingPackage{
		ID:           "0",
		Destination:  domain.ShippingDestination{Country: "IN", State: "MH", Postcode: "400050"},
		CartSubtotal: mustDec("1200"),
	}

	rates, err := calc.CalculateRates(context.Background(), pkg)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if len(rates) != 2 {
		t.Fatalf("expected express and free rates, got %+v", rates)
	}
	if rates[0].ID != "flat_rate:1" || !rates[0].Cost.Equal(mustDec("40")) {
		t.Fatalf("unexpected first rate %+v", rates[0])
	}
	if rates[1].ID != "free_shipping:2" || !rates[1].Cost.IsZero() {
		t.Fatalf("unexpected free rate %+v", rates[1])
	}
	if len(rates[0].Taxes) != 0 {
		t.Fatalf("untaxed method should carry no taxes")
	}
}

func TestZoneRateCalculatorFallsBackAndTaxes(t *testing.T) {
	calc, err := NewZoneRateCalculator(stubZones{zones: testZones()}, mustDec("18"))
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}
	pkg := domain.ShippingPackage{
		Destination:  domain.ShippingDestination{Country: "IN", State: "KA", Postcode: "560001"},
		CartSubtotal: mustDec("500"),
	}

	rates, err := calc.CalculateRates(context.Background(), pkg)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if len(rates) != 1 || rates[0].ID != "flat_rate:4" {
		t.Fatalf("expected rest of India rate, got %+v", rates)
	}
	if !rates[0].TaxTotal().Equal(mustDec("14.4")) {
		t.Fatalf("expected 18%% tax of 14.40, got %s", rates[0].TaxTotal())
	}
}

func TestZoneRateCalculatorCouponFreeShipping(t *testing.T) {
	calc, err := NewZoneRateCalculator(stubZones{zones: testZones()}, decimal.Zero)
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}
	pkg := domain.ShippingPackage{
		Destination:        domain.ShippingDestination{Country: "IN", State: "MH", Postcode: "400010"},
		CartSubtotal:       mustDec("100"),
		FreeShippingCoupon: true,
	}
	rates, err := calc.CalculateRates(context.Background(), pkg)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if len(rates) != 2 || rates[1].ID != "free_shipping:3" {
		t.Fatalf("expected express and coupon free rates, got %+v", rates)
	}
}

func TestZoneRateCalculatorNoMatch(t *testing.T) {
	calc, err := NewZoneRateCalculator(stubZones{zones: testZones()}, decimal.Zero)
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}
	rates, err := calc.CalculateRates(context.Background(), domain.ShippingPackage{
		Destination: domain.ShippingDestination{Country: "US", Postcode: "10001"},
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if len(rates) != 0 {
		t.Fatalf("expected no rates, got %+v", rates)
	}
}

func TestPostcodeMatches(t *testing.T) {
	cases := []struct {
		pattern  string
		postcode string
		want     bool
	}{
		{"560001", "560001", true},
		{"5600*", "560034", true},
		{"5600*", "561034", false},
		{"400001...400099", "400099", true},
		{"400001...400099", "400100", false},
		{"400001...400099", "ABC", false},
		{"", "560001", false},
	}
	for _, tc := range cases {
		if got := postcodeMatches(tc.pattern, tc.postcode); got != tc.want {
			t.Fatalf("postcodeMatches(%q, %q) = %v, want %v", tc.pattern, tc.postcode, got, tc.want)
		}
	}
}

func TestShippingCacheKeyChangesWithContents(t *testing.T) {
	pkg := domain.ShippingPackage{
		ID:           "0",
		Contents:     []domain.SessionCartLine{cartLine("k1", "p1", 1)},
		Destination:  domain.ShippingDestination{Country: "IN", Postcode: "560001"},
		CartSubtotal: mustDec("500"),
	}
	first := shippingCacheKey("sess-1", pkg)
	pkg.Contents = []domain.SessionCartLine{cartLine("k1", "p1", 2)}
	if second := shippingCacheKey("sess-1", pkg); second == first {
		t.Fatalf("expected a different key after quantity change")
	}
}
