package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// defaultShippingPackage is the id of the single package built per cart.
const defaultShippingPackage = "0"

// FeeHook rewrites the fee lines of a cart after shipping has been calculated.
type FeeHook func(ctx context.Context, cart *CartContext, fees []FeeLine) []FeeLine

// PaymentFeeHook applies the payment-method fee and discount computed by the pricing rules.
func PaymentFeeHook(_ context.Context, cart *CartContext, fees []FeeLine) []FeeLine {
	var fresh []FeeLine
	if rules, ok := cart.Merchant.RulesFor(cart.PaymentMethod); ok {
		fresh = FeeLinesFor(cart.PaymentMethod, ComputeFeeAndDiscount(cart.PricingBase(), rules))
	}
	return ReplacePaymentFees(fees, fresh)
}

// CartEngineDeps wires the dependencies required to hydrate and price carts.
type CartEngineDeps struct {
	Catalog   repositories.CatalogRepository
	Coupons   repositories.CouponRepository
	Shipping  ShippingRateCalculator
	RateCache ShippingRateCache
	TaxRate   decimal.Decimal
	FeeHooks  []FeeHook
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// CartEngine builds live carts from session snapshots.
type CartEngine struct {
	catalog   repositories.CatalogRepository
	coupons   repositories.CouponRepository
	shipping  ShippingRateCalculator
	rateCache ShippingRateCache
	taxRate   decimal.Decimal
	feeHooks  []FeeHook
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewCartEngine validates dependencies. PaymentFeeHook is always installed first.
func NewCartEngine(deps CartEngineDeps) (*CartEngine, error) {
	if deps.Catalog == nil {
		return nil, errors.New("cart engine: catalog repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("cart engine: coupon repository is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("cart engine: shipping calculator is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	hooks := append([]FeeHook{PaymentFeeHook}, deps.FeeHooks...)
	return &CartEngine{
		catalog:   deps.Catalog,
		coupons:   deps.Coupons,
		shipping:  deps.Shipping,
		rateCache: deps.RateCache,
		taxRate:   deps.TaxRate,
		feeHooks:  hooks,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// HydrateInput carries what Hydrate needs besides the engine dependencies.
// SessionAccount is the account identified by a numeric session key, if any.
type HydrateInput struct {
	Snapshot       domain.SessionSnapshot
	Merchant       domain.MerchantConfig
	SessionAccount *domain.Customer
}

// CartLine is a live cart entry with its resolved product.
type CartLine struct {
	domain.SessionCartLine
	Product   domain.Product
	Parent    domain.Product
	UnitPrice decimal.Decimal
	TaxRate   decimal.Decimal
	Resolved  bool
}

// PackageRates holds the rates offered for one shipping package and the selected one.
type PackageRates struct {
	Package   domain.ShippingPackage
	Rates     []domain.ShippingRate
	Chosen    domain.ShippingRate
	HasChosen bool
}

// CartTotals mirrors the totals reported by the storefront cart.
type CartTotals struct {
	Subtotal          decimal.Decimal
	SubtotalTax       decimal.Decimal
	ShippingTotal     decimal.Decimal
	ShippingTax       decimal.Decimal
	ShippingTaxes     map[string]decimal.Decimal
	DiscountTotal     decimal.Decimal
	DiscountTax       decimal.Decimal
	CartContentsTotal decimal.Decimal
	CartContentsTax   decimal.Decimal
	CartContentsTaxes map[string]decimal.Decimal
	FeeTotal          decimal.Decimal
	FeeTax            decimal.Decimal
	FeeTaxes          map[string]decimal.Decimal
	Total             decimal.Decimal
	TotalTax          decimal.Decimal
}

// CartContext is a calculable cart owned by a single request.
type CartContext struct {
	engine *CartEngine

	SessionKey     string
	Merchant       domain.MerchantConfig
	Customer       domain.SessionCustomer
	SessionAccount *domain.Customer
	Lines          []CartLine
	Coupons        []domain.Coupon
	ChosenShipping map[string]string
	PaymentMethod  string
	Packages       []PackageRates
	Fees           []FeeLine
	Totals         CartTotals
	// Recovered is set when the live lines had to be rebuilt from the raw snapshot amounts.
	Recovered bool

	unknownCoupons  []string
	couponDiscounts map[string]decimal.Decimal
}

// Hydrate builds a live cart from the snapshot and runs the shipping, fees and totals recompute.
func (e *CartEngine) Hydrate(ctx context.Context, in HydrateInput) (*CartContext, error) {
	currency := strings.ToUpper(strings.TrimSpace(in.Snapshot.Currency))
	if currency == "" {
		currency = strings.ToUpper(strings.TrimSpace(in.Merchant.Currency))
	}
	if currency != "" && currency != domain.CurrencyINR {
		return nil, ErrUnsupportedCurrency
	}

	cart := &CartContext{
		engine:          e,
		SessionKey:      in.Snapshot.Key,
		Merchant:        in.Merchant,
		Customer:        in.Snapshot.Customer,
		SessionAccount:  in.SessionAccount,
		ChosenShipping:  copyStringMap(in.Snapshot.ChosenShippingMethods),
		PaymentMethod:   strings.TrimSpace(in.Snapshot.ChosenPaymentMethod),
		couponDiscounts: map[string]decimal.Decimal{},
	}

	lines, err := e.resolveLines(ctx, in.Snapshot.Cart)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 && len(in.Snapshot.Cart) > 0 {
		lines = recoverLines(in.Snapshot.Cart)
		cart.Recovered = true
		e.logger(ctx, "cart.recovered_from_snapshot", map[string]any{
			"sessionKey": in.Snapshot.Key,
			"lines":      len(lines),
		})
	}
	cart.Lines = lines

	for _, code := range in.Snapshot.AppliedCoupons {
		coupon, err := e.coupons.FindByCode(ctx, code)
		if err != nil {
			if isRepoNotFound(err) {
				cart.unknownCoupons = append(cart.unknownCoupons, domain.NormalizeCouponCode(code))
				continue
			}
			return nil, dependencyError(err)
		}
		cart.Coupons = append(cart.Coupons, coupon)
	}

	if err := cart.Recalculate(ctx); err != nil {
		return nil, err
	}
	return cart, nil
}

func (e *CartEngine) resolveLines(ctx context.Context, raw []domain.SessionCartLine) ([]CartLine, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(raw)*2)
	for _, line := range raw {
		ids = append(ids, strings.TrimSpace(line.ProductID))
		if line.HasVariation() {
			ids = append(ids, strings.TrimSpace(line.VariationID))
		}
	}
	products, err := e.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, dependencyError(err)
	}

	lines := make([]CartLine, 0, len(raw))
	for _, line := range raw {
		if line.Quantity <= 0 {
			continue
		}
		product, ok := products[line.EffectiveProductID()]
		if !ok || !product.Published {
			e.logger(ctx, "cart.line_dropped", map[string]any{"productID": line.EffectiveProductID()})
			continue
		}
		parent := product
		if line.HasVariation() {
			if p, ok := products[strings.TrimSpace(line.ProductID)]; ok {
				parent = p
			}
		}
		if strings.TrimSpace(line.Key) == "" {
			line.Key = ulid.Make().String()
		}
		taxRate := decimal.Zero
		if product.Taxable {
			taxRate = product.TaxRate
			if taxRate.IsZero() {
				taxRate = e.taxRate
			}
		}
		lines = append(lines, CartLine{
			SessionCartLine: line,
			Product:         product,
			Parent:          parent,
			UnitPrice:       product.Price,
			TaxRate:         taxRate,
			Resolved:        true,
		})
	}
	return lines, nil
}

// recoverLines rebuilds lines from the raw snapshot amounts when no product could be resolved.
func recoverLines(raw []domain.SessionCartLine) []CartLine {
	lines := make([]CartLine, 0, len(raw))
	for _, line := range raw {
		if line.Quantity <= 0 {
			continue
		}
		qty := decimal.NewFromInt(int64(line.Quantity))
		taxRate := decimal.Zero
		if line.LineSubtotal.IsPositive() {
			taxRate = line.LineSubtotalTax.Div(line.LineSubtotal).Mul(decimal.NewFromInt(100)).Round(4)
		}
		product := domain.Product{ID: line.EffectiveProductID(), Published: true}
		if line.HasVariation() {
			product.ParentID = strings.TrimSpace(line.ProductID)
		}
		lines = append(lines, CartLine{
			SessionCartLine: line,
			Product:         product,
			Parent:          product,
			UnitPrice:       line.LineSubtotal.Div(qty),
			TaxRate:         taxRate,
		})
	}
	return lines
}

// Recalculate runs the line, coupon, shipping, fee and totals computation in order.
func (c *CartContext) Recalculate(ctx context.Context) error {
	c.priceLines()
	c.applyCoupons()
	if err := c.calculateShipping(ctx); err != nil {
		return err
	}
	fees := c.Fees
	for _, hook := range c.engine.feeHooks {
		fees = hook(ctx, c, fees)
	}
	c.Fees = fees
	c.calculateTotals()
	return nil
}

func (c *CartContext) priceLines() {
	for i := range c.Lines {
		line := &c.Lines[i]
		gross := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		net, tax := splitTax(gross, line.TaxRate, c.Merchant.PricesIncludeTax)
		line.LineSubtotal = domain.RoundMoney(net)
		line.LineSubtotalTax = domain.RoundMoney(tax)
		line.LineTotal = line.LineSubtotal
		line.LineTax = line.LineSubtotalTax
	}
}

func splitTax(gross, rate decimal.Decimal, inclusive bool) (decimal.Decimal, decimal.Decimal) {
	if !rate.IsPositive() {
		return gross, decimal.Zero
	}
	if inclusive {
		tax := gross.Mul(rate).Div(rate.Add(decimal.NewFromInt(100)))
		return gross.Sub(tax), tax
	}
	return gross, domain.PercentOf(gross, rate)
}

func (c *CartContext) applyCoupons() {
	c.couponDiscounts = make(map[string]decimal.Decimal, len(c.Coupons))
	for _, coupon := range c.Coupons {
		eligible := c.eligibleLines(coupon)
		discount := decimal.Zero
		switch coupon.DiscountType {
		case domain.CouponPercent, domain.CouponFixedProduct:
			itemsLeft := coupon.LimitUsageToXItems
			for _, idx := range eligible {
				line := &c.Lines[idx]
				qty := line.Quantity
				if coupon.LimitUsageToXItems > 0 {
					if itemsLeft <= 0 {
						break
					}
					qty = min(qty, itemsLeft)
					itemsLeft -= qty
				}
				var amount decimal.Decimal
				if coupon.DiscountType == domain.CouponPercent {
					share := line.LineSubtotal.Mul(decimal.NewFromInt(int64(qty))).Div(decimal.NewFromInt(int64(line.Quantity)))
					amount = domain.RoundMoney(domain.PercentOf(share, coupon.Amount))
				} else {
					amount = coupon.Amount.Mul(decimal.NewFromInt(int64(qty)))
				}
				discount = discount.Add(c.discountLine(line, amount))
			}
		case domain.CouponFixedCart:
			discount = c.spreadCartDiscount(eligible, coupon.Amount)
		}
		c.couponDiscounts[domain.NormalizeCouponCode(coupon.Code)] = discount
	}
	for i := range c.Lines {
		line := &c.Lines[i]
		if line.LineTotal.Equal(line.LineSubtotal) {
			continue
		}
		_, tax := splitTax(line.LineTotal, line.TaxRate, false)
		line.LineTax = domain.RoundMoney(tax)
	}
}

// discountLine reduces the line total by at most its remaining value and returns the applied amount.
func (c *CartContext) discountLine(line *CartLine, amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	if amount.GreaterThan(line.LineTotal) {
		amount = line.LineTotal
	}
	line.LineTotal = line.LineTotal.Sub(amount)
	return amount
}

// spreadCartDiscount distributes a fixed cart amount across eligible lines proportionally to their
// remaining totals; the last line absorbs rounding.
func (c *CartContext) spreadCartDiscount(eligible []int, amount decimal.Decimal) decimal.Decimal {
	remaining := decimal.Zero
	for _, idx := range eligible {
		remaining = remaining.Add(c.Lines[idx].LineTotal)
	}
	if !remaining.IsPositive() || !amount.IsPositive() {
		return decimal.Zero
	}
	if amount.GreaterThan(remaining) {
		amount = remaining
	}
	applied := decimal.Zero
	for i, idx := range eligible {
		line := &c.Lines[idx]
		share := domain.RoundMoney(amount.Mul(line.LineTotal).Div(remaining))
		if i == len(eligible)-1 {
			share = amount.Sub(applied)
		}
		applied = applied.Add(c.discountLine(line, share))
	}
	return applied
}

func (c *CartContext) eligibleLines(coupon domain.Coupon) []int {
	var out []int
	for i, line := range c.Lines {
		if couponCoversLine(coupon, line) {
			out = append(out, i)
		}
	}
	return out
}

func couponCoversLine(coupon domain.Coupon, line CartLine) bool {
	ids := []string{strings.TrimSpace(line.ProductID)}
	if line.HasVariation() {
		ids = append(ids, strings.TrimSpace(line.VariationID))
	}
	categories := line.Parent.CategoryIDs

	if containsAny(coupon.ExcludedProductIDs, ids) || containsAny(coupon.ExcludedCategoryIDs, categories) {
		return false
	}
	if coupon.ExcludeSaleItems && onSale(line.Product) {
		return false
	}
	if !coupon.HasProductRestrictions() {
		return true
	}
	return containsAny(coupon.ProductIDs, ids) || containsAny(coupon.CategoryIDs, categories)
}

func onSale(product domain.Product) bool {
	return product.SalePrice.Valid && product.SalePrice.Decimal.LessThan(product.RegularPrice)
}

func (c *CartContext) calculateShipping(ctx context.Context) error {
	c.Packages = nil
	if len(c.Lines) == 0 {
		return nil
	}
	pkg := domain.ShippingPackage{
		ID:                 defaultShippingPackage,
		Contents:           c.SnapshotLines(),
		Destination:        c.destination(),
		CartSubtotal:       c.displayedSubtotal(),
		FreeShippingCoupon: c.hasFreeShippingCoupon(),
	}

	rates, err := c.packageRates(ctx, pkg)
	if err != nil {
		return err
	}
	result := PackageRates{Package: pkg, Rates: rates}
	chosenID := strings.TrimSpace(c.ChosenShipping[pkg.ID])
	for _, rate := range rates {
		if rate.ID == chosenID {
			result.Chosen, result.HasChosen = rate, true
			break
		}
	}
	if !result.HasChosen && len(rates) > 0 {
		result.Chosen, result.HasChosen = rates[0], true
	}
	c.Packages = []PackageRates{result}
	return nil
}

func (c *CartContext) packageRates(ctx context.Context, pkg domain.ShippingPackage) ([]domain.ShippingRate, error) {
	e := c.engine
	cacheKey := shippingCacheKey(c.SessionKey, pkg)
	if e.rateCache != nil {
		rates, ok, err := e.rateCache.GetRates(ctx, cacheKey)
		if err != nil {
			e.logger(ctx, "cart.rate_cache_read_failed", map[string]any{"error": err.Error()})
		} else if ok && len(rates) > 0 {
			return rates, nil
		}
	}
	rates, err := e.shipping.CalculateRates(ctx, pkg)
	if err != nil {
		return nil, dependencyError(err)
	}
	if e.rateCache != nil && len(rates) > 0 {
		if err := e.rateCache.PutRates(ctx, cacheKey, rates); err != nil {
			e.logger(ctx, "cart.rate_cache_write_failed", map[string]any{"error": err.Error()})
		}
	}
	return rates, nil
}

// destination resolves the shipping destination; a session account's stored shipping address wins
// over the transient session customer.
func (c *CartContext) destination() domain.ShippingDestination {
	dest := domain.ShippingDestination{
		Country:  strings.TrimSpace(c.Customer.Country),
		State:    strings.TrimSpace(c.Customer.State),
		Postcode: strings.TrimSpace(c.Customer.Postcode),
	}
	if c.SessionAccount != nil {
		stored := c.SessionAccount.ShippingDestination()
		if stored.Country != "" || stored.Postcode != "" {
			dest = stored
		}
	}
	if dest.Country == "" {
		dest.Country = "IN"
	}
	return dest
}

func (c *CartContext) hasFreeShippingCoupon() bool {
	for _, coupon := range c.Coupons {
		if coupon.FreeShipping {
			return true
		}
	}
	return false
}

func (c *CartContext) displayedSubtotal() decimal.Decimal {
	subtotal := decimal.Zero
	for _, line := range c.Lines {
		subtotal = subtotal.Add(line.LineSubtotal)
		if c.Merchant.PricesIncludeTax {
			subtotal = subtotal.Add(line.LineSubtotalTax)
		}
	}
	return subtotal
}

func (c *CartContext) calculateTotals() {
	t := CartTotals{
		Subtotal:          decimal.Zero,
		SubtotalTax:       decimal.Zero,
		ShippingTotal:     decimal.Zero,
		ShippingTax:       decimal.Zero,
		ShippingTaxes:     map[string]decimal.Decimal{},
		DiscountTotal:     decimal.Zero,
		DiscountTax:       decimal.Zero,
		CartContentsTotal: decimal.Zero,
		CartContentsTax:   decimal.Zero,
		CartContentsTaxes: map[string]decimal.Decimal{},
		FeeTotal:          decimal.Zero,
		FeeTax:            decimal.Zero,
		FeeTaxes:          map[string]decimal.Decimal{},
	}
	for _, line := range c.Lines {
		t.Subtotal = t.Subtotal.Add(line.LineSubtotal)
		t.SubtotalTax = t.SubtotalTax.Add(line.LineSubtotalTax)
		t.CartContentsTotal = t.CartContentsTotal.Add(line.LineTotal)
		t.CartContentsTax = t.CartContentsTax.Add(line.LineTax)
		if line.LineTax.IsPositive() {
			t.CartContentsTaxes[ShippingTaxKey] = t.CartContentsTaxes[ShippingTaxKey].Add(line.LineTax)
		}
	}
	t.DiscountTotal = t.Subtotal.Sub(t.CartContentsTotal)
	t.DiscountTax = t.SubtotalTax.Sub(t.CartContentsTax)

	for _, pkg := range c.Packages {
		if !pkg.HasChosen {
			continue
		}
		t.ShippingTotal = t.ShippingTotal.Add(pkg.Chosen.Cost)
		for key, amount := range pkg.Chosen.Taxes {
			t.ShippingTaxes[key] = t.ShippingTaxes[key].Add(amount)
			t.ShippingTax = t.ShippingTax.Add(amount)
		}
	}

	for _, fee := range c.Fees {
		t.FeeTotal = t.FeeTotal.Add(fee.Amount)
		if fee.Taxable && fee.TaxAmount.IsPositive() {
			t.FeeTax = t.FeeTax.Add(fee.TaxAmount)
			t.FeeTaxes[ShippingTaxKey] = t.FeeTaxes[ShippingTaxKey].Add(fee.TaxAmount)
		}
	}

	t.TotalTax = t.CartContentsTax.Add(t.ShippingTax).Add(t.FeeTax)
	total := t.CartContentsTotal.Add(t.ShippingTotal).Add(t.FeeTotal).Add(t.TotalTax)
	if total.IsNegative() {
		total = decimal.Zero
	}
	t.Total = domain.RoundMoney(total)
	c.Totals = t
}

// Empty reports whether the live cart has no lines.
func (c *CartContext) Empty() bool { return len(c.Lines) == 0 }

// Subtotal returns the cart subtotal excluding tax.
func (c *CartContext) Subtotal() decimal.Decimal { return c.Totals.Subtotal }

// ShippingTotal returns the cost of the chosen shipping rates.
func (c *CartContext) ShippingTotal() decimal.Decimal { return c.Totals.ShippingTotal }

// Total returns the payable cart total.
func (c *CartContext) Total() decimal.Decimal { return c.Totals.Total }

// PricingBase is the amount payment fee and COD rules are evaluated against.
func (c *CartContext) PricingBase() decimal.Decimal {
	subtotal := decimal.Zero
	for _, line := range c.Lines {
		subtotal = subtotal.Add(line.LineSubtotal)
	}
	shipping := decimal.Zero
	for _, pkg := range c.Packages {
		if pkg.HasChosen {
			shipping = shipping.Add(pkg.Chosen.Cost)
		}
	}
	return subtotal.Add(shipping)
}

// CodCart projects the cart for COD eligibility checks.
func (c *CartContext) CodCart() CodCart {
	out := CodCart{Base: c.PricingBase(), Lines: make([]CodCartLine, 0, len(c.Lines))}
	for _, line := range c.Lines {
		out.Lines = append(out.Lines, CodCartLine{
			ProductID:   line.ProductID,
			VariationID: line.VariationID,
			CategoryIDs: line.Parent.CategoryIDs,
		})
	}
	return out
}

// SnapshotLines returns the live lines in their persisted form with current amounts.
func (c *CartContext) SnapshotLines() []domain.SessionCartLine {
	out := make([]domain.SessionCartLine, 0, len(c.Lines))
	for _, line := range c.Lines {
		out = append(out, line.SessionCartLine)
	}
	return out
}

// AppliedCouponCodes lists the codes currently applied to the live cart.
func (c *CartContext) AppliedCouponCodes() []string {
	out := make([]string, 0, len(c.Coupons))
	for _, coupon := range c.Coupons {
		out = append(out, domain.NormalizeCouponCode(coupon.Code))
	}
	return out
}

// HasCoupon reports whether code is applied to the live cart.
func (c *CartContext) HasCoupon(code string) bool {
	code = domain.NormalizeCouponCode(code)
	for _, coupon := range c.Coupons {
		if domain.NormalizeCouponCode(coupon.Code) == code {
			return true
		}
	}
	return false
}

// CouponDiscount returns the amount the coupon currently takes off the cart.
func (c *CartContext) CouponDiscount(code string) decimal.Decimal {
	return c.couponDiscounts[domain.NormalizeCouponCode(code)]
}

// ValidateCoupon applies the store validity rules for coupon against this cart.
func (c *CartContext) ValidateCoupon(coupon domain.Coupon) error {
	code := domain.NormalizeCouponCode(coupon.Code)
	if coupon.Status != "" && coupon.Status != domain.CouponStatusPublished {
		return ErrCouponInvalid
	}
	if !coupon.DiscountType.Valid() {
		return ErrCouponInvalid
	}
	if coupon.Expired(c.engine.now()) {
		return ErrCouponInvalid.WithMessage("This coupon has expired.")
	}
	if coupon.UsageLimit > 0 && coupon.UsageCount >= coupon.UsageLimit {
		return ErrCouponInvalid.WithMessage("Coupon usage limit has been reached.")
	}
	subtotal := c.displayedSubtotal()
	if coupon.MinimumAmount.Valid && coupon.MinimumAmount.Decimal.IsPositive() && subtotal.LessThan(coupon.MinimumAmount.Decimal) {
		return ErrCouponInvalid.WithMessage(fmt.Sprintf("The minimum spend for this coupon is %s.", domain.FormatAmount(coupon.MinimumAmount.Decimal)))
	}
	if coupon.MaximumAmount.Valid && coupon.MaximumAmount.Decimal.IsPositive() && subtotal.GreaterThan(coupon.MaximumAmount.Decimal) {
		return ErrCouponInvalid.WithMessage(fmt.Sprintf("The maximum spend for this coupon is %s.", domain.FormatAmount(coupon.MaximumAmount.Decimal)))
	}
	if len(c.eligibleLines(coupon)) == 0 {
		return ErrCouponInvalid.WithMessage("Sorry, this coupon is not applicable to your cart contents.")
	}
	for _, applied := range c.Coupons {
		if domain.NormalizeCouponCode(applied.Code) != code && applied.IndividualUse {
			return ErrCouponInvalid.WithMessage(fmt.Sprintf("Sorry, coupon %q has already been applied and cannot be used in conjunction with other coupons.", applied.Code))
		}
	}
	return nil
}

// ApplyCoupon validates and applies coupon, then recalculates. Applying an applied coupon is a no-op.
// An individual-use coupon replaces every other applied coupon.
func (c *CartContext) ApplyCoupon(ctx context.Context, coupon domain.Coupon) error {
	if c.HasCoupon(coupon.Code) {
		return nil
	}
	if err := c.ValidateCoupon(coupon); err != nil {
		return err
	}
	if coupon.IndividualUse {
		c.Coupons = nil
	}
	c.Coupons = append(c.Coupons, coupon)
	return c.Recalculate(ctx)
}

// RemoveCoupon drops code from the live cart and recalculates. It reports whether a coupon was removed.
func (c *CartContext) RemoveCoupon(ctx context.Context, code string) (bool, error) {
	code = domain.NormalizeCouponCode(code)
	kept := c.Coupons[:0]
	removed := false
	for _, coupon := range c.Coupons {
		if domain.NormalizeCouponCode(coupon.Code) == code {
			removed = true
			continue
		}
		kept = append(kept, coupon)
	}
	c.Coupons = kept
	if !removed {
		return false, nil
	}
	return true, c.Recalculate(ctx)
}

// ReconcileCoupons re-validates every applied coupon, drops the invalid ones and recalculates.
// The usage check only runs when a customer email is known. Removed codes are returned, including
// codes that no longer exist.
func (c *CartContext) ReconcileCoupons(ctx context.Context, customerEmail, accountEmail string) ([]string, error) {
	removed := append([]string(nil), c.unknownCoupons...)
	c.unknownCoupons = nil

	kept := make([]domain.Coupon, 0, len(c.Coupons))
	for _, coupon := range c.Coupons {
		valid := c.ValidateCoupon(coupon) == nil
		if valid && strings.TrimSpace(customerEmail) != "" {
			valid = CheckCouponUsage(coupon, customerEmail, accountEmail)
		}
		if !valid {
			removed = append(removed, domain.NormalizeCouponCode(coupon.Code))
			continue
		}
		kept = append(kept, coupon)
	}
	if len(kept) == len(c.Coupons) && len(removed) == 0 {
		return nil, nil
	}
	c.Coupons = kept
	if err := c.Recalculate(ctx); err != nil {
		return removed, err
	}
	return removed, nil
}

// ChosenShippingRates returns the selected rate id per package.
func (c *CartContext) ChosenShippingRates() map[string]string {
	out := make(map[string]string, len(c.Packages))
	for _, pkg := range c.Packages {
		if pkg.HasChosen {
			out[pkg.Package.ID] = pkg.Chosen.ID
		}
	}
	return out
}

// ShippingMethods lists every offered rate. method_id carries the composite rate id and rate_id the
// method id, which is the field layout the hosted checkout reads.
func (c *CartContext) ShippingMethods() []map[string]any {
	out := make([]map[string]any, 0)
	for _, pkg := range c.Packages {
		for _, rate := range pkg.Rates {
			taxes := make(map[string]string, len(rate.Taxes))
			for key, amount := range rate.Taxes {
				taxes[key] = domain.FormatAmount(amount)
			}
			out = append(out, map[string]any{
				"method_id":   rate.ID,
				"rate_id":     rate.MethodID,
				"instance_id": rate.InstanceID,
				"method_name": rate.Label,
				"charge":      domain.FormatAmount(rate.Cost),
				"tax_cost":    domain.FormatAmount(rate.TaxTotal()),
				"taxes":       taxes,
			})
		}
	}
	return out
}

// TotalsMap renders the totals with two decimal amounts.
func (c *CartContext) TotalsMap() map[string]any {
	t := c.Totals
	return map[string]any{
		"subtotal":            domain.FormatAmount(t.Subtotal),
		"subtotal_tax":        domain.FormatAmount(t.SubtotalTax),
		"shipping_total":      domain.FormatAmount(t.ShippingTotal),
		"shipping_tax":        domain.FormatAmount(t.ShippingTax),
		"shipping_taxes":      formatAmountMap(t.ShippingTaxes),
		"discount_total":      domain.FormatAmount(t.DiscountTotal),
		"discount_tax":        domain.FormatAmount(t.DiscountTax),
		"cart_contents_total": domain.FormatAmount(t.CartContentsTotal),
		"cart_contents_tax":   domain.FormatAmount(t.CartContentsTax),
		"cart_contents_taxes": formatAmountMap(t.CartContentsTaxes),
		"fee_total":           domain.FormatAmount(t.FeeTotal),
		"fee_tax":             domain.FormatAmount(t.FeeTax),
		"fee_taxes":           formatAmountMap(t.FeeTaxes),
		"total":               domain.FormatAmount(t.Total),
		"total_tax":           domain.FormatAmount(t.TotalTax),
	}
}

// strippedLineKeys are bookkeeping fields never returned to the hosted checkout.
var strippedLineKeys = map[string]struct{}{
	"data_hash":     {},
	"variation":     {},
	"line_tax_data": {},
}

// SerializeLineItems renders the cart lines with their product data for the hosted checkout.
func (c *CartContext) SerializeLineItems() []map[string]any {
	symbol := domain.CurrencySymbol(c.Merchant.Currency)
	out := make([]map[string]any, 0, len(c.Lines))
	for _, line := range c.Lines {
		item := make(map[string]any, len(line.Extra)+10)
		for key, value := range line.Extra {
			if _, skip := strippedLineKeys[key]; skip {
				continue
			}
			item[key] = value
		}
		variationID := "0"
		if line.HasVariation() {
			variationID = strings.TrimSpace(line.VariationID)
		}
		item["key"] = line.Key
		item["product_id"] = strings.TrimSpace(line.ProductID)
		item["variation_id"] = variationID
		item["quantity"] = line.Quantity
		item["line_subtotal"] = domain.FormatAmount(line.LineSubtotal)
		item["line_subtotal_tax"] = domain.FormatAmount(line.LineSubtotalTax)
		item["line_total"] = domain.FormatAmount(line.LineTotal)
		item["line_tax"] = domain.FormatAmount(line.LineTax)
		item["product_data"] = c.productData(line)
		item["currency"] = symbol
		out = append(out, item)
	}
	return out
}

func (c *CartContext) productData(line CartLine) map[string]any {
	product := line.Product
	price := domain.FormatAmount(product.Price)
	if _, free := line.Extra["_bogof_free_item"]; free {
		price = domain.FormatAmount(line.LineSubtotal)
	}
	salePrice := ""
	if product.SalePrice.Valid {
		salePrice = domain.FormatAmount(product.SalePrice.Decimal)
	}
	data := map[string]any{
		"id":            product.ID,
		"name":          product.Name,
		"slug":          product.Slug,
		"sku":           product.SKU,
		"price":         price,
		"regular_price": domain.FormatAmount(product.RegularPrice),
		"sale_price":    salePrice,
		"images":        productImages(product, c.Merchant.PlaceholderImageURL),
	}
	if product.IsVariation() {
		data["id"] = product.ParentID
		data["variation_id"] = strings.TrimSpace(line.VariationID)
	}
	return data
}

// productImages lists the featured image followed by the gallery, or a single placeholder.
func productImages(product domain.Product, placeholder string) []map[string]any {
	images := make([]domain.ProductImage, 0, len(product.Gallery)+1)
	if product.Image != nil && product.Image.Src != "" {
		images = append(images, *product.Image)
	}
	for _, image := range product.Gallery {
		if image.Src != "" {
			images = append(images, image)
		}
	}
	if len(images) == 0 {
		images = append(images, domain.PlaceholderImage(placeholder))
	}
	out := make([]map[string]any, 0, len(images))
	for _, image := range images {
		out = append(out, map[string]any{
			"id":   image.ID,
			"src":  image.Src,
			"name": image.Name,
			"alt":  image.Alt,
		})
	}
	return out
}

func formatAmountMap(values map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(values))
	for key, amount := range values {
		out[key] = domain.FormatAmount(amount)
	}
	return out
}

func containsAny(haystack, needles []string) bool {
	if len(haystack) == 0 || len(needles) == 0 {
		return false
	}
	for _, h := range haystack {
		h = strings.TrimSpace(h)
		for _, n := range needles {
			if h != "" && h == strings.TrimSpace(n) {
				return true
			}
		}
	}
	return false
}

func copyStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
