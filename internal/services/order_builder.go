package services

import (
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout/internal/domain"
)

// checkoutCreatedVia is recorded as the creation channel of orders built by the API.
const checkoutCreatedVia = "checkout"

// applyCartToOrder replaces the order lines with the live cart contents and recomputes totals.
func applyCartToOrder(order *domain.Order, cart *CartContext) {
	order.Currency = domain.CurrencyINR
	order.PricesIncludeTax = cart.Merchant.PricesIncludeTax

	order.LineItems = make([]domain.OrderLineItem, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		var meta map[string]any
		if len(line.Variation) > 0 {
			meta = make(map[string]any, len(line.Variation))
			for key, value := range line.Variation {
				meta[key] = value
			}
		}
		variationID := ""
		if line.HasVariation() {
			variationID = strings.TrimSpace(line.VariationID)
		}
		order.LineItems = append(order.LineItems, domain.OrderLineItem{
			ID:          line.Key,
			ProductID:   strings.TrimSpace(line.ProductID),
			VariationID: variationID,
			Name:        line.Product.Name,
			SKU:         line.Product.SKU,
			Quantity:    line.Quantity,
			Subtotal:    line.LineSubtotal,
			SubtotalTax: line.LineSubtotalTax,
			Total:       line.LineTotal,
			TotalTax:    line.LineTax,
			Meta:        meta,
		})
	}

	order.ShippingLines = nil
	for _, pkg := range cart.Packages {
		if !pkg.HasChosen {
			continue
		}
		order.ShippingLines = append(order.ShippingLines, domain.OrderShippingLine{
			ID:         pkg.Chosen.ID,
			MethodID:   pkg.Chosen.MethodID,
			InstanceID: pkg.Chosen.InstanceID,
			Title:      pkg.Chosen.Label,
			Total:      pkg.Chosen.Cost,
			TotalTax:   pkg.Chosen.TaxTotal(),
		})
	}

	order.FeeLines = make([]domain.OrderFeeLine, 0, len(cart.Fees))
	for _, fee := range cart.Fees {
		status := domain.FeeTaxNone
		tax := decimal.Zero
		if fee.Taxable {
			status = domain.FeeTaxable
			tax = fee.TaxAmount
		}
		order.FeeLines = append(order.FeeLines, domain.OrderFeeLine{
			ID:        fee.ID,
			Name:      fee.Name,
			Total:     fee.Amount,
			TotalTax:  tax,
			TaxStatus: status,
		})
	}

	order.CouponLines = make([]domain.OrderCouponLine, 0, len(cart.Coupons))
	for _, code := range cart.AppliedCouponCodes() {
		order.CouponLines = append(order.CouponLines, domain.OrderCouponLine{
			Code:     code,
			Discount: cart.CouponDiscount(code),
		})
	}

	order.RecalculateTotals()
}

// addressesFromSession maps the session customer onto billing and shipping addresses.
func addressesFromSession(customer domain.SessionCustomer) (domain.OrderAddress, domain.OrderAddress) {
	billing := domain.OrderAddress{
		FirstName: customer.FirstName,
		LastName:  customer.LastName,
		Company:   customer.Company,
		Address1:  customer.Address1,
		Address2:  customer.Address2,
		City:      customer.City,
		State:     customer.State,
		Postcode:  customer.Postcode,
		Country:   customer.Country,
		Email:     customer.Email,
		Phone:     customer.Phone,
	}
	shipping := domain.OrderAddress{
		FirstName: customer.ShippingFirstName,
		LastName:  customer.ShippingLastName,
		Company:   customer.ShippingCompany,
		Address1:  customer.ShippingAddress1,
		Address2:  customer.ShippingAddress2,
		City:      customer.ShippingCity,
		State:     customer.ShippingState,
		Postcode:  customer.ShippingPostcode,
		Country:   customer.ShippingCountry,
		Phone:     customer.ShippingPhone,
	}
	return billing, shipping
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
