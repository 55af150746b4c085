package services

import (
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout/internal/domain"
)

// ComputeFeeAndDiscount evaluates the fee and discount rules of one payment method against base
// (cart subtotal plus shipping). Negative configured values are returned as is.
func ComputeFeeAndDiscount(base decimal.Decimal, rules domain.PaymentRules) domain.PricingResult {
	return domain.PricingResult{
		Fee:      computeAdjustment(base, rules.Fee),
		Discount: computeAdjustment(base, rules.Discount),
	}
}

func computeAdjustment(base decimal.Decimal, rule domain.AdjustmentRule) decimal.Decimal {
	if !rule.Enabled {
		return decimal.Zero
	}
	if !rule.InRange(base) {
		return decimal.Zero
	}
	if rule.Type == domain.AdjustmentPercentage {
		return domain.PercentOf(base, rule.Value)
	}
	return rule.Value
}

// FeeLine is a named cart adjustment produced by the payment fee hook.
type FeeLine struct {
	ID        string
	Name      string
	Amount    decimal.Decimal
	Taxable   bool
	TaxAmount decimal.Decimal
}

// paymentFeeNames maps payment methods to their fee and discount line names.
var paymentFeeNames = map[string][2]string{
	domain.PaymentMethodCOD:     {domain.FeeNameCOD, domain.FeeNameCODDiscount},
	domain.PaymentMethodPrepaid: {domain.FeeNamePrepaid, domain.FeeNamePrepaidDiscount},
}

// IsPaymentAdjustmentFee reports whether name is one of the fee lines owned by the payment hook.
func IsPaymentAdjustmentFee(name string) bool {
	for _, names := range paymentFeeNames {
		if name == names[0] || name == names[1] {
			return true
		}
	}
	return false
}

// FeeLinesFor converts a pricing result into cart fee lines for the chosen payment method.
// Fees are emitted only when positive and discounts as negative lines only when positive.
// Unknown methods produce no lines.
func FeeLinesFor(method string, result domain.PricingResult) []FeeLine {
	names, ok := paymentFeeNames[strings.ToLower(strings.TrimSpace(method))]
	if !ok {
		return nil
	}
	var lines []FeeLine
	if result.Fee.IsPositive() {
		lines = append(lines, FeeLine{
			ID:     feeLineID(names[0]),
			Name:   names[0],
			Amount: domain.RoundMoney(result.Fee),
		})
	}
	if result.Discount.IsPositive() {
		lines = append(lines, FeeLine{
			ID:     feeLineID(names[1]),
			Name:   names[1],
			Amount: domain.RoundMoney(result.Discount).Neg(),
		})
	}
	return lines
}

// ReplacePaymentFees removes stale payment adjustment lines and appends the fresh ones.
func ReplacePaymentFees(existing []FeeLine, fresh []FeeLine) []FeeLine {
	kept := make([]FeeLine, 0, len(existing)+len(fresh))
	for _, line := range existing {
		if IsPaymentAdjustmentFee(line.Name) {
			continue
		}
		kept = append(kept, line)
	}
	return append(kept, fresh...)
}

func feeLineID(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}
