package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyINR is the only store currency served by the checkout API.
const CurrencyINR = "INR"

// MoneyScale is the number of fractional digits used when rounding and formatting amounts.
const MoneyScale = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds an amount half away from zero to MoneyScale digits.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyScale)
}

// FormatAmount renders an amount with exactly two fractional digits ("100.00").
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(MoneyScale)
}

// PercentOf returns base * pct / 100 without rounding.
func PercentOf(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

// ParseAmount parses a decimal amount tolerating surrounding whitespace. Empty input yields zero.
func ParseAmount(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(trimmed)
}

// MustAmount parses a literal amount, panicking on malformed input. Intended for constants and tests.
func MustAmount(raw string) decimal.Decimal {
	value, err := ParseAmount(raw)
	if err != nil {
		panic(err)
	}
	return value
}

// CurrencySymbol returns the display symbol for the given ISO currency.
func CurrencySymbol(currency string) string {
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case CurrencyINR:
		return "₹"
	case "USD":
		return "$"
	case "EUR":
		return "€"
	default:
		return strings.ToUpper(strings.TrimSpace(currency))
	}
}
