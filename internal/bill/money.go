package bill

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when no currency code is configured.
const DefaultCurrency = money.USD

// Tolerance is the rounding slack allowed when checking receipt invariants.
var Tolerance = decimal.New(1, -2)

// currencyCode normalizes a currency code, falling back to DefaultCurrency.
func currencyCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || money.GetCurrency(code) == nil {
		return DefaultCurrency
	}
	return code
}

// Places returns the number of minor-unit digits for a currency (USD=2, JPY=0).
func Places(code string) int32 {
	return int32(money.GetCurrency(currencyCode(code)).Fraction)
}

// RoundCurrency rounds half-up to the currency's minor unit. Amounts in this
// package are never negative, so half-away-from-zero is half-up.
func RoundCurrency(d decimal.Decimal, code string) decimal.Decimal {
	return d.Round(Places(code))
}

// Display formats an amount the way the currency is usually written, e.g. "$19.50".
func Display(d decimal.Decimal, code string) string {
	code = currencyCode(code)
	minor := RoundCurrency(d, code).Shift(Places(code)).IntPart()
	return money.New(minor, code).Display()
}

// Cents converts a float extracted by a model into a two-place decimal.
func Cents(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}

// within reports whether a and b differ by at most Tolerance.
func within(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}
