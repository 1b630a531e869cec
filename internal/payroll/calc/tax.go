package calc

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

var months = decimal.NewFromInt(12)

// ProgressiveTax returns the monthly withholding on monthlyBase. The base is
// annualized, walked through the ascending brackets, brought back to a month,
// raised to annualMinimum/12, then clamped to capRate x base and to the base
// itself. A non-positive base owes nothing.
func ProgressiveTax(brackets []Bracket, monthlyBase, capRate, annualMinimum decimal.Decimal) decimal.Decimal {
	if !monthlyBase.IsPositive() {
		return decimal.Zero
	}
	annual := monthlyBase.Mul(months)
	tax := decimal.Zero
	lower := decimal.Zero
	for _, b := range sortBrackets(brackets) {
		if annual.LessThanOrEqual(lower) {
			break
		}
		upper := annual
		if !b.Max.IsZero() && b.Max.LessThan(annual) {
			upper = b.Max
		}
		if upper.GreaterThan(lower) {
			tax = tax.Add(upper.Sub(lower).Mul(b.Rate))
		}
		if b.Max.IsZero() {
			break
		}
		lower = b.Max
	}
	monthly := tax.Div(months)
	if floor := annualMinimum.Div(months); monthly.LessThan(floor) {
		monthly = floor
	}
	return capTax(shared.Round2(monthly), monthlyBase, capRate)
}

// capTax clamps tax to capRate x base and to the base, both floored to cents.
func capTax(tax, base, capRate decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	if capRate.IsPositive() {
		tax = decimal.Min(tax, base.Mul(capRate).RoundFloor(2))
	}
	return decimal.Min(tax, base.RoundFloor(2))
}

// sortBrackets orders bands by ascending ceiling with the open-ended band last.
func sortBrackets(in []Bracket) []Bracket {
	out := append([]Bracket(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Max.IsZero() {
			return false
		}
		if out[j].Max.IsZero() {
			return true
		}
		return out[i].Max.LessThan(out[j].Max)
	})
	return out
}
