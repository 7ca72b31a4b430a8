// Package money centralizes the rounding rule every monetary value in the
// dispatch core must share: half-to-even to 2 decimal places.
package money

import "github.com/shopspring/decimal"

// Round rounds v to 2 decimal places using banker's rounding, matching
// spec.md's "All monetary values rounded half-to-even to 2 decimal places."
func Round(v decimal.Decimal) decimal.Decimal {
	return v.RoundBank(2)
}

// Eq reports whether a and b are equal once both are rounded to 2 places.
func Eq(a, b decimal.Decimal) bool {
	return Round(a).Equal(Round(b))
}
