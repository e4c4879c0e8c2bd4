package rules

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PctDiff returns |a-b|/b as a percentage. A zero base yields 0 so the
// caller's threshold predicate simply fails to fire.
func PctDiff(a, b decimal.Decimal) float64 {
	if b.IsZero() {
		return 0
	}
	d, _ := a.Sub(b).Abs().Div(b).Float64()
	return d * 100
}

// PctChange returns (a-b)/b as a signed percentage, 0 when the base is zero.
func PctChange(a, b decimal.Decimal) float64 {
	if b.IsZero() {
		return 0
	}
	d, _ := a.Sub(b).Div(b).Float64()
	return d * 100
}

// PairKey builds the canonical entity key for an unordered account pair.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// EntityKey joins key parts with the engine's entity separator.
func EntityKey(parts ...string) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += "|"
		}
		key += p
	}
	return key
}

// Float rounds a decimal to float64 for evidence maps.
func Float(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// Describe renders a one-line alert description.
func Describe(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
