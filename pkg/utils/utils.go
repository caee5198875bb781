// Package utils provides small utility helpers shared across the engine.
package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MinDecimal returns the smaller of two decimals.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// ClampInt clamps value to [min, max].
func ClampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// NormalizeSymbol upper-cases and trims a symbol, treating it as an opaque identifier.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
