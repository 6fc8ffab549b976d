package math

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal coin string ("1.5") into base units.
// Precision beyond AmountConfig is rejected rather than rounded.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", s)
	}

	units := d.Shift(int32(AmountConfig.DecimalPrecision))
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, AmountConfig.DecimalPrecision)
	}
	if !units.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %q overflows", s)
	}
	return units.IntPart(), nil
}

// FormatAmount renders base units as a coin string without trailing zeros.
func FormatAmount(units int64) string {
	return decimal.New(units, -int32(AmountConfig.DecimalPrecision)).String()
}

// Coins converts whole coins to base units.
func Coins(n int64) int64 {
	return n * AmountConfig.Scale
}
