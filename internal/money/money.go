// Package money holds the rounding rules applied to every monetary value the
// engine returns. Amounts are quantized to 2 decimal places.
package money

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// places is the number of decimal places all returned amounts carry.
const places = 2

// Rounding selects how half-way values are resolved during quantization.
type Rounding string

const (
	// HalfUp rounds half-way values away from zero (5.005 -> 5.01).
	HalfUp Rounding = "half_up"
	// HalfEven rounds half-way values to the nearest even digit (banker's rounding).
	HalfEven Rounding = "half_even"
)

// ParseRounding validates a configured rounding mode string.
func ParseRounding(s string) (Rounding, error) {
	switch Rounding(s) {
	case HalfUp, HalfEven:
		return Rounding(s), nil
	default:
		return "", errors.Errorf("unknown rounding mode: %q", s)
	}
}

// Quantize rounds d to 2 decimal places using the selected mode.
func (r Rounding) Quantize(d decimal.Decimal) decimal.Decimal {
	if r == HalfEven {
		return d.RoundBank(places)
	}
	return d.Round(places)
}

// FloorAtZero clamps negative amounts to zero.
func FloorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
