package register

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// CountTolerance is the largest accepted gap between a manual count and the
// expected balance.
var CountTolerance = decimal.New(1, -2)

// RoundCurrency rounds to cents, halves away from zero.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// WithinTolerance reports whether counted is no more than CountTolerance away
// from expected.
func WithinTolerance(expected, counted decimal.Decimal) bool {
	return !counted.Sub(expected).Abs().GreaterThan(CountTolerance)
}

func validateAmount(field string, amount decimal.Decimal, allowZero bool) error {
	if amount.IsNegative() {
		return fmt.Errorf("register: %s must not be negative: %w", field, shared.ErrValidation)
	}
	if !allowZero && amount.IsZero() {
		return fmt.Errorf("register: %s must be greater than zero: %w", field, shared.ErrValidation)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("register: %s has more than two decimal places: %w", field, shared.ErrValidation)
	}
	return nil
}
