// Package money holds the fixed-point conventions shared by wallets and
// transactions. All amounts carry exactly Scale fractional digits.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits persisted for every amount.
const Scale int32 = 4

// ErrInvalidAmount is returned for non-positive amounts, amounts finer than
// Scale and amounts or balances above Max.
var ErrInvalidAmount = errors.New("invalid amount")

// Max is the largest value a NUMERIC(18,4) column holds.
var Max = decimal.RequireFromString("99999999999999.9999")

// Parse reads a decimal string and validates it as a positive amount.
func Parse(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return Positive(d)
}

// Positive checks that d is greater than zero and representable at Scale,
// returning it normalised to Scale.
func Positive(d decimal.Decimal) (decimal.Decimal, error) {
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if !d.Equal(d.Truncate(Scale)) {
		return decimal.Zero, fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, Scale)
	}
	if d.GreaterThan(Max) {
		return decimal.Zero, fmt.Errorf("%w: must not exceed %s", ErrInvalidAmount, Format(Max))
	}
	return Normalize(d), nil
}

// CheckBalance rejects a resulting balance that cannot be stored.
func CheckBalance(d decimal.Decimal) error {
	if d.GreaterThan(Max) {
		return fmt.Errorf("%w: balance would exceed %s", ErrInvalidAmount, Format(Max))
	}
	return nil
}

// Normalize rounds d to Scale.
func Normalize(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Format renders d with exactly Scale fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
