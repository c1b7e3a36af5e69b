package pricing

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrAmountPrecision is returned when a decimal amount carries more than two fractional digits.
var ErrAmountPrecision = errors.New("pricing: amount has more than two decimal places")

// ErrAmountRange is returned when a decimal amount does not fit in Money.
var ErrAmountRange = errors.New("pricing: amount out of range")

var (
	minMinor = decimal.NewFromInt(math.MinInt64)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
)

// Amount is a Money value that travels over JSON as a two-decimal number (75.00).
type Amount Money

// Money returns the amount in minor units.
func (a Amount) Money() Money { return Money(a) }

// Decimal converts the amount to its major-unit decimal representation.
func (a Amount) Decimal() decimal.Decimal { return ToDecimal(Money(a)) }

// String renders the amount with exactly two fractional digits.
func (a Amount) String() string { return a.Decimal().StringFixed(2) }

// MarshalJSON writes the amount as an unquoted decimal number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if bytes.Equal(raw, []byte("null")) {
		*a = 0
		return nil
	}
	m, err := ParseMoney(strings.Trim(string(raw), `"`))
	if err != nil {
		return err
	}
	*a = Amount(m)
	return nil
}

// ParseMoney parses a major-unit decimal string ("5.75") into minor units.
func ParseMoney(value string) (Money, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("pricing: parse amount %q: %w", value, err)
	}
	return FromDecimal(d)
}

// FromDecimal converts a major-unit decimal into minor units, rejecting sub-cent
// precision and values outside the int64 range.
func FromDecimal(d decimal.Decimal) (Money, error) {
	if !d.Equal(d.Round(2)) {
		return 0, ErrAmountPrecision
	}
	minor := d.Shift(2)
	if minor.LessThan(minMinor) || minor.GreaterThan(maxMinor) {
		return 0, ErrAmountRange
	}
	return minor.IntPart(), nil
}

// ToDecimal converts minor units into a major-unit decimal.
func ToDecimal(m Money) decimal.Decimal {
	return decimal.New(m, -2)
}
