package amount

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmountFormat is returned for any text that is not a non-negative decimal
// with at most two fractional digits.
var ErrInvalidAmountFormat = errors.New("invalid amount format")

// ErrAmountOverflow is returned when minor-unit arithmetic leaves the int64 range.
var ErrAmountOverflow = errors.New("amount overflow")

// Scale is the number of fractional digits carried by every minor-unit value.
const Scale = 2

var amountPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]{1,2})?$`)

// Parse converts a decimal currency string such as "100.50" into minor units (10050).
func Parse(text string) (int64, error) {
	if text == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidAmountFormat)
	}
	if !amountPattern.MatchString(text) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmountFormat, text)
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmountFormat, text)
	}

	minor := d.Shift(Scale).BigInt()
	if !minor.IsInt64() {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmountFormat, text)
	}
	return minor.Int64(), nil
}

// MustParse is Parse for constants and tests. It panics on malformed input.
func MustParse(text string) int64 {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders minor units with exactly two fractional digits. Negative values keep
// their sign so internal adjustments round-trip.
func Format(minor int64) string {
	return decimal.New(minor, -Scale).StringFixed(Scale)
}

// Sum adds minor-unit values without overflowing int64 intermediates.
func Sum(values ...int64) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromInt(v))
	}
	return total
}

// FormatDecimal renders a minor-unit decimal, such as one returned by Sum, like Format.
func FormatDecimal(minor decimal.Decimal) string {
	return minor.Shift(-Scale).StringFixed(Scale)
}

// Add returns a+b, or ErrAmountOverflow when the result does not fit in int64.
func Add(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, fmt.Errorf("%w: %d + %d", ErrAmountOverflow, a, b)
	}
	return sum, nil
}
