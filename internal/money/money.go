// Package money keeps every ledger amount as integer cents. Decimal values only
// appear at the edges: request parsing, database columns and printed receipts.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const CurrencySymbol = "RM"

// MaxCents is the largest amount a NUMERIC(14,2) column holds.
const MaxCents int64 = 99_999_999_999_999

var ErrOutOfRange = errors.New("money: amount out of range")

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(MaxCents)
)

// ToCents rounds amount to the nearest cent, half away from zero. It does not
// range check; use FromAmount for anything an operator typed.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromAmount is ToCents for untrusted input: values beyond MaxCents in either
// direction fail with ErrOutOfRange instead of wrapping.
func FromAmount(amount decimal.Decimal) (int64, error) {
	scaled := amount.Mul(hundred).Round(0)
	if scaled.Abs().GreaterThan(maxCents) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, amount.String())
	}
	return scaled.IntPart(), nil
}

func InRange(cents int64) bool {
	return cents >= -MaxCents && cents <= MaxCents
}

// Mul multiplies a quantity by a per-unit price. Results beyond MaxCents fail
// with ErrOutOfRange.
func Mul(qty int, price int64) (int64, error) {
	if qty == 0 || price == 0 {
		return 0, nil
	}
	if !InRange(price) || qty < 0 || int64(qty) > MaxCents {
		return 0, ErrOutOfRange
	}
	abs := price
	if abs < 0 {
		abs = -abs
	}
	if abs > MaxCents/int64(qty) {
		return 0, ErrOutOfRange
	}
	return int64(qty) * price, nil
}

// Add sums in-range amounts and fails once the running total leaves the range.
func Add(values ...int64) (int64, error) {
	var total int64
	for _, v := range values {
		if !InRange(v) {
			return 0, ErrOutOfRange
		}
		total += v
		if !InRange(total) {
			return 0, ErrOutOfRange
		}
	}
	return total, nil
}

// ToAmount converts cents back to a 2-decimal value.
func ToAmount(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func Sum(values ...int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

// IsSettled reports whether a remaining balance counts as fully paid.
func IsSettled(remainingCents int64) bool {
	return remainingCents < 1
}

// ParseAmount parses a user-entered decimal string such as "20", "20.5" or
// "RM 1,020.50" into cents.
func ParseAmount(raw string) (int64, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, CurrencySymbol)
	cleaned = strings.ReplaceAll(strings.TrimSpace(cleaned), ",", "")
	if cleaned == "" {
		return 0, fmt.Errorf("money: empty amount")
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", raw, err)
	}
	return FromAmount(amount)
}

func Max(a int64, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func Min(a int64, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

var printer = message.NewPrinter(language.English)

// Format renders cents for display, e.g. "RM 1,234.50" or "-RM 0.05".
func Format(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%s %s.%02d", sign, CurrencySymbol, printer.Sprintf("%d", cents/100), cents%100)
}

// String renders cents as a plain 2-decimal number for payloads, e.g. "20.00".
func String(cents int64) string {
	return ToAmount(cents).StringFixed(2)
}
