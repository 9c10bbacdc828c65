// Package core provides money parsing and handling utilities.
//
// This file contains the amount parser shared by the API and the bulk-save
// path. Amounts are exact decimals rounded to cents.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmount bounds the magnitude of an amount. Every store keeps amounts
// as NUMERIC(14,2) or int64 cents, both of which hold anything below it.
var MaxAmount = decimal.New(1, 12)

// ParseAmount converts a decimal string to an amount rounded to cents.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and
// rounds half away from zero on the third decimal place. Negative amounts
// are allowed; blank or malformed input returns ErrInvalidAmount and
// amounts of MaxAmount or more in magnitude return ErrAmountOutOfRange.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,345") -> 12.35
//	ParseAmount("-3")     -> -3.00
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 || strings.ContainsAny(s, "eE") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = d.Round(2)
	if err := checkAmountRange(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

func checkAmountRange(d decimal.Decimal) error {
	if d.Abs().GreaterThanOrEqual(MaxAmount) {
		return ErrAmountOutOfRange
	}
	return nil
}

// Cents returns the amount as an integer number of cents.
func Cents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

// FromCents is the inverse of Cents.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// FormatAmount renders an amount with exactly two decimals.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
