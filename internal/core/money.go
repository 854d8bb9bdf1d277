// Package core provides money parsing and handling utilities.
//
// Amounts are whole currency units: the product rounds everything the user
// types to full units, so there is no cents column anywhere.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// Money is an amount in whole currency units.
type Money struct {
	Units int64
}

func (m Money) Validate() error {
	if m.Units <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Float returns the amount as a float64 for display and heuristics.
func (m Money) Float() float64 {
	return float64(m.Units)
}

// ParseAmount converts a decimal string to whole currency units with half-up
// rounding on the fractional part.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. The result
// is always positive. Returns an error for invalid formats, signs, or zero
// amounts.
//
// Examples:
//
//	ParseAmount("12")    -> 12, nil
//	ParseAmount("12,49") -> 12, nil (rounds down)
//	ParseAmount("12.50") -> 13, nil (rounds up)
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		// Only unsigned positive values allowed
		return Money{}, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return Money{}, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return Money{}, ErrInvalidAmount
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return Money{}, ErrInvalidAmount
		}
	}
	units, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	// Half-up rounding on the first fractional digit
	if len(fracPart) > 0 && fracPart[0] >= '5' {
		units++
	}
	if units <= 0 {
		return Money{}, ErrInvalidAmount
	}
	return Money{Units: units}, nil
}
