// Package dtmf turns touch-tone digit strings into typed payment values.
//
// Every parser is total: it either returns a value that can be used as-is or
// one of the sentinel errors below. There is no partial acceptance.
package dtmf

import (
	"errors"
	"strconv"
	"strings"
)

const (
	// Terminator is the key callers press to finish variable-length input
	Terminator = "#"

	MinCardDigits = 13
	MaxCardDigits = 19
	ExpiryDigits  = 4
	MinCvvDigits  = 3
	MaxCvvDigits  = 4
	ZipDigits     = 5

	// MaxAmountDigits bounds custom amounts so the value fits in an int64 of cents
	MaxAmountDigits = 9
)

var (
	ErrInvalidAmount = errors.New("dtmf: invalid amount")
	ErrInvalidCard   = errors.New("dtmf: invalid card number")
	ErrInvalidExpiry = errors.New("dtmf: invalid expiry")
	ErrInvalidCvv    = errors.New("dtmf: invalid cvv")
	ErrInvalidZip    = errors.New("dtmf: invalid zip")
)

// Normalize strips surrounding whitespace and any trailing terminator keys
func Normalize(digits string) string {
	return strings.TrimRight(strings.TrimSpace(digits), Terminator)
}

// IsDigits reports whether s is non-empty and holds only 0-9
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParseAmountCents reads digits as a number of cents ("2500" is $25.00). The
// amount must be positive and no greater than balanceCents.
func ParseAmountCents(digits string, balanceCents int64) (int64, error) {
	d := Normalize(digits)
	if !IsDigits(d) || len(d) > MaxAmountDigits {
		return 0, ErrInvalidAmount
	}
	cents, err := strconv.ParseInt(d, 10, 64)
	if err != nil || cents <= 0 || cents > balanceCents {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// ParseCard accepts 13 to 19 digits
func ParseCard(digits string) (string, error) {
	d := Normalize(digits)
	if !IsDigits(d) || len(d) < MinCardDigits || len(d) > MaxCardDigits {
		return "", ErrInvalidCard
	}
	return d, nil
}

// ParseExpiry accepts MMYY with a month from 01 to 12
func ParseExpiry(digits string) (string, error) {
	d := Normalize(digits)
	if !IsDigits(d) || len(d) != ExpiryDigits {
		return "", ErrInvalidExpiry
	}
	month, _ := strconv.Atoi(d[:2])
	if month < 1 || month > 12 {
		return "", ErrInvalidExpiry
	}
	return d, nil
}

// ParseCvv accepts 3 or 4 digits
func ParseCvv(digits string) (string, error) {
	d := Normalize(digits)
	if !IsDigits(d) || len(d) < MinCvvDigits || len(d) > MaxCvvDigits {
		return "", ErrInvalidCvv
	}
	return d, nil
}

// ParseZip accepts exactly 5 digits
func ParseZip(digits string) (string, error) {
	d := Normalize(digits)
	if !IsDigits(d) || len(d) != ZipDigits {
		return "", ErrInvalidZip
	}
	return d, nil
}
