package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer is the back-office account a caller's phone number resolves to
type Customer struct {
	ID                 string
	Name               string
	Phone              string
	OpeningBalance     decimal.Decimal
	OutstandingBalance decimal.Decimal
	UpdatedAt          time.Time
}

// BalanceCents returns the outstanding balance in whole cents
func (c *Customer) BalanceCents() int64 {
	return DecimalToCents(c.OutstandingBalance)
}

// HasBalanceDue reports whether there is anything to collect
func (c *Customer) HasBalanceDue() bool {
	return c.OutstandingBalance.GreaterThan(decimal.Zero)
}

// CentsToDecimal converts integer cents to a two-place dollar amount
func CentsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// DecimalToCents converts a dollar amount to cents, rounding half away from zero
func DecimalToCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// FloorBalance applies a payment to a balance without going below zero
func FloorBalance(balance decimal.Decimal, paidCents int64) decimal.Decimal {
	next := balance.Sub(CentsToDecimal(paidCents))
	if next.IsNegative() {
		return decimal.Zero
	}
	return next
}
