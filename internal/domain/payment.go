package domain

import (
	"strings"
	"time"
)

// PaymentMethodCard is the only method the phone flow collects
const PaymentMethodCard = "card"

// PaymentRecord is an append-only ledger entry. A record is the proof that a
// charge happened; customer balances are derived from records.
type PaymentRecord struct {
	ID            string
	CustomerID    string
	AmountCents   int64
	Method        string
	TransactionID string
	AuthCode      string
	ChargeRef     string
	CallLogID     string
	CardLast4     string
	CreatedAt     time.Time
}

// ChargeRequest is what the flow hands to the payment gateway
type ChargeRequest struct {
	ChargeRef    string
	AmountCents  int64
	CardNumber   string
	Expiry       string // MMYY
	CVV          string
	Zip          string
	CustomerID   string
	CustomerName string
}

// ChargeResult is the decoded gateway outcome. The set of implementations is
// closed: Approved, Declined and GatewayError.
type ChargeResult interface {
	chargeResult()
	Outcome() ChargeOutcome
}

// ChargeOutcome labels a ChargeResult for logs and metrics
type ChargeOutcome string

const (
	ChargeOutcomeApproved ChargeOutcome = "approved"
	ChargeOutcomeDeclined ChargeOutcome = "declined"
	ChargeOutcomeError    ChargeOutcome = "error"
)

// Approved means the card was charged
type Approved struct {
	TransactionID string
	AuthCode      string
}

// Declined is an expected business outcome, not a fault
type Declined struct {
	Reason string
}

// GatewayError covers transport failures and unreadable gateway responses
type GatewayError struct {
	Detail string
}

func (Approved) chargeResult()     {}
func (Declined) chargeResult()     {}
func (GatewayError) chargeResult() {}

func (Approved) Outcome() ChargeOutcome     { return ChargeOutcomeApproved }
func (Declined) Outcome() ChargeOutcome     { return ChargeOutcomeDeclined }
func (GatewayError) Outcome() ChargeOutcome { return ChargeOutcomeError }

// MaskCard keeps only the last four digits of a card number
func MaskCard(pan string) string {
	if len(pan) <= 4 {
		return strings.Repeat("*", len(pan))
	}
	return "****" + pan[len(pan)-4:]
}

// CardLast4 returns the last four digits of a card number
func CardLast4(pan string) string {
	if len(pan) <= 4 {
		return pan
	}
	return pan[len(pan)-4:]
}
