package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reconciliation compares a customer's cached balance with the balance the
// ledger implies.
type Reconciliation struct {
	CustomerID      string
	OpeningBalance  decimal.Decimal
	TotalPaid       decimal.Decimal
	StoredBalance   decimal.Decimal
	ExpectedBalance decimal.Decimal
	RecordCount     int
	Applied         bool
}

// InSync reports whether the stored balance matches the ledger
func (r *Reconciliation) InSync() bool {
	return r.StoredBalance.Equal(r.ExpectedBalance)
}

// ExpectedBalanceFor is max(0, opening - paid)
func ExpectedBalanceFor(opening, paid decimal.Decimal) decimal.Decimal {
	expected := opening.Sub(paid)
	if expected.IsNegative() {
		return decimal.Zero
	}
	return expected
}

// Event subjects
const (
	SubjectPaymentRecorded = "phonepay.payment.recorded"
	SubjectCallEscalated   = "phonepay.ivr.escalated"
)

// PaymentRecordedEvent is published after a ledger write applies
type PaymentRecordedEvent struct {
	PaymentID     string    `json:"payment_id"`
	CustomerID    string    `json:"customer_id"`
	AmountCents   int64     `json:"amount_cents"`
	TransactionID string    `json:"transaction_id"`
	CallLogID     string    `json:"call_log_id"`
	CardLast4     string    `json:"card_last4"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// CallEscalatedEvent is published when a caller is handed to a person
type CallEscalatedEvent struct {
	CallLogID    string    `json:"call_log_id"`
	CustomerID   string    `json:"customer_id,omitempty"`
	CallerNumber string    `json:"caller_number"`
	Step         Step      `json:"step"`
	Reason       string    `json:"reason"`
	EscalatedAt  time.Time `json:"escalated_at"`
}
