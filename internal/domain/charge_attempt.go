package domain

import "time"

// ChargeAttemptStatus tracks a claimed charge reference through the gateway
type ChargeAttemptStatus string

const (
	ChargeAttemptPending  ChargeAttemptStatus = "pending"
	ChargeAttemptApproved ChargeAttemptStatus = "approved"
	ChargeAttemptDeclined ChargeAttemptStatus = "declined"
	ChargeAttemptFailed   ChargeAttemptStatus = "failed"
)

// ChargeAttempt is the claim taken on a charge reference before the card is
// sent to the gateway. At most one attempt exists per ChargeRef.
type ChargeAttempt struct {
	ChargeRef     string
	CallLogID     string
	CustomerID    string
	AmountCents   int64
	Status        ChargeAttemptStatus
	TransactionID string
	AuthCode      string
	Detail        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Complete copies a gateway result onto the attempt
func (a *ChargeAttempt) Complete(result ChargeResult) {
	switch res := result.(type) {
	case Approved:
		a.Status = ChargeAttemptApproved
		a.TransactionID = res.TransactionID
		a.AuthCode = res.AuthCode
		a.Detail = ""
	case Declined:
		a.Status = ChargeAttemptDeclined
		a.Detail = res.Reason
	case GatewayError:
		a.Status = ChargeAttemptFailed
		a.Detail = res.Detail
	}
}

// Result rebuilds the gateway result of a completed attempt. It is nil while
// the attempt is pending.
func (a *ChargeAttempt) Result() ChargeResult {
	switch a.Status {
	case ChargeAttemptApproved:
		return Approved{TransactionID: a.TransactionID, AuthCode: a.AuthCode}
	case ChargeAttemptDeclined:
		return Declined{Reason: a.Detail}
	case ChargeAttemptFailed:
		return GatewayError{Detail: a.Detail}
	}
	return nil
}
