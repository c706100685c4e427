package domain

import (
	"fmt"
	"strconv"
)

// Step names a position in the phone payment flow. The carrier echoes it back
// on every callback so the service can resume without a session store.
type Step string

const (
	StepCheckBalance   Step = "CheckBalance"
	StepSelectAmount   Step = "SelectAmount"
	StepCustomAmount   Step = "CustomAmount"
	StepEnterCard      Step = "EnterCard"
	StepEnterExpiry    Step = "EnterExpiry"
	StepEnterCvv       Step = "EnterCvv"
	StepEnterZip       Step = "EnterZip"
	StepProcessPayment Step = "ProcessPayment"
	StepRetry          Step = "Retry"
)

var steps = []Step{
	StepCheckBalance,
	StepSelectAmount,
	StepCustomAmount,
	StepEnterCard,
	StepEnterExpiry,
	StepEnterCvv,
	StepEnterZip,
	StepProcessPayment,
	StepRetry,
}

// Steps returns every flow step in flow order.
func Steps() []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}

// IsValid reports whether s is a known step
func (s Step) IsValid() bool {
	for _, known := range steps {
		if s == known {
			return true
		}
	}
	return false
}

func (s Step) String() string {
	return string(s)
}

// ParseStep converts a raw step parameter. An empty value is the entry step.
func ParseStep(raw string) (Step, error) {
	if raw == "" {
		return StepCheckBalance, nil
	}
	s := Step(raw)
	if !s.IsValid() {
		return "", WrapError(ErrorCodeCallStepUnknown, "unknown call step", fmt.Errorf("step %q", raw))
	}
	return s, nil
}

// Terminal is an end state of the flow. A terminal is rendered once and never
// carried in a callback URL.
type Terminal string

const (
	TerminalNone             Terminal = ""
	TerminalConnectedToHuman Terminal = "ConnectedToHuman"
	TerminalPaymentConfirmed Terminal = "PaymentConfirmed"
	// TerminalHangup is where the caller leaves the flow on their own. The
	// carrier stops calling back, so no transition produces it.
	TerminalHangup Terminal = "Hangup"
)

// CallContext is everything needed to resume the payment flow at any step.
// It is passed by value; transitions return a modified copy.
type CallContext struct {
	CallerNumber  string
	CustomerID    string
	CustomerName  string
	ForwardNumber string
	CallLogID     string
	Step          Step

	// AmountCents is zero until the caller picks an amount.
	AmountCents int64

	CardNumber string
	Expiry     string
	CVV        string
	Zip        string

	// RetryCount is the number of new-card attempts made after a decline.
	RetryCount int
}

// IsRetry reports whether the current card attempt follows a decline
func (c CallContext) IsRetry() bool {
	return c.RetryCount > 0
}

// HasCustomer reports whether the caller has been resolved to a customer
func (c CallContext) HasCustomer() bool {
	return c.CustomerID != ""
}

// HasCardDetails reports whether every card field needed for a charge is set
func (c CallContext) HasCardDetails() bool {
	return c.CardNumber != "" && c.Expiry != "" && c.CVV != "" && c.Zip != ""
}

// WithStep returns a copy positioned at step
func (c CallContext) WithStep(step Step) CallContext {
	c.Step = step
	return c
}

// WithNewCardAttempt returns a copy that keeps the amount and identity fields,
// drops every card field and counts one more retry.
func (c CallContext) WithNewCardAttempt() CallContext {
	c.CardNumber = ""
	c.Expiry = ""
	c.CVV = ""
	c.Zip = ""
	c.RetryCount++
	c.Step = StepEnterCard
	return c
}

// ChargeRef identifies one charge attempt of one call. It is sent to the
// gateway as the merchant transaction number and used to spot replayed
// ProcessPayment callbacks.
func (c CallContext) ChargeRef() string {
	return c.CallLogID + "-" + strconv.Itoa(c.RetryCount)
}

// Validate checks the fields every step after CheckBalance depends on
func (c CallContext) Validate() error {
	if !c.Step.IsValid() {
		return ErrCallStepUnknown
	}
	if c.AmountCents < 0 {
		return WrapError(ErrorCodeCallContextInvalid, "negative amount", fmt.Errorf("amount %d", c.AmountCents))
	}
	if c.RetryCount < 0 {
		return WrapError(ErrorCodeCallContextInvalid, "negative retry count", fmt.Errorf("retry %d", c.RetryCount))
	}
	if c.Step != StepCheckBalance && !c.HasCustomer() {
		return WrapError(ErrorCodeCallContextInvalid, "customer_id is required after CheckBalance", nil).
			WithDetail("step", string(c.Step))
	}
	return nil
}
