// Package flow holds the phone payment state machine. Everything here is pure:
// lookups and gateway calls happen in the service layer and arrive as Input.
package flow

import (
	"github.com/kevin07696/phonepay-ivr/internal/domain"
	"github.com/kevin07696/phonepay-ivr/internal/ivr/dtmf"
)

// Menu keys
const (
	KeyPayInFull      = "1"
	KeyPayOtherAmount = "2"
	KeyRepresentative = "9"

	KeyRetryNewCard = "1"
	KeyRetryHuman   = "2"
)

// Escalation reasons
const (
	ReasonCustomerNotFound = "customer_not_found"
	ReasonNoBalanceDue     = "no_balance_due"
	ReasonCallerRequested  = "caller_requested"
	ReasonTimeout          = "timeout"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonInvalidContext   = "invalid_context"
	ReasonInternalError    = "internal_error"
	ReasonChargeInProgress = "charge_in_progress"
)

// Input is what arrived with one callback plus whatever the service looked up
// for it.
type Input struct {
	// Digits as delivered by the carrier, terminator included
	Digits string

	// Customer is a fresh read for steps that depend on the balance. Nil
	// means the caller could not be resolved.
	Customer *domain.Customer

	// Charge is set only for ProcessPayment
	Charge domain.ChargeResult
}

// Outcome is the result of one transition.
//
// When Terminal is TerminalNone the caller is prompted for Next.Step and the
// prompt's callback carries Next in full. Otherwise Next is the final context
// and Terminal says how the call ends.
type Outcome struct {
	Next     domain.CallContext
	Terminal domain.Terminal

	// Reprompt is set when input for the current step was rejected
	Reprompt bool

	// Reason explains an escalation or a failed charge
	Reason string

	// BalanceCents is the balance read during this transition, for prompts
	// that speak it
	BalanceCents int64

	// ConfirmationNumber is the gateway transaction id of an approved charge
	ConfirmationNumber string

	// CanRetry tells the Retry prompt whether a new card may be offered
	CanRetry bool
}

// IsTerminal reports whether the call leaves the automated flow
func (o Outcome) IsTerminal() bool {
	return o.Terminal != domain.TerminalNone
}

// Escalate returns the outcome that hands cc to a human
func Escalate(cc domain.CallContext, reason string) Outcome {
	return Outcome{Next: cc, Terminal: domain.TerminalConnectedToHuman, Reason: reason}
}

// Transition maps the current step and its input to the next outcome
func Transition(cc domain.CallContext, in Input, policy RetryPolicy) Outcome {
	switch cc.Step {
	case domain.StepCheckBalance:
		return checkBalance(cc, in)
	case domain.StepSelectAmount:
		return selectAmount(cc, in)
	case domain.StepCustomAmount:
		return customAmount(cc, in)
	case domain.StepEnterCard:
		return collect(cc, in.Digits, dtmf.ParseCard, domain.StepEnterExpiry, func(c *domain.CallContext, v string) { c.CardNumber = v })
	case domain.StepEnterExpiry:
		return collect(cc, in.Digits, dtmf.ParseExpiry, domain.StepEnterCvv, func(c *domain.CallContext, v string) { c.Expiry = v })
	case domain.StepEnterCvv:
		return collect(cc, in.Digits, dtmf.ParseCvv, domain.StepEnterZip, func(c *domain.CallContext, v string) { c.CVV = v })
	case domain.StepEnterZip:
		return collect(cc, in.Digits, dtmf.ParseZip, domain.StepProcessPayment, func(c *domain.CallContext, v string) { c.Zip = v })
	case domain.StepProcessPayment:
		return processPayment(cc, in, policy)
	case domain.StepRetry:
		return retry(cc, in, policy)
	default:
		return Escalate(cc, ReasonInvalidContext)
	}
}

func checkBalance(cc domain.CallContext, in Input) Outcome {
	if in.Customer == nil {
		return Escalate(cc, ReasonCustomerNotFound)
	}
	cc.CustomerID = in.Customer.ID
	if cc.CustomerName == "" {
		cc.CustomerName = in.Customer.Name
	}
	if !in.Customer.HasBalanceDue() {
		return Escalate(cc, ReasonNoBalanceDue)
	}
	return Outcome{
		Next:         cc.WithStep(domain.StepSelectAmount),
		BalanceCents: in.Customer.BalanceCents(),
	}
}

func selectAmount(cc domain.CallContext, in Input) Outcome {
	if in.Customer == nil {
		return Escalate(cc, ReasonCustomerNotFound)
	}
	balance := in.Customer.BalanceCents()
	if balance <= 0 {
		return Escalate(cc, ReasonNoBalanceDue)
	}

	switch dtmf.Normalize(in.Digits) {
	case KeyPayInFull:
		cc.AmountCents = balance
		return Outcome{Next: cc.WithStep(domain.StepEnterCard), BalanceCents: balance}
	case KeyPayOtherAmount:
		return Outcome{Next: cc.WithStep(domain.StepCustomAmount), BalanceCents: balance}
	case KeyRepresentative:
		return Escalate(cc, ReasonCallerRequested)
	case "":
		return Escalate(cc, ReasonTimeout)
	default:
		return Outcome{Next: cc, Reprompt: true, BalanceCents: balance}
	}
}

func customAmount(cc domain.CallContext, in Input) Outcome {
	if in.Customer == nil {
		return Escalate(cc, ReasonCustomerNotFound)
	}
	balance := in.Customer.BalanceCents()
	if balance <= 0 {
		return Escalate(cc, ReasonNoBalanceDue)
	}

	amount, err := dtmf.ParseAmountCents(in.Digits, balance)
	if err != nil {
		return Outcome{Next: cc, Reprompt: true, BalanceCents: balance}
	}
	cc.AmountCents = amount
	return Outcome{Next: cc.WithStep(domain.StepEnterCard), BalanceCents: balance}
}

// collect runs one card-detail step: a valid value is stored and the flow
// advances, anything else re-prompts the same step with the context as it was.
func collect(
	cc domain.CallContext,
	digits string,
	parse func(string) (string, error),
	next domain.Step,
	store func(*domain.CallContext, string),
) Outcome {
	if cc.AmountCents <= 0 {
		return Escalate(cc, ReasonInvalidContext)
	}
	value, err := parse(digits)
	if err != nil {
		return Outcome{Next: cc, Reprompt: true}
	}
	store(&cc, value)
	return Outcome{Next: cc.WithStep(next)}
}

func processPayment(cc domain.CallContext, in Input, policy RetryPolicy) Outcome {
	switch res := in.Charge.(type) {
	case domain.Approved:
		return Outcome{
			Next:               cc,
			Terminal:           domain.TerminalPaymentConfirmed,
			ConfirmationNumber: res.TransactionID,
		}
	case domain.Declined:
		return Outcome{
			Next:     cc.WithStep(domain.StepRetry),
			Reason:   res.Reason,
			CanRetry: policy.CanRetry(cc),
		}
	case domain.GatewayError:
		return Outcome{
			Next:     cc.WithStep(domain.StepRetry),
			Reason:   res.Detail,
			CanRetry: policy.CanRetry(cc),
		}
	default:
		return Escalate(cc, ReasonInvalidContext)
	}
}

func retry(cc domain.CallContext, in Input, policy RetryPolicy) Outcome {
	switch dtmf.Normalize(in.Digits) {
	case KeyRetryNewCard:
		if !policy.CanRetry(cc) {
			return Escalate(cc, ReasonRetriesExhausted)
		}
		return Outcome{Next: cc.WithNewCardAttempt()}
	case KeyRetryHuman:
		return Escalate(cc, ReasonCallerRequested)
	case "":
		return Escalate(cc, ReasonTimeout)
	default:
		return Outcome{Next: cc, Reprompt: true, CanRetry: policy.CanRetry(cc)}
	}
}
