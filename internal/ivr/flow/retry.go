package flow

import (
	"github.com/kevin07696/phonepay-ivr/internal/domain"
)

// DefaultMaxRetries allows one new-card attempt after the first decline
const DefaultMaxRetries = 1

// RetryPolicy bounds how many times a caller may enter a new card after a
// decline or gateway error. The count itself travels in the CallContext.
type RetryPolicy struct {
	MaxRetries int
}

// DefaultRetryPolicy returns the policy used when nothing is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxRetries}
}

// CanRetry reports whether cc may try another card
func (p RetryPolicy) CanRetry(cc domain.CallContext) bool {
	return cc.RetryCount < p.MaxRetries
}

// ReadyToCharge reports whether cc holds everything a charge needs. The
// service checks this before calling the gateway so a hand-edited callback
// URL cannot reach the card network.
func ReadyToCharge(cc domain.CallContext) error {
	if cc.Step != domain.StepProcessPayment {
		return domain.WrapError(domain.ErrorCodeCallContextInvalid, "not at ProcessPayment", nil).
			WithDetail("step", string(cc.Step))
	}
	if !cc.HasCustomer() {
		return domain.NewDomainError(domain.ErrorCodeValidationMissingField, "customer_id is required").
			WithDetail("field", "customer_id")
	}
	if cc.AmountCents <= 0 {
		return domain.NewDomainError(domain.ErrorCodeValidationMissingField, "amount is required").
			WithDetail("field", "amount")
	}
	if !cc.HasCardDetails() {
		return domain.NewDomainError(domain.ErrorCodeValidationMissingField, "card details are incomplete").
			WithDetail("field", "card")
	}
	if cc.CallLogID == "" {
		return domain.NewDomainError(domain.ErrorCodeValidationMissingField, "call_log_id is required").
			WithDetail("field", "call_log_id")
	}
	return nil
}
