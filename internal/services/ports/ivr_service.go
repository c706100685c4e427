package ports

import (
	"context"

	"github.com/kevin07696/phonepay-ivr/internal/domain"
	"github.com/kevin07696/phonepay-ivr/internal/ivr/twiml"
)

// IVRPaymentService answers phone payment webhooks. Every method returns a
// response the carrier can play; none of them fail.
type IVRPaymentService interface {
	// HandleStep runs one step of the payment flow for cc with the digits the
	// caller pressed
	HandleStep(ctx context.Context, cc domain.CallContext, digits string) *twiml.Response

	// Escalate hands the caller to a representative
	Escalate(ctx context.Context, cc domain.CallContext, reason string) *twiml.Response

	// Fault is the please-hold response for requests that could not be
	// understood or crashed
	Fault(cc domain.CallContext, reason string) *twiml.Response
}
