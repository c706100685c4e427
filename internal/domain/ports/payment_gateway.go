package ports

import (
	"context"

	"github.com/kevin07696/phonepay-ivr/internal/domain"
)

// PaymentGateway charges a card once per call.
//
// Implementations must not retry internally: a blind resubmission against a
// card network can charge the caller twice. Every failure, including context
// cancellation, comes back as a domain.GatewayError result rather than an
// error so the flow can offer the caller a retry.
type PaymentGateway interface {
	Charge(ctx context.Context, req domain.ChargeRequest) domain.ChargeResult
}
