// Package ivrpayment runs the telephone payment flow: it performs the
// lookups, charge and ledger write a step needs, feeds the results through
// the pure transition table and renders the next response.
package ivrpayment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kevin07696/phonepay-ivr/internal/domain"
	"github.com/kevin07696/phonepay-ivr/internal/domain/ports"
	"github.com/kevin07696/phonepay-ivr/internal/ivr/flow"
	"github.com/kevin07696/phonepay-ivr/internal/ivr/twiml"
	serviceports "github.com/kevin07696/phonepay-ivr/internal/services/ports"
	"github.com/kevin07696/phonepay-ivr/pkg/observability"
)

// DefaultChargeTimeout bounds the sale and its ledger writes. It stays under
// the carrier's webhook deadline.
const DefaultChargeTimeout = 12 * time.Second

// Service implements serviceports.IVRPaymentService
type Service struct {
	customers ports.CustomerRepository
	ledger    ports.LedgerRepository
	gateway   ports.PaymentGateway
	events    ports.EventPublisher
	builder   *twiml.Builder
	policy    flow.RetryPolicy
	logger    *zap.Logger
	now       func() time.Time

	chargeTimeout time.Duration
}

// NewService creates a new phone payment service
func NewService(
	customers ports.CustomerRepository,
	ledger ports.LedgerRepository,
	gateway ports.PaymentGateway,
	events ports.EventPublisher,
	builder *twiml.Builder,
	policy flow.RetryPolicy,
	logger *zap.Logger,
) *Service {
	return &Service{
		customers: customers,
		ledger:    ledger,
		gateway:   gateway,
		events:    events,
		builder:   builder,
		policy:    policy,
		logger:    logger,
		now:       time.Now,

		chargeTimeout: DefaultChargeTimeout,
	}
}

// WithChargeTimeout overrides DefaultChargeTimeout
func (s *Service) WithChargeTimeout(d time.Duration) *Service {
	if d > 0 {
		s.chargeTimeout = d
	}
	return s
}

// HandleStep never returns nil. Faults are logged and answered with the
// please-hold response.
func (s *Service) HandleStep(ctx context.Context, cc domain.CallContext, digits string) *twiml.Response {
	observability.RecordStep(cc.Step.String())

	if cc.Step == domain.StepCheckBalance && cc.CallLogID == "" {
		cc.CallLogID = uuid.New().String()
	}

	resp, err := s.handle(ctx, cc, digits)
	if err != nil {
		s.logger.Error("IVR step failed",
			zap.String("step", cc.Step.String()),
			zap.String("call_log_id", cc.CallLogID),
			zap.String("customer_id", cc.CustomerID),
			zap.Error(err),
		)
		return s.Fault(cc, flow.ReasonInternalError)
	}
	return resp
}

func (s *Service) handle(ctx context.Context, cc domain.CallContext, digits string) (*twiml.Response, error) {
	in := flow.Input{Digits: digits}

	switch cc.Step {
	case domain.StepCheckBalance:
		customer, err := s.resolveCaller(ctx, cc)
		if err != nil {
			return nil, err
		}
		in.Customer = customer

	case domain.StepSelectAmount, domain.StepCustomAmount:
		customer, err := s.findCustomer(ctx, cc.CustomerID)
		if err != nil {
			return nil, err
		}
		in.Customer = customer

	case domain.StepProcessPayment:
		return s.processPayment(ctx, cc)
	}

	return s.render(ctx, flow.Transition(cc, in, s.policy))
}

// resolveCaller prefers an id handed over by the main menu and falls back
// to the caller's number. A miss is not an error: the flow escalates.
func (s *Service) resolveCaller(ctx context.Context, cc domain.CallContext) (*domain.Customer, error) {
	if cc.CustomerID != "" {
		return s.findCustomer(ctx, cc.CustomerID)
	}

	customer, err := s.customers.FindByPhone(ctx, cc.CallerNumber)
	if errors.Is(err, domain.ErrCustomerNotFound) {
		s.logger.Info("Caller has no customer account",
			zap.String("call_log_id", cc.CallLogID),
			zap.String("caller_number", cc.CallerNumber),
		)
		return nil, nil
	}
	return customer, err
}

func (s *Service) findCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	if id == "" {
		return nil, nil
	}
	customer, err := s.customers.FindByID(ctx, id)
	if errors.Is(err, domain.ErrCustomerNotFound) {
		return nil, nil
	}
	return customer, err
}

func (s *Service) processPayment(ctx context.Context, cc domain.CallContext) (*twiml.Response, error) {
	if err := flow.ReadyToCharge(cc); err != nil {
		s.logger.Warn("Refusing to charge incomplete call context",
			zap.String("call_log_id", cc.CallLogID),
			zap.String("customer_id", cc.CustomerID),
			zap.Error(err),
		)
		return s.render(ctx, flow.Escalate(cc, flow.ReasonInvalidContext))
	}

	// The carrier may give up on this webhook while the sale is in flight.
	// The charge and its bookkeeping run to completion regardless.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.chargeTimeout)
	defer cancel()

	existing, err := s.ledger.FindByChargeRef(ctx, cc.ChargeRef())
	switch {
	case err == nil:
		s.logger.Info("Charge already recorded, replaying confirmation",
			zap.String("call_log_id", cc.CallLogID),
			zap.String("charge_ref", cc.ChargeRef()),
			zap.String("transaction_id", existing.TransactionID),
		)
		observability.RecordLedgerWrite(observability.LedgerReplayed)
		return s.render(ctx, flow.Outcome{
			Next:               cc,
			Terminal:           domain.TerminalPaymentConfirmed,
			ConfirmationNumber: existing.TransactionID,
		})
	case !errors.Is(err, domain.ErrPaymentNotFound):
		return nil, err
	}

	// A redelivered ProcessPayment callback must not reach the card network
	// again: only the request holding the claim charges.
	held, claimed, err := s.ledger.ClaimCharge(ctx, &domain.ChargeAttempt{
		ChargeRef:   cc.ChargeRef(),
		CallLogID:   cc.CallLogID,
		CustomerID:  cc.CustomerID,
		AmountCents: cc.AmountCents,
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return s.replayAttempt(ctx, cc, held)
	}

	start := s.now()
	result := s.gateway.Charge(ctx, domain.ChargeRequest{
		ChargeRef:    cc.ChargeRef(),
		AmountCents:  cc.AmountCents,
		CardNumber:   cc.CardNumber,
		Expiry:       cc.Expiry,
		CVV:          cc.CVV,
		Zip:          cc.Zip,
		CustomerID:   cc.CustomerID,
		CustomerName: cc.CustomerName,
	})
	observability.RecordCharge(string(result.Outcome()), cc.AmountCents, s.now().Sub(start))

	fields := []zap.Field{
		zap.String("call_log_id", cc.CallLogID),
		zap.String("customer_id", cc.CustomerID),
		zap.String("card", domain.MaskCard(cc.CardNumber)),
		zap.Int64("amount_cents", cc.AmountCents),
		zap.Int("retry", cc.RetryCount),
		zap.String("outcome", string(result.Outcome())),
	}

	if err := s.ledger.CompleteCharge(ctx, cc.ChargeRef(), result); err != nil {
		s.logger.Error("Charge result could not be stored", append(fields, zap.Error(err))...)
	}

	switch res := result.(type) {
	case domain.Approved:
		s.logger.Info("Charge approved", append(fields, zap.String("transaction_id", res.TransactionID))...)
		s.recordPayment(ctx, cc, res)
	case domain.Declined:
		s.logger.Info("Charge declined", append(fields, zap.String("reason", res.Reason))...)
	case domain.GatewayError:
		s.logger.Warn("Charge failed", append(fields, zap.String("detail", res.Detail))...)
	}

	return s.render(ctx, flow.Transition(cc, flow.Input{Charge: result}, s.policy))
}

// replayAttempt answers a callback whose charge reference is already
// claimed. The gateway is never called from here.
func (s *Service) replayAttempt(ctx context.Context, cc domain.CallContext, held *domain.ChargeAttempt) (*twiml.Response, error) {
	fields := []zap.Field{
		zap.String("call_log_id", cc.CallLogID),
		zap.String("charge_ref", cc.ChargeRef()),
		zap.String("status", string(held.Status)),
	}

	result := held.Result()
	switch res := result.(type) {
	case nil:
		s.logger.Warn("Charge already in progress, handing caller to a representative", fields...)
		return s.Fault(cc, flow.ReasonChargeInProgress), nil
	case domain.Approved:
		// the earlier request charged the card but may have failed to book it
		s.logger.Info("Charge already approved, replaying confirmation",
			append(fields, zap.String("transaction_id", res.TransactionID))...)
		observability.RecordLedgerWrite(observability.LedgerReplayed)
		s.recordPayment(ctx, cc, res)
	default:
		s.logger.Info("Charge already attempted, replaying outcome", fields...)
	}
	return s.render(ctx, flow.Transition(cc, flow.Input{Charge: result}, s.policy))
}

// recordPayment books an approved charge. The caller has been charged by
// now, so a ledger failure is logged for manual booking and the caller still
// hears the confirmation.
func (s *Service) recordPayment(ctx context.Context, cc domain.CallContext, approved domain.Approved) {
	rec := &domain.PaymentRecord{
		CustomerID:    cc.CustomerID,
		AmountCents:   cc.AmountCents,
		Method:        domain.PaymentMethodCard,
		TransactionID: approved.TransactionID,
		AuthCode:      approved.AuthCode,
		ChargeRef:     cc.ChargeRef(),
		CallLogID:     cc.CallLogID,
		CardLast4:     domain.CardLast4(cc.CardNumber),
	}

	applied, err := s.ledger.RecordPayment(ctx, rec)
	if err != nil {
		observability.RecordLedgerWrite(observability.LedgerFailed)
		s.logger.Error("Approved charge could not be recorded",
			zap.String("call_log_id", cc.CallLogID),
			zap.String("customer_id", cc.CustomerID),
			zap.String("transaction_id", approved.TransactionID),
			zap.Int64("amount_cents", cc.AmountCents),
			zap.Error(err),
		)
		return
	}
	if !applied {
		observability.RecordLedgerWrite(observability.LedgerDuplicate)
		return
	}

	observability.RecordLedgerWrite(observability.LedgerApplied)
	s.publish(ctx, domain.SubjectPaymentRecorded, domain.PaymentRecordedEvent{
		PaymentID:     rec.ID,
		CustomerID:    rec.CustomerID,
		AmountCents:   rec.AmountCents,
		TransactionID: rec.TransactionID,
		CallLogID:     rec.CallLogID,
		CardLast4:     rec.CardLast4,
		RecordedAt:    rec.CreatedAt,
	})
}

func (s *Service) render(ctx context.Context, out flow.Outcome) (*twiml.Response, error) {
	switch out.Terminal {
	case domain.TerminalConnectedToHuman:
		return s.Escalate(ctx, out.Next, out.Reason), nil
	case domain.TerminalPaymentConfirmed:
		return s.builder.Confirmation(out.Next, out.ConfirmationNumber), nil
	}

	if out.Reprompt {
		observability.RecordReprompt(out.Next.Step.String())
	}
	return s.builder.Prompt(out.Next, twiml.PromptOptions{
		Reprompt:     out.Reprompt,
		BalanceCents: out.BalanceCents,
		CanRetry:     out.CanRetry,
	})
}

// Escalate renders the hand-off and tells the back office about it
func (s *Service) Escalate(ctx context.Context, cc domain.CallContext, reason string) *twiml.Response {
	if reason == "" {
		reason = flow.ReasonCallerRequested
	}
	observability.RecordEscalation(reason)
	s.logger.Info("Escalating call to representative",
		zap.String("call_log_id", cc.CallLogID),
		zap.String("customer_id", cc.CustomerID),
		zap.String("step", cc.Step.String()),
		zap.String("reason", reason),
	)

	s.publish(ctx, domain.SubjectCallEscalated, domain.CallEscalatedEvent{
		CallLogID:    cc.CallLogID,
		CustomerID:   cc.CustomerID,
		CallerNumber: cc.CallerNumber,
		Step:         cc.Step,
		Reason:       reason,
		EscalatedAt:  s.now().UTC(),
	})
	return s.builder.Escalation(cc)
}

// Fault renders the please-hold response
func (s *Service) Fault(cc domain.CallContext, reason string) *twiml.Response {
	observability.RecordFault(reason)
	return s.builder.PleaseHold(cc, reason)
}

func (s *Service) publish(ctx context.Context, subject string, event interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, subject, event); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

var _ serviceports.IVRPaymentService = (*Service)(nil)
