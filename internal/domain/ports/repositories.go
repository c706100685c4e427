package ports

import (
	"context"

	"github.com/kevin07696/phonepay-ivr/internal/domain"
)

// CustomerRepository resolves callers and reads balances
type CustomerRepository interface {
	// FindByPhone returns domain.ErrCustomerNotFound when no customer owns the number
	FindByPhone(ctx context.Context, phone string) (*domain.Customer, error)

	// FindByID always reads the current balance; callers must not cache it
	FindByID(ctx context.Context, id string) (*domain.Customer, error)
}

// LedgerRepository is the append-only payment ledger
type LedgerRepository interface {
	// RecordPayment appends rec and floor-decrements the customer's balance in
	// one transaction. A transaction id or charge reference that is already
	// recorded is a no-op: applied is false and err is nil.
	RecordPayment(ctx context.Context, rec *domain.PaymentRecord) (applied bool, err error)

	// FindByChargeRef returns domain.ErrPaymentNotFound when the charge
	// attempt has not been recorded.
	FindByChargeRef(ctx context.Context, chargeRef string) (*domain.PaymentRecord, error)

	// ClaimCharge atomically takes the charge reference of attempt before the
	// card is sent to the gateway. When another attempt already holds the
	// reference, claimed is false and existing is that attempt.
	ClaimCharge(ctx context.Context, attempt *domain.ChargeAttempt) (existing *domain.ChargeAttempt, claimed bool, err error)

	// CompleteCharge stores the gateway result on a claimed attempt
	CompleteCharge(ctx context.Context, chargeRef string, result domain.ChargeResult) error

	// ListByCustomer returns a customer's records, oldest first
	ListByCustomer(ctx context.Context, customerID string) ([]*domain.PaymentRecord, error)

	// Reconcile recomputes the balance from the opening balance and the
	// recorded payments. With apply set, the stored balance is overwritten.
	Reconcile(ctx context.Context, customerID string, apply bool) (*domain.Reconciliation, error)
}

// EventPublisher fans out flow events to the back office. Publishing is best
// effort; failures never change what the caller hears.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, event interface{}) error
}
