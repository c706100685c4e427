// Package memory holds process-local customer and ledger stores for local
// development and flow tests. State is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kevin07696/phonepay-ivr/internal/domain"
	"github.com/kevin07696/phonepay-ivr/internal/domain/ports"
)

// Store implements ports.CustomerRepository and ports.LedgerRepository
type Store struct {
	mu sync.RWMutex

	customers map[string]*domain.Customer
	byPhone   map[string]string
	records   []*domain.PaymentRecord
	byTxn     map[string]*domain.PaymentRecord
	byRef     map[string]*domain.PaymentRecord
	attempts  map[string]*domain.ChargeAttempt
	now       func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		customers: make(map[string]*domain.Customer),
		byPhone:   make(map[string]string),
		byTxn:     make(map[string]*domain.PaymentRecord),
		byRef:     make(map[string]*domain.PaymentRecord),
		attempts:  make(map[string]*domain.ChargeAttempt),
		now:       time.Now,
	}
}

// Upsert creates or replaces a customer
func (s *Store) Upsert(_ context.Context, c *domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.byPhone[c.Phone]; ok && owner != c.ID {
		return domain.NewDomainError(domain.ErrorCodeValidationFailed, "phone already belongs to another customer").
			WithDetail("phone", c.Phone)
	}
	if prev, ok := s.customers[c.ID]; ok {
		delete(s.byPhone, prev.Phone)
	}

	cp := *c
	cp.UpdatedAt = s.now().UTC()
	s.customers[c.ID] = &cp
	s.byPhone[c.Phone] = c.ID
	return nil
}

func (s *Store) FindByPhone(_ context.Context, phone string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPhone[phone]
	if !ok || phone == "" {
		return nil, domain.ErrCustomerNotFound
	}
	return s.copyCustomer(id)
}

func (s *Store) FindByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyCustomer(id)
}

func (s *Store) copyCustomer(id string) (*domain.Customer, error) {
	c, ok := s.customers[id]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	cp := *c
	return &cp, nil
}

// RecordPayment appends under the write lock, so the duplicate check, the
// append and the balance update are atomic with respect to other writers.
func (s *Store) RecordPayment(_ context.Context, rec *domain.PaymentRecord) (bool, error) {
	if rec.TransactionID == "" {
		return false, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "transaction_id is required").
			WithDetail("field", "transaction_id")
	}
	if rec.AmountCents <= 0 {
		return false, domain.NewDomainError(domain.ErrorCodeValidationFailed, "amount must be positive").
			WithDetail("amount_cents", rec.AmountCents)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byTxn[rec.TransactionID]; dup {
		return false, nil
	}
	if _, dup := s.byRef[rec.ChargeRef]; dup && rec.ChargeRef != "" {
		return false, nil
	}
	c, ok := s.customers[rec.CustomerID]
	if !ok {
		return false, domain.WrapError(domain.ErrorCodeLedgerWriteFailed, "record payment", domain.ErrCustomerNotFound)
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Method == "" {
		rec.Method = domain.PaymentMethodCard
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}

	cp := *rec
	s.records = append(s.records, &cp)
	s.byTxn[rec.TransactionID] = &cp
	if rec.ChargeRef != "" {
		s.byRef[rec.ChargeRef] = &cp
	}
	c.OutstandingBalance = domain.FloorBalance(c.OutstandingBalance, rec.AmountCents)
	c.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *Store) FindByChargeRef(_ context.Context, chargeRef string) (*domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byRef[chargeRef]
	if !ok || chargeRef == "" {
		return nil, domain.ErrPaymentNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) ClaimCharge(_ context.Context, attempt *domain.ChargeAttempt) (*domain.ChargeAttempt, bool, error) {
	if attempt.ChargeRef == "" {
		return nil, false, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "charge_ref is required").
			WithDetail("field", "charge_ref")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.attempts[attempt.ChargeRef]; ok {
		cp := *held
		return &cp, false, nil
	}

	now := s.now().UTC()
	attempt.Status = domain.ChargeAttemptPending
	attempt.CreatedAt = now
	attempt.UpdatedAt = now
	cp := *attempt
	s.attempts[attempt.ChargeRef] = &cp
	return nil, true, nil
}

func (s *Store) CompleteCharge(_ context.Context, chargeRef string, result domain.ChargeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[chargeRef]
	if !ok {
		return domain.WrapError(domain.ErrorCodeLedgerWriteFailed, "complete charge", domain.ErrPaymentNotFound).
			WithDetail("charge_ref", chargeRef)
	}
	a.Complete(result)
	a.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) ListByCustomer(_ context.Context, customerID string) ([]*domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.PaymentRecord
	for _, rec := range s.records {
		if rec.CustomerID == customerID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) Reconcile(_ context.Context, customerID string, apply bool) (*domain.Reconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[customerID]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}

	var (
		paid  int64
		count int
	)
	for _, rec := range s.records {
		if rec.CustomerID == customerID {
			paid += rec.AmountCents
			count++
		}
	}

	result := &domain.Reconciliation{
		CustomerID:     customerID,
		OpeningBalance: c.OpeningBalance,
		TotalPaid:      domain.CentsToDecimal(paid),
		StoredBalance:  c.OutstandingBalance,
		RecordCount:    count,
	}
	result.ExpectedBalance = domain.ExpectedBalanceFor(result.OpeningBalance, result.TotalPaid)

	if apply && !result.InSync() {
		c.OutstandingBalance = result.ExpectedBalance
		c.UpdatedAt = s.now().UTC()
		result.Applied = true
	}
	return result, nil
}

var (
	_ ports.CustomerRepository = (*Store)(nil)
	_ ports.LedgerRepository   = (*Store)(nil)
)
