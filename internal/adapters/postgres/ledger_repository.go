package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/kevin07696/phonepay-ivr/internal/domain"
	"github.com/kevin07696/phonepay-ivr/internal/domain/ports"
)

const (
	paymentColumns = `id, customer_id, amount_cents, method, transaction_id, auth_code, charge_ref, call_log_id, card_last4, created_at`

	insertPaymentSQL = `
		INSERT INTO payment_records (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING`

	// Balances never go below zero, even when a payment exceeds what is owed
	decrementBalanceSQL = `
		UPDATE customers
		SET outstanding_balance = GREATEST(0, outstanding_balance - ($2::numeric / 100)),
		    updated_at = NOW()
		WHERE id = $1`

	selectOpeningBalanceSQL = `
		SELECT opening_balance, outstanding_balance
		FROM customers
		WHERE id = $1
		FOR UPDATE`

	sumPaymentsSQL = `
		SELECT COALESCE(SUM(amount_cents), 0), COUNT(*)
		FROM payment_records
		WHERE customer_id = $1`

	attemptColumns = `charge_ref, call_log_id, customer_id, amount_cents, status, transaction_id, auth_code, detail, created_at, updated_at`

	claimChargeSQL = `
		INSERT INTO charge_attempts (charge_ref, call_log_id, customer_id, amount_cents, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (charge_ref) DO NOTHING`

	selectAttemptSQL = `SELECT ` + attemptColumns + ` FROM charge_attempts WHERE charge_ref = $1`

	completeChargeSQL = `
		UPDATE charge_attempts
		SET status = $2, transaction_id = $3, auth_code = $4, detail = $5, updated_at = $6
		WHERE charge_ref = $1`

	overwriteBalanceSQL = `
		UPDATE customers
		SET outstanding_balance = $2, updated_at = NOW()
		WHERE id = $1`
)

// LedgerRepository implements ports.LedgerRepository
type LedgerRepository struct {
	db     *DBExecutor
	logger *zap.Logger
	now    func() time.Time
}

// NewLedgerRepository creates a ledger repository
func NewLedgerRepository(db *DBExecutor, logger *zap.Logger) *LedgerRepository {
	return &LedgerRepository{db: db, logger: logger, now: time.Now}
}

// RecordPayment inserts rec and decrements the balance in one transaction.
// The decrement only runs when the insert applied, so a repeated
// transaction id or charge reference leaves both tables untouched.
func (r *LedgerRepository) RecordPayment(ctx context.Context, rec *domain.PaymentRecord) (bool, error) {
	if rec.TransactionID == "" {
		return false, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "transaction_id is required").
			WithDetail("field", "transaction_id")
	}
	if rec.AmountCents <= 0 {
		return false, domain.NewDomainError(domain.ErrorCodeValidationFailed, "amount must be positive").
			WithDetail("amount_cents", rec.AmountCents)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Method == "" {
		rec.Method = domain.PaymentMethodCard
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}

	applied := false
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insertPaymentSQL,
			rec.ID,
			rec.CustomerID,
			rec.AmountCents,
			rec.Method,
			rec.TransactionID,
			nullText(rec.AuthCode),
			nullText(rec.ChargeRef),
			nullText(rec.CallLogID),
			nullText(rec.CardLast4),
			rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert payment record: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		tag, err = tx.Exec(ctx, decrementBalanceSQL, rec.CustomerID, rec.AmountCents)
		if err != nil {
			return fmt.Errorf("decrement balance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrCustomerNotFound
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, domain.WrapError(domain.ErrorCodeLedgerWriteFailed, "record payment", err).
			WithDetail("transaction_id", rec.TransactionID)
	}

	if !applied {
		r.logger.Info("Payment already recorded",
			zap.String("transaction_id", rec.TransactionID),
			zap.String("customer_id", rec.CustomerID),
		)
	}
	return applied, nil
}

func (r *LedgerRepository) FindByChargeRef(ctx context.Context, chargeRef string) (*domain.PaymentRecord, error) {
	if chargeRef == "" {
		return nil, domain.ErrPaymentNotFound
	}
	row := r.db.GetDB().QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payment_records WHERE charge_ref = $1 ORDER BY created_at LIMIT 1`,
		chargeRef)

	rec, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "find payment by charge ref", err)
	}
	return rec, nil
}

// ClaimCharge relies on the charge_ref primary key: of two concurrent
// claims exactly one insert lands.
func (r *LedgerRepository) ClaimCharge(ctx context.Context, attempt *domain.ChargeAttempt) (*domain.ChargeAttempt, bool, error) {
	if attempt.ChargeRef == "" {
		return nil, false, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "charge_ref is required").
			WithDetail("field", "charge_ref")
	}

	now := r.now().UTC()
	tag, err := r.db.GetDB().Exec(ctx, claimChargeSQL,
		attempt.ChargeRef,
		nullText(attempt.CallLogID),
		attempt.CustomerID,
		attempt.AmountCents,
		string(domain.ChargeAttemptPending),
		now,
	)
	if err != nil {
		return nil, false, domain.WrapError(domain.ErrorCodeDatabaseError, "claim charge", err).
			WithDetail("charge_ref", attempt.ChargeRef)
	}
	if tag.RowsAffected() == 1 {
		attempt.Status = domain.ChargeAttemptPending
		attempt.CreatedAt = now
		attempt.UpdatedAt = now
		return nil, true, nil
	}

	existing, err := scanAttempt(r.db.GetDB().QueryRow(ctx, selectAttemptSQL, attempt.ChargeRef))
	if err != nil {
		return nil, false, domain.WrapError(domain.ErrorCodeDatabaseError, "read charge attempt", err).
			WithDetail("charge_ref", attempt.ChargeRef)
	}
	return existing, false, nil
}

func (r *LedgerRepository) CompleteCharge(ctx context.Context, chargeRef string, result domain.ChargeResult) error {
	var a domain.ChargeAttempt
	a.Complete(result)

	tag, err := r.db.GetDB().Exec(ctx, completeChargeSQL,
		chargeRef,
		string(a.Status),
		nullText(a.TransactionID),
		nullText(a.AuthCode),
		nullText(a.Detail),
		r.now().UTC(),
	)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeLedgerWriteFailed, "complete charge", err).
			WithDetail("charge_ref", chargeRef)
	}
	if tag.RowsAffected() == 0 {
		return domain.WrapError(domain.ErrorCodeLedgerWriteFailed, "complete charge", domain.ErrPaymentNotFound).
			WithDetail("charge_ref", chargeRef)
	}
	return nil
}

func (r *LedgerRepository) ListByCustomer(ctx context.Context, customerID string) ([]*domain.PaymentRecord, error) {
	rows, err := r.db.GetDB().Query(ctx,
		`SELECT `+paymentColumns+` FROM payment_records WHERE customer_id = $1 ORDER BY created_at, id`,
		customerID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list payments", err)
	}
	defer rows.Close()

	var records []*domain.PaymentRecord
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "scan payment", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list payments", err)
	}
	return records, nil
}

// Reconcile locks the customer row so a concurrent payment cannot land
// between the sum and the overwrite.
func (r *LedgerRepository) Reconcile(ctx context.Context, customerID string, apply bool) (*domain.Reconciliation, error) {
	result := &domain.Reconciliation{CustomerID: customerID}

	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var opening, stored pgtype.Numeric
		if err := tx.QueryRow(ctx, selectOpeningBalanceSQL, customerID).Scan(&opening, &stored); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrCustomerNotFound
			}
			return fmt.Errorf("read balances: %w", err)
		}

		var (
			paidCents int64
			count     int64
		)
		if err := tx.QueryRow(ctx, sumPaymentsSQL, customerID).Scan(&paidCents, &count); err != nil {
			return fmt.Errorf("sum payments: %w", err)
		}

		var err error
		if result.OpeningBalance, err = pgNumericToDecimal(opening); err != nil {
			return err
		}
		if result.StoredBalance, err = pgNumericToDecimal(stored); err != nil {
			return err
		}
		result.TotalPaid = domain.CentsToDecimal(paidCents)
		result.RecordCount = int(count)
		result.ExpectedBalance = domain.ExpectedBalanceFor(result.OpeningBalance, result.TotalPaid)

		if !apply || result.InSync() {
			return nil
		}

		expected, err := decimalToPgNumeric(result.ExpectedBalance)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, overwriteBalanceSQL, customerID, expected); err != nil {
			return fmt.Errorf("overwrite balance: %w", err)
		}
		result.Applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrCustomerNotFound) {
			return nil, domain.ErrCustomerNotFound
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "reconcile balance", err)
	}

	if result.Applied {
		r.logger.Warn("Balance corrected from ledger",
			zap.String("customer_id", customerID),
			zap.String("stored_balance", result.StoredBalance.StringFixed(2)),
			zap.String("expected_balance", result.ExpectedBalance.StringFixed(2)),
		)
	}
	return result, nil
}

func scanPayment(row pgx.Row) (*domain.PaymentRecord, error) {
	var (
		rec                                   domain.PaymentRecord
		authCode, chargeRef, callLogID, last4 pgtype.Text
	)
	if err := row.Scan(
		&rec.ID,
		&rec.CustomerID,
		&rec.AmountCents,
		&rec.Method,
		&rec.TransactionID,
		&authCode,
		&chargeRef,
		&callLogID,
		&last4,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.AuthCode = textValue(authCode)
	rec.ChargeRef = textValue(chargeRef)
	rec.CallLogID = textValue(callLogID)
	rec.CardLast4 = textValue(last4)
	return &rec, nil
}

func scanAttempt(row pgx.Row) (*domain.ChargeAttempt, error) {
	var (
		a                              domain.ChargeAttempt
		status                         string
		callLogID, txnID, auth, detail pgtype.Text
	)
	if err := row.Scan(
		&a.ChargeRef,
		&callLogID,
		&a.CustomerID,
		&a.AmountCents,
		&status,
		&txnID,
		&auth,
		&detail,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = domain.ChargeAttemptStatus(status)
	a.CallLogID = textValue(callLogID)
	a.TransactionID = textValue(txnID)
	a.AuthCode = textValue(auth)
	a.Detail = textValue(detail)
	return &a, nil
}

var _ ports.LedgerRepository = (*LedgerRepository)(nil)
