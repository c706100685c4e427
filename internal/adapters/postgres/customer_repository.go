package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kevin07696/phonepay-ivr/internal/domain"
	"github.com/kevin07696/phonepay-ivr/internal/domain/ports"
)

const (
	customerColumns = `id, name, phone, opening_balance, outstanding_balance, updated_at`

	upsertCustomerSQL = `
		INSERT INTO customers (id, name, phone, opening_balance, outstanding_balance, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    phone = EXCLUDED.phone,
		    opening_balance = EXCLUDED.opening_balance,
		    outstanding_balance = EXCLUDED.outstanding_balance,
		    updated_at = NOW()`
)

// CustomerRepository implements ports.CustomerRepository
type CustomerRepository struct {
	db      *DBExecutor
	timeout time.Duration
}

// NewCustomerRepository creates a customer repository. timeout bounds each
// lookup; zero means the caller's context alone applies.
func NewCustomerRepository(db *DBExecutor, timeout time.Duration) *CustomerRepository {
	return &CustomerRepository{db: db, timeout: timeout}
}

func (r *CustomerRepository) FindByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	return r.findOne(ctx, `SELECT `+customerColumns+` FROM customers WHERE phone = $1`, phone)
}

func (r *CustomerRepository) FindByID(ctx context.Context, id string) (*domain.Customer, error) {
	return r.findOne(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
}

// Upsert creates or replaces a customer. The operator import uses it to load
// accounts; the call flow never writes customers directly.
func (r *CustomerRepository) Upsert(ctx context.Context, c *domain.Customer) error {
	opening, err := decimalToPgNumeric(c.OpeningBalance)
	if err != nil {
		return err
	}
	outstanding, err := decimalToPgNumeric(c.OutstandingBalance)
	if err != nil {
		return err
	}

	_, err = r.db.GetDB().Exec(ctx, upsertCustomerSQL, c.ID, c.Name, c.Phone, opening, outstanding)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.WrapError(domain.ErrorCodeValidationFailed, "phone already belongs to another customer", err).
				WithDetail("phone", c.Phone)
		}
		return domain.WrapError(domain.ErrorCodeDatabaseError, "upsert customer", err)
	}
	return nil
}

func (r *CustomerRepository) findOne(ctx context.Context, query string, arg string) (*domain.Customer, error) {
	if arg == "" {
		return nil, domain.ErrCustomerNotFound
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	c, err := scanCustomer(r.db.GetDB().QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCustomerNotFound
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "find customer", err)
	}
	return c, nil
}

func scanCustomer(row pgx.Row) (*domain.Customer, error) {
	var (
		c                    domain.Customer
		opening, outstanding pgtype.Numeric
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &opening, &outstanding, &c.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if c.OpeningBalance, err = pgNumericToDecimal(opening); err != nil {
		return nil, fmt.Errorf("opening_balance: %w", err)
	}
	if c.OutstandingBalance, err = pgNumericToDecimal(outstanding); err != nil {
		return nil, fmt.Errorf("outstanding_balance: %w", err)
	}
	return &c, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

var _ ports.CustomerRepository = (*CustomerRepository)(nil)
