package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/phonepay-ivr/internal/domain/ports"
)

// DBExecutor runs repository queries against a pool and owns transactions
type DBExecutor struct {
	db ports.DB
}

// NewDBExecutor creates a new PostgreSQL database executor. db is usually a
// *pgxpool.Pool.
func NewDBExecutor(db ports.DB) *DBExecutor {
	return &DBExecutor{db: db}
}

// GetDB returns the underlying executor for queries outside a transaction
func (e *DBExecutor) GetDB() ports.DBTX {
	return e.db
}

// WithTransaction executes a function within a database transaction.
// The transaction is passed explicitly to the callback.
func (e *DBExecutor) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

var _ ports.TransactionManager = (*DBExecutor)(nil)
