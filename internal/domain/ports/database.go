package ports

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX represents a database executor that can be either a pool or transaction
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...interface{}) pgx.Row
}

// DB is a DBTX that can open transactions. *pgxpool.Pool satisfies it, as
// does pgxmock's pool in tests.
type DB interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TransactionManager manages database transactions
type TransactionManager interface {
	// WithTransaction executes fn within a write transaction
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}
