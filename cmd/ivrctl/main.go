// Command ivrctl is the operator tool for the phone payment service: schema
// migrations, customer imports, ledger inspection and prompt previews.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kevin07696/phonepay-ivr/internal/adapters/database"
	"github.com/kevin07696/phonepay-ivr/internal/adapters/postgres"
	"github.com/kevin07696/phonepay-ivr/internal/domain/ports"
	"github.com/kevin07696/phonepay-ivr/internal/seed"
)

var Version = "dev"

// databaseURLEnv matches the server's koanf key database.url
const databaseURLEnv = "PHONEPAY_DATABASE__URL"

// store is everything the operator commands read or write
type store interface {
	ports.CustomerRepository
	ports.LedgerRepository
	seed.Upserter
}

type pgStore struct {
	*postgres.CustomerRepository
	*postgres.LedgerRepository
}

// app carries the shared flags and the store factory. Tests swap openStore
// for an in-memory store.
type app struct {
	databaseURL string
	out         io.Writer
	logger      *zap.Logger
	openStore   func(ctx context.Context, databaseURL string) (store, func(), error)
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		logger = zap.NewNop()
	}
	defer func() { _ = logger.Sync() }()

	a := &app{out: os.Stdout, logger: logger, openStore: openPostgres(logger)}
	if err := a.rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ivrctl",
		Short:         "Operator tool for the phone payment service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)
	root.PersistentFlags().StringVar(&a.databaseURL, "database-url", os.Getenv(databaseURLEnv),
		"PostgreSQL connection string (default $"+databaseURLEnv+")")

	root.AddCommand(a.migrateCmd())
	root.AddCommand(a.customerCmd())
	root.AddCommand(a.ledgerCmd())
	root.AddCommand(a.renderCmd())
	return root
}

func (a *app) requireDatabaseURL() error {
	if a.databaseURL == "" {
		return fmt.Errorf("--database-url or $%s is required", databaseURLEnv)
	}
	return nil
}

func (a *app) withStore(ctx context.Context, fn func(store) error) error {
	s, closeFn, err := a.openStore(ctx, a.databaseURL)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(s)
}

func openPostgres(logger *zap.Logger) func(ctx context.Context, databaseURL string) (store, func(), error) {
	return func(ctx context.Context, databaseURL string) (store, func(), error) {
		if databaseURL == "" {
			return nil, nil, fmt.Errorf("--database-url or $%s is required", databaseURLEnv)
		}
		cfg := database.DefaultPostgreSQLConfig(databaseURL)
		cfg.MaxConns = 2
		cfg.MinConns = 0
		adapter, err := database.NewPostgreSQLAdapter(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		s := pgStore{
			CustomerRepository: adapter.CustomerRepository(),
			LedgerRepository:   adapter.LedgerRepository(),
		}
		return s, adapter.Close, nil
	}
}
