package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kevin07696/phonepay-ivr/internal/adapters/database"
)

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down|status",
		Short:     "Apply or inspect the database schema",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "up", "down", "status":
			default:
				return fmt.Errorf("unknown migrate command %q", args[0])
			}
			if err := a.requireDatabaseURL(); err != nil {
				return err
			}
			if err := database.Migrate(cmd.Context(), a.databaseURL, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: ok\n", args[0])
			return nil
		},
	}
}
