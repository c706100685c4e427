package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kevin07696/phonepay-ivr/internal/seed"
)

func (a *app) customerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Manage customer accounts",
	}
	cmd.AddCommand(a.customerImportCmd())
	return cmd
}

func (a *app) customerImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create or update customers from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			customers, err := seed.LoadFile(file)
			if err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(s store) error {
				if err := seed.Import(cmd.Context(), s, customers, a.logger); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d customers\n", len(customers))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "customer YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
