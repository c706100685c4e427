package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kevin07696/phonepay-ivr/internal/domain"
)

type ledgerView struct {
	CustomerID         string         `yaml:"customer_id"`
	Name               string         `yaml:"name"`
	Phone              string         `yaml:"phone"`
	OpeningBalance     string         `yaml:"opening_balance"`
	OutstandingBalance string         `yaml:"outstanding_balance"`
	Payments           []paymentView  `yaml:"payments"`
	Reconciliation     *reconcileView `yaml:"reconciliation,omitempty"`
}

type paymentView struct {
	ID            string `yaml:"id"`
	Amount        string `yaml:"amount"`
	Method        string `yaml:"method"`
	TransactionID string `yaml:"transaction_id"`
	AuthCode      string `yaml:"auth_code,omitempty"`
	ChargeRef     string `yaml:"charge_ref"`
	CallLogID     string `yaml:"call_log_id"`
	CardLast4     string `yaml:"card_last4"`
	CreatedAt     string `yaml:"created_at"`
}

type reconcileView struct {
	OpeningBalance  string `yaml:"opening_balance"`
	TotalPaid       string `yaml:"total_paid"`
	StoredBalance   string `yaml:"stored_balance"`
	ExpectedBalance string `yaml:"expected_balance"`
	RecordCount     int    `yaml:"record_count"`
	InSync          bool   `yaml:"in_sync"`
	Applied         bool   `yaml:"applied"`
}

func (a *app) ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and reconcile the payment ledger",
	}
	cmd.AddCommand(a.ledgerShowCmd())
	cmd.AddCommand(a.ledgerReconcileCmd())
	return cmd
}

func (a *app) ledgerShowCmd() *cobra.Command {
	var customerID, output string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "List a customer's recorded payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "yaml" && output != "table" {
				return fmt.Errorf("unsupported output %q (yaml or table)", output)
			}
			return a.withStore(cmd.Context(), func(s store) error {
				customer, err := s.FindByID(cmd.Context(), customerID)
				if err != nil {
					return err
				}
				records, err := s.ListByCustomer(cmd.Context(), customerID)
				if err != nil {
					return err
				}
				view := newLedgerView(customer, records)
				if output == "yaml" {
					return writeYAML(cmd.OutOrStdout(), view)
				}
				return writeLedgerTable(cmd.OutOrStdout(), view)
			})
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "customer id")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: yaml or table")
	_ = cmd.MarkFlagRequired("customer")
	return cmd
}

func (a *app) ledgerReconcileCmd() *cobra.Command {
	var (
		customerID string
		apply      bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute a customer's balance from the ledger",
		Long: `Recompute the outstanding balance as max(0, opening balance - total paid)
and compare it with the stored balance. With --apply the stored balance is
overwritten with the recomputed one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s store) error {
				rec, err := s.Reconcile(cmd.Context(), customerID, apply)
				if err != nil {
					return err
				}
				return writeYAML(cmd.OutOrStdout(), newReconcileView(rec))
			})
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "customer id")
	cmd.Flags().BoolVar(&apply, "apply", false, "overwrite the stored balance when out of sync")
	_ = cmd.MarkFlagRequired("customer")
	return cmd
}

func newLedgerView(c *domain.Customer, records []*domain.PaymentRecord) ledgerView {
	view := ledgerView{
		CustomerID:         c.ID,
		Name:               c.Name,
		Phone:              c.Phone,
		OpeningBalance:     c.OpeningBalance.StringFixed(2),
		OutstandingBalance: c.OutstandingBalance.StringFixed(2),
		Payments:           make([]paymentView, 0, len(records)),
	}
	for _, r := range records {
		view.Payments = append(view.Payments, paymentView{
			ID:            r.ID,
			Amount:        domain.CentsToDecimal(r.AmountCents).StringFixed(2),
			Method:        r.Method,
			TransactionID: r.TransactionID,
			AuthCode:      r.AuthCode,
			ChargeRef:     r.ChargeRef,
			CallLogID:     r.CallLogID,
			CardLast4:     r.CardLast4,
			CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return view
}

func newReconcileView(r *domain.Reconciliation) reconcileView {
	return reconcileView{
		OpeningBalance:  r.OpeningBalance.StringFixed(2),
		TotalPaid:       r.TotalPaid.StringFixed(2),
		StoredBalance:   r.StoredBalance.StringFixed(2),
		ExpectedBalance: r.ExpectedBalance.StringFixed(2),
		RecordCount:     r.RecordCount,
		InSync:          r.InSync(),
		Applied:         r.Applied,
	}
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func writeLedgerTable(w io.Writer, view ledgerView) error {
	fmt.Fprintf(w, "Customer %s (%s, %s)\n", view.CustomerID, view.Name, view.Phone)
	fmt.Fprintf(w, "Opening %s  Outstanding %s\n\n", view.OpeningBalance, view.OutstandingBalance)

	if len(view.Payments) == 0 {
		fmt.Fprintln(w, "No payments recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tAMOUNT\tCARD\tTRANSACTION\tCHARGE REF\tCALL LOG")
	for _, p := range view.Payments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.CreatedAt, p.Amount, "****"+p.CardLast4, p.TransactionID, p.ChargeRef, p.CallLogID)
	}
	return tw.Flush()
}
