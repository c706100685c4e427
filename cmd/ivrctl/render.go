package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kevin07696/phonepay-ivr/internal/domain"
	"github.com/kevin07696/phonepay-ivr/internal/ivr/twiml"
)

// renderCmd prints the TwiML a caller would hear at a step, with placeholder
// call data, so prompt wording can be reviewed without placing a call.
func (a *app) renderCmd() *cobra.Command {
	var (
		step       string
		baseURL    string
		storeName  string
		balance    int64
		reprompt   bool
		canRetry   bool
		confirmNbr string
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the TwiML for a flow step",
		RunE: func(cmd *cobra.Command, args []string) error {
			builder := twiml.NewBuilder(twiml.Config{
				ActionURL:            baseURL + "/ivr/payment",
				EscalateURL:          baseURL + "/ivr/escalate",
				StoreName:            storeName,
				GatherTimeoutSeconds: 10,
				DialTimeoutSeconds:   30,
			})
			cc := domain.CallContext{
				CallerNumber: "+15555550100",
				CustomerID:   "CUST-PREVIEW",
				CustomerName: "Preview Customer",
				CallLogID:    "preview",
				AmountCents:  balance,
			}

			var (
				resp *twiml.Response
				err  error
			)
			switch step {
			case "Confirmation":
				resp = builder.Confirmation(cc, confirmNbr)
			case "Escalation":
				resp = builder.Escalation(cc)
			case "PleaseHold":
				resp = builder.PleaseHold(cc, "internal_error")
			case "Hangup":
				resp = builder.Hangup()
			default:
				parsed, perr := domain.ParseStep(step)
				if perr != nil {
					return perr
				}
				resp, err = builder.Prompt(cc.WithStep(parsed), twiml.PromptOptions{
					Reprompt:     reprompt,
					BalanceCents: balance,
					CanRetry:     canRetry,
				})
				if err != nil {
					return err
				}
			}

			out, err := resp.Render()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&step, "step", string(domain.StepSelectAmount),
		"flow step, or one of Confirmation, Escalation, PleaseHold, Hangup")
	cmd.Flags().StringVar(&baseURL, "base-url", "https://ivr.example.com", "public base URL for callbacks")
	cmd.Flags().StringVar(&storeName, "store-name", "the bookstore", "store name spoken in greetings")
	cmd.Flags().Int64Var(&balance, "balance-cents", 4217, "balance to read back")
	cmd.Flags().BoolVar(&reprompt, "reprompt", false, "render the invalid-input variant")
	cmd.Flags().BoolVar(&canRetry, "can-retry", true, "offer a new card on the Retry step")
	cmd.Flags().StringVar(&confirmNbr, "confirmation", "09LMQ886L2", "confirmation number for Confirmation")
	return cmd
}
