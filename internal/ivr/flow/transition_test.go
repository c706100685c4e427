package flow

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/phonepay-ivr/internal/domain"
)

func customer(balance string) *domain.Customer {
	return &domain.Customer{
		ID:                 "cust-1",
		Name:               "Ada Reader",
		Phone:              "+15551234567",
		OutstandingBalance: decimal.RequireFromString(balance),
	}
}

func baseContext(step domain.Step) domain.CallContext {
	return domain.CallContext{
		CallerNumber:  "+15551234567",
		CustomerID:    "cust-1",
		CustomerName:  "Ada Reader",
		ForwardNumber: "+15550000000",
		CallLogID:     "CA100",
		Step:          step,
	}
}

func TestTransition_CheckBalance(t *testing.T) {
	policy := DefaultRetryPolicy()

	t.Run("unknown caller escalates", func(t *testing.T) {
		cc := domain.CallContext{CallerNumber: "+15559999999", Step: domain.StepCheckBalance}
		out := Transition(cc, Input{}, policy)
		assert.Equal(t, domain.TerminalConnectedToHuman, out.Terminal)
		assert.Equal(t, ReasonCustomerNotFound, out.Reason)
	})

	t.Run("zero balance escalates", func(t *testing.T) {
		cc := domain.CallContext{CallerNumber: "+15551234567", Step: domain.StepCheckBalance}
		out := Transition(cc, Input{Customer: customer("0.00")}, policy)
		assert.Equal(t, domain.TerminalConnectedToHuman, out.Terminal)
		assert.Equal(t, ReasonNoBalanceDue, out.Reason)
	})

	t.Run("balance due prompts menu", func(t *testing.T) {
		cc := domain.CallContext{CallerNumber: "+15551234567", CallLogID: "CA100", Step: domain.StepCheckBalance}
		out := Transition(cc, Input{Customer: customer("42.17")}, policy)
		require.False(t, out.IsTerminal())
		assert.Equal(t, domain.StepSelectAmount, out.Next.Step)
		assert.Equal(t, "cust-1", out.Next.CustomerID)
		assert.Equal(t, "Ada Reader", out.Next.CustomerName)
		assert.Equal(t, int64(4217), out.BalanceCents)
		assert.Zero(t, out.Next.AmountCents)
	})
}

func TestTransition_SelectAmount(t *testing.T) {
	policy := DefaultRetryPolicy()
	cc := baseContext(domain.StepSelectAmount)

	tests := []struct {
		name     string
		digits   string
		wantStep domain.Step
		terminal domain.Terminal
		reason   string
		reprompt bool
	}{
		{name: "pay in full", digits: "1", wantStep: domain.StepEnterCard},
		{name: "other amount", digits: "2", wantStep: domain.StepCustomAmount},
		{name: "representative", digits: "9", terminal: domain.TerminalConnectedToHuman, reason: ReasonCallerRequested},
		{name: "timeout", digits: "", terminal: domain.TerminalConnectedToHuman, reason: ReasonTimeout},
		{name: "unknown key", digits: "5", wantStep: domain.StepSelectAmount, reprompt: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Transition(cc, Input{Digits: tt.digits, Customer: customer("42.17")}, policy)
			assert.Equal(t, tt.terminal, out.Terminal)
			assert.Equal(t, tt.reprompt, out.Reprompt)
			if tt.terminal != domain.TerminalNone {
				assert.Equal(t, tt.reason, out.Reason)
				return
			}
			assert.Equal(t, tt.wantStep, out.Next.Step)
		})
	}

	t.Run("pay in full carries full balance", func(t *testing.T) {
		out := Transition(cc, Input{Digits: "1", Customer: customer("42.17")}, policy)
		assert.Equal(t, int64(4217), out.Next.AmountCents)
	})

	t.Run("balance paid off meanwhile", func(t *testing.T) {
		out := Transition(cc, Input{Digits: "1", Customer: customer("0")}, policy)
		assert.Equal(t, domain.TerminalConnectedToHuman, out.Terminal)
		assert.Equal(t, ReasonNoBalanceDue, out.Reason)
	})
}

func TestTransition_CustomAmountOverBalanceStays(t *testing.T) {
	cc := baseContext(domain.StepCustomAmount)

	out := Transition(cc, Input{Digits: "1500#", Customer: customer("10.00")}, DefaultRetryPolicy())

	assert.False(t, out.IsTerminal())
	assert.True(t, out.Reprompt)
	assert.Equal(t, domain.StepCustomAmount, out.Next.Step)
	assert.Zero(t, out.Next.AmountCents)
}

func TestTransition_CustomAmountValid(t *testing.T) {
	cc := baseContext(domain.StepCustomAmount)

	out := Transition(cc, Input{Digits: "2500#", Customer: customer("42.17")}, DefaultRetryPolicy())

	assert.False(t, out.Reprompt)
	assert.Equal(t, domain.StepEnterCard, out.Next.Step)
	assert.Equal(t, int64(2500), out.Next.AmountCents)
}

func TestTransition_CardDetailSteps(t *testing.T) {
	policy := DefaultRetryPolicy()

	tests := []struct {
		name      string
		step      domain.Step
		valid     string
		invalid   string
		nextStep  domain.Step
		fieldFunc func(domain.CallContext) string
	}{
		{
			name: "card", step: domain.StepEnterCard, valid: "4111111111111111#", invalid: "411111#",
			nextStep: domain.StepEnterExpiry, fieldFunc: func(c domain.CallContext) string { return c.CardNumber },
		},
		{
			name: "expiry", step: domain.StepEnterExpiry, valid: "0327", invalid: "1327",
			nextStep: domain.StepEnterCvv, fieldFunc: func(c domain.CallContext) string { return c.Expiry },
		},
		{
			name: "cvv", step: domain.StepEnterCvv, valid: "123", invalid: "12",
			nextStep: domain.StepEnterZip, fieldFunc: func(c domain.CallContext) string { return c.CVV },
		},
		{
			name: "zip", step: domain.StepEnterZip, valid: "10001", invalid: "1000",
			nextStep: domain.StepProcessPayment, fieldFunc: func(c domain.CallContext) string { return c.Zip },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name+" valid advances", func(t *testing.T) {
			cc := baseContext(tt.step)
			cc.AmountCents = 4217

			out := Transition(cc, Input{Digits: tt.valid}, policy)

			require.False(t, out.IsTerminal())
			assert.False(t, out.Reprompt)
			assert.Equal(t, tt.nextStep, out.Next.Step)
			assert.Equal(t, strings.TrimSuffix(tt.valid, "#"), tt.fieldFunc(out.Next))
			assert.Equal(t, int64(4217), out.Next.AmountCents)
		})

		t.Run(tt.name+" invalid stays", func(t *testing.T) {
			cc := baseContext(tt.step)
			cc.AmountCents = 4217

			out := Transition(cc, Input{Digits: tt.invalid}, policy)

			assert.True(t, out.Reprompt)
			assert.Equal(t, cc, out.Next)
		})
	}
}

func TestTransition_InvalidCardNeverAdvances(t *testing.T) {
	cc := baseContext(domain.StepEnterCard)
	cc.AmountCents = 100

	for n := 0; n <= 30; n++ {
		if n >= 13 && n <= 19 {
			continue
		}
		out := Transition(cc, Input{Digits: strings.Repeat("5", n) + "#"}, DefaultRetryPolicy())
		assert.Equal(t, domain.StepEnterCard, out.Next.Step, "length %d", n)
		assert.True(t, out.Reprompt)
		assert.Empty(t, out.Next.CardNumber)
	}
}

func TestTransition_CardStepWithoutAmountEscalates(t *testing.T) {
	cc := baseContext(domain.StepEnterCard)

	out := Transition(cc, Input{Digits: "4111111111111111#"}, DefaultRetryPolicy())

	assert.Equal(t, domain.TerminalConnectedToHuman, out.Terminal)
	assert.Equal(t, ReasonInvalidContext, out.Reason)
}

func readyContext() domain.CallContext {
	cc := baseContext(domain.StepProcessPayment)
	cc.AmountCents = 4217
	cc.CardNumber = "4111111111111111"
	cc.Expiry = "0327"
	cc.CVV = "123"
	cc.Zip = "10001"
	return cc
}

func TestTransition_ProcessPayment(t *testing.T) {
	policy := DefaultRetryPolicy()

	t.Run("approved confirms", func(t *testing.T) {
		out := Transition(readyContext(), Input{Charge: domain.Approved{TransactionID: "T123", AuthCode: "A1"}}, policy)
		assert.Equal(t, domain.TerminalPaymentConfirmed, out.Terminal)
		assert.Equal(t, "T123", out.ConfirmationNumber)
	})

	t.Run("declined goes to retry", func(t *testing.T) {
		out := Transition(readyContext(), Input{Charge: domain.Declined{Reason: "insufficient funds"}}, policy)
		assert.False(t, out.IsTerminal())
		assert.Equal(t, domain.StepRetry, out.Next.Step)
		assert.True(t, out.CanRetry)
		assert.Equal(t, "insufficient funds", out.Reason)
	})

	t.Run("gateway error is treated like a decline", func(t *testing.T) {
		declined := Transition(readyContext(), Input{Charge: domain.Declined{Reason: "x"}}, policy)
		failed := Transition(readyContext(), Input{Charge: domain.GatewayError{Detail: "timeout"}}, policy)
		assert.Equal(t, declined.Next, failed.Next)
		assert.Equal(t, declined.Terminal, failed.Terminal)
		assert.Equal(t, declined.CanRetry, failed.CanRetry)
	})

	t.Run("missing result escalates", func(t *testing.T) {
		out := Transition(readyContext(), Input{}, policy)
		assert.Equal(t, domain.TerminalConnectedToHuman, out.Terminal)
	})
}

func TestTransition_DeclineThenRetry(t *testing.T) {
	policy := DefaultRetryPolicy()

	declined := Transition(readyContext(), Input{Charge: domain.Declined{Reason: "do not honor"}}, policy)
	require.Equal(t, domain.StepRetry, declined.Next.Step)

	out := Transition(declined.Next, Input{Digits: "1"}, policy)

	require.False(t, out.IsTerminal())
	assert.Equal(t, domain.StepEnterCard, out.Next.Step)
	assert.Equal(t, int64(4217), out.Next.AmountCents)
	assert.Empty(t, out.Next.CardNumber)
	assert.Empty(t, out.Next.Expiry)
	assert.Empty(t, out.Next.CVV)
	assert.Empty(t, out.Next.Zip)
	assert.Equal(t, 1, out.Next.RetryCount)
	assert.Equal(t, "cust-1", out.Next.CustomerID)
}

func TestTransition_RetryBounded(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 1}
	cc := readyContext().WithNewCardAttempt()
	cc.Step = domain.StepRetry

	out := Transition(cc, Input{Digits: "1"}, policy)

	assert.Equal(t, domain.TerminalConnectedToHuman, out.Terminal)
	assert.Equal(t, ReasonRetriesExhausted, out.Reason)

	declined := Transition(cc.WithStep(domain.StepProcessPayment), Input{Charge: domain.Declined{}}, policy)
	assert.False(t, declined.CanRetry)
}

func TestTransition_RetryOtherKeys(t *testing.T) {
	cc := readyContext().WithStep(domain.StepRetry)

	human := Transition(cc, Input{Digits: "2"}, DefaultRetryPolicy())
	assert.Equal(t, domain.TerminalConnectedToHuman, human.Terminal)
	assert.Equal(t, ReasonCallerRequested, human.Reason)

	timeout := Transition(cc, Input{}, DefaultRetryPolicy())
	assert.Equal(t, ReasonTimeout, timeout.Reason)

	bad := Transition(cc, Input{Digits: "7"}, DefaultRetryPolicy())
	assert.True(t, bad.Reprompt)
	assert.Equal(t, domain.StepRetry, bad.Next.Step)
}

func TestTransition_NeverDropsPopulatedFields(t *testing.T) {
	policy := DefaultRetryPolicy()
	cc := domain.CallContext{CallerNumber: "+15551234567", CallLogID: "CA100", ForwardNumber: "+15550000000", Step: domain.StepCheckBalance}

	inputs := []Input{
		{Customer: customer("42.17")},
		{Digits: "1", Customer: customer("42.17")},
		{Digits: "4111111111111111#"},
		{Digits: "0327"},
		{Digits: "123"},
		{Digits: "10001"},
	}

	for _, in := range inputs {
		out := Transition(cc, in, policy)
		require.False(t, out.IsTerminal(), "step %s", cc.Step)
		assertKeeps(t, cc, out.Next)
		cc = out.Next
	}
	assert.Equal(t, domain.StepProcessPayment, cc.Step)
	assert.NoError(t, ReadyToCharge(cc))
}

func TestTransition_NeverEndsInHangup(t *testing.T) {
	policy := DefaultRetryPolicy()
	inputs := []Input{
		{},
		{Customer: customer("42.17")},
		{Customer: customer("0.00")},
		{Digits: "1", Customer: customer("42.17")},
		{Digits: "2"},
		{Digits: "0"},
		{Digits: "9"},
		{Digits: "4111111111111111#"},
		{Charge: domain.Approved{TransactionID: "GUID-1"}},
		{Charge: domain.Declined{Reason: "do not honor"}},
		{Charge: domain.GatewayError{Detail: "timeout"}},
	}

	for _, step := range domain.Steps() {
		for _, cc := range []domain.CallContext{baseContext(step), readyContext().WithStep(step)} {
			for _, in := range inputs {
				out := Transition(cc, in, policy)
				assert.NotEqual(t, domain.TerminalHangup, out.Terminal, "step %s input %+v", step, in)
			}
		}
	}
}

// assertKeeps checks that every field set in before is unchanged in after
func assertKeeps(t *testing.T, before, after domain.CallContext) {
	t.Helper()
	check := func(name, b, a string) {
		if b != "" {
			assert.Equal(t, b, a, name)
		}
	}
	check("caller_number", before.CallerNumber, after.CallerNumber)
	check("customer_id", before.CustomerID, after.CustomerID)
	check("customer_name", before.CustomerName, after.CustomerName)
	check("forward_number", before.ForwardNumber, after.ForwardNumber)
	check("call_log_id", before.CallLogID, after.CallLogID)
	check("card", before.CardNumber, after.CardNumber)
	check("expiry", before.Expiry, after.Expiry)
	check("cvv", before.CVV, after.CVV)
	check("zip", before.Zip, after.Zip)
	if before.AmountCents != 0 {
		assert.Equal(t, before.AmountCents, after.AmountCents, "amount")
	}
	assert.Equal(t, before.RetryCount, after.RetryCount, "retry")
}

func TestReadyToCharge(t *testing.T) {
	assert.NoError(t, ReadyToCharge(readyContext()))

	missingCvv := readyContext()
	missingCvv.CVV = ""
	assert.True(t, domain.IsDomainError(ReadyToCharge(missingCvv), domain.ErrorCodeValidationMissingField))

	wrongStep := readyContext().WithStep(domain.StepEnterZip)
	assert.Error(t, ReadyToCharge(wrongStep))

	noAmount := readyContext()
	noAmount.AmountCents = 0
	assert.Error(t, ReadyToCharge(noAmount))
}
