// Package callparams carries a CallContext across carrier callbacks as plain
// query parameters. It is the only place the flow's state is encoded.
package callparams

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/kevin07696/phonepay-ivr/internal/domain"
)

// Parameter names understood on every callback
const (
	ParamCallerNumber  = "caller_number"
	ParamCustomerID    = "customer_id"
	ParamCustomerName  = "customer_name"
	ParamForwardNumber = "forward_number"
	ParamCallLogID     = "call_log_id"
	ParamStep          = "step"
	ParamAmount        = "amount"
	ParamCard          = "card"
	ParamExpiry        = "expiry"
	ParamCvv           = "cvv"
	ParamZip           = "zip"
	ParamRetry         = "retry"
	ParamReason        = "reason"

	// Set by the carrier
	ParamDigits  = "Digits"
	ParamFrom    = "From"
	ParamCallSid = "CallSid"
)

// Encode writes every populated field of cc. Empty fields are omitted so a
// decoded context is equal to the encoded one.
func Encode(cc domain.CallContext) url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	set(ParamCallerNumber, cc.CallerNumber)
	set(ParamCustomerID, cc.CustomerID)
	set(ParamCustomerName, cc.CustomerName)
	set(ParamForwardNumber, cc.ForwardNumber)
	set(ParamCallLogID, cc.CallLogID)
	set(ParamStep, string(cc.Step))
	if cc.AmountCents > 0 {
		v.Set(ParamAmount, strconv.FormatInt(cc.AmountCents, 10))
	}
	set(ParamCard, cc.CardNumber)
	set(ParamExpiry, cc.Expiry)
	set(ParamCvv, cc.CVV)
	set(ParamZip, cc.Zip)
	if cc.RetryCount > 0 {
		v.Set(ParamRetry, strconv.Itoa(cc.RetryCount))
	}
	return v
}

// Decode rebuilds a CallContext. On the entry step the carrier's From and
// CallSid fill in a missing caller number and call log id.
func Decode(v url.Values) (domain.CallContext, error) {
	step, err := domain.ParseStep(strings.TrimSpace(v.Get(ParamStep)))
	if err != nil {
		return domain.CallContext{}, err
	}

	cc := domain.CallContext{
		CallerNumber:  strings.TrimSpace(v.Get(ParamCallerNumber)),
		CustomerID:    strings.TrimSpace(v.Get(ParamCustomerID)),
		CustomerName:  strings.TrimSpace(v.Get(ParamCustomerName)),
		ForwardNumber: strings.TrimSpace(v.Get(ParamForwardNumber)),
		CallLogID:     strings.TrimSpace(v.Get(ParamCallLogID)),
		Step:          step,
		CardNumber:    v.Get(ParamCard),
		Expiry:        v.Get(ParamExpiry),
		CVV:           v.Get(ParamCvv),
		Zip:           v.Get(ParamZip),
	}

	if raw := v.Get(ParamAmount); raw != "" {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || amount < 0 {
			return domain.CallContext{}, domain.WrapError(domain.ErrorCodeCallContextInvalid, "invalid amount parameter",
				fmt.Errorf("amount %q", raw))
		}
		cc.AmountCents = amount
	}
	if raw := v.Get(ParamRetry); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return domain.CallContext{}, domain.WrapError(domain.ErrorCodeCallContextInvalid, "invalid retry parameter",
				fmt.Errorf("retry %q", raw))
		}
		cc.RetryCount = n
	}

	if step == domain.StepCheckBalance {
		if cc.CallerNumber == "" {
			cc.CallerNumber = strings.TrimSpace(v.Get(ParamFrom))
		}
		if cc.CallLogID == "" {
			cc.CallLogID = strings.TrimSpace(v.Get(ParamCallSid))
		}
	}

	return cc, cc.Validate()
}

// Digits returns the carrier-delivered keypresses, if any
func Digits(v url.Values) string {
	return strings.TrimSpace(v.Get(ParamDigits))
}

// ActionURL builds the callback address for cc on top of base. Any query
// already on base is kept; flow parameters replace same-named ones.
func ActionURL(base string, cc domain.CallContext) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse callback base %q: %w", base, err)
	}
	q := u.Query()
	for key, values := range Encode(cc) {
		q[key] = values
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// EscalationURL builds the human hand-off address. Only the fields the
// hand-off needs are carried; card data never is.
func EscalationURL(base string, cc domain.CallContext, reason string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse escalation base %q: %w", base, err)
	}
	q := u.Query()
	set := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	set(ParamCallerNumber, cc.CallerNumber)
	set(ParamCustomerID, cc.CustomerID)
	set(ParamCustomerName, cc.CustomerName)
	set(ParamForwardNumber, cc.ForwardNumber)
	set(ParamCallLogID, cc.CallLogID)
	set(ParamStep, string(cc.Step))
	set(ParamReason, reason)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
