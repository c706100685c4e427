package epx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/phonepay-ivr/internal/domain"
)

func testConfig(baseURL string) *ServerPostConfig {
	cfg := DefaultServerPostConfig("sandbox")
	cfg.BaseURL = baseURL
	cfg.CustNbr = "9001"
	cfg.MerchNbr = "900300"
	cfg.DBANbr = "2"
	cfg.TerminalNbr = "77"
	cfg.Timeout = 2 * time.Second
	return cfg
}

func testRequest() domain.ChargeRequest {
	return domain.ChargeRequest{
		ChargeRef:    "CA100-0",
		AmountCents:  4217,
		CardNumber:   "4111111111111111",
		Expiry:       "0327",
		CVV:          "123",
		Zip:          "10001",
		CustomerID:   "cust-1",
		CustomerName: "Ada Lovelace Reader",
	}
}

// gatewayStub answers every POST with body and records the submitted form
func gatewayStub(t *testing.T, status int, body string) (*httptest.Server, *url.Values, *int32) {
	t.Helper()
	var (
		form  url.Values
		calls int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &form, &calls
}

func newTestAdapter(t *testing.T, baseURL string) *serverPostAdapter {
	t.Helper()
	a := newServerPostAdapter(testConfig(baseURL), &http.Client{Timeout: 2 * time.Second}, zap.NewNop())
	a.now = func() time.Time { return time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC) }
	return a
}

func TestCharge_Approved(t *testing.T) {
	srv, form, _ := gatewayStub(t, http.StatusOK,
		`<RESPONSE><FIELDS><FIELD KEY="AUTH_GUID">09LMQ886L2K2W11MPX1</FIELD><FIELD KEY="AUTH_RESP">00</FIELD><FIELD KEY="AUTH_CODE">057579</FIELD><FIELD KEY="AUTH_RESP_TEXT">APPROVAL</FIELD></FIELDS></RESPONSE>`)

	result := newTestAdapter(t, srv.URL).Charge(context.Background(), testRequest())

	approved, ok := result.(domain.Approved)
	require.True(t, ok, "got %#v", result)
	assert.Equal(t, "09LMQ886L2K2W11MPX1", approved.TransactionID)
	assert.Equal(t, "057579", approved.AuthCode)

	assert.Equal(t, TranTypeSale, form.Get("TRAN_TYPE"))
	assert.Equal(t, "42.17", form.Get("AMOUNT"))
	assert.Equal(t, "4111111111111111", form.Get("ACCOUNT_NBR"))
	assert.Equal(t, "2703", form.Get("EXP_DATE"))
	assert.Equal(t, "123", form.Get("CVV2"))
	assert.Equal(t, "10001", form.Get("ZIP_CODE"))
	assert.Equal(t, TranNbr("CA100-0"), form.Get("TRAN_NBR"))
	assert.Equal(t, "CA100-0", form.Get("USER_DATA_1"))
	assert.Equal(t, "20260314", form.Get("BATCH_ID"))
	assert.Equal(t, "031426", form.Get("LOCAL_DATE"))
	assert.Equal(t, "150926", form.Get("LOCAL_TIME"))
	assert.Equal(t, "Ada", form.Get("FIRST_NAME"))
	assert.Equal(t, "Lovelace Reader", form.Get("LAST_NAME"))
	assert.Equal(t, "9001", form.Get("CUST_NBR"))
}

func TestCharge_DecodesResponseCodes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		outcome domain.ChargeOutcome
		detail  string
	}{
		{
			name:    "insufficient funds key-value",
			body:    "AUTH_GUID=G1&AUTH_RESP=51&AUTH_RESP_TEXT=INSUFF+FUNDS",
			outcome: domain.ChargeOutcomeDeclined,
			detail:  "INSUFF FUNDS",
		},
		{
			name:    "unknown code is a decline",
			body:    "AUTH_GUID=G1&AUTH_RESP=ZZ",
			outcome: domain.ChargeOutcomeDeclined,
			detail:  "Unknown response code",
		},
		{
			name:    "issuer timeout is a gateway error",
			body:    "AUTH_GUID=G1&AUTH_RESP=91",
			outcome: domain.ChargeOutcomeError,
			detail:  "Issuer or switch timeout",
		},
		{
			name:    "approved without guid is unreadable",
			body:    "AUTH_RESP=00",
			outcome: domain.ChargeOutcomeError,
		},
		{
			name:    "garbage",
			body:    "<html>oops",
			outcome: domain.ChargeOutcomeError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := gatewayStub(t, http.StatusOK, tt.body)

			result := newTestAdapter(t, srv.URL).Charge(context.Background(), testRequest())

			assert.Equal(t, tt.outcome, result.Outcome())
			if tt.detail == "" {
				return
			}
			switch r := result.(type) {
			case domain.Declined:
				assert.Equal(t, tt.detail, r.Reason)
			case domain.GatewayError:
				assert.Equal(t, tt.detail, r.Detail)
			}
		})
	}
}

func TestCharge_NeverRetries(t *testing.T) {
	srv, _, calls := gatewayStub(t, http.StatusBadGateway, "bad gateway")

	result := newTestAdapter(t, srv.URL).Charge(context.Background(), testRequest())

	assert.Equal(t, domain.ChargeOutcomeError, result.Outcome())
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestCharge_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	result := newTestAdapter(t, srv.URL).Charge(context.Background(), testRequest())

	_, ok := result.(domain.GatewayError)
	assert.True(t, ok)
}

func TestCharge_OpenCircuitFailsFast(t *testing.T) {
	srv, _, calls := gatewayStub(t, http.StatusServiceUnavailable, "")
	a := newTestAdapter(t, srv.URL)

	for i := 0; i < int(DefaultCircuitBreakerConfig().MaxFailures); i++ {
		a.Charge(context.Background(), testRequest())
	}
	require.Equal(t, StateOpen, a.circuitBreaker.State())

	result := a.Charge(context.Background(), testRequest())

	gwErr, ok := result.(domain.GatewayError)
	require.True(t, ok)
	assert.Equal(t, "gateway unavailable", gwErr.Detail)
	assert.Equal(t, int32(DefaultCircuitBreakerConfig().MaxFailures), atomic.LoadInt32(calls))
}

func TestCharge_InvalidRequestNeverSent(t *testing.T) {
	srv, _, calls := gatewayStub(t, http.StatusOK, "AUTH_GUID=G&AUTH_RESP=00")

	req := testRequest()
	req.Expiry = "327"
	result := newTestAdapter(t, srv.URL).Charge(context.Background(), req)

	assert.Equal(t, domain.ChargeOutcomeError, result.Outcome())
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestCharge_MissingMerchantConfig(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.MerchNbr = ""
	a := newServerPostAdapter(cfg, http.DefaultClient, zap.NewNop())

	result := a.Charge(context.Background(), testRequest())

	gwErr, ok := result.(domain.GatewayError)
	require.True(t, ok)
	assert.Contains(t, gwErr.Detail, "merch_nbr")
}

func TestTranNbr_Deterministic(t *testing.T) {
	assert.Equal(t, TranNbr("CA100-0"), TranNbr("CA100-0"))
	assert.NotEqual(t, TranNbr("CA100-0"), TranNbr("CA100-1"))
	assert.LessOrEqual(t, len(TranNbr("anything")), 10)
}

func TestGetResponseCodeInfo(t *testing.T) {
	assert.True(t, GetResponseCodeInfo("00").IsApproved)
	assert.True(t, GetResponseCodeInfo("96").IsSystemError())
	assert.False(t, GetResponseCodeInfo("05").IsSystemError())
	assert.False(t, GetResponseCodeInfo("nope").IsApproved)
}
