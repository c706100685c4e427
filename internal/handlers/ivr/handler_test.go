package ivr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kevin07696/phonepay-ivr/internal/adapters/events"
	"github.com/kevin07696/phonepay-ivr/internal/adapters/memory"
	"github.com/kevin07696/phonepay-ivr/internal/domain"
	"github.com/kevin07696/phonepay-ivr/internal/ivr/callparams"
	"github.com/kevin07696/phonepay-ivr/internal/ivr/flow"
	"github.com/kevin07696/phonepay-ivr/internal/ivr/twiml"
	"github.com/kevin07696/phonepay-ivr/internal/services/ivrpayment"
)

const testCard = "4111111111111111"

type approveAll struct{}

func (approveAll) Charge(context.Context, domain.ChargeRequest) domain.ChargeResult {
	return domain.Approved{TransactionID: "T1", AuthCode: "A1"}
}

func testBuilder() *twiml.Builder {
	return twiml.NewBuilder(twiml.Config{
		ActionURL:            "https://ivr.example.com" + PaymentPath,
		EscalateURL:          "https://ivr.example.com" + EscalatePath,
		StoreName:            "Corner Books",
		DefaultForwardNumber: "+15550001111",
	})
}

func newTestRouter(t *testing.T, logger *zap.Logger) http.Handler {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.Upsert(context.Background(), &domain.Customer{
		ID:                 "cust-1",
		Name:               "Ada",
		Phone:              "+15551230000",
		OpeningBalance:     decimal.RequireFromString("42.17"),
		OutstandingBalance: decimal.RequireFromString("42.17"),
	}))
	svc := ivrpayment.NewService(store, store, approveAll{}, events.NewNoopPublisher(logger), testBuilder(), flow.DefaultRetryPolicy(), logger)

	r := chi.NewRouter()
	NewHandler(svc, logger).Register(r)
	return r
}

func postForm(t *testing.T, h http.Handler, target string, form url.Values) (*httptest.ResponseRecorder, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec, string(body)
}

// actionOf pulls the gather action out of a rendered response
func actionOf(t *testing.T, body string) string {
	t.Helper()
	start := strings.Index(body, `action="`)
	require.GreaterOrEqual(t, start, 0, body)
	rest := body[start+len(`action="`):]
	raw := rest[:strings.Index(rest, `"`)]
	raw = strings.ReplaceAll(raw, "&amp;", "&")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.RequestURI()
}

func TestHandlePayment_EntryFromCarrierForm(t *testing.T) {
	router := newTestRouter(t, zap.NewNop())

	rec, body := postForm(t, router, PaymentPath, url.Values{
		callparams.ParamFrom:    {"+15551230000"},
		callparams.ParamCallSid: {"CA100"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeXML, rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "42 dollars and 17 cents")
	assert.Contains(t, actionOf(t, body), "step=SelectAmount")
	assert.Contains(t, actionOf(t, body), "call_log_id=CA100")
}

func TestHandlePayment_JSONBody(t *testing.T) {
	router := newTestRouter(t, zap.NewNop())

	target, err := callparams.ActionURL(PaymentPath, domain.CallContext{
		CallerNumber: "+15551230000",
		CustomerID:   "cust-1",
		CallLogID:    "CA100",
		Step:         domain.StepSelectAmount,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(`{"Digits":"1","step":"Retry"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	action := actionOf(t, rec.Body.String())
	assert.Contains(t, action, "step=EnterCard")
	assert.Contains(t, action, "amount=4217")
}

func TestHandlePayment_InvalidContextHoldsAndEscalates(t *testing.T) {
	router := newTestRouter(t, zap.NewNop())

	tests := []struct {
		name   string
		target string
	}{
		{"unknown step", PaymentPath + "?step=Bogus&call_log_id=CA1"},
		{"missing customer", PaymentPath + "?step=EnterCard&amount=100"},
		{"negative amount", PaymentPath + "?step=EnterCard&customer_id=cust-1&amount=-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := postForm(t, router, tt.target, url.Values{})

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, body, "something went wrong")
			assert.Contains(t, body, EscalatePath)
			assert.Contains(t, body, "reason="+flow.ReasonInvalidContext)
		})
	}
}

func TestHandlePayment_MalformedJSON(t *testing.T) {
	router := newTestRouter(t, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, PaymentPath, strings.NewReader(`{"Digits":`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reason="+flow.ReasonInvalidContext)
}

func TestHandleEscalate(t *testing.T) {
	router := newTestRouter(t, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, EscalatePath+"?step=EnterCard&customer_id=cust-1&reason=timeout&forward_number=%2B15552223333", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "+15552223333</Dial>")
}

func TestHandleEscalate_UndecodableContextStillConnects(t *testing.T) {
	router := newTestRouter(t, zap.NewNop())

	rec, body := postForm(t, router, EscalatePath+"?step=Nope&amount=abc", url.Values{callparams.ParamFrom: {"+15551230000"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "+15550001111</Dial>")
}

type panickingService struct {
	builder *twiml.Builder
}

func (p panickingService) HandleStep(context.Context, domain.CallContext, string) *twiml.Response {
	panic("boom")
}

func (p panickingService) Escalate(_ context.Context, cc domain.CallContext, _ string) *twiml.Response {
	return p.builder.Escalation(cc)
}

func (p panickingService) Fault(cc domain.CallContext, reason string) *twiml.Response {
	return p.builder.PleaseHold(cc, reason)
}

func TestHandlePayment_RecoversPanic(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(panickingService{builder: testBuilder()}, zap.NewNop()).Register(r)

	rec, body := postForm(t, r, PaymentPath, url.Values{callparams.ParamFrom: {"+15551230000"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "something went wrong")
	assert.Contains(t, body, "reason="+flow.ReasonInternalError)
}

// tornWriter panics on the first body write, after the status line is out
type tornWriter struct {
	*httptest.ResponseRecorder
	headers int
	writes  int
}

func (w *tornWriter) WriteHeader(code int) {
	w.headers++
	w.ResponseRecorder.WriteHeader(code)
}

func (w *tornWriter) Write(b []byte) (int, error) {
	w.writes++
	if w.writes == 1 {
		panic("connection torn mid-write")
	}
	return w.ResponseRecorder.Write(b)
}

// answeringService returns a response from every step
type answeringService struct {
	panickingService
}

func (a answeringService) HandleStep(_ context.Context, cc domain.CallContext, _ string) *twiml.Response {
	return a.builder.Escalation(cc)
}

func TestHandlePayment_PanicAfterResponseStartedWritesNothingMore(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := NewHandler(answeringService{panickingService{builder: testBuilder()}}, zap.New(core))

	tests := []struct {
		name  string
		serve func(w http.ResponseWriter, r *http.Request)
	}{
		{name: "payment", serve: h.HandlePayment},
		{name: "escalate", serve: h.HandleEscalate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &tornWriter{ResponseRecorder: httptest.NewRecorder()}
			req := httptest.NewRequest(http.MethodGet, "/?"+callparams.ParamFrom+"=%2B15551230000", nil)

			tt.serve(w, req)

			assert.Equal(t, 1, w.headers, "status line written once")
			assert.Equal(t, 1, w.writes, "no fault document after the torn write")
			assert.Empty(t, w.Body.String())
		})
	}

	entries := logs.FilterMessage("Panic while handling IVR request").All()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, true, e.ContextMap()["response_started"])
	}
}

func TestHandlePayment_NeverLogsCardData(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	router := newTestRouter(t, zap.New(core))

	cc := domain.CallContext{
		CallerNumber: "+15551230000",
		CustomerID:   "cust-1",
		CallLogID:    "CA100",
		Step:         domain.StepEnterCard,
		AmountCents:  4217,
	}
	for _, digits := range []string{testCard + "#", "0327", "123#", "10001", ""} {
		target, err := callparams.ActionURL(PaymentPath, cc)
		require.NoError(t, err)
		_, body := postForm(t, router, target, url.Values{callparams.ParamDigits: {digits}})

		if strings.Contains(body, "has been approved") {
			break
		}
		if strings.Contains(body, `action="`) {
			cc, err = callparams.Decode(mustQuery(t, actionOf(t, body)))
		} else {
			cc, err = callparams.Decode(mustQuery(t, redirectOf(t, body)))
		}
		require.NoError(t, err)
	}

	require.NotZero(t, logs.Len())
	for _, entry := range logs.All() {
		assert.NotContains(t, entry.Message, testCard)
		for key, value := range entry.ContextMap() {
			assert.NotContains(t, strings.ToLower(key), "cvv")
			assert.NotContains(t, fmtValue(value), testCard, "field %s", key)
		}
	}
}

func redirectOf(t *testing.T, body string) string {
	t.Helper()
	start := strings.Index(body, "<Redirect")
	require.GreaterOrEqual(t, start, 0, body)
	rest := body[start:]
	rest = rest[strings.Index(rest, ">")+1:]
	raw := strings.ReplaceAll(rest[:strings.Index(rest, "<")], "&amp;", "&")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.RequestURI()
}

func mustQuery(t *testing.T, requestURI string) url.Values {
	t.Helper()
	u, err := url.Parse(requestURI)
	require.NoError(t, err)
	return u.Query()
}

func fmtValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func TestRegister_ThrottledPaymentStillEscalates(t *testing.T) {
	store := memory.NewStore()
	svc := ivrpayment.NewService(store, store, approveAll{}, nil, testBuilder(), flow.DefaultRetryPolicy(), zap.NewNop())
	h := NewHandler(svc, zap.NewNop())

	reject := func(http.Handler) http.Handler { return http.HandlerFunc(h.Throttled) }
	r := chi.NewRouter()
	h.Register(r, reject)

	_, body := postForm(t, r, PaymentPath+"?call_log_id=CA9", url.Values{})
	assert.Contains(t, body, "reason="+ReasonThrottled)
	assert.Contains(t, body, "call_log_id=CA9")

	_, body = postForm(t, r, EscalatePath+"?reason="+ReasonThrottled, url.Values{})
	assert.Contains(t, body, "<Dial")
}
