package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testToken   = "12345"
	testBaseURL = "https://mycompany.com"
)

func TestSign_KnownVector(t *testing.T) {
	// Worked example from the carrier's request validation guide
	form := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"Caller":  {"+12349013030"},
		"Digits":  {"1234"},
		"From":    {"+12349013030"},
		"To":      {"+18005551212"},
	}
	got := Sign(testToken, "https://mycompany.com/myapp.php?foo=1&bar=2", form)
	assert.Equal(t, "0/KCTR6DLpKmkAf8muzZqo1nDgQ=", got)
}

func TestCarrierSignature_Middleware(t *testing.T) {
	form := url.Values{"Digits": {"1"}, "CallSid": {"CA1"}}
	target := "/ivr/payment?step=SelectAmount&customer_id=cust-1"
	valid := Sign(testToken, testBaseURL+target, form)

	tests := []struct {
		name      string
		token     string
		signature string
		wantCode  int
	}{
		{name: "valid signature", token: testToken, signature: valid, wantCode: http.StatusOK},
		{name: "missing signature", token: testToken, wantCode: http.StatusForbidden},
		{name: "wrong signature", token: testToken, signature: "bm9wZQ==", wantCode: http.StatusForbidden},
		{name: "disabled without token", token: "", wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotDigits string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, r.ParseForm())
				gotDigits = r.PostForm.Get("Digits")
				w.WriteHeader(http.StatusOK)
			})
			h := NewCarrierSignature(tt.token, testBaseURL, zap.NewNop()).Middleware(next)

			req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.signature != "" {
				req.Header.Set(SignatureHeader, tt.signature)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, "1", gotDigits, "body must survive validation")
			}
		})
	}
}

func TestCarrierSignature_TamperedQuery(t *testing.T) {
	form := url.Values{"Digits": {"1"}}
	signed := "/ivr/payment?step=SelectAmount&amount=100"
	sig := Sign(testToken, testBaseURL+signed, form)

	h := NewCarrierSignature(testToken, testBaseURL, zap.NewNop()).Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodPost, "/ivr/payment?step=SelectAmount&amount=1", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(SignatureHeader, sig)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCarrierSignature_RequestURLWithoutBase(t *testing.T) {
	c := NewCarrierSignature(testToken, "", zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "http://ivr.internal/ivr/escalate?reason=timeout", nil)
	req.Header.Set("X-Forwarded-Proto", "https")

	assert.Equal(t, "https://ivr.internal/ivr/escalate?reason=timeout", c.requestURL(req))
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<Response/>")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ivr/payment", nil))

	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
