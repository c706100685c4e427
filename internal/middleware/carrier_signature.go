package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// SignatureHeader carries the carrier's request signature
const SignatureHeader = "X-Twilio-Signature"

const maxSignedBodyBytes = 64 << 10

// CarrierSignature rejects webhooks that were not signed with the carrier
// account's auth token.
type CarrierSignature struct {
	authToken string
	// publicBaseURL is the scheme and host the carrier dialled, which may
	// differ from what the server sees behind a proxy
	publicBaseURL string
	logger        *zap.Logger
}

// NewCarrierSignature creates a signature validator. An empty token disables
// validation.
func NewCarrierSignature(authToken, publicBaseURL string, logger *zap.Logger) *CarrierSignature {
	if authToken == "" {
		logger.Warn("Carrier auth token not configured, webhook signatures will not be checked")
	}
	return &CarrierSignature{
		authToken:     authToken,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
	}
}

// Enabled reports whether requests are checked
func (c *CarrierSignature) Enabled() bool {
	return c.authToken != ""
}

// Middleware wraps an HTTP handler with signature validation. A bad
// signature gets 403: the request did not come from the carrier, so there is
// no call to keep alive.
func (c *CarrierSignature) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		signature := r.Header.Get(SignatureHeader)
		if signature == "" {
			c.logger.Warn("Carrier webhook missing signature",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr))
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		form, err := signedForm(r)
		if err != nil {
			c.logger.Warn("Failed to read carrier webhook body",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		expected := Sign(c.authToken, c.requestURL(r), form)
		if !hmac.Equal([]byte(signature), []byte(expected)) {
			c.logger.Warn("Carrier webhook signature mismatch",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr))
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestURL rebuilds the address the carrier signed
func (c *CarrierSignature) requestURL(r *http.Request) string {
	if c.publicBaseURL != "" {
		return c.publicBaseURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// signedForm returns the POSTed form fields and restores the body for the
// next handler. Non-form bodies contribute nothing to the signature.
func signedForm(r *http.Request) (url.Values, error) {
	if r.Method != http.MethodPost || r.Body == nil {
		return nil, nil
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/x-www-form-urlencoded" {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return url.ParseQuery(string(body))
}

// Sign computes the carrier signature: base64(HMAC-SHA1(token, url followed
// by every form key and value, keys sorted)).
func Sign(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
