package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T, cfg RateLimitConfig) (*RateLimiter, *time.Time) {
	t.Helper()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(cfg, zap.NewNop())
	rl.now = func() time.Time { return clock }
	t.Cleanup(rl.Shutdown)
	return rl, &clock
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	rl, clock := newTestLimiter(t, RateLimitConfig{RequestsPerSecond: 1, Burst: 2})

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "keys are limited independently")

	*clock = clock.Add(time.Second)
	assert.True(t, rl.Allow("10.0.0.1"))
}

func TestRateLimiter_EvictsOldestKey(t *testing.T) {
	rl, clock := newTestLimiter(t, RateLimitConfig{RequestsPerSecond: 1, Burst: 1, MaxKeys: 2})

	rl.Allow("a")
	*clock = clock.Add(time.Millisecond)
	rl.Allow("b")
	*clock = clock.Add(time.Millisecond)
	rl.Allow("c")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.limiters, 2)
	assert.NotContains(t, rl.limiters, "a")
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl, clock := newTestLimiter(t, RateLimitConfig{RequestsPerSecond: 1, Burst: 1, CleanupInterval: time.Minute})

	rl.Allow("stale")
	*clock = clock.Add(2 * time.Minute)
	rl.Allow("fresh")
	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.limiters, "stale")
	assert.Contains(t, rl.limiters, "fresh")
}

func TestRateLimiter_Middleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name     string
		onLimit  http.HandlerFunc
		wantCode int
	}{
		{name: "default 429", wantCode: http.StatusTooManyRequests},
		{
			name:     "custom rejection",
			onLimit:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) },
			wantCode: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl, _ := newTestLimiter(t, RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
			rl.OnLimit = tt.onLimit
			h := rl.Middleware(next)

			first := httptest.NewRecorder()
			h.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/ivr/payment", nil))
			assert.Equal(t, http.StatusOK, first.Code)

			second := httptest.NewRecorder()
			h.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/ivr/payment", nil))
			assert.Equal(t, tt.wantCode, second.Code)
		})
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:51234"
	assert.Equal(t, "203.0.113.9", ClientIP(r))

	r.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "203.0.113.9", ClientIP(r))
}
