package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// keyLimiter tracks a rate limiter and its last access time
type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimitConfig bounds requests per client key
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// MaxKeys caps the limiter cache; the least recently seen key is evicted
	MaxKeys         int
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig allows a busy carrier edge node a steady stream of
// callbacks while stopping a looping client.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		Burst:             40,
		MaxKeys:           10000,
		CleanupInterval:   5 * time.Minute,
	}
}

// RateLimiter limits requests per client key with automatic cleanup
type RateLimiter struct {
	cfg      RateLimitConfig
	limiters map[string]*keyLimiter
	mu       sync.Mutex
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time

	// KeyFunc picks the bucket for a request. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// OnLimit answers a rejected request. Defaults to a plain 429.
	OnLimit http.HandlerFunc
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop
func NewRateLimiter(cfg RateLimitConfig, logger *zap.Logger) *RateLimiter {
	def := DefaultRateLimitConfig()
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = def.MaxKeys
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	// a zero burst would reject every request
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.RequestsPerSecond))
	}
	rl := &RateLimiter{
		cfg:      cfg,
		limiters: make(map[string]*keyLimiter),
		logger:   logger,
		stopCh:   make(chan struct{}),
		now:      time.Now,
		KeyFunc:  ClientIP,
	}

	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup drops keys not seen for a full cleanup interval
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.cfg.CleanupInterval)
	removed := 0
	for key, l := range rl.limiters {
		if l.lastAccess.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("Rate limiter cleanup",
			zap.Int("removed", removed),
			zap.Int("remaining", len(rl.limiters)),
		)
	}
}

// Shutdown stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Shutdown() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow reports whether a request for key may proceed now
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).AllowN(rl.now(), 1)
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if l, ok := rl.limiters[key]; ok {
		l.lastAccess = now
		return l.limiter
	}

	if len(rl.limiters) >= rl.cfg.MaxKeys {
		var (
			oldestKey  string
			oldestTime time.Time
			first      = true
		)
		for k, l := range rl.limiters {
			if first || l.lastAccess.Before(oldestTime) {
				oldestKey, oldestTime, first = k, l.lastAccess, false
			}
		}
		delete(rl.limiters, oldestKey)
	}

	l := &keyLimiter{
		limiter:    rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst),
		lastAccess: now,
	}
	rl.limiters[key] = l
	return l.limiter
}

// Middleware returns HTTP middleware that applies rate limiting
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.KeyFunc(r)
		if rl.Allow(key) {
			next.ServeHTTP(w, r)
			return
		}

		rl.logger.Warn("Rate limit exceeded",
			zap.String("key", key),
			zap.String("path", r.URL.Path),
		)
		if rl.OnLimit != nil {
			rl.OnLimit(w, r)
			return
		}
		http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	})
}

// ClientIP returns the host part of RemoteAddr. Run chi's RealIP middleware
// first when the service sits behind a proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
