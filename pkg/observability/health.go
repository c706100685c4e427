package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// CheckFunc reports a dependency's health
type CheckFunc func(ctx context.Context) error

// HealthChecker runs named dependency checks
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
	ready   atomic.Bool
}

// NewHealthChecker creates a checker. Readiness starts false until SetReady.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]CheckFunc),
		timeout: 2 * time.Second,
	}
}

// AddCheck registers a dependency check under name
func (h *HealthChecker) AddCheck(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = fn
}

// SetReady flips the readiness probe. It is cleared on shutdown so load
// balancers stop routing callbacks before servers drain.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Check performs health checks and returns the status
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make(map[string]CheckFunc, len(names))
	for _, name := range names {
		checks[name] = h.checks[name]
	}
	h.mu.RUnlock()

	results := make(map[string]string, len(names))
	overall := "healthy"
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := checks[name](checkCtx)
		cancel()

		if err != nil {
			results[name] = "unhealthy: " + err.Error()
			overall = "unhealthy"
			continue
		}
		results[name] = "healthy"
	}

	return HealthStatus{
		Status:    overall,
		Timestamp: time.Now(),
		Checks:    results,
	}
}

// HealthHandler returns an HTTP handler for health checks
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if status.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}

// ReadyHandler answers 200 once SetReady(true) has been called
func (h *HealthChecker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}
