package shutdown

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// InFlightTracker counts requests that must finish before their
// dependencies close. A ProcessPayment callback that has charged a card still
// has to reach the ledger.
type InFlightTracker struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	draining bool
	logger   *zap.Logger
	name     string
}

// NewInFlightTracker creates a new in-flight work tracker
func NewInFlightTracker(name string, logger *zap.Logger) *InFlightTracker {
	return &InFlightTracker{logger: logger, name: name}
}

// Add counts one unit of work. It returns false once draining has started.
func (t *InFlightTracker) Add() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining {
		return false
	}
	t.wg.Add(1)
	return true
}

// Done marks one unit of work finished
func (t *InFlightTracker) Done() {
	t.wg.Done()
}

// IsShuttingDown reports whether draining has started
func (t *InFlightTracker) IsShuttingDown() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.draining
}

// Middleware tracks every request. Requests that arrive while draining are
// still served: a caller mid-flow is never cut off, and the HTTP server has
// already stopped accepting new connections by then.
func (t *InFlightTracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.Add() {
			defer t.Done()
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops counting new work and waits for the current work
func (t *InFlightTracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.draining = true
	t.mu.Unlock()

	t.logger.Info("Waiting for in-flight requests", zap.String("tracker", t.name))

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("All in-flight requests completed", zap.String("tracker", t.name))
		return nil
	case <-ctx.Done():
		t.logger.Warn("Shutdown timeout with requests still in flight", zap.String("tracker", t.name))
		return ctx.Err()
	}
}
