package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	shutdownDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shutdown_duration_seconds",
		Help:    "Total time taken to shut down",
		Buckets: []float64{0.5, 1, 5, 10, 15, 20, 30},
	})

	componentShutdownDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "component_shutdown_duration_seconds",
		Help:    "Time taken to shut down individual components",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
	}, []string{"component"})

	shutdownErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shutdown_errors_total",
		Help: "Shutdown errors by component",
	}, []string{"component"})
)

// ShutdownFunc stops one component
type ShutdownFunc func(context.Context) error

// Component is a registered shutdown step
type Component struct {
	Name         string
	ShutdownFunc ShutdownFunc
}

// Manager stops components in reverse registration order, one at a time.
// Register the database before the webhook server so in-flight charges can
// still write to the ledger while the server drains.
type Manager struct {
	logger     *zap.Logger
	components []Component
	mu         sync.Mutex
	timeout    time.Duration
	once       sync.Once
	err        error
}

// NewManager creates a new shutdown manager
func NewManager(logger *zap.Logger, timeout time.Duration) *Manager {
	return &Manager{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a component
func (sm *Manager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.components = append(sm.components, Component{Name: name, ShutdownFunc: fn})
	sm.logger.Debug("Registered shutdown component",
		zap.String("component", name),
		zap.Int("registration_order", len(sm.components)),
	)
}

// RegisterHTTPServer registers anything with an http.Server style Shutdown
func (sm *Manager) RegisterHTTPServer(name string, server interface{ Shutdown(context.Context) error }) {
	sm.Register(name, server.Shutdown)
}

// RegisterCloser registers a component with a Close() error method
func (sm *Manager) RegisterCloser(name string, closer interface{ Close() error }) {
	sm.Register(name, func(context.Context) error {
		return closer.Close()
	})
}

// RegisterNoErr registers a shutdown function that cannot fail
func (sm *Manager) RegisterNoErr(name string, fn func()) {
	sm.Register(name, func(context.Context) error {
		fn()
		return nil
	})
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Shutdown stops every component within the manager's timeout. Later calls
// return the first call's result.
func (sm *Manager) Shutdown() error {
	sm.once.Do(func() {
		sm.err = sm.shutdown()
	})
	return sm.err
}

func (sm *Manager) shutdown() error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.mu.Lock()
	components := make([]Component, len(sm.components))
	copy(components, sm.components)
	sm.mu.Unlock()

	sm.logger.Info("Starting graceful shutdown",
		zap.Int("component_count", len(components)),
		zap.Duration("timeout", sm.timeout),
	)

	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		comp := components[i]
		compStart := time.Now()

		err := comp.ShutdownFunc(ctx)
		componentShutdownDuration.WithLabelValues(comp.Name).Observe(time.Since(compStart).Seconds())
		if err != nil {
			shutdownErrors.WithLabelValues(comp.Name).Inc()
			sm.logger.Error("Component shutdown failed",
				zap.String("component", comp.Name),
				zap.Duration("elapsed", time.Since(compStart)),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", comp.Name, err))
			continue
		}
		sm.logger.Info("Component shut down",
			zap.String("component", comp.Name),
			zap.Duration("elapsed", time.Since(compStart)),
		)
	}

	elapsed := time.Since(start)
	shutdownDuration.Observe(elapsed.Seconds())
	if len(errs) > 0 {
		sm.logger.Error("Graceful shutdown completed with errors",
			zap.Int("error_count", len(errs)),
			zap.Duration("elapsed", elapsed),
		)
		return errors.Join(errs...)
	}
	sm.logger.Info("Graceful shutdown completed", zap.Duration("elapsed", elapsed))
	return nil
}
