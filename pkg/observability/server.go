package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewAdminServer builds the HTTP server for Prometheus metrics and probes.
// The caller owns ListenAndServe and Shutdown.
func NewAdminServer(addr string, healthChecker *HealthChecker) *http.Server {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	if healthChecker != nil {
		mux.HandleFunc("/health", healthChecker.HealthHandler())
		mux.HandleFunc("/ready", healthChecker.ReadyHandler())
	}

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}
