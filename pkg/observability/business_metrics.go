package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ivrStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ivr_steps_total",
		Help: "Webhook callbacks handled, by flow step",
	}, []string{"step"})

	ivrRepromptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ivr_reprompts_total",
		Help: "Rejected caller input that repeated a step",
	}, []string{"step"})

	ivrEscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ivr_escalations_total",
		Help: "Calls handed to a representative, by reason",
	}, []string{"reason"})

	ivrFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ivr_faults_total",
		Help: "Callbacks answered with the please-hold fallback",
	}, []string{"kind"}) // error, panic, invalid_context

	paymentChargesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_charges_total",
		Help: "Gateway charge attempts by outcome",
	}, []string{"outcome"}) // approved, declined, error

	paymentAmountCents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_approved_amount_cents_total",
		Help: "Total approved amount in cents",
	})

	gatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "payment_gateway_duration_seconds",
		Help: "Time spent waiting for the payment gateway",
		// Buckets: 100ms to 30s (typical payment processing times)
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})

	ledgerWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_writes_total",
		Help: "Ledger write attempts by result",
	}, []string{"result"}) // applied, duplicate, failed, replayed
)

// Ledger write results
const (
	LedgerApplied   = "applied"
	LedgerDuplicate = "duplicate"
	LedgerFailed    = "failed"
	LedgerReplayed  = "replayed"
)

// RecordStep counts one callback for step
func RecordStep(step string) {
	ivrStepsTotal.WithLabelValues(step).Inc()
}

// RecordReprompt counts rejected input
func RecordReprompt(step string) {
	ivrRepromptsTotal.WithLabelValues(step).Inc()
}

// RecordEscalation counts a hand-off to a representative
func RecordEscalation(reason string) {
	ivrEscalationsTotal.WithLabelValues(reason).Inc()
}

// RecordFault counts a please-hold response
func RecordFault(kind string) {
	ivrFaultsTotal.WithLabelValues(kind).Inc()
}

// RecordCharge records one gateway call. Only approved charges count
// toward the amount total.
func RecordCharge(outcome string, amountCents int64, elapsed time.Duration) {
	paymentChargesTotal.WithLabelValues(outcome).Inc()
	gatewayLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if outcome == "approved" {
		paymentAmountCents.Add(float64(amountCents))
	}
}

// RecordLedgerWrite records the result of a ledger write
func RecordLedgerWrite(result string) {
	ledgerWritesTotal.WithLabelValues(result).Inc()
}
