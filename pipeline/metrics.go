package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics captures pipeline throughput and retry pressure. A nil *Metrics is
// a valid no-op sink.
type Metrics struct {
	runs            *prometheus.CounterVec
	simulateRetries prometheus.Counter
	approvals       prometheus.Counter
	confirmSeconds  prometheus.Histogram
}

// NewMetrics registers the pipeline collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultlink_pipeline_runs_total",
			Help: "Pipeline runs by action kind and outcome.",
		}, []string{"kind", "outcome"}),
		simulateRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultlink_pipeline_simulate_retries_total",
			Help: "Transient simulation failures that were retried.",
		}),
		approvals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultlink_pipeline_approvals_total",
			Help: "Token approvals submitted ahead of an escrow deposit.",
		}),
		confirmSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultlink_pipeline_confirm_seconds",
			Help:    "Time from submission to ledger confirmation.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
	}
	reg.MustRegister(m.runs, m.simulateRetries, m.approvals, m.confirmSeconds)
	return m
}

func (m *Metrics) observeRun(kind Kind, outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) observeSimulateRetry() {
	if m == nil {
		return
	}
	m.simulateRetries.Inc()
}

func (m *Metrics) observeApproval() {
	if m == nil {
		return
	}
	m.approvals.Inc()
}

func (m *Metrics) observeConfirm(d time.Duration) {
	if m == nil {
		return
	}
	m.confirmSeconds.Observe(d.Seconds())
}
