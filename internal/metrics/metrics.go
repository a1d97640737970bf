// Package metrics holds the Prometheus collectors of the off-chain services.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "herbaltrace"

type Metrics struct {
	LedgerCalls    *prometheus.CounterVec
	LedgerLatency  *prometheus.HistogramVec
	OutboxJobs     *prometheus.CounterVec
	OutboxDepth    *prometheus.GaugeVec
	OutboxOverflow prometheus.Counter
	MirrorFallback prometheus.Counter
}

// New registers the collectors with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LedgerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "calls_total",
			Help:      "Ledger submissions and evaluations by function and outcome code.",
		}, []string{"function", "outcome"}),
		LedgerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "call_seconds",
			Help:      "Ledger call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"function"}),
		OutboxJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "jobs_total",
			Help:      "Processed outbox jobs by result.",
		}, []string{"result"}),
		OutboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "jobs",
			Help:      "Outbox jobs by status, sampled by the poller.",
		}, []string{"status"}),
		OutboxOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "queue_overflow_total",
			Help:      "Jobs left for the poller because the dispatch queue was full.",
		}),
		MirrorFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provenance",
			Name:      "mirror_fallback_total",
			Help:      "Provenance reads served from the mirror because the ledger was unavailable.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.LedgerCalls, m.LedgerLatency, m.OutboxJobs, m.OutboxDepth, m.OutboxOverflow, m.MirrorFallback)
	}
	return m
}

// ObserveLedger records one ledger call. outcome is the error code, "OK" on success.
func (m *Metrics) ObserveLedger(function, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.LedgerCalls.WithLabelValues(function, outcome).Inc()
	m.LedgerLatency.WithLabelValues(function).Observe(time.Since(started).Seconds())
}
