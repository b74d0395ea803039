package issuance

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus metrics of the issuance workflow.
// All methods are safe to call before Register, they are no-ops then.
type Metrics struct {
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	minted      prometheus.Counter
	finalized   prometheus.Counter
	activeRuns  prometheus.Gauge

	registerOnce sync.Once
}

// Register registers the metrics with registry. It is a no-op for a nil
// registry and after the first call.
func (m *Metrics) Register(registry prometheus.Registerer) {
	if registry == nil {
		return
	}
	m.registerOnce.Do(
		func() {
			factory := promauto.With(registry)
			m.transitions = factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "certifychain_issuance_transitions_total",
					Help: "Total number of issuance workflow steps entered",
				}, []string{"step"},
			)
			m.failures = factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "certifychain_issuance_failures_total",
					Help: "Total number of failed issuance workflow steps",
				}, []string{"step"},
			)
			m.minted = factory.NewCounter(
				prometheus.CounterOpts{
					Name: "certifychain_certificates_minted_total",
					Help: "Total number of certificates marked as minted",
				},
			)
			m.finalized = factory.NewCounter(
				prometheus.CounterOpts{
					Name: "certifychain_finalize_calls_total",
					Help: "Total number of finalize calls",
				},
			)
			m.activeRuns = factory.NewGauge(
				prometheus.GaugeOpts{
					Name: "certifychain_issuance_active_runs",
					Help: "Number of issuance runs held in memory",
				},
			)
		},
	)
}

func (m *Metrics) transition(s Step) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) failure(s Step) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) mint() {
	if m == nil || m.minted == nil {
		return
	}
	m.minted.Inc()
}

func (m *Metrics) finalize() {
	if m == nil || m.finalized == nil {
		return
	}
	m.finalized.Inc()
}

func (m *Metrics) runs(n int) {
	if m == nil || m.activeRuns == nil {
		return
	}
	m.activeRuns.Set(float64(n))
}
