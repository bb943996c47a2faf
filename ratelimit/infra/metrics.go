package infra

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"riot-gatekeeper/ratelimit/domain"
)

// NoopMetrics descarta todas as observações. É o default do façade.
type NoopMetrics struct{}

func (NoopMetrics) ObserveDecision(string, domain.Source)       {}
func (NoopMetrics) ObserveStoreOp(string, time.Duration, error) {}

// PromMetrics implementa domain.MetricsSink com prometheus.
type PromMetrics struct {
	decisions *prometheus.CounterVec
	storeOps  *prometheus.HistogramVec
	storeErrs *prometheus.CounterVec
}

// NewPromMetrics registra os coletores em reg (use
// prometheus.DefaultRegisterer no binário).
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Admission decisions by outcome and deciding source.",
		}, []string{"outcome", "source"}),
		storeOps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gatekeeper",
			Subsystem: "ratelimit",
			Name:      "store_op_seconds",
			Help:      "Latency of shared store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		storeErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "ratelimit",
			Name:      "store_errors_total",
			Help:      "Shared store operations that returned an error.",
		}, []string{"op"}),
	}
	reg.MustRegister(m.decisions, m.storeOps, m.storeErrs)
	return m
}

func (m *PromMetrics) ObserveDecision(outcome string, src domain.Source) {
	m.decisions.WithLabelValues(outcome, string(src)).Inc()
}

func (m *PromMetrics) ObserveStoreOp(op string, d time.Duration, err error) {
	m.storeOps.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		m.storeErrs.WithLabelValues(op).Inc()
	}
}
