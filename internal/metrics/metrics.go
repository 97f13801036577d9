// Package metrics carries Prometheus instrumentation for cycle outcomes,
// generalized from the teacher's MetricsService. The daemon has no HTTP
// surface of its own, so the registry is exposed for an operator's own
// scrape wiring rather than behind a bundled handler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every collector the orchestrator updates once per
// cycle.
type Registry struct {
	registry *prometheus.Registry

	CyclesTotal          *prometheus.CounterVec
	CycleDuration        prometheus.Histogram
	ChangesDetectedTotal *prometheus.CounterVec
}

// New registers the cycle-outcome collectors on a private registry.
func New() *Registry {
	registry := prometheus.NewRegistry()

	cyclesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gradewatch_cycles_total",
		Help: "Total pipeline cycles by result.",
	}, []string{"result"})

	cycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gradewatch_cycle_duration_seconds",
		Help:    "Duration of a full pipeline cycle.",
		Buckets: prometheus.DefBuckets,
	})

	changesDetectedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gradewatch_changes_detected_total",
		Help: "Total detected changes by type.",
	}, []string{"type"})

	registry.MustRegister(cyclesTotal, cycleDuration, changesDetectedTotal)

	return &Registry{
		registry:             registry,
		CyclesTotal:          cyclesTotal,
		CycleDuration:        cycleDuration,
		ChangesDetectedTotal: changesDetectedTotal,
	}
}

// Gatherer exposes the underlying registry for an operator's own scrape
// wiring (e.g. a sidecar exporter) without coupling this package to any
// particular transport.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// ObserveCycle records one cycle's outcome and duration.
func (r *Registry) ObserveCycle(result string, duration time.Duration) {
	r.CyclesTotal.WithLabelValues(result).Inc()
	r.CycleDuration.Observe(duration.Seconds())
}

// ObserveChanges records detected changes broken down by type.
func (r *Registry) ObserveChanges(counts map[string]int) {
	for changeType, n := range counts {
		if n <= 0 {
			continue
		}
		r.ChangesDetectedTotal.WithLabelValues(changeType).Add(float64(n))
	}
}
