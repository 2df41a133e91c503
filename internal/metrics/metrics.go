// Package metrics holds the Prometheus instrumentation of the simulation
// engine. A nil *SimulationMetrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace    = "ecosim"
	simulationSubsystem = "simulation"
)

// SimulationMetrics counts simulations and times impact queries
type SimulationMetrics struct {
	SimulationsTotal     *prometheus.CounterVec
	ImpactFailuresTotal  *prometheus.CounterVec
	UnknownVariables     prometheus.Counter
	QueryDurationSeconds *prometheus.HistogramVec
}

// NewSimulationMetrics registers the metrics on reg. Pass a private
// prometheus.NewRegistry() in tests to avoid clashes on the default registry.
func NewSimulationMetrics(reg prometheus.Registerer) *SimulationMetrics {
	factory := promauto.With(reg)
	return &SimulationMetrics{
		SimulationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: simulationSubsystem,
			Name:      "runs_total",
			Help:      "Simulations by outcome (ok, partial, empty_evidence, error)",
		}, []string{"outcome"}),
		ImpactFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: simulationSubsystem,
			Name:      "impact_failures_total",
			Help:      "Impact queries that produced no value, by variable",
		}, []string{"variable"}),
		UnknownVariables: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: simulationSubsystem,
			Name:      "unknown_variables_total",
			Help:      "Delta keys skipped because they name no network variable",
		}),
		QueryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: simulationSubsystem,
			Name:      "query_duration_seconds",
			Help:      "Duration of single impact queries",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"variable"}),
	}
}

// RecordSimulation counts one Simulate call
func (m *SimulationMetrics) RecordSimulation(outcome string) {
	if m == nil {
		return
	}
	m.SimulationsTotal.WithLabelValues(outcome).Inc()
}

// RecordImpactFailure counts one failed impact query
func (m *SimulationMetrics) RecordImpactFailure(variable string) {
	if m == nil {
		return
	}
	m.ImpactFailuresTotal.WithLabelValues(variable).Inc()
}

// RecordUnknownVariable counts one skipped delta key
func (m *SimulationMetrics) RecordUnknownVariable() {
	if m == nil {
		return
	}
	m.UnknownVariables.Inc()
}

// ObserveQuery records the duration of one impact query
func (m *SimulationMetrics) ObserveQuery(variable string, d time.Duration) {
	if m == nil {
		return
	}
	m.QueryDurationSeconds.WithLabelValues(variable).Observe(d.Seconds())
}
