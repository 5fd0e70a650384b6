// Package metrics holds the prometheus collectors of a patfam process.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup outcomes
const (
	OutcomeOK        = "ok"
	OutcomeEmpty     = "empty"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
	OutcomeMalformed = "malformed"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
//
// Metrics:
//   - patfam_lookups_total{source,outcome} - Source lookups by outcome
//   - patfam_retries_total{source} - Retried transient failures
//   - patfam_runs_total{state} - Finished aggregation runs by final state
//   - patfam_lookup_duration_seconds{source} - Lookup latency including retries
//   - patfam_governor_wait_seconds{source} - Time spent waiting for a rate permit
type Metrics struct {
	LookupsTotal   *prometheus.CounterVec
	RetriesTotal   *prometheus.CounterVec
	RunsTotal      *prometheus.CounterVec
	LookupDuration *prometheus.HistogramVec
	GovernorWait   *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patfam_lookups_total",
				Help: "Total number of source lookups by outcome",
			},
			[]string{"source", "outcome"},
		),
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patfam_retries_total",
				Help: "Total number of retried transient source failures",
			},
			[]string{"source"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patfam_runs_total",
				Help: "Total number of finished aggregation runs by state",
			},
			[]string{"state"},
		),
		LookupDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "patfam_lookup_duration_seconds",
				Help:    "Duration of source lookups in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"source"},
		),
		GovernorWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "patfam_governor_wait_seconds",
				Help:    "Time spent waiting for a source rate permit in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"source"},
		),
	}
}

// ObserveLookup records one finished lookup
func (m *Metrics) ObserveLookup(source, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(source, outcome).Inc()
	m.LookupDuration.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveRetry records one retry
func (m *Metrics) ObserveRetry(source string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(source).Inc()
}

// ObserveRun records a finished run
func (m *Metrics) ObserveRun(state string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(state).Inc()
}

// ObserveWait records governor wait time; it matches worker.WithWaitObserver
func (m *Metrics) ObserveWait(source string, waited time.Duration) {
	if m == nil {
		return
	}
	m.GovernorWait.WithLabelValues(source).Observe(waited.Seconds())
}
