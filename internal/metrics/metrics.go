package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh outcomes.
const (
	OutcomeExecuted = "executed"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Lookup sources.
const (
	SourceCache         = "cache"
	SourceWrapper       = "wrapper"
	SourceStore         = "store"
	SourceForcedRefresh = "forced_refresh"
	SourceMiss          = "miss"
)

// Metrics groups the collectors of the cache-coherency controller.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	records         prometheus.Gauge
	lookups         *prometheus.CounterVec
	gateOverrides   prometheus.Counter
}

// New registers the collectors on registerer (the default registerer when nil).
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		refreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubcache_refresh_total",
				Help: "Refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		refreshDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hubcache_refresh_duration_seconds",
				Help:    "Duration of executed refreshes (fetch and commit)",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		records: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "hubcache_records",
				Help: "Number of services committed by the last successful refresh",
			},
		),
		lookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubcache_lookup_total",
				Help: "Lookups by the source that answered them",
			},
			[]string{"source"},
		),
		gateOverrides: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hubcache_gate_overrides_total",
				Help: "Refreshes admitted because the in-flight one exceeded the bounded wait",
			},
		),
	}
}

// ObserveRefresh records one refresh attempt.
func (m *Metrics) ObserveRefresh(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
	if outcome == OutcomeExecuted {
		m.refreshDuration.Observe(d.Seconds())
	}
}

// SetRecords sets the committed record count.
func (m *Metrics) SetRecords(n int) {
	if m == nil {
		return
	}
	m.records.Set(float64(n))
}

// ObserveLookup records which source answered a lookup.
func (m *Metrics) ObserveLookup(source string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(source).Inc()
}

// ObserveGateOverride records a stale refresh being overridden.
func (m *Metrics) ObserveGateOverride() {
	if m == nil {
		return
	}
	m.gateOverrides.Inc()
}
