package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meshguard/fraudhub/pkg/models"
)

// Metrics holds the Prometheus instruments for the hub.
type Metrics struct {
	// Ingestion
	IngestTotal    *prometheus.CounterVec
	IngestDuration prometheus.Histogram
	RejectedTotal  *prometheus.CounterVec

	// Pipeline outcomes
	CorrelationsTotal *prometheus.CounterVec
	AdvisoriesTotal   *prometheus.CounterVec

	// Graph state
	GraphPatterns     prometheus.Gauge
	GraphObservations prometheus.Gauge
	GraphEntities     prometheus.Gauge

	// Housekeeping
	AdvisoryStoreSize prometheus.Gauge
	PruneRuns         prometheus.Counter
	PruneRemoved      prometheus.Counter
	StreamClients     prometheus.Gauge
}

// NewMetrics creates and registers all hub instruments on reg. Pass
// prometheus.DefaultRegisterer in production; tests pass a fresh
// registry so repeated construction cannot collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IngestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudhub_ingest_total",
				Help: "Accepted fingerprint submissions",
			},
			[]string{"severity"},
		),
		IngestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fraudhub_ingest_duration_seconds",
				Help:    "Submission processing time through the pipeline",
				Buckets: prometheus.DefBuckets,
			},
		),
		RejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudhub_rejected_total",
				Help: "Rejected submissions",
			},
			[]string{"reason"}, // reason: validation, identity_mismatch, rate_limited, unauthorized
		),
		CorrelationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudhub_correlations_total",
				Help: "Correlations detected at ingest time",
			},
			[]string{"confidence"},
		),
		AdvisoriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudhub_advisories_total",
				Help: "Advisories issued",
			},
			[]string{"severity"},
		),
		GraphPatterns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fraudhub_graph_patterns",
				Help: "Distinct fingerprint nodes in the graph",
			},
		),
		GraphObservations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fraudhub_graph_observations",
				Help: "Observations currently held in the graph",
			},
		),
		GraphEntities: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fraudhub_graph_active_entities",
				Help: "Entities with at least one observation in the last hour",
			},
		),
		AdvisoryStoreSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fraudhub_advisory_store_size",
				Help: "Advisories currently retained",
			},
		),
		PruneRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fraudhub_prune_runs_total",
				Help: "Completed prune passes",
			},
		),
		PruneRemoved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fraudhub_prune_removed_total",
				Help: "Observations removed by pruning",
			},
		),
		StreamClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fraudhub_stream_clients",
				Help: "Connected advisory stream clients",
			},
		),
	}
}

// RecordIngest notes an accepted submission.
func (m *Metrics) RecordIngest(severity models.Severity, seconds float64) {
	m.IngestTotal.WithLabelValues(string(severity)).Inc()
	m.IngestDuration.Observe(seconds)
}

// RecordRejected notes a rejected submission.
func (m *Metrics) RecordRejected(reason string) {
	m.RejectedTotal.WithLabelValues(reason).Inc()
}

// RecordCorrelation notes a correlation detected at ingest time.
func (m *Metrics) RecordCorrelation(confidence models.Confidence) {
	m.CorrelationsTotal.WithLabelValues(string(confidence)).Inc()
}

// RecordAdvisory notes an issued advisory.
func (m *Metrics) RecordAdvisory(severity models.Severity) {
	m.AdvisoriesTotal.WithLabelValues(string(severity)).Inc()
}

// UpdateGraph refreshes the graph gauges from a stats snapshot.
func (m *Metrics) UpdateGraph(stats models.GraphStats) {
	m.GraphPatterns.Set(float64(stats.UniquePatterns))
	m.GraphObservations.Set(float64(stats.TotalObservations))
	m.GraphEntities.Set(float64(stats.ActiveEntities))
}

// UpdateStoreSize refreshes the advisory store gauge.
func (m *Metrics) UpdateStoreSize(n int) {
	m.AdvisoryStoreSize.Set(float64(n))
}

// RecordPrune notes a completed prune pass.
func (m *Metrics) RecordPrune(edgesRemoved int) {
	m.PruneRuns.Inc()
	m.PruneRemoved.Add(float64(edgesRemoved))
}

// SetStreamClients refreshes the connected stream client gauge.
func (m *Metrics) SetStreamClients(n int) {
	m.StreamClients.Set(float64(n))
}
