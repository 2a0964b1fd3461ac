package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/meshguard/fraudhub/pkg/models"
)

// In-process ingestion telemetry.
//
// The tracker keeps a rolling one-hour window of ingest events and
// answers the /metrics summary from it. This is operational visibility
// for a single hub instance, not long-term storage; Prometheus export
// lives in prometheus.go.

const rollingWindow = time.Hour

type event struct {
	at         time.Time
	entity     string
	severity   models.Severity
	correlated bool
	advisory   bool
	latency    time.Duration
}

// Summary is the /metrics response body.
type Summary struct {
	UptimeSeconds      int            `json:"uptime_seconds"`
	EventsLastHour     int            `json:"events_1h"`
	EventsPerMinute    float64        `json:"events_per_minute"`
	UniqueEntitiesHour int            `json:"unique_entities_1h"`
	CorrelationsHour   int            `json:"correlations_1h"`
	AdvisoriesHour     int            `json:"advisories_1h"`
	P95LatencyMillis   float64        `json:"p95_latency_ms"`
	SeverityCounts     map[string]int `json:"severity_counts_1h"`
	EntityCounts       map[string]int `json:"entity_counts_1h"`
	LastPruneAt        *time.Time     `json:"last_prune_at,omitempty"`
	LastPruneRemoved   int            `json:"last_prune_removed"`
}

// Tracker accumulates ingest events over a rolling window. Safe for
// concurrent use.
type Tracker struct {
	mu               sync.Mutex
	now              func() time.Time
	started          time.Time
	events           []event
	lastPruneAt      time.Time
	lastPruneRemoved int
}

// NewTracker returns a tracker using the wall clock.
func NewTracker() *Tracker {
	return NewTrackerWithClock(time.Now)
}

// NewTrackerWithClock returns a tracker reading time from now.
func NewTrackerWithClock(now func() time.Time) *Tracker {
	return &Tracker{now: now, started: now()}
}

// RecordIngest notes one accepted submission and its processing
// latency.
func (t *Tracker) RecordIngest(entity string, severity models.Severity, correlated, advisory bool, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event{
		at:         t.now(),
		entity:     entity,
		severity:   severity,
		correlated: correlated,
		advisory:   advisory,
		latency:    latency,
	})
	t.trimLocked()
}

// RecordPrune notes the outcome of one prune pass.
func (t *Tracker) RecordPrune(edgesRemoved int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastPruneAt = t.now()
	t.lastPruneRemoved = edgesRemoved
}

// Summary aggregates the rolling window.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trimLocked()

	s := Summary{
		UptimeSeconds:  int(t.now().Sub(t.started).Seconds()),
		EventsLastHour: len(t.events),
		SeverityCounts: make(map[string]int),
		EntityCounts:   make(map[string]int),
	}
	s.EventsPerMinute = float64(len(t.events)) / rollingWindow.Minutes()

	entities := make(map[string]struct{})
	latencies := make([]float64, 0, len(t.events))
	for _, ev := range t.events {
		entities[ev.entity] = struct{}{}
		s.SeverityCounts[string(ev.severity)]++
		s.EntityCounts[ev.entity]++
		if ev.correlated {
			s.CorrelationsHour++
		}
		if ev.advisory {
			s.AdvisoriesHour++
		}
		latencies = append(latencies, float64(ev.latency.Microseconds())/1000.0)
	}
	s.UniqueEntitiesHour = len(entities)
	s.P95LatencyMillis = percentile95(latencies)

	if !t.lastPruneAt.IsZero() {
		at := t.lastPruneAt
		s.LastPruneAt = &at
		s.LastPruneRemoved = t.lastPruneRemoved
	}
	return s
}

func (t *Tracker) trimLocked() {
	cutoff := t.now().Add(-rollingWindow)
	drop := 0
	for drop < len(t.events) && t.events[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		t.events = append(t.events[:0], t.events[drop:]...)
	}
}

func percentile95(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	idx := int(float64(len(values)) * 0.95)
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
