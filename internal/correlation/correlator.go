package correlation

import (
	"time"

	"github.com/meshguard/fraudhub/pkg/models"
)

// Temporal correlation.
//
// A fingerprint correlates when enough distinct entities report it
// inside the sliding window. The confidence grade then depends on how
// tightly the reports cluster in time: many entities in a narrow burst
// grade higher than the same entities spread across the window.

// Confidence grading bands. These are fixed properties of the grading
// scale, independent of the configured window.
const (
	highEntityFloor = 3
	highSpanMax     = 180 * time.Second
	mediumSpanMax   = 300 * time.Second
)

// GraphView is the read access a correlator needs. Both the graph and
// the under-lock ingest view satisfy it.
type GraphView interface {
	RecentObservations(fp string, window time.Duration) []models.Observation
}

// Correlator grades fingerprints against a distinct-entity threshold
// and a sliding window. Stateless; safe for concurrent use.
type Correlator struct {
	threshold int
	window    time.Duration
}

// New returns a correlator requiring at least threshold distinct
// entities within window.
func New(threshold int, window time.Duration) *Correlator {
	return &Correlator{threshold: threshold, window: window}
}

// Window returns the sliding window the correlator evaluates over.
func (c *Correlator) Window() time.Duration {
	return c.window
}

// Evaluate grades one fingerprint against the view's recent
// observations. Returns nil when fewer than the threshold number of
// distinct entities reported it within the window.
func (c *Correlator) Evaluate(view GraphView, fp string) *models.Correlation {
	recent := view.RecentObservations(fp, c.window)
	if len(recent) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(recent))
	for _, obs := range recent {
		seen[obs.EntityID] = struct{}{}
	}
	entityCount := len(seen)
	if entityCount < c.threshold {
		return nil
	}

	// recent is oldest first, so the span is last minus first.
	span := recent[len(recent)-1].Timestamp.Sub(recent[0].Timestamp)

	return &models.Correlation{
		Fingerprint:     fp,
		EntityCount:     entityCount,
		TimeSpanSeconds: span.Seconds(),
		Confidence:      gradeConfidence(entityCount, span),
		Observations:    recent,
	}
}

// gradeConfidence maps a correlated cluster onto a confidence grade.
// Span bounds are inclusive.
func gradeConfidence(entityCount int, span time.Duration) models.Confidence {
	switch {
	case entityCount >= highEntityFloor && span <= highSpanMax:
		return models.ConfidenceHigh
	case span <= mediumSpanMax:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}
