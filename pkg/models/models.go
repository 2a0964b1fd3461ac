package models

import "time"

// Severity is the risk level attached to a submission by the reporting
// entity, and also the tier assigned to escalated alerts and advisories.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ValidSeverity reports whether s is one of the four accepted levels.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities for threshold comparisons (LOW=1 .. CRITICAL=4).
// Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Confidence qualifies how strongly a correlation supports coordinated
// activity, derived from entity count and time span.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Submission is a behavioral fingerprint reported by one entity.
// The fingerprint is an opaque one-way hash; the hub never inspects it.
// Timestamp is optional — the hub substitutes its own clock when zero.
type Submission struct {
	EntityID    string    `json:"entity_id"`
	Fingerprint string    `json:"fingerprint"`
	Severity    Severity  `json:"severity"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// Observation is one recorded sighting of a fingerprint by an entity.
// Observations are the edges of the observation graph.
type Observation struct {
	EntityID    string    `json:"entity_id"`
	Fingerprint string    `json:"fingerprint"`
	Severity    Severity  `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
}

// Correlation is the derived fact that a fingerprint was observed by
// several distinct entities within the correlation window. Transient:
// produced by the correlator, consumed by the escalator, never stored.
type Correlation struct {
	Fingerprint     string        `json:"fingerprint"`
	EntityCount     int           `json:"entity_count"`
	TimeSpanSeconds float64       `json:"time_span_seconds"`
	Confidence      Confidence    `json:"confidence"`
	Observations    []Observation `json:"observations"`
}

// IntentAlert is an escalated correlation. Internal to the hub; the
// advisory builder turns alerts into the external advisory format.
type IntentAlert struct {
	AlertID         string     `json:"alert_id"`
	Fingerprint     string     `json:"fingerprint"`
	Severity        Severity   `json:"severity"`
	Confidence      Confidence `json:"confidence"`
	EntityCount     int        `json:"entity_count"`
	TimeSpanSeconds float64    `json:"time_span_seconds"`
	FraudScore      int        `json:"fraud_score"`
	Rationale       string     `json:"rationale"`
	Timestamp       time.Time  `json:"timestamp"`
}

// Advisory is the stored, shareable record of an escalated correlation.
// Advisories are recommendations: entities keep full decision sovereignty.
type Advisory struct {
	AdvisoryID         string     `json:"advisory_id"`
	Fingerprint        string     `json:"fingerprint"`
	Severity           Severity   `json:"severity"`
	FraudScore         int        `json:"fraud_score"`
	EntityCount        int        `json:"entity_count"`
	Confidence         Confidence `json:"confidence"`
	Message            string     `json:"message"`
	RecommendedActions []string   `json:"recommended_actions"`
	Timestamp          time.Time  `json:"timestamp"`
}

// IngestAck confirms acceptance of a submission. The fingerprint is
// truncated for log readability; clients already know the full value.
type IngestAck struct {
	Status              string `json:"status"`
	Fingerprint         string `json:"fingerprint"`
	EntityID            string `json:"entity_id"`
	CorrelationDetected bool   `json:"correlation_detected"`
	Message             string `json:"message"`
}

// GraphStats summarizes the observation graph for monitoring.
type GraphStats struct {
	UniquePatterns          int `json:"unique_patterns"`
	TotalObservations       int `json:"total_observations"`
	ActiveEntities          int `json:"active_entities"`
	MemorySizeBytes         int `json:"memory_size_bytes"`
	TemporalCoverageSeconds int `json:"temporal_coverage_seconds"`
}

// PatternInfo is the read-model for one fingerprint node.
type PatternInfo struct {
	Fingerprint         string    `json:"fingerprint"`
	FirstSeen           time.Time `json:"first_seen"`
	LastSeen            time.Time `json:"last_seen"`
	ObservationCount    int       `json:"observation_count"`
	RecentParticipants  []string  `json:"recent_participants"`
	EntityCount         int       `json:"entity_count"`
	TimeSpanSeconds     float64   `json:"time_span_seconds"`
	Status              string    `json:"status"`
	EffectiveConfidence float64   `json:"effective_confidence"`
}

// EntityActivity is the read-model for one entity node.
type EntityActivity struct {
	ParticipantID      string    `json:"participant_id"`
	RecentFingerprints []string  `json:"recent_fingerprints"`
	ObservationCount   int       `json:"observation_count"`
	FirstSubmission    time.Time `json:"first_submission"`
	LastSubmission     time.Time `json:"last_submission"`
}
