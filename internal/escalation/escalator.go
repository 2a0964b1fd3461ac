package escalation

import (
	"fmt"
	"time"

	"github.com/meshguard/fraudhub/pkg/models"
)

// Escalation scoring.
//
// Converts a correlation plus the severity reported on the triggering
// submission into an intent alert: a severity tier keyed on how many
// distinct entities corroborate the pattern, and a 0-100 fraud score.
// Pure computation; no I/O and no state.

// Fraud score composition.
const (
	basePerEntity   = 20
	baseCap         = 80
	highConfBonus   = 10
	mediumConfBonus = 5
	wideSpanSeconds = 600
	wideSpanPenalty = 10
	scoreFloor      = 0
	scoreCeiling    = 100
)

// Escalator grades correlations against entity-count tier thresholds.
// Stateless; safe for concurrent use.
type Escalator struct {
	critical int
	high     int
	medium   int
}

// New returns an escalator with the given tier thresholds, which must
// satisfy critical >= high >= medium >= 2 (enforced by config
// validation).
func New(critical, high, medium int) *Escalator {
	return &Escalator{critical: critical, high: high, medium: medium}
}

// Evaluate turns a correlation into an intent alert, or nil when the
// entity count stays below the lowest tier. submitted is the severity
// reported on the submission that triggered the evaluation; now stamps
// the alert.
func (e *Escalator) Evaluate(corr *models.Correlation, submitted models.Severity, now time.Time) *models.IntentAlert {
	if corr == nil {
		return nil
	}

	tier, ok := e.tierFor(corr.EntityCount)
	if !ok {
		return nil
	}

	return &models.IntentAlert{
		AlertID:         alertID(now, corr.Fingerprint),
		Fingerprint:     corr.Fingerprint,
		Severity:        tier,
		Confidence:      corr.Confidence,
		EntityCount:     corr.EntityCount,
		TimeSpanSeconds: corr.TimeSpanSeconds,
		FraudScore:      fraudScore(corr, submitted),
		Rationale: fmt.Sprintf("Pattern observed by %d distinct participants within %.0f seconds (confidence %s)",
			corr.EntityCount, corr.TimeSpanSeconds, corr.Confidence),
		Timestamp: now,
	}
}

func (e *Escalator) tierFor(entityCount int) (models.Severity, bool) {
	switch {
	case entityCount >= e.critical:
		return models.SeverityCritical, true
	case entityCount >= e.high:
		return models.SeverityHigh, true
	case entityCount >= e.medium:
		return models.SeverityMedium, true
	default:
		return "", false
	}
}

// fraudScore composes the 0-100 score: entity-count base, confidence
// bonus, wide-span penalty, then the submitted severity adjustment.
func fraudScore(corr *models.Correlation, submitted models.Severity) int {
	score := basePerEntity * corr.EntityCount
	if score > baseCap {
		score = baseCap
	}

	switch corr.Confidence {
	case models.ConfidenceHigh:
		score += highConfBonus
	case models.ConfidenceMedium:
		score += mediumConfBonus
	}

	if corr.TimeSpanSeconds > wideSpanSeconds {
		score -= wideSpanPenalty
	}

	switch submitted {
	case models.SeverityLow:
		score -= 5
	case models.SeverityHigh:
		score += 5
	case models.SeverityCritical:
		score += 10
	}

	if score < scoreFloor {
		return scoreFloor
	}
	if score > scoreCeiling {
		return scoreCeiling
	}
	return score
}

func alertID(now time.Time, fp string) string {
	return fmt.Sprintf("ALT-%s-%s", now.UTC().Format("20060102150405"), shortFP(fp))
}

func shortFP(fp string) string {
	if len(fp) > 8 {
		return fp[:8]
	}
	return fp
}
