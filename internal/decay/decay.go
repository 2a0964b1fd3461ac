package decay

import (
	"time"

	"github.com/meshguard/fraudhub/pkg/models"
)

// Confidence decay.
//
// A correlation is only as believable as it is fresh. Each pattern
// carries a base confidence from its last evaluation; the effective
// confidence multiplies that base by a step function of the time since
// the pattern was last seen. The effective value then maps to a
// lifecycle status used by the read API and the metrics summary.

// UncorrelatedBase is the base confidence for patterns that have never
// met the correlation threshold.
const UncorrelatedBase = 0.5

// Base confidence per correlation confidence grade.
const (
	highBase   = 0.9
	mediumBase = 0.7
	lowBase    = 0.4
)

// Status is a pattern lifecycle grade derived from effective confidence.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusCooling Status = "COOLING"
	StatusDormant Status = "DORMANT"
)

// Decay steps. Age is measured from the pattern's last sighting.
const (
	freshAge   = 2 * time.Minute
	coolingAge = 5 * time.Minute
	staleAge   = 10 * time.Minute
)

// Status thresholds on effective confidence.
const (
	activeFloor  = 0.7
	coolingFloor = 0.4
)

// Base returns the base confidence for a correlation grade.
func Base(conf models.Confidence) float64 {
	switch conf {
	case models.ConfidenceHigh:
		return highBase
	case models.ConfidenceMedium:
		return mediumBase
	case models.ConfidenceLow:
		return lowBase
	default:
		return UncorrelatedBase
	}
}

// Factor returns the decay multiplier for a pattern last seen age ago.
func Factor(age time.Duration) float64 {
	switch {
	case age <= freshAge:
		return 1.0
	case age <= coolingAge:
		return 0.8
	case age <= staleAge:
		return 0.5
	default:
		return 0.2
	}
}

// Effective returns the decayed confidence for a pattern with the given
// base, last seen age ago.
func Effective(base float64, age time.Duration) float64 {
	return base * Factor(age)
}

// StatusFor grades an effective confidence.
func StatusFor(effective float64) Status {
	switch {
	case effective >= activeFloor:
		return StatusActive
	case effective >= coolingFloor:
		return StatusCooling
	default:
		return StatusDormant
	}
}
