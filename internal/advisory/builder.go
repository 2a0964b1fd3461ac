package advisory

import (
	"fmt"
	"time"

	"github.com/meshguard/fraudhub/pkg/models"
)

// Advisory construction.
//
// Alerts are internal; advisories are what participants consume. The
// builder turns an intent alert into a stored advisory: stable id,
// human-readable message, and a fixed action list keyed by the alert's
// severity tier. Action wording is part of the wire contract, so
// participants can match on it; never edit these strings casually.

var criticalActions = []string{
	"IMMEDIATE: Flag all matching activity for manual review",
	"IMMEDIATE: Apply temporary protective limits to affected accounts",
	"URGENT: Open a coordinated fraud investigation",
	"URGENT: Notify peer institutions of the active pattern",
	"RECOMMENDED: Share findings with peer institutions via secure channel",
	"RECOMMENDED: Review and update fraud detection rules based on pattern",
}

var highActions = []string{
	"URGENT: Flag matching activity for priority review",
	"URGENT: Notify peer institutions of the active pattern",
	"RECOMMENDED: Apply protective limits to affected accounts",
	"RECOMMENDED: Share findings with peer institutions via secure channel",
	"OPTIONAL: Review and update fraud detection rules based on pattern",
}

var mediumActions = []string{
	"RECOMMENDED: Monitor accounts for pattern recurrence",
	"RECOMMENDED: Notify peer institutions of the observed pattern",
	"OPTIONAL: Add matching activity to the review queue",
	"OPTIONAL: Document pattern for future rule refinement",
}

// Build composes an advisory from an intent alert. Total for any alert
// the escalator can produce.
func Build(alert *models.IntentAlert) models.Advisory {
	return models.Advisory{
		AdvisoryID:         advisoryID(alert),
		Fingerprint:        alert.Fingerprint,
		Severity:           alert.Severity,
		FraudScore:         alert.FraudScore,
		EntityCount:        alert.EntityCount,
		Confidence:         alert.Confidence,
		Message:            buildMessage(alert),
		RecommendedActions: ActionsFor(alert.Severity),
		Timestamp:          alert.Timestamp,
	}
}

// ActionsFor returns a fresh copy of the action list for a severity
// tier. Tiers below MEDIUM never reach the builder; they map to the
// MEDIUM list as a safe floor.
func ActionsFor(tier models.Severity) []string {
	switch tier {
	case models.SeverityCritical:
		return append([]string(nil), criticalActions...)
	case models.SeverityHigh:
		return append([]string(nil), highActions...)
	default:
		return append([]string(nil), mediumActions...)
	}
}

func buildMessage(alert *models.IntentAlert) string {
	return fmt.Sprintf(
		"MeshGuard Fraud Advisory\n\n"+
			"Severity: %s\n"+
			"Fraud Score: %d/100\n"+
			"Confidence: %s\n\n"+
			"%s. This behavioral signature (Pattern ID: %s) suggests an organized fraud operation.\n\n"+
			"PATTERN CHARACTERISTICS:\n"+
			"- Multi-entity coordination detected\n"+
			"- Observed across %d independent institutions\n"+
			"- Time span: %.0f seconds\n\n"+
			"PRIVACY NOTE: This advisory is based on behavioral fingerprints only. "+
			"No customer PII or transaction data has been shared between institutions.\n\n"+
			"Timestamp: %s",
		alert.Severity,
		alert.FraudScore,
		alert.Confidence,
		alert.Rationale,
		shortFingerprint(alert.Fingerprint),
		alert.EntityCount,
		alert.TimeSpanSeconds,
		alert.Timestamp.UTC().Format(time.RFC3339),
	)
}

// advisoryID encodes a coarse timestamp and a fingerprint prefix:
// ADV-YYYYMMDD-HHMMSS-<fp[:8]>.
func advisoryID(alert *models.IntentAlert) string {
	prefix := alert.Fingerprint
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("ADV-%s-%s", alert.Timestamp.UTC().Format("20060102-150405"), prefix)
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12] + "..."
	}
	return fp
}
