package detector

import (
	"time"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

// Severity value tiers. Urgency (an approaching filing deadline) bumps the
// tier by one, independent of confidence.
const (
	severityMediumFloor   = 50.0
	severityHighFloor     = 200.0
	severityCriticalFloor = 1000.0

	urgentDeadlineDays = 14
)

// severityFor derives a business-impact tier from estimated value and an
// optional filing deadline.
func severityFor(value float64, deadline *time.Time, now time.Time) model.Severity {
	sev := model.SeverityLow
	switch {
	case value >= severityCriticalFloor:
		sev = model.SeverityCritical
	case value >= severityHighFloor:
		sev = model.SeverityHigh
	case value >= severityMediumFloor:
		sev = model.SeverityMedium
	}

	if deadline != nil && daysBetween(now, *deadline) <= urgentDeadlineDays {
		sev = bump(sev)
	}
	return sev
}

func bump(s model.Severity) model.Severity {
	switch s {
	case model.SeverityLow:
		return model.SeverityMedium
	case model.SeverityMedium:
		return model.SeverityHigh
	case model.SeverityHigh:
		return model.SeverityCritical
	default:
		return s
	}
}
