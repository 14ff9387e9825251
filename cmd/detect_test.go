package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly10!", truncate("exactly10!", 10))
	assert.Equal(t, "a long ...", truncate("a long reason string", 10))
}

func TestFormatResultsEmpty(t *testing.T) {
	var buf bytes.Buffer
	formatResults(&buf, nil)
	assert.Contains(t, buf.String(), "no recoverable anomalies")
}

func TestFormatResultsTable(t *testing.T) {
	deadline := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	results := []model.DetectionResult{
		{
			AnomalyType:        model.AnomalyRefundNoReturn,
			Severity:           model.SeverityHigh,
			EstimatedValue:     125.50,
			Currency:           "USD",
			ConfidenceScore:    0.92,
			ConfidenceInterval: "0.85-0.99",
			DeadlineDate:       &deadline,
			DaysRemaining:      17,
			Evidence:           model.Evidence{Reasons: []string{"refund issued 70 days ago, no matching return scan"}},
		},
		{
			AnomalyType:     model.AnomalyShrinkageDrift,
			Severity:        model.SeverityMedium,
			EstimatedValue:  60,
			Currency:        "USD",
			ConfidenceScore: 0.70,
		},
	}

	var buf bytes.Buffer
	formatResults(&buf, results)
	out := buf.String()

	assert.Contains(t, out, "refund_no_return")
	assert.Contains(t, out, "2026-09-15 (17d)")
	assert.Contains(t, out, "125.50 USD")
	// No deadline renders as a dash, not a zero date.
	line := lineContaining(t, out, "shrinkage_drift")
	assert.Contains(t, line, "-")
	assert.NotContains(t, line, "0001-01-01")
}

func lineContaining(t *testing.T, s, substr string) string {
	t.Helper()
	for _, line := range strings.Split(s, "\n") {
		if strings.Contains(line, substr) {
			return line
		}
	}
	t.Fatalf("no line containing %q", substr)
	return ""
}
