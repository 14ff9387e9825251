package detector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

// testNow is the pinned reference time shared by detector tests.
var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time {
	return testNow.AddDate(0, 0, -n)
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry(20.0)
	assert.Len(t, r.All(), 8)

	seen := map[string]bool{}
	for _, d := range r.All() {
		assert.False(t, seen[d.Name()], "duplicate detector %s", d.Name())
		seen[d.Name()] = true
		assert.Greater(t, d.MinValue(), 0.0)
		assert.Greater(t, d.ShowThreshold(), 0.0)
	}
}

func TestGate(t *testing.T) {
	results := []model.DetectionResult{
		{EstimatedValue: 100, ConfidenceScore: 0.9},
		{EstimatedValue: 5, ConfidenceScore: 0.9},   // below value floor
		{EstimatedValue: 100, ConfidenceScore: 0.3}, // below confidence floor
		{EstimatedValue: 10, ConfidenceScore: 0.5},  // exactly at both floors
	}
	kept := gate(results, 10, 0.5)
	assert.Len(t, kept, 2)
	assert.Equal(t, 100.0, kept[0].EstimatedValue)
	assert.Equal(t, 10.0, kept[1].EstimatedValue)
}

func TestSortByImpact(t *testing.T) {
	results := []model.DetectionResult{
		{ID: "a", EstimatedValue: 10},
		{ID: "b", EstimatedValue: 300},
		{ID: "c", EstimatedValue: 55},
	}
	sortByImpact(results)
	assert.Equal(t, []string{"b", "c", "a"}, []string{results[0].ID, results[1].ID, results[2].ID})
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 45, daysBetween(a, a.AddDate(0, 0, 45)))
	assert.Equal(t, -3, daysBetween(a, a.AddDate(0, 0, -3)))
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 10.57, round2(10.565))
	assert.Equal(t, 0.1, round2(0.10000001))
	// Negative amounts (fee credits, signed adjustments) round half away
	// from zero, matching the valuation calculator.
	assert.Equal(t, -10.57, round2(-10.565))
	assert.Equal(t, -3.46, round2(-3.456))
}

// TestRerunProducesSameFindings pins the rerun contract: a detector fed the
// same input twice emits the same findings, in the same order, differing
// only in the generated result IDs.
func TestRerunProducesSameFindings(t *testing.T) {
	in := Input{
		SellerID: "S1",
		SyncID:   "sync-1",
		Now:      testNow,
		Refunds: []model.Refund{
			{SellerID: "S1", RefundID: "R1", OrderID: "O1", SKU: "SKU-A",
				RefundDate: daysAgo(70), Amount: 50, Currency: "USD"},
			{SellerID: "S1", RefundID: "R2", OrderID: "O2", SKU: "SKU-B",
				RefundDate: daysAgo(50), Amount: 120, Currency: "USD"},
		},
	}

	ctx := context.Background()
	for _, d := range DefaultRegistry(20.0).All() {
		t.Run(d.Name(), func(t *testing.T) {
			first, err := d.Detect(ctx, in)
			require.NoError(t, err)
			second, err := d.Detect(ctx, in)
			require.NoError(t, err)
			assert.Equal(t, stripGeneratedIDs(first), stripGeneratedIDs(second))
		})
	}
}

// stripGeneratedIDs blanks the per-run UUIDs so rerun comparisons see only
// detector output.
func stripGeneratedIDs(results []model.DetectionResult) []model.DetectionResult {
	out := make([]model.DetectionResult, len(results))
	copy(out, results)
	for i := range out {
		out[i].ID = ""
	}
	return out
}

func TestInputDefaults(t *testing.T) {
	var in Input
	assert.Equal(t, "USD", in.currency())
	assert.False(t, in.now().IsZero())

	in.Currency = "EUR"
	in.Now = testNow
	assert.Equal(t, "EUR", in.currency())
	assert.Equal(t, testNow, in.now())
}
