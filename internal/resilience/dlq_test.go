package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

func dlqResults() []model.DetectionResult {
	return []model.DetectionResult{
		{
			ID:             "res-1",
			SellerID:       "SELLER-9",
			AnomalyType:    model.AnomalyRefundNoReturn,
			Severity:       model.SeverityHigh,
			EstimatedValue: 142.50,
			Currency:       "USD",
		},
	}
}

func TestDLQEntryCanRetry(t *testing.T) {
	tests := []struct {
		retryCount int
		maxRetries int
		want       bool
	}{
		{0, 3, true},
		{2, 3, true},
		{3, 3, false},
		{5, 3, false},
	}

	for _, tt := range tests {
		e := DLQEntry{RetryCount: tt.retryCount, MaxRetries: tt.maxRetries}
		assert.Equal(t, tt.want, e.CanRetry(), "retry %d/%d", tt.retryCount, tt.maxRetries)
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "transient", ClassifyError(NewTransientError(eris.New("sink: write timeout"), 0)))
	assert.Equal(t, "transient", ClassifyError(eris.New("sink: write: connection reset by peer")))
	assert.Equal(t, "permanent", ClassifyError(eris.New("store: insert results: null value in column")))
}

func TestDeadLetterQueueAdd(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := NewDeadLetterQueue()
	q.nowFunc = func() time.Time { return fixed }

	entry := q.Add("insert", dlqResults(), eris.New("sink: write: broken pipe"))

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "insert", entry.Operation)
	assert.Equal(t, "transient", entry.ErrorType)
	assert.Equal(t, 3, entry.MaxRetries)
	assert.Equal(t, fixed, entry.CreatedAt)
	assert.Equal(t, fixed.Add(time.Minute), entry.NextRetryAt)
	require.Len(t, entry.Results, 1)
	assert.Equal(t, "res-1", entry.Results[0].ID)
	assert.Equal(t, 1, q.Len())
}

func TestDeadLetterQueueEntriesFilter(t *testing.T) {
	q := NewDeadLetterQueue()
	q.Add("insert", dlqResults(), eris.New("sink: write: broken pipe"))
	q.Add("trap_upsert", dlqResults(), eris.New("store: upsert trap: check constraint violated"))
	q.Add("insert", dlqResults(), eris.New("sink: write: i/o timeout"))

	all := q.Entries(DLQFilter{})
	assert.Len(t, all, 3)

	transient := q.Entries(DLQFilter{ErrorType: "transient"})
	require.Len(t, transient, 2)
	for _, e := range transient {
		assert.Equal(t, "insert", e.Operation)
	}

	permanent := q.Entries(DLQFilter{ErrorType: "permanent"})
	require.Len(t, permanent, 1)
	assert.Equal(t, "trap_upsert", permanent[0].Operation)

	limited := q.Entries(DLQFilter{Limit: 2})
	assert.Len(t, limited, 2)
}

func TestDeadLetterQueueConcurrentAdds(t *testing.T) {
	q := NewDeadLetterQueue()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Add("insert", dlqResults(), eris.New("sink: write: conn busy"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, q.Len())
}
