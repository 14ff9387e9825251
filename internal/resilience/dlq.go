package resilience

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

// DLQEntry is a detection batch whose sink write failed, held for redrive.
// Entries keep the full result payload so nothing found by a detector is
// lost to a storage outage.
type DLQEntry struct {
	ID           string                  `json:"id"`
	Operation    string                  `json:"operation"` // "insert" or "trap_upsert"
	Results      []model.DetectionResult `json:"results"`
	Error        string                  `json:"error"`
	ErrorType    string                  `json:"error_type"` // "transient" or "permanent"
	RetryCount   int                     `json:"retry_count"`
	MaxRetries   int                     `json:"max_retries"`
	NextRetryAt  time.Time               `json:"next_retry_at"`
	CreatedAt    time.Time               `json:"created_at"`
	LastFailedAt time.Time               `json:"last_failed_at"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

// DLQFilter selects entries when draining the queue.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	Limit     int    `json:"limit,omitempty"`
}

// DeadLetterQueue collects failed sink writes for the duration of a run.
// Safe for the engine's concurrent detector workers.
type DeadLetterQueue struct {
	mu         sync.Mutex
	entries    []DLQEntry
	maxRetries int
	retryAfter time.Duration

	nowFunc func() time.Time
}

// NewDeadLetterQueue creates an empty queue with default retry budget.
func NewDeadLetterQueue() *DeadLetterQueue {
	return &DeadLetterQueue{
		maxRetries: 3,
		retryAfter: time.Minute,
		nowFunc:    time.Now,
	}
}

// Add records one failed write and returns the stored entry.
func (q *DeadLetterQueue) Add(operation string, results []model.DetectionResult, err error) DLQEntry {
	now := q.nowFunc().UTC()
	entry := DLQEntry{
		ID:           uuid.New().String(),
		Operation:    operation,
		Results:      results,
		Error:        err.Error(),
		ErrorType:    ClassifyError(err),
		MaxRetries:   q.maxRetries,
		NextRetryAt:  now.Add(q.retryAfter),
		CreatedAt:    now,
		LastFailedAt: now,
	}

	q.mu.Lock()
	q.entries = append(q.entries, entry)
	q.mu.Unlock()
	return entry
}

// Entries returns a snapshot of queued entries matching the filter.
func (q *DeadLetterQueue) Entries(f DLQFilter) []DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []DLQEntry
	for _, e := range q.entries {
		if f.ErrorType != "" && e.ErrorType != f.ErrorType {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Len returns the number of queued entries.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
