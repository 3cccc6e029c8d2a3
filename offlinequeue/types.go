package offlinequeue

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntryStatus is the lifecycle of a queued submission on the terminal.
type EntryStatus string

const (
	// StatusPending means the entry is waiting for a sync pass.
	StatusPending EntryStatus = "pending"
	// StatusSyncing means a sync pass holds the entry right now.
	StatusSyncing EntryStatus = "syncing"
	// StatusFailed means the last attempt failed with a retryable error;
	// the entry waits out its backoff and goes again.
	StatusFailed EntryStatus = "failed"
	// StatusPermanentlyFailed is terminal: a non-retryable rejection or the
	// attempt budget ran out. Needs operator attention, never auto-retried.
	StatusPermanentlyFailed EntryStatus = "permanently_failed"
)

// Entry is one order submission parked on the terminal until the backend is
// reachable. The idempotency key is fixed at enqueue time and never changes
// across retries; it is what makes resubmission safe.
type Entry struct {
	ID             int64           `json:"id"`
	IdempotencyKey string          `json:"idempotency_key"`
	BusinessId     string          `json:"business_id"`
	ShiftId        int             `json:"shift_id"`
	Payload        json.RawMessage `json:"payload"`

	Status      EntryStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	LastError   string      `json:"last_error,omitempty"`
	NextAttempt time.Time   `json:"next_attempt_at"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
}

// SubmitResult is a successful (or duplicate-collapsed) server apply.
type SubmitResult struct {
	OrderId int `json:"order_id"`
	// Duplicate reports that the server had already applied this key; the
	// queue treats it exactly like a fresh success.
	Duplicate bool `json:"duplicate"`
}

// SubmitError carries the HTTP status of a failed submission so the
// scheduler can decide between retry and permanent failure.
type SubmitError struct {
	StatusCode int
	Message    string
}

func (e *SubmitError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("submit failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("submit failed with status %d: %s", e.StatusCode, e.Message)
}

// Retryable classifies the failure. Server errors and throttling are
// transient; any other client error means the payload itself is bad and
// retrying cannot fix it. StatusCode zero means the request never got an
// HTTP answer (offline, timeout), which is always retryable.
func (e *SubmitError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == 429:
		return true
	default:
		return false
	}
}

// Counts is the queue depth per status, for the local status endpoint.
type Counts struct {
	Pending           int `json:"pending"`
	Syncing           int `json:"syncing"`
	Failed            int `json:"failed"`
	PermanentlyFailed int `json:"permanently_failed"`
}
