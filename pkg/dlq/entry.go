// Package dlq stores jobs that exhausted their attempt budget and lets
// operators inspect, retry or discard them.
package dlq

import (
	"strings"
	"time"
)

// Entry is a job that exhausted its attempt budget, captured for
// inspection, manual retry or discard. Entries are immutable once
// stored; retrying produces a fresh job rather than mutating the entry.
type Entry struct {
	ID                string    `json:"id"`
	OriginQueue       string    `json:"origin_queue"`
	OriginalJobID     string    `json:"original_job_id"`
	Kind              string    `json:"kind"`
	PayloadSnapshot   []byte    `json:"payload_snapshot"`
	Error             string    `json:"error"`
	StackTrace        string    `json:"stack_trace,omitempty"`
	TenantID          string    `json:"tenant_id,omitempty"`
	CorrelationID     string    `json:"correlation_id,omitempty"`
	Priority          int       `json:"priority"`
	AttemptsAtFailure int       `json:"attempts_at_failure"`
	MaxAttempts       int       `json:"max_attempts"`
	FailedAt          time.Time `json:"failed_at"`
}

// Validate checks the fields the store depends on.
func (e *Entry) Validate() error {
	if e == nil {
		return dlqError(ErrValidation, "entry is required")
	}
	if strings.TrimSpace(e.ID) == "" {
		return dlqError(ErrValidation, "entry id is required")
	}
	if strings.TrimSpace(e.OriginQueue) == "" {
		return dlqError(ErrValidation, "entry origin queue is required")
	}
	if strings.TrimSpace(e.OriginalJobID) == "" {
		return dlqError(ErrValidation, "entry original job id is required")
	}
	if e.FailedAt.IsZero() {
		return dlqError(ErrValidation, "entry failed_at is required")
	}
	return nil
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	copied := *e
	if e.PayloadSnapshot != nil {
		copied.PayloadSnapshot = append([]byte(nil), e.PayloadSnapshot...)
	}
	return &copied
}
