// Package jobs implements the asynchronous document-transmission queue:
// durable named queues with priorities and delayed jobs, lease-based
// single-owner claims, and a retry/backoff worker that dead-letters
// exhausted jobs.
package jobs

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Pipeline queue names.
const (
	// QueueTransmission carries signed-document submissions to the authority.
	QueueTransmission = "transmission"
	// QueueSigning carries standalone signing computations.
	QueueSigning = "signing"
	// QueueNotification carries outbound operator/tenant notifications.
	QueueNotification = "notification"
)

// KnownQueues lists every queue the pipeline operates.
var KnownQueues = []string{QueueTransmission, QueueSigning, QueueNotification}

// IsKnownQueue reports whether name is a pipeline queue.
func IsKnownQueue(name string) bool {
	for _, queue := range KnownQueues {
		if queue == name {
			return true
		}
	}
	return false
}

// Job header keys recorded during retries and dead-lettering.
const (
	HeaderFailureReason = "job_failure_reason"
	HeaderFailedAt      = "job_failed_at"
	HeaderOriginQueue   = "job_origin_queue"
	HeaderManualRetry   = "job_manual_retry"
)

// Defaults applied by Options.normalize.
const (
	DefaultMaxAttempts = 3
	DefaultPriority    = 0
)

// Job is one unit of queued work.
type Job struct {
	ID            string            `json:"id"`
	Queue         string            `json:"queue"`
	Kind          string            `json:"kind"`
	Payload       []byte            `json:"payload"`
	Headers       map[string]string `json:"headers,omitempty"`
	TenantID      string            `json:"tenant_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Priority      int               `json:"priority"`
	Attempt       int               `json:"attempt"`
	MaxAttempts   int               `json:"max_attempts"`
	RunAt         time.Time         `json:"run_at"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Options tunes enqueue behavior per job.
type Options struct {
	// Priority orders dequeue within a queue; higher is served first.
	Priority int
	// MaxAttempts bounds total execution attempts. Defaults to 3.
	MaxAttempts int
	// Delay postpones eligibility for dequeue.
	Delay time.Duration
	// Headers are copied onto the job verbatim.
	Headers map[string]string
	// TenantID and CorrelationID tag the job for audit trails.
	TenantID      string
	CorrelationID string
}

func (o *Options) normalize() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
}

// NewJob builds a waiting job for the given queue and typed payload.
func NewJob(queue string, payload Payload, opts Options, clock Clock) (*Job, error) {
	if !IsKnownQueue(queue) {
		return nil, jobsError(ErrUnknownQueue, queue)
	}
	if payload == nil {
		return nil, jobsError(ErrValidation, "payload is required")
	}
	if payload.Kind() != kindForQueue(queue) {
		return nil, jobsError(ErrValidation, "payload kind does not match queue")
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	encoded, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	opts.normalize()
	if clock == nil {
		clock = SystemClock{}
	}

	now := clock.Now().UTC()
	return &Job{
		ID:            uuid.NewString(),
		Queue:         queue,
		Kind:          payload.Kind(),
		Payload:       encoded,
		Headers:       cloneHeaders(opts.Headers),
		TenantID:      strings.TrimSpace(opts.TenantID),
		CorrelationID: strings.TrimSpace(opts.CorrelationID),
		Priority:      opts.Priority,
		Attempt:       0,
		MaxAttempts:   opts.MaxAttempts,
		RunAt:         now.Add(opts.Delay),
		CreatedAt:     now,
	}, nil
}

// Validate checks the fields the runtime depends on.
func (j *Job) Validate() error {
	if j == nil {
		return jobsError(ErrValidation, "job is nil")
	}
	if strings.TrimSpace(j.ID) == "" {
		return jobsError(ErrValidation, "job id is required")
	}
	if !IsKnownQueue(strings.TrimSpace(j.Queue)) {
		return jobsError(ErrUnknownQueue, j.Queue)
	}
	if strings.TrimSpace(j.Kind) == "" {
		return jobsError(ErrValidation, "job kind is required")
	}
	if len(j.Payload) == 0 {
		return jobsError(ErrValidation, "job payload is required")
	}
	if j.Attempt < 0 {
		return jobsError(ErrValidation, "job attempt must be >= 0")
	}
	if j.MaxAttempts <= 0 {
		return jobsError(ErrValidation, "job max attempts must be > 0")
	}
	return nil
}

// Clone returns a deep copy safe to mutate independently.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	copied := *j
	copied.Payload = cloneBytes(j.Payload)
	copied.Headers = cloneHeaders(j.Headers)
	return &copied
}

func cloneHeaders(input map[string]string) map[string]string {
	if len(input) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}

func cloneBytes(input []byte) []byte {
	if len(input) == 0 {
		return nil
	}
	out := make([]byte, len(input))
	copy(out, input)
	return out
}
