package jobs

import (
	"context"
	"time"
)

// DefaultLeaseTTL is the lease duration applied when Reserve gets none.
const DefaultLeaseTTL = 30 * time.Second

// Lease tracks temporary single-owner ownership over a reserved job.
type Lease struct {
	JobID    string
	Token    string
	Queue    string
	ExpireAt time.Time
	Attempt  int
}

// QueueStats is one queue's live counters for the metrics exporter.
type QueueStats struct {
	Queue     string
	Waiting   int64
	Active    int64
	Completed int64
	Failed    int64
	Delayed   int64
	Paused    bool
}

// Backend is the queue storage contract. Reserve is an atomic claim: two
// concurrent reservations never return the same job, and only the lease
// holder can settle it. Enqueue never rejects for capacity; congestion is
// surfaced through Stats.
type Backend interface {
	// Enqueue stores a job for immediate or delayed execution.
	Enqueue(ctx context.Context, job *Job) error

	// Reserve blocks until a job is claimable (or ctx ends) and returns it
	// with a lease valid for leaseFor.
	Reserve(ctx context.Context, queue string, leaseFor time.Duration) (*Job, *Lease, error)

	// Ack settles a leased job as completed and removes it.
	Ack(ctx context.Context, lease *Lease) error

	// Nack reschedules a leased job as delayed until nextRunAt with its
	// attempt counter advanced.
	Nack(ctx context.Context, lease *Lease, nextRunAt time.Time, reason error) error

	// Fail settles a leased job as terminally failed and removes it. The
	// caller is responsible for dead-letter persistence.
	Fail(ctx context.Context, lease *Lease, reason error) error

	// Stats reports the queue's counters.
	Stats(ctx context.Context, queue string) (QueueStats, error)

	// Pause stops Reserve from handing out jobs for the queue; queued work
	// is retained. Resume lifts the pause.
	Pause(ctx context.Context, queue string) error
	Resume(ctx context.Context, queue string) error

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error

	Close() error
}
