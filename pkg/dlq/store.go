package dlq

import (
	"context"
	"time"
)

// ListOptions controls pagination and filtering for List queries.
type ListOptions struct {
	// OriginQueue filters by origin queue. Empty means all queues.
	OriginQueue string
	// Limit caps the number of entries returned. Defaults to 50.
	Limit int
	// Offset skips entries, newest first.
	Offset int
}

const defaultListLimit = 50

func (o *ListOptions) normalize() {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// QueueStats summarizes dead letters grouped by origin queue.
type QueueStats struct {
	OriginQueue    string    `json:"origin_queue"`
	Count          int64     `json:"count"`
	OldestFailedAt time.Time `json:"oldest_failed_at"`
}

// Store is the persistence contract for dead letters. Delete is an
// atomic take: exactly one of several concurrent callers receives the
// entry, the rest get ErrNotFound.
type Store interface {
	// Put persists a new entry.
	Put(ctx context.Context, entry *Entry) error

	// List returns entries newest first.
	List(ctx context.Context, opts ListOptions) ([]*Entry, error)

	// Get returns one entry by id without removing it.
	Get(ctx context.Context, id string) (*Entry, error)

	// Delete removes the entry and returns it.
	Delete(ctx context.Context, id string) (*Entry, error)

	// Purge removes entries that failed before the cutoff and reports how
	// many were removed.
	Purge(ctx context.Context, before time.Time) (int64, error)

	// Count returns the number of stored entries, optionally filtered by
	// origin queue.
	Count(ctx context.Context, originQueue string) (int64, error)

	// Stats groups entry counts and oldest failure age by origin queue.
	Stats(ctx context.Context) ([]QueueStats, error)

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error

	Close() error
}
