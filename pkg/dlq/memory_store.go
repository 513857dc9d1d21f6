package dlq

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps dead letters in process memory. Suited to tests and
// single-node deployments without retention requirements.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	closed  bool
}

// NewMemoryStore creates an empty in-memory dead letter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]*Entry{}}
}

// Put persists a new entry.
func (s *MemoryStore) Put(ctx context.Context, entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.entries[entry.ID] = entry.Clone()
	return nil
}

// List returns entries newest first.
func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*Entry, error) {
	opts.normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	matched := make([]*Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		if opts.OriginQueue != "" && entry.OriginQueue != opts.OriginQueue {
			continue
		}
		matched = append(matched, entry)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].FailedAt.Equal(matched[j].FailedAt) {
			return matched[i].FailedAt.After(matched[j].FailedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if opts.Offset >= len(matched) {
		return []*Entry{}, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*Entry, 0, len(matched))
	for _, entry := range matched {
		out = append(out, entry.Clone())
	}
	return out, nil
}

// Get returns one entry by id without removing it.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	entry, ok := s.entries[strings.TrimSpace(id)]
	if !ok {
		return nil, dlqError(ErrNotFound, id)
	}
	return entry.Clone(), nil
}

// Delete removes the entry and returns it. Only one concurrent caller
// wins; the rest observe ErrNotFound.
func (s *MemoryStore) Delete(ctx context.Context, id string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	key := strings.TrimSpace(id)
	entry, ok := s.entries[key]
	if !ok {
		return nil, dlqError(ErrNotFound, id)
	}
	delete(s.entries, key)
	return entry, nil
}

// Purge removes entries that failed before the cutoff.
func (s *MemoryStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	var removed int64
	for id, entry := range s.entries {
		if entry.FailedAt.Before(before) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Count returns the number of stored entries for one or all queues.
func (s *MemoryStore) Count(ctx context.Context, originQueue string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if originQueue == "" {
		return int64(len(s.entries)), nil
	}
	var count int64
	for _, entry := range s.entries {
		if entry.OriginQueue == originQueue {
			count++
		}
	}
	return count, nil
}

// Stats groups entry counts and oldest failure by origin queue.
func (s *MemoryStore) Stats(ctx context.Context) ([]QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	grouped := map[string]*QueueStats{}
	for _, entry := range s.entries {
		stats, ok := grouped[entry.OriginQueue]
		if !ok {
			stats = &QueueStats{OriginQueue: entry.OriginQueue, OldestFailedAt: entry.FailedAt}
			grouped[entry.OriginQueue] = stats
		}
		stats.Count++
		if entry.FailedAt.Before(stats.OldestFailedAt) {
			stats.OldestFailedAt = entry.FailedAt
		}
	}

	out := make([]QueueStats, 0, len(grouped))
	for _, stats := range grouped {
		out = append(out, *stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OriginQueue < out[j].OriginQueue })
	return out, nil
}

// HealthCheck reports whether the store accepts operations.
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close rejects further operations.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
