package jobs

import (
	"container/heap"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dteflow/dteflow/pkg/observability/logger"
)

const defaultMemoryPollInterval = 10 * time.Millisecond

// MemoryBackendConfig configures the in-process backend.
type MemoryBackendConfig struct {
	// PollInterval is how often Reserve rechecks for claimable work.
	PollInterval time.Duration
	// Clock drives delayed-job due times and lease expiry. Defaults to the
	// system clock.
	Clock Clock
}

func (c *MemoryBackendConfig) normalize() {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultMemoryPollInterval
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
}

// queuedItem orders ready jobs by priority (higher first) then insertion.
type queuedItem struct {
	job *Job
	seq uint64
}

type readyHeap []*queuedItem

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)   { *h = append(*h, x.(*queuedItem)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

type delayedHeap []*queuedItem

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, j int) bool {
	if !h[i].job.RunAt.Equal(h[j].job.RunAt) {
		return h[i].job.RunAt.Before(h[j].job.RunAt)
	}
	return h[i].seq < h[j].seq
}
func (h delayedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *delayedHeap) Push(x any)   { *h = append(*h, x.(*queuedItem)) }
func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

type memoryQueue struct {
	ready     readyHeap
	delayed   delayedHeap
	paused    bool
	completed int64
	failed    int64
}

type memoryLease struct {
	lease *Lease
	job   *Job
}

// MemoryBackend keeps queues in process memory. Claims are atomic under
// one mutex; enqueue is unbounded.
type MemoryBackend struct {
	log    logger.Logger
	config MemoryBackendConfig

	mu     sync.Mutex
	queues map[string]*memoryQueue
	leases map[string]*memoryLease
	seq    uint64
	closed bool
}

// NewMemoryBackend creates an in-process jobs backend.
func NewMemoryBackend(cfg MemoryBackendConfig, log logger.Logger) (*MemoryBackend, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()

	queues := make(map[string]*memoryQueue, len(KnownQueues))
	for _, queue := range KnownQueues {
		queues[queue] = &memoryQueue{}
	}
	return &MemoryBackend{
		log:    log,
		config: cfg,
		queues: queues,
		leases: map[string]*memoryLease{},
	}, nil
}

// Enqueue stores a job. Jobs whose RunAt lies in the future stay delayed
// until due.
func (b *MemoryBackend) Enqueue(ctx context.Context, job *Job) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if job == nil {
		return jobsError(ErrValidation, "job is required")
	}
	copied := job.Clone()
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = b.config.Clock.Now().UTC()
	}
	if copied.RunAt.IsZero() {
		copied.RunAt = copied.CreatedAt
	}
	if err := copied.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	queue := b.queues[copied.Queue]
	b.seq++
	item := &queuedItem{job: copied, seq: b.seq}
	if copied.RunAt.After(b.config.Clock.Now()) {
		heap.Push(&queue.delayed, item)
	} else {
		heap.Push(&queue.ready, item)
	}
	recordJobEnqueued("memory", copied)
	return nil
}

// Reserve claims the next eligible job, honoring priority order and
// promoting delayed jobs whose due time has passed.
func (b *MemoryBackend) Reserve(ctx context.Context, queue string, leaseFor time.Duration) (*Job, *Lease, error) {
	if ctx == nil {
		return nil, nil, errors.New("context is required")
	}
	queue = strings.TrimSpace(queue)
	if !IsKnownQueue(queue) {
		return nil, nil, jobsError(ErrUnknownQueue, queue)
	}
	if leaseFor <= 0 {
		leaseFor = DefaultLeaseTTL
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		job, lease, err := b.tryClaim(queue, leaseFor)
		if err != nil {
			return nil, nil, err
		}
		if job != nil {
			return job, lease, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(b.config.PollInterval):
		}
	}
}

func (b *MemoryBackend) tryClaim(queue string, leaseFor time.Duration) (*Job, *Lease, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrClosed
	}

	now := b.config.Clock.Now().UTC()
	b.reapExpiredLeasesLocked(now)

	q := b.queues[queue]
	b.promoteDueLocked(q, now)
	if q.paused || q.ready.Len() == 0 {
		return nil, nil, nil
	}

	item := heap.Pop(&q.ready).(*queuedItem)
	lease := &Lease{
		JobID:    item.job.ID,
		Token:    newLeaseToken(),
		Queue:    queue,
		ExpireAt: now.Add(leaseFor),
		Attempt:  item.job.Attempt,
	}
	b.leases[lease.Token] = &memoryLease{lease: lease, job: item.job}
	return item.job.Clone(), cloneLease(lease), nil
}

// promoteDueLocked moves delayed jobs whose due time has passed to the
// ready heap. Caller holds the mutex.
func (b *MemoryBackend) promoteDueLocked(q *memoryQueue, now time.Time) {
	for q.delayed.Len() > 0 {
		next := q.delayed[0]
		if next.job.RunAt.After(now) {
			return
		}
		heap.Pop(&q.delayed)
		b.seq++
		heap.Push(&q.ready, &queuedItem{job: next.job, seq: b.seq})
	}
}

// reapExpiredLeasesLocked returns jobs whose lease lapsed to their queue, so
// a crashed worker never strands work. Caller holds the mutex.
func (b *MemoryBackend) reapExpiredLeasesLocked(now time.Time) {
	for token, state := range b.leases {
		if state.lease.ExpireAt.After(now) {
			continue
		}
		delete(b.leases, token)
		q := b.queues[state.job.Queue]
		b.seq++
		heap.Push(&q.ready, &queuedItem{job: state.job, seq: b.seq})
		b.log.Warn("job lease expired, requeued", "queue", state.job.Queue, "job_id", state.job.ID)
	}
}

// Ack settles a leased job as completed.
func (b *MemoryBackend) Ack(ctx context.Context, lease *Lease) error {
	state, err := b.popLease(lease)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.queues[state.job.Queue].completed++
	b.mu.Unlock()
	return nil
}

// Nack reschedules a leased job as delayed until nextRunAt.
func (b *MemoryBackend) Nack(ctx context.Context, lease *Lease, nextRunAt time.Time, reason error) error {
	state, err := b.popLease(lease)
	if err != nil {
		return err
	}

	retryJob := state.job.Clone()
	retryJob.Attempt++
	if retryJob.Headers == nil {
		retryJob.Headers = map[string]string{}
	}
	if reason != nil {
		retryJob.Headers[HeaderFailureReason] = reason.Error()
	}
	retryJob.Headers[HeaderFailedAt] = b.config.Clock.Now().UTC().Format(time.RFC3339Nano)
	retryJob.RunAt = nextRunAt.UTC()
	if retryJob.RunAt.IsZero() {
		retryJob.RunAt = b.config.Clock.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	q := b.queues[retryJob.Queue]
	b.seq++
	item := &queuedItem{job: retryJob, seq: b.seq}
	if retryJob.RunAt.After(b.config.Clock.Now()) {
		heap.Push(&q.delayed, item)
	} else {
		heap.Push(&q.ready, item)
	}
	return nil
}

// Fail settles a leased job as terminally failed and drops it.
func (b *MemoryBackend) Fail(ctx context.Context, lease *Lease, reason error) error {
	state, err := b.popLease(lease)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.queues[state.job.Queue].failed++
	b.mu.Unlock()
	return nil
}

// Stats reports live counters for one queue.
func (b *MemoryBackend) Stats(ctx context.Context, queue string) (QueueStats, error) {
	queue = strings.TrimSpace(queue)
	if !IsKnownQueue(queue) {
		return QueueStats{}, jobsError(ErrUnknownQueue, queue)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return QueueStats{}, ErrClosed
	}

	now := b.config.Clock.Now().UTC()
	q := b.queues[queue]
	b.promoteDueLocked(q, now)

	var active int64
	for _, state := range b.leases {
		if state.job.Queue == queue {
			active++
		}
	}
	return QueueStats{
		Queue:     queue,
		Waiting:   int64(q.ready.Len()),
		Active:    active,
		Completed: q.completed,
		Failed:    q.failed,
		Delayed:   int64(q.delayed.Len()),
		Paused:    q.paused,
	}, nil
}

// Pause stops the queue from handing out jobs.
func (b *MemoryBackend) Pause(ctx context.Context, queue string) error {
	return b.setPaused(queue, true)
}

// Resume lifts a pause.
func (b *MemoryBackend) Resume(ctx context.Context, queue string) error {
	return b.setPaused(queue, false)
}

func (b *MemoryBackend) setPaused(queue string, paused bool) error {
	queue = strings.TrimSpace(queue)
	if !IsKnownQueue(queue) {
		return jobsError(ErrUnknownQueue, queue)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.queues[queue].paused = paused
	return nil
}

// HealthCheck reports whether the backend accepts operations.
func (b *MemoryBackend) HealthCheck(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close rejects further operations. Queued jobs are discarded with the
// process; durability deployments use the Redis backend.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *MemoryBackend) popLease(lease *Lease) (*memoryLease, error) {
	if lease == nil || strings.TrimSpace(lease.Token) == "" {
		return nil, jobsError(ErrValidation, "lease token is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	state, ok := b.leases[strings.TrimSpace(lease.Token)]
	if !ok {
		return nil, jobsError(ErrNotFound, "lease not found")
	}
	delete(b.leases, strings.TrimSpace(lease.Token))
	return state, nil
}

func cloneLease(lease *Lease) *Lease {
	if lease == nil {
		return nil
	}
	copied := *lease
	return &copied
}

func newLeaseToken() string {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(raw)
}
