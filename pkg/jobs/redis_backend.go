package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dteflow/dteflow/pkg/observability/logger"
)

const (
	defaultRedisPrefix           = "dteflow:jobs"
	defaultRedisOperationTimeout = 5 * time.Second
	defaultRedisPollInterval     = 100 * time.Millisecond
	defaultRedisTransferBatch    = 100
)

// Ready queues are sorted sets scored seq - priority*1e12, so higher
// priority pops first and equal priorities keep insertion order.
var (
	redisEnqueueScript = redis.NewScript(`
local ready = KEYS[1]
local delayed = KEYS[2]
local seqKey = KEYS[3]
local encoded = ARGV[1]
local runAtMs = tonumber(ARGV[2])
local nowMs = tonumber(ARGV[3])
local priority = tonumber(ARGV[4])

if runAtMs <= nowMs then
  local seq = redis.call("INCR", seqKey)
  redis.call("ZADD", ready, seq - priority * 1e12, encoded)
else
  redis.call("ZADD", delayed, runAtMs, encoded)
end
return 1
`)

	redisReserveScript = redis.NewScript(`
local ready = KEYS[1]
local delayed = KEYS[2]
local leaseIndex = KEYS[3]
local seqKey = KEYS[4]
local pausedKey = KEYS[5]
local leasePrefix = ARGV[1]
local nowMs = tonumber(ARGV[2])
local transferBatch = tonumber(ARGV[3])
local leaseMs = tonumber(ARGV[4])
local token = ARGV[5]

local expired = redis.call("ZRANGEBYSCORE", leaseIndex, "-inf", nowMs, "LIMIT", 0, transferBatch)
for _, staleToken in ipairs(expired) do
  local payload = redis.call("GET", leasePrefix .. staleToken)
  if payload then
    local doc = cjson.decode(payload)
    local priority = tonumber(doc.job.priority) or 0
    local seq = redis.call("INCR", seqKey)
    redis.call("ZADD", ready, seq - priority * 1e12, payload)
    redis.call("DEL", leasePrefix .. staleToken)
  end
  redis.call("ZREM", leaseIndex, staleToken)
end

local due = redis.call("ZRANGEBYSCORE", delayed, "-inf", nowMs, "LIMIT", 0, transferBatch)
for _, payload in ipairs(due) do
  local doc = cjson.decode(payload)
  local priority = tonumber(doc.job.priority) or 0
  local seq = redis.call("INCR", seqKey)
  redis.call("ZADD", ready, seq - priority * 1e12, payload)
  redis.call("ZREM", delayed, payload)
end

if redis.call("EXISTS", pausedKey) == 1 then
  return nil
end

local popped = redis.call("ZPOPMIN", ready)
if #popped == 0 then
  return nil
end
local payload = popped[1]
redis.call("SET", leasePrefix .. token, payload)
redis.call("ZADD", leaseIndex, nowMs + leaseMs, token)
return payload
`)

	redisSettleScript = redis.NewScript(`
local leaseKey = KEYS[1]
local leaseIndex = KEYS[2]
local counterKey = KEYS[3]
local token = ARGV[1]

local current = redis.call("GET", leaseKey)
if not current then
  return 0
end
redis.call("DEL", leaseKey)
redis.call("ZREM", leaseIndex, token)
redis.call("INCR", counterKey)
return 1
`)

	redisTransitionLeaseScript = redis.NewScript(`
local leaseKey = KEYS[1]
local ready = KEYS[2]
local delayed = KEYS[3]
local leaseIndex = KEYS[4]
local seqKey = KEYS[5]
local token = ARGV[1]
local encoded = ARGV[2]
local runAtMs = tonumber(ARGV[3])
local nowMs = tonumber(ARGV[4])
local priority = tonumber(ARGV[5])

local current = redis.call("GET", leaseKey)
if not current then
  return 0
end
redis.call("DEL", leaseKey)
redis.call("ZREM", leaseIndex, token)

if runAtMs <= nowMs then
  local seq = redis.call("INCR", seqKey)
  redis.call("ZADD", ready, seq - priority * 1e12, encoded)
else
  redis.call("ZADD", delayed, runAtMs, encoded)
end
return 1
`)
)

// RedisBackendConfig configures the Redis-backed jobs backend.
type RedisBackendConfig struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
	PollInterval     time.Duration
	TransferBatch    int
}

func (c *RedisBackendConfig) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultRedisPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultRedisPollInterval
	}
	if c.TransferBatch <= 0 {
		c.TransferBatch = defaultRedisTransferBatch
	}
}

type redisJobEnvelope struct {
	Job *Job `json:"job"`
}

// RedisBackend implements Backend with Redis sorted sets and lease keys,
// so multiple processes can share queues durably.
type RedisBackend struct {
	client *redis.Client
	log    logger.Logger
	config RedisBackendConfig

	mu     sync.RWMutex
	closed bool
}

// NewRedisBackend creates a Redis-backed jobs backend.
func NewRedisBackend(cfg RedisBackendConfig, log logger.Logger) (*RedisBackend, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("redis url is required")
	}
	cfg.normalize()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url failed: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis failed: %w", err)
	}

	return &RedisBackend{
		client: client,
		log:    log,
		config: cfg,
	}, nil
}

// Enqueue schedules a job for immediate or delayed execution.
func (b *RedisBackend) Enqueue(ctx context.Context, job *Job) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if job == nil {
		return jobsError(ErrValidation, "job is required")
	}
	jobCopy := job.Clone()
	if jobCopy.CreatedAt.IsZero() {
		jobCopy.CreatedAt = time.Now().UTC()
	}
	if jobCopy.RunAt.IsZero() {
		jobCopy.RunAt = jobCopy.CreatedAt
	}
	if err := jobCopy.Validate(); err != nil {
		return err
	}

	encoded, err := json.Marshal(redisJobEnvelope{Job: jobCopy})
	if err != nil {
		return fmt.Errorf("marshal job envelope failed: %w", err)
	}

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	err = redisEnqueueScript.Run(
		opCtx,
		b.client,
		[]string{b.readyKey(jobCopy.Queue), b.delayedKey(jobCopy.Queue), b.seqKey()},
		string(encoded),
		jobCopy.RunAt.UnixMilli(),
		now.UnixMilli(),
		jobCopy.Priority,
	).Err()
	if err != nil {
		return err
	}
	recordJobEnqueued("redis", jobCopy)
	return nil
}

// Reserve returns the next available job with a lease token. It also
// requeues jobs whose lease expired and promotes due delayed jobs.
func (b *RedisBackend) Reserve(ctx context.Context, queue string, leaseFor time.Duration) (*Job, *Lease, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, nil, err
	}
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
	leaseMilliseconds := leaseFor.Milliseconds()
	if leaseMilliseconds <= 0 {
		leaseMilliseconds = 1
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		token := newLeaseToken()
		now := time.Now().UTC()
		opCtx, cancel := b.operationContext(ctx)
		result, reserveErr := redisReserveScript.Run(
			opCtx,
			b.client,
			[]string{
				b.readyKey(queue),
				b.delayedKey(queue),
				b.leaseIndexKey(queue),
				b.seqKey(),
				b.pausedKey(queue),
			},
			b.leaseKeyPrefix(),
			now.UnixMilli(),
			b.config.TransferBatch,
			leaseMilliseconds,
			token,
		).Result()
		cancel()
		if reserveErr != nil && !errors.Is(reserveErr, redis.Nil) {
			return nil, nil, reserveErr
		}
		raw, ok := result.(string)
		if errors.Is(reserveErr, redis.Nil) || !ok || strings.TrimSpace(raw) == "" {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(b.config.PollInterval):
				continue
			}
		}

		var envelope redisJobEnvelope
		if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
			b.log.Warn("discarding malformed queued job payload", "queue", queue, "error", err)
			_ = b.settle(ctx, token, queue, b.failedKey(queue))
			continue
		}
		if envelope.Job == nil {
			_ = b.settle(ctx, token, queue, b.failedKey(queue))
			continue
		}
		if strings.TrimSpace(envelope.Job.Queue) == "" {
			envelope.Job.Queue = queue
		}
		if err := envelope.Job.Validate(); err != nil {
			b.log.Warn("discarding invalid queued job", "queue", queue, "error", err)
			_ = b.settle(ctx, token, queue, b.failedKey(queue))
			continue
		}

		lease := &Lease{
			JobID:    strings.TrimSpace(envelope.Job.ID),
			Token:    token,
			Queue:    queue,
			ExpireAt: now.Add(leaseFor),
			Attempt:  envelope.Job.Attempt,
		}
		return envelope.Job.Clone(), cloneLease(lease), nil
	}
}

// Ack confirms job completion and releases the lease.
func (b *RedisBackend) Ack(ctx context.Context, lease *Lease) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if lease == nil || strings.TrimSpace(lease.Token) == "" {
		return jobsError(ErrValidation, "lease token is required")
	}
	return b.settle(ctx, strings.TrimSpace(lease.Token), strings.TrimSpace(lease.Queue), b.completedKey(lease.Queue))
}

// Nack reschedules the leased job for retry at nextRunAt.
func (b *RedisBackend) Nack(ctx context.Context, lease *Lease, nextRunAt time.Time, reason error) error {
	job, err := b.readLeasedJob(ctx, lease)
	if err != nil {
		return err
	}
	job.Attempt++
	if job.Headers == nil {
		job.Headers = map[string]string{}
	}
	if reason != nil {
		job.Headers[HeaderFailureReason] = reason.Error()
	}
	job.Headers[HeaderFailedAt] = time.Now().UTC().Format(time.RFC3339Nano)
	job.RunAt = nextRunAt.UTC()
	if job.RunAt.IsZero() {
		job.RunAt = time.Now().UTC()
	}

	encodedJob, err := json.Marshal(redisJobEnvelope{Job: job})
	if err != nil {
		return fmt.Errorf("marshal retry job failed: %w", err)
	}
	return b.transitionLease(ctx, lease, string(encodedJob), job)
}

// Fail settles a leased job as terminally failed. The caller is expected
// to have captured the job into the dead-letter store first.
func (b *RedisBackend) Fail(ctx context.Context, lease *Lease, reason error) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if lease == nil || strings.TrimSpace(lease.Token) == "" {
		return jobsError(ErrValidation, "lease token is required")
	}
	return b.settle(ctx, strings.TrimSpace(lease.Token), strings.TrimSpace(lease.Queue), b.failedKey(lease.Queue))
}

// Stats reports live counters for one queue.
func (b *RedisBackend) Stats(ctx context.Context, queue string) (QueueStats, error) {
	if err := b.ensureOpen(); err != nil {
		return QueueStats{}, err
	}
	queue = strings.TrimSpace(queue)
	if !IsKnownQueue(queue) {
		return QueueStats{}, jobsError(ErrUnknownQueue, queue)
	}

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()

	pipe := b.client.Pipeline()
	waiting := pipe.ZCard(opCtx, b.readyKey(queue))
	delayed := pipe.ZCard(opCtx, b.delayedKey(queue))
	active := pipe.ZCount(opCtx, b.leaseIndexKey(queue), fmt.Sprintf("%d", time.Now().UTC().UnixMilli()), "+inf")
	completed := pipe.Get(opCtx, b.completedKey(queue))
	failed := pipe.Get(opCtx, b.failedKey(queue))
	paused := pipe.Exists(opCtx, b.pausedKey(queue))
	if _, err := pipe.Exec(opCtx); err != nil && !errors.Is(err, redis.Nil) {
		return QueueStats{}, err
	}

	stats := QueueStats{
		Queue:   queue,
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Paused:  paused.Val() > 0,
	}
	if value, err := completed.Int64(); err == nil {
		stats.Completed = value
	}
	if value, err := failed.Int64(); err == nil {
		stats.Failed = value
	}
	return stats, nil
}

// Pause stops the queue from handing out jobs. Enqueues still land.
func (b *RedisBackend) Pause(ctx context.Context, queue string) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	queue = strings.TrimSpace(queue)
	if !IsKnownQueue(queue) {
		return jobsError(ErrUnknownQueue, queue)
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	return b.client.Set(opCtx, b.pausedKey(queue), "1", 0).Err()
}

// Resume lifts a pause.
func (b *RedisBackend) Resume(ctx context.Context, queue string) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	queue = strings.TrimSpace(queue)
	if !IsKnownQueue(queue) {
		return jobsError(ErrUnknownQueue, queue)
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	return b.client.Del(opCtx, b.pausedKey(queue)).Err()
}

// HealthCheck verifies Redis connectivity.
func (b *RedisBackend) HealthCheck(ctx context.Context) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	return b.client.Ping(opCtx).Err()
}

// Close closes Redis connections.
func (b *RedisBackend) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.client.Close()
}

func (b *RedisBackend) settle(ctx context.Context, token, queue, counterKey string) error {
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	settled, err := redisSettleScript.Run(
		opCtx,
		b.client,
		[]string{b.leaseKey(token), b.leaseIndexKey(queue), counterKey},
		token,
	).Int()
	if err != nil {
		return err
	}
	if settled == 0 {
		return jobsError(ErrNotFound, "lease not found")
	}
	return nil
}

func (b *RedisBackend) readLeasedJob(ctx context.Context, lease *Lease) (*Job, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	if lease == nil || strings.TrimSpace(lease.Token) == "" {
		return nil, jobsError(ErrValidation, "lease token is required")
	}
	token := strings.TrimSpace(lease.Token)

	opCtx, cancel := b.operationContext(ctx)
	raw, err := b.client.Get(opCtx, b.leaseKey(token)).Result()
	cancel()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, jobsError(ErrNotFound, "lease not found")
		}
		return nil, err
	}

	var envelope redisJobEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("decode lease payload failed: %w", err)
	}
	if envelope.Job == nil {
		return nil, errors.New("lease payload does not contain a job")
	}
	if strings.TrimSpace(envelope.Job.Queue) == "" {
		envelope.Job.Queue = strings.TrimSpace(lease.Queue)
	}
	if err := envelope.Job.Validate(); err != nil {
		return nil, err
	}
	return envelope.Job.Clone(), nil
}

func (b *RedisBackend) transitionLease(ctx context.Context, lease *Lease, encoded string, job *Job) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	now := time.Now().UTC()
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	transitioned, err := redisTransitionLeaseScript.Run(
		opCtx,
		b.client,
		[]string{
			b.leaseKey(strings.TrimSpace(lease.Token)),
			b.readyKey(job.Queue),
			b.delayedKey(job.Queue),
			b.leaseIndexKey(job.Queue),
			b.seqKey(),
		},
		strings.TrimSpace(lease.Token),
		encoded,
		job.RunAt.UnixMilli(),
		now.UnixMilli(),
		job.Priority,
	).Int()
	if err != nil {
		return err
	}
	if transitioned == 0 {
		return jobsError(ErrNotFound, "lease not found")
	}
	return nil
}

func (b *RedisBackend) ensureOpen() error {
	if b == nil || b.client == nil {
		return errors.New("redis backend is not initialized")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *RedisBackend) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, b.config.OperationTimeout)
}

func (b *RedisBackend) readyKey(queue string) string {
	return b.prefix() + ":queue:" + strings.TrimSpace(queue) + ":ready"
}

func (b *RedisBackend) delayedKey(queue string) string {
	return b.prefix() + ":queue:" + strings.TrimSpace(queue) + ":delayed"
}

func (b *RedisBackend) pausedKey(queue string) string {
	return b.prefix() + ":queue:" + strings.TrimSpace(queue) + ":paused"
}

func (b *RedisBackend) completedKey(queue string) string {
	return b.prefix() + ":queue:" + strings.TrimSpace(queue) + ":completed"
}

func (b *RedisBackend) failedKey(queue string) string {
	return b.prefix() + ":queue:" + strings.TrimSpace(queue) + ":failed"
}

func (b *RedisBackend) leaseIndexKey(queue string) string {
	return b.prefix() + ":queue:" + strings.TrimSpace(queue) + ":leases"
}

func (b *RedisBackend) leaseKey(token string) string {
	return b.prefix() + ":lease:" + strings.TrimSpace(token)
}

func (b *RedisBackend) leaseKeyPrefix() string {
	return b.prefix() + ":lease:"
}

func (b *RedisBackend) seqKey() string {
	return b.prefix() + ":seq"
}

func (b *RedisBackend) prefix() string {
	return strings.TrimRight(strings.TrimSpace(b.config.Prefix), ":")
}
