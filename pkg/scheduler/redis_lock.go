package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dteflow/dteflow/pkg/observability/logger"
)

const (
	defaultRedisLockPrefix  = "dteflow:scheduler:lock"
	defaultRedisLockTimeout = 3 * time.Second
)

// Release and renew compare the stored token first so a provider never
// touches a lock another instance re-acquired after ours expired.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// RedisLockProviderConfig configures distributed locks backed by Redis.
type RedisLockProviderConfig struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
}

func (c *RedisLockProviderConfig) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultRedisLockPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisLockTimeout
	}
}

// RedisLockProvider implements LockProvider with SET NX PX semantics,
// one key per task firing.
type RedisLockProvider struct {
	client *redis.Client
	log    logger.Logger
	config RedisLockProviderConfig
}

// NewRedisLockProvider connects to Redis and verifies connectivity.
func NewRedisLockProvider(cfg RedisLockProviderConfig, log logger.Logger) (*RedisLockProvider, error) {
	if log == nil {
		return nil, schedulerError(ErrInvalidArgument, "logger is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, schedulerError(ErrInvalidArgument, "redis url is required")
	}
	cfg.normalize()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(schedulerError(ErrValidation, "parse redis url failed"), err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(schedulerError(ErrRetryable, "ping redis failed"), err)
	}

	return &RedisLockProvider{client: client, log: log, config: cfg}, nil
}

// Acquire takes the lock when the key is free. The second return value
// reports whether this instance won the firing.
func (p *RedisLockProvider) Acquire(ctx context.Context, key string, ttl time.Duration) (*LockLease, bool, error) {
	if err := p.ready(); err != nil {
		return nil, false, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, schedulerError(ErrInvalidArgument, "lock key is required")
	}
	if ttl <= 0 {
		return nil, false, schedulerError(ErrInvalidArgument, "ttl must be > 0")
	}

	token := newLockToken()
	opCtx, cancel := p.opContext(ctx)
	defer cancel()
	won, err := p.client.SetNX(opCtx, p.lockKey(key), token, ttl).Result()
	if err != nil {
		return nil, false, errors.Join(schedulerError(ErrRetryable, "acquire lock failed"), err)
	}
	if !won {
		return nil, false, nil
	}

	return &LockLease{
		Key:      key,
		Token:    token,
		ExpireAt: time.Now().UTC().Add(ttl),
	}, true, nil
}

// Renew extends the lock expiry while the lease token still matches.
func (p *RedisLockProvider) Renew(ctx context.Context, lease *LockLease, ttl time.Duration) error {
	if err := p.ready(); err != nil {
		return err
	}
	if ttl <= 0 {
		return schedulerError(ErrInvalidArgument, "ttl must be > 0")
	}
	key, token, err := leaseFields(lease)
	if err != nil {
		return err
	}

	opCtx, cancel := p.opContext(ctx)
	defer cancel()
	kept, err := renewScript.Run(opCtx, p.client, []string{p.lockKey(key)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return errors.Join(schedulerError(ErrRetryable, "renew lock failed"), err)
	}
	if kept == 0 {
		return schedulerError(ErrConflict, "lock renew rejected")
	}

	lease.ExpireAt = time.Now().UTC().Add(ttl)
	return nil
}

// Release deletes the lock when the lease token still matches.
func (p *RedisLockProvider) Release(ctx context.Context, lease *LockLease) error {
	if err := p.ready(); err != nil {
		return err
	}
	key, token, err := leaseFields(lease)
	if err != nil {
		return err
	}

	opCtx, cancel := p.opContext(ctx)
	defer cancel()
	removed, err := releaseScript.Run(opCtx, p.client, []string{p.lockKey(key)}, token).Int64()
	if err != nil {
		return errors.Join(schedulerError(ErrRetryable, "release lock failed"), err)
	}
	if removed == 0 {
		return schedulerError(ErrConflict, "lock release rejected")
	}
	return nil
}

// HealthCheck verifies Redis connectivity.
func (p *RedisLockProvider) HealthCheck(ctx context.Context) error {
	if err := p.ready(); err != nil {
		return err
	}
	opCtx, cancel := p.opContext(ctx)
	defer cancel()
	if err := p.client.Ping(opCtx).Err(); err != nil {
		return errors.Join(schedulerError(ErrRetryable, "redis healthcheck failed"), err)
	}
	return nil
}

// Close closes Redis client connections.
func (p *RedisLockProvider) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *RedisLockProvider) ready() error {
	if p == nil || p.client == nil {
		return schedulerError(ErrNotInitialized, "redis lock provider is not initialized")
	}
	return nil
}

func (p *RedisLockProvider) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.config.OperationTimeout)
}

func (p *RedisLockProvider) lockKey(key string) string {
	return strings.TrimRight(p.config.Prefix, ":") + ":" + strings.TrimSpace(key)
}

func leaseFields(lease *LockLease) (key, token string, err error) {
	if lease == nil {
		return "", "", schedulerError(ErrInvalidArgument, "lease is required")
	}
	key = strings.TrimSpace(lease.Key)
	token = strings.TrimSpace(lease.Token)
	if key == "" || token == "" {
		return "", "", schedulerError(ErrInvalidArgument, "lease key and token are required")
	}
	return key, token, nil
}

func newLockToken() string {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(raw)
}
