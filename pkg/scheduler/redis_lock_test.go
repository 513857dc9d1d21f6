package scheduler

import (
	"errors"
	"testing"
	"time"
)

func TestRedisLockProviderConfigNormalize(t *testing.T) {
	cfg := &RedisLockProviderConfig{}
	cfg.normalize()

	if cfg.Prefix != "dteflow:scheduler:lock" {
		t.Errorf("expected default prefix, got %s", cfg.Prefix)
	}
	if cfg.OperationTimeout != 3*time.Second {
		t.Errorf("expected default timeout, got %v", cfg.OperationTimeout)
	}
}

func TestRedisLockProviderConfigNormalizeCustom(t *testing.T) {
	cfg := &RedisLockProviderConfig{
		Prefix:           "custom:",
		OperationTimeout: 10 * time.Second,
	}
	cfg.normalize()

	if cfg.Prefix != "custom:" {
		t.Errorf("expected custom prefix, got %s", cfg.Prefix)
	}
	if cfg.OperationTimeout != 10*time.Second {
		t.Errorf("expected custom timeout, got %v", cfg.OperationTimeout)
	}
}

func TestRedisLockProviderKeyPrefix(t *testing.T) {
	p := &RedisLockProvider{config: RedisLockProviderConfig{Prefix: "dteflow:scheduler:lock:"}}
	if got := p.lockKey(" dlq-purge:1693300000 "); got != "dteflow:scheduler:lock:dlq-purge:1693300000" {
		t.Errorf("unexpected lock key %q", got)
	}
}

func TestLeaseFieldsValidation(t *testing.T) {
	if _, _, err := leaseFields(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected invalid argument for nil lease, got %v", err)
	}
	if _, _, err := leaseFields(&LockLease{Key: "k"}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected invalid argument for missing token, got %v", err)
	}

	key, token, err := leaseFields(&LockLease{Key: " k ", Token: " tok "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "k" || token != "tok" {
		t.Errorf("expected trimmed fields, got %q %q", key, token)
	}
}

func TestNewLockTokenUnique(t *testing.T) {
	a, b := newLockToken(), newLockToken()
	if a == "" || a == b {
		t.Errorf("expected distinct non-empty tokens, got %q and %q", a, b)
	}
}
