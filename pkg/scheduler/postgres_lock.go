package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/dteflow/dteflow/pkg/observability/logger"
)

const (
	defaultPostgresLockTable   = "dteflow_scheduler_locks"
	defaultPostgresLockTimeout = 3 * time.Second
)

// The table name is interpolated into SQL, so it is restricted to a
// plain identifier.
var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresLockProviderConfig configures locks stored as table rows.
type PostgresLockProviderConfig struct {
	URL              string
	Table            string
	OperationTimeout time.Duration
}

func (c *PostgresLockProviderConfig) normalize() {
	if strings.TrimSpace(c.Table) == "" {
		c.Table = defaultPostgresLockTable
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultPostgresLockTimeout
	}
}

// PostgresLockProvider implements LockProvider on a single Postgres
// table: one row per lock, expired rows are free to take over.
type PostgresLockProvider struct {
	db     *sql.DB
	log    logger.Logger
	config PostgresLockProviderConfig
}

// NewPostgresLockProvider connects, verifies connectivity and creates
// the lock table when missing.
func NewPostgresLockProvider(cfg PostgresLockProviderConfig, log logger.Logger) (*PostgresLockProvider, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, schedulerError(ErrInvalidArgument, "postgres url is required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, errors.Join(schedulerError(ErrRetryable, "open postgres failed"), err)
	}

	provider, err := newPostgresLockProviderWithDB(db, cfg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), provider.config.OperationTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Join(schedulerError(ErrRetryable, "ping postgres failed"), err)
	}
	if err := provider.ensureTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return provider, nil
}

func newPostgresLockProviderWithDB(db *sql.DB, cfg PostgresLockProviderConfig, log logger.Logger) (*PostgresLockProvider, error) {
	if db == nil {
		return nil, schedulerError(ErrInvalidArgument, "db is required")
	}
	if log == nil {
		return nil, schedulerError(ErrInvalidArgument, "logger is required")
	}
	cfg.normalize()
	if !validTableName.MatchString(cfg.Table) {
		return nil, schedulerError(ErrValidation, fmt.Sprintf("invalid scheduler postgres table name %q", cfg.Table))
	}
	return &PostgresLockProvider{db: db, log: log, config: cfg}, nil
}

// Acquire takes the lock row when it is missing or expired.
func (p *PostgresLockProvider) Acquire(ctx context.Context, key string, ttl time.Duration) (*LockLease, bool, error) {
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

	token := randomSchedulerID()
	expiresAt := time.Now().UTC().Add(ttl)
	opCtx, cancel := p.opContext(ctx)
	defer cancel()

	query := fmt.Sprintf(`
WITH upsert AS (
	INSERT INTO %s(lock_key, token, expires_at, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT(lock_key) DO UPDATE
	SET token = EXCLUDED.token,
	    expires_at = EXCLUDED.expires_at,
	    updated_at = NOW()
	WHERE %s.expires_at <= NOW()
	RETURNING 1
)
SELECT EXISTS(SELECT 1 FROM upsert)
`, p.config.Table, p.config.Table)

	var won bool
	if err := p.db.QueryRowContext(opCtx, query, key, token, expiresAt).Scan(&won); err != nil {
		return nil, false, errors.Join(schedulerError(ErrRetryable, "acquire lock failed"), err)
	}
	if !won {
		return nil, false, nil
	}
	return &LockLease{Key: key, Token: token, ExpireAt: expiresAt}, true, nil
}

// Renew extends the row expiry while the lease token still matches an
// unexpired row.
func (p *PostgresLockProvider) Renew(ctx context.Context, lease *LockLease, ttl time.Duration) error {
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
	query := fmt.Sprintf(`UPDATE %s SET expires_at=$3, updated_at=NOW() WHERE lock_key=$1 AND token=$2 AND expires_at > NOW()`, p.config.Table)
	affected, err := p.execAffected(opCtx, query, key, token, time.Now().UTC().Add(ttl))
	if err != nil {
		return errors.Join(schedulerError(ErrRetryable, "renew lock failed"), err)
	}
	if affected == 0 {
		return schedulerError(ErrConflict, "lock renew rejected")
	}
	lease.ExpireAt = time.Now().UTC().Add(ttl)
	return nil
}

// Release deletes the lock row when the lease token still matches.
func (p *PostgresLockProvider) Release(ctx context.Context, lease *LockLease) error {
	if err := p.ready(); err != nil {
		return err
	}
	key, token, err := leaseFields(lease)
	if err != nil {
		return err
	}

	opCtx, cancel := p.opContext(ctx)
	defer cancel()
	query := fmt.Sprintf(`DELETE FROM %s WHERE lock_key=$1 AND token=$2`, p.config.Table)
	affected, err := p.execAffected(opCtx, query, key, token)
	if err != nil {
		return errors.Join(schedulerError(ErrRetryable, "release lock failed"), err)
	}
	if affected == 0 {
		return schedulerError(ErrConflict, "lock release rejected")
	}
	return nil
}

// HealthCheck verifies database connectivity.
func (p *PostgresLockProvider) HealthCheck(ctx context.Context) error {
	if err := p.ready(); err != nil {
		return err
	}
	opCtx, cancel := p.opContext(ctx)
	defer cancel()
	return p.db.PingContext(opCtx)
}

// Close closes database resources.
func (p *PostgresLockProvider) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresLockProvider) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	lock_key TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, p.config.Table)
	_, err := p.db.ExecContext(ctx, query)
	return err
}

func (p *PostgresLockProvider) execAffected(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (p *PostgresLockProvider) ready() error {
	if p == nil || p.db == nil {
		return schedulerError(ErrNotInitialized, "postgres lock provider is not initialized")
	}
	return nil
}

func (p *PostgresLockProvider) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, p.config.OperationTimeout)
}
