package dlq

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
	defaultPostgresTable     = "dteflow_dead_letters"
	defaultPostgresOperation = 3 * time.Second
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresStoreConfig configures the Postgres dead letter store.
type PostgresStoreConfig struct {
	URL              string
	Table            string
	OperationTimeout time.Duration
}

func (c *PostgresStoreConfig) normalize() {
	if strings.TrimSpace(c.Table) == "" {
		c.Table = defaultPostgresTable
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultPostgresOperation
	}
}

// PostgresStore stores dead letters as table rows, one per entry.
type PostgresStore struct {
	db     *sql.DB
	log    logger.Logger
	config PostgresStoreConfig
}

// NewPostgresStore opens a connection, verifies it and ensures the table
// exists.
func NewPostgresStore(cfg PostgresStoreConfig, log logger.Logger) (*PostgresStore, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("postgres url is required")
	}
	cfg.normalize()
	if !validTableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid dead letter table name %q", cfg.Table)
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres failed: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres failed: %w", err)
	}

	store := &PostgresStore{db: db, log: log, config: cfg}
	if err := store.ensureTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB wraps an existing connection pool. Used by tests
// and by deployments that manage pooling themselves.
func NewPostgresStoreWithDB(db *sql.DB, cfg PostgresStoreConfig, log logger.Logger) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	if !validTableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid dead letter table name %q", cfg.Table)
	}
	return &PostgresStore{db: db, log: log, config: cfg}, nil
}

func (s *PostgresStore) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	origin_queue TEXT NOT NULL,
	original_job_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload_snapshot BYTEA,
	error_text TEXT NOT NULL,
	stack_trace TEXT NOT NULL DEFAULT '',
	tenant_id TEXT NOT NULL DEFAULT '',
	correlation_id TEXT NOT NULL DEFAULT '',
	priority INTEGER NOT NULL DEFAULT 0,
	attempts_at_failure INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 0,
	failed_at TIMESTAMPTZ NOT NULL
)
`, s.config.Table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure dead letter table failed: %w", err)
	}
	index := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_failed_at_idx ON %s (origin_queue, failed_at)`,
		s.config.Table, s.config.Table)
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("ensure dead letter index failed: %w", err)
	}
	return nil
}

const entryColumns = `id, origin_queue, original_job_id, kind, payload_snapshot, error_text,
	stack_trace, tenant_id, correlation_id, priority, attempts_at_failure, max_attempts, failed_at`

// Put persists a new entry.
func (s *PostgresStore) Put(ctx context.Context, entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		s.config.Table, entryColumns)
	_, err := s.db.ExecContext(opCtx, query,
		entry.ID, entry.OriginQueue, entry.OriginalJobID, entry.Kind,
		entry.PayloadSnapshot, entry.Error, entry.StackTrace,
		entry.TenantID, entry.CorrelationID, entry.Priority,
		entry.AttemptsAtFailure, entry.MaxAttempts, entry.FailedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert dead letter failed: %w", err)
	}
	return nil
}

// List returns entries newest first.
func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*Entry, error) {
	opts.normalize()
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()

	var rows *sql.Rows
	var err error
	if opts.OriginQueue != "" {
		query := fmt.Sprintf(
			`SELECT %s FROM %s WHERE origin_queue = $1 ORDER BY failed_at DESC, id LIMIT $2 OFFSET $3`,
			entryColumns, s.config.Table)
		rows, err = s.db.QueryContext(opCtx, query, opts.OriginQueue, opts.Limit, opts.Offset)
	} else {
		query := fmt.Sprintf(
			`SELECT %s FROM %s ORDER BY failed_at DESC, id LIMIT $1 OFFSET $2`,
			entryColumns, s.config.Table)
		rows, err = s.db.QueryContext(opCtx, query, opts.Limit, opts.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list dead letters failed: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		entry, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Get returns one entry by id without removing it.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Entry, error) {
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, entryColumns, s.config.Table)
	entry, err := scanEntry(s.db.QueryRowContext(opCtx, query, strings.TrimSpace(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dlqError(ErrNotFound, id)
	}
	return entry, err
}

// Delete removes the entry and returns it. DELETE ... RETURNING makes
// the take atomic, so concurrent retriers cannot both win.
func (s *PostgresStore) Delete(ctx context.Context, id string) (*Entry, error) {
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 RETURNING %s`, s.config.Table, entryColumns)
	entry, err := scanEntry(s.db.QueryRowContext(opCtx, query, strings.TrimSpace(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dlqError(ErrNotFound, id)
	}
	return entry, err
}

// Purge removes entries that failed before the cutoff.
func (s *PostgresStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE failed_at < $1`, s.config.Table)
	result, err := s.db.ExecContext(opCtx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge dead letters failed: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the number of stored entries for one or all queues.
func (s *PostgresStore) Count(ctx context.Context, originQueue string) (int64, error) {
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()

	var count int64
	if originQueue != "" {
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE origin_queue = $1`, s.config.Table)
		if err := s.db.QueryRowContext(opCtx, query, originQueue).Scan(&count); err != nil {
			return 0, err
		}
		return count, nil
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.config.Table)
	if err := s.db.QueryRowContext(opCtx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Stats groups entry counts and oldest failure by origin queue.
func (s *PostgresStore) Stats(ctx context.Context) ([]QueueStats, error) {
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()

	query := fmt.Sprintf(
		`SELECT origin_queue, COUNT(*), MIN(failed_at) FROM %s GROUP BY origin_queue ORDER BY origin_queue`,
		s.config.Table)
	rows, err := s.db.QueryContext(opCtx, query)
	if err != nil {
		return nil, fmt.Errorf("dead letter stats failed: %w", err)
	}
	defer rows.Close()

	stats := []QueueStats{}
	for rows.Next() {
		var item QueueStats
		if err := rows.Scan(&item.OriginQueue, &item.Count, &item.OldestFailedAt); err != nil {
			return nil, err
		}
		stats = append(stats, item)
	}
	return stats, rows.Err()
}

// HealthCheck verifies connectivity.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	return s.db.PingContext(opCtx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	err := row.Scan(
		&entry.ID, &entry.OriginQueue, &entry.OriginalJobID, &entry.Kind,
		&entry.PayloadSnapshot, &entry.Error, &entry.StackTrace,
		&entry.TenantID, &entry.CorrelationID, &entry.Priority,
		&entry.AttemptsAtFailure, &entry.MaxAttempts, &entry.FailedAt)
	if err != nil {
		return nil, err
	}
	entry.FailedAt = entry.FailedAt.UTC()
	return &entry, nil
}
