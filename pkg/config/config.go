// Package config loads pipeline configuration with precedence
// ENV > secrets file > config file > defaults.
package config

import "time"

// Queue backend type constants
const (
	// QueueBackendRedis stores jobs in Redis
	QueueBackendRedis = "redis"
	// QueueBackendMemory keeps jobs in process memory, for tests and local runs
	QueueBackendMemory = "memory"
)

// Scheduler lock provider constants
const (
	// LockProviderRedis uses Redis for distributed locks
	LockProviderRedis = "redis"
	// LockProviderPostgres uses PostgreSQL for distributed locks
	LockProviderPostgres = "postgres"
	// LockProviderMemory uses in-process locks, for tests and local runs
	LockProviderMemory = "memory"
)

// Config is the root configuration for the document pipeline.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Management ManagementConfig `mapstructure:"management"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Signing    SigningConfig    `mapstructure:"signing"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Authority  AuthorityConfig  `mapstructure:"authority"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	SIEM       SIEMConfig       `mapstructure:"siem"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServiceConfig identifies the running service instance.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ManagementConfig controls the operational HTTP listener.
type ManagementConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// QueueConfig selects and tunes the job queue backend.
type QueueConfig struct {
	Backend      string        `mapstructure:"backend"`
	RedisURL     string        `mapstructure:"redis_url"`
	LeaseTTL     time.Duration `mapstructure:"lease_ttl"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// PostgresConfig covers the relational store used for dead letters,
// audit records and scheduler locks.
type PostgresConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SigningConfig tunes the signing worker pool and key resolution.
type SigningConfig struct {
	PoolSize     int           `mapstructure:"pool_size"`
	QueueDepth   int           `mapstructure:"queue_depth"`
	SignTimeout  time.Duration `mapstructure:"sign_timeout"`
	KeyDirectory string        `mapstructure:"key_directory"`
	// Passphrases maps key bundle references to their passphrases. Belongs
	// in the secrets file, not the main config.
	Passphrases map[string]string `mapstructure:"passphrases"`
}

// WorkerConfig tunes job consumption and the retry ladder.
type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// AuthorityConfig points at the tax authority reception endpoint.
type AuthorityConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	Token           string        `mapstructure:"token"`
	Timeout         time.Duration `mapstructure:"timeout"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// SchedulerConfig selects the distributed lock provider and task schedules.
type SchedulerConfig struct {
	LockProvider  string        `mapstructure:"lock_provider"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	ExpirySweep   string        `mapstructure:"expiry_sweep"`
	DeadLetterTTL time.Duration `mapstructure:"dead_letter_ttl"`
	PurgeSchedule string        `mapstructure:"purge_schedule"`
}

// AlertsConfig tunes certificate expiry alerting.
type AlertsConfig struct {
	WarningWindow time.Duration `mapstructure:"warning_window"`
	Recipient     string        `mapstructure:"recipient"`
	Channel       string        `mapstructure:"channel"`
}

// SIEMConfig points audit forwarding at a SIEM collector. Forwarding
// is off until an endpoint is configured.
type SIEMConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SMTPConfig covers outbound email notifications.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// WebhookConfig covers outbound webhook notifications.
type WebhookConfig struct {
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "dteflow",
			Environment: "development",
		},
		Management: ManagementConfig{
			Port:         9090,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Queue: QueueConfig{
			Backend:      QueueBackendMemory,
			LeaseTTL:     time.Minute,
			PollInterval: time.Second,
		},
		Postgres: PostgresConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Signing: SigningConfig{
			PoolSize:    4,
			QueueDepth:  64,
			SignTimeout: 10 * time.Second,
		},
		Worker: WorkerConfig{
			Concurrency:    4,
			MaxAttempts:    5,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     5 * time.Minute,
		},
		Authority: AuthorityConfig{
			Timeout:         15 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			LockProvider:  LockProviderMemory,
			LockTTL:       30 * time.Second,
			ExpirySweep:   "@every 24h",
			DeadLetterTTL: 30 * 24 * time.Hour,
			PurgeSchedule: "@every 24h",
		},
		Alerts: AlertsConfig{
			WarningWindow: 30 * 24 * time.Hour,
			Channel:       "email",
		},
		SIEM: SIEMConfig{
			Timeout: 5 * time.Second,
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Webhook: WebhookConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
