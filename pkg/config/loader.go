package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader loads and validates pipeline configuration.
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper.
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a loader. configFile may be empty; envPrefix
// defaults to DTEFLOW.
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	envPrefix = strings.TrimSpace(envPrefix)
	if envPrefix == "" {
		envPrefix = "DTEFLOW"
	}
	return &ViperLoader{
		configFile: strings.TrimSpace(configFile),
		envPrefix:  envPrefix,
	}
}

// Load reads configuration with precedence ENV > file > defaults.
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (l *ViperLoader) Validate(cfg *Config) error {
	switch cfg.Queue.Backend {
	case QueueBackendRedis:
		if strings.TrimSpace(cfg.Queue.RedisURL) == "" {
			return fmt.Errorf("queue.redis_url is required when queue.backend is redis")
		}
	case QueueBackendMemory:
	default:
		return fmt.Errorf("queue.backend must be %q or %q, got %q", QueueBackendRedis, QueueBackendMemory, cfg.Queue.Backend)
	}

	switch cfg.Scheduler.LockProvider {
	case LockProviderRedis:
		if strings.TrimSpace(cfg.Queue.RedisURL) == "" {
			return fmt.Errorf("queue.redis_url is required when scheduler.lock_provider is redis")
		}
	case LockProviderPostgres:
		if strings.TrimSpace(cfg.Postgres.URL) == "" {
			return fmt.Errorf("postgres.url is required when scheduler.lock_provider is postgres")
		}
	case LockProviderMemory:
	default:
		return fmt.Errorf("scheduler.lock_provider must be %q, %q or %q, got %q",
			LockProviderRedis, LockProviderPostgres, LockProviderMemory, cfg.Scheduler.LockProvider)
	}

	if strings.TrimSpace(cfg.Authority.Endpoint) != "" && strings.TrimSpace(cfg.Authority.Token) == "" {
		return fmt.Errorf("authority.token is required when authority.endpoint is set")
	}

	if cfg.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be at least 1")
	}
	if cfg.Worker.InitialBackoff > cfg.Worker.MaxBackoff {
		return fmt.Errorf("worker.initial_backoff must not exceed worker.max_backoff")
	}
	if cfg.Signing.PoolSize < 1 {
		return fmt.Errorf("signing.pool_size must be at least 1")
	}

	if strings.TrimSpace(cfg.SIEM.Token) != "" && strings.TrimSpace(cfg.SIEM.Endpoint) == "" {
		return fmt.Errorf("siem.token is set but siem.endpoint is empty")
	}

	if strings.TrimSpace(cfg.Alerts.Recipient) != "" {
		switch cfg.Alerts.Channel {
		case "email", "sms", "webhook":
		default:
			return fmt.Errorf("alerts.channel must be email, sms or webhook, got %q", cfg.Alerts.Channel)
		}
	}
	return nil
}

func (l *ViperLoader) setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("service.name", d.Service.Name)
	v.SetDefault("service.environment", d.Service.Environment)

	v.SetDefault("management.host", d.Management.Host)
	v.SetDefault("management.port", d.Management.Port)
	v.SetDefault("management.read_timeout", d.Management.ReadTimeout)
	v.SetDefault("management.write_timeout", d.Management.WriteTimeout)

	v.SetDefault("queue.backend", d.Queue.Backend)
	v.SetDefault("queue.redis_url", d.Queue.RedisURL)
	v.SetDefault("queue.lease_ttl", d.Queue.LeaseTTL)
	v.SetDefault("queue.poll_interval", d.Queue.PollInterval)

	v.SetDefault("postgres.url", d.Postgres.URL)
	v.SetDefault("postgres.max_open_conns", d.Postgres.MaxOpenConns)
	v.SetDefault("postgres.max_idle_conns", d.Postgres.MaxIdleConns)
	v.SetDefault("postgres.conn_max_lifetime", d.Postgres.ConnMaxLifetime)

	v.SetDefault("signing.pool_size", d.Signing.PoolSize)
	v.SetDefault("signing.queue_depth", d.Signing.QueueDepth)
	v.SetDefault("signing.sign_timeout", d.Signing.SignTimeout)
	v.SetDefault("signing.key_directory", d.Signing.KeyDirectory)

	v.SetDefault("worker.concurrency", d.Worker.Concurrency)
	v.SetDefault("worker.max_attempts", d.Worker.MaxAttempts)
	v.SetDefault("worker.initial_backoff", d.Worker.InitialBackoff)
	v.SetDefault("worker.max_backoff", d.Worker.MaxBackoff)

	v.SetDefault("authority.endpoint", d.Authority.Endpoint)
	v.SetDefault("authority.token", d.Authority.Token)
	v.SetDefault("authority.timeout", d.Authority.Timeout)
	v.SetDefault("authority.breaker_failures", d.Authority.BreakerFailures)
	v.SetDefault("authority.breaker_cooldown", d.Authority.BreakerCooldown)

	v.SetDefault("scheduler.lock_provider", d.Scheduler.LockProvider)
	v.SetDefault("scheduler.lock_ttl", d.Scheduler.LockTTL)
	v.SetDefault("scheduler.expiry_sweep", d.Scheduler.ExpirySweep)
	v.SetDefault("scheduler.dead_letter_ttl", d.Scheduler.DeadLetterTTL)
	v.SetDefault("scheduler.purge_schedule", d.Scheduler.PurgeSchedule)

	v.SetDefault("alerts.warning_window", d.Alerts.WarningWindow)
	v.SetDefault("alerts.recipient", d.Alerts.Recipient)
	v.SetDefault("alerts.channel", d.Alerts.Channel)

	v.SetDefault("siem.endpoint", d.SIEM.Endpoint)
	v.SetDefault("siem.token", d.SIEM.Token)
	v.SetDefault("siem.timeout", d.SIEM.Timeout)

	v.SetDefault("smtp.host", d.SMTP.Host)
	v.SetDefault("smtp.port", d.SMTP.Port)
	v.SetDefault("smtp.username", d.SMTP.Username)
	v.SetDefault("smtp.password", d.SMTP.Password)
	v.SetDefault("smtp.from", d.SMTP.From)

	v.SetDefault("webhook.secret", d.Webhook.Secret)
	v.SetDefault("webhook.timeout", d.Webhook.Timeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// bindEnvVars binds environment variables explicitly for nested keys.
// AutomaticEnv does not see keys that only exist as struct fields.
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	for _, key := range []string{
		"service.name",
		"service.environment",
		"management.host",
		"management.port",
		"management.read_timeout",
		"management.write_timeout",
		"queue.backend",
		"queue.redis_url",
		"queue.lease_ttl",
		"queue.poll_interval",
		"postgres.url",
		"postgres.max_open_conns",
		"postgres.max_idle_conns",
		"postgres.conn_max_lifetime",
		"signing.pool_size",
		"signing.queue_depth",
		"signing.sign_timeout",
		"signing.key_directory",
		"worker.concurrency",
		"worker.max_attempts",
		"worker.initial_backoff",
		"worker.max_backoff",
		"authority.endpoint",
		"authority.token",
		"authority.timeout",
		"authority.breaker_failures",
		"authority.breaker_cooldown",
		"scheduler.lock_provider",
		"scheduler.lock_ttl",
		"scheduler.expiry_sweep",
		"scheduler.dead_letter_ttl",
		"scheduler.purge_schedule",
		"siem.endpoint",
		"siem.token",
		"siem.timeout",
		"alerts.warning_window",
		"alerts.recipient",
		"alerts.channel",
		"smtp.host",
		"smtp.port",
		"smtp.username",
		"smtp.password",
		"smtp.from",
		"webhook.secret",
		"webhook.timeout",
		"logging.level",
		"logging.format",
	} {
		v.BindEnv(key, l.prefixedEnv(key))
	}
}

func (l *ViperLoader) prefixedEnv(key string) string {
	key = strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	return l.envPrefix + "_" + key
}
