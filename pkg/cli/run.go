package cli

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dteflow/dteflow/pkg/alerts"
	"github.com/dteflow/dteflow/pkg/audit"
	"github.com/dteflow/dteflow/pkg/backoff"
	"github.com/dteflow/dteflow/pkg/config"
	"github.com/dteflow/dteflow/pkg/dlq"
	"github.com/dteflow/dteflow/pkg/health"
	"github.com/dteflow/dteflow/pkg/jobs"
	"github.com/dteflow/dteflow/pkg/notify"
	"github.com/dteflow/dteflow/pkg/observability/logger"
	"github.com/dteflow/dteflow/pkg/observability/metrics"
	"github.com/dteflow/dteflow/pkg/scheduler"
	"github.com/dteflow/dteflow/pkg/server"
	"github.com/dteflow/dteflow/pkg/signing"
	"github.com/dteflow/dteflow/pkg/transmit"
	"github.com/dteflow/dteflow/pkg/version"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the document pipeline until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPipeline(ctx, cfg)
		},
	}
}

func newLogger(cfg config.LoggingConfig) (logger.Logger, error) {
	return logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Level),
		Format: logger.LogFormat(cfg.Format),
	})
}

func newBackend(cfg config.QueueConfig, log logger.Logger) (jobs.Backend, error) {
	switch cfg.Backend {
	case config.QueueBackendRedis:
		return jobs.NewRedisBackend(jobs.RedisBackendConfig{
			URL:          cfg.RedisURL,
			PollInterval: cfg.PollInterval,
		}, log)
	default:
		return jobs.NewMemoryBackend(jobs.MemoryBackendConfig{}, log)
	}
}

func newLockProvider(cfg *config.Config, log logger.Logger) (scheduler.LockProvider, error) {
	switch cfg.Scheduler.LockProvider {
	case config.LockProviderRedis:
		return scheduler.NewRedisLockProvider(scheduler.RedisLockProviderConfig{
			URL: cfg.Queue.RedisURL,
		}, log)
	case config.LockProviderPostgres:
		return scheduler.NewPostgresLockProvider(scheduler.PostgresLockProviderConfig{
			URL: cfg.Postgres.URL,
		}, log)
	default:
		return scheduler.NewMemoryLockProvider(), nil
	}
}

// newAuditForwarder returns a SIEM forwarder when an endpoint is configured,
// nil otherwise. A nil forwarder keeps audit events local.
func newAuditForwarder(cfg config.SIEMConfig, log logger.Logger) (audit.Forwarder, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, nil
	}
	sender, err := audit.NewSIEMSender(audit.SIEMConfig{
		Endpoint: cfg.Endpoint,
		Token:    cfg.Token,
		Timeout:  cfg.Timeout,
	}, log)
	if err != nil {
		return nil, err
	}
	return sender, nil
}

func newDeadLetterStore(cfg config.PostgresConfig, log logger.Logger) (dlq.Store, error) {
	if strings.TrimSpace(cfg.URL) != "" {
		return dlq.NewPostgresStore(dlq.PostgresStoreConfig{URL: cfg.URL}, log)
	}
	return dlq.NewMemoryStore(), nil
}

func newNotificationSenders(cfg *config.Config, log logger.Logger) ([]notify.Sender, error) {
	var senders []notify.Sender

	if strings.TrimSpace(cfg.SMTP.Host) != "" {
		email, err := notify.NewEmailSender(notify.EmailConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, log)
		if err != nil {
			return nil, err
		}
		senders = append(senders, email)
	}

	webhook, err := notify.NewWebhookSender(notify.WebhookConfig{
		Secret:  cfg.Webhook.Secret,
		Timeout: cfg.Webhook.Timeout,
	}, log)
	if err != nil {
		return nil, err
	}
	senders = append(senders, webhook)

	sms, err := notify.NewLogSMSSender(log)
	if err != nil {
		return nil, err
	}
	senders = append(senders, sms)
	return senders, nil
}

// discoverKeyBundles walks the key directory for credential files. The
// reference is the path relative to the directory; the tenant is the first
// path segment when bundles are grouped per tenant.
func discoverKeyBundles(base string) ([]alerts.WatchedBundle, error) {
	var bundles []alerts.WatchedBundle
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".p12" && ext != ".pfx" {
			return nil
		}
		ref, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		ref = filepath.ToSlash(ref)
		tenantID := ""
		if idx := strings.IndexByte(ref, '/'); idx > 0 {
			tenantID = ref[:idx]
		}
		bundles = append(bundles, alerts.WatchedBundle{TenantID: tenantID, Ref: ref})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan key directory %s: %w", base, err)
	}
	return bundles, nil
}

func runPipeline(ctx context.Context, cfg *config.Config) error {
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	log = log.With("service", cfg.Service.Name, "environment", cfg.Service.Environment)
	log.Info("starting pipeline", "build", version.Current(cfg.Service.Name).String())

	if strings.TrimSpace(cfg.Authority.Endpoint) == "" {
		return fmt.Errorf("authority.endpoint is required to run the pipeline")
	}

	backend, err := newBackend(cfg.Queue, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	store, err := newDeadLetterStore(cfg.Postgres, log)
	if err != nil {
		return err
	}
	defer store.Close()

	forwarder, err := newAuditForwarder(cfg.SIEM, log)
	if err != nil {
		return err
	}
	auditor := audit.New(audit.Config{}, log, forwarder)
	defer auditor.Close()

	deadLetters, err := dlq.NewService(store, backend, log, dlq.ServiceConfig{
		Retention: cfg.Scheduler.DeadLetterTTL,
	}, dlq.WithAuditSink(auditor))
	if err != nil {
		return err
	}

	pool, err := signing.NewPool(signing.PoolConfig{Size: cfg.Signing.PoolSize}, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	var keys transmit.KeyStore
	if strings.TrimSpace(cfg.Signing.KeyDirectory) != "" {
		keys = transmit.NewDirectoryKeyStore(cfg.Signing.KeyDirectory, cfg.Signing.Passphrases)
	} else {
		keys = transmit.NewMemoryKeyStore()
	}

	authority, err := transmit.NewAuthorityClient(transmit.AuthorityConfig{
		Endpoint:        cfg.Authority.Endpoint,
		Token:           cfg.Authority.Token,
		Timeout:         cfg.Authority.Timeout,
		BreakerFailures: cfg.Authority.BreakerFailures,
		BreakerCooldown: cfg.Authority.BreakerCooldown,
	}, log)
	if err != nil {
		return err
	}

	transmitHandler, err := transmit.NewHandler(keys, pool, authority, auditor, log)
	if err != nil {
		return err
	}
	signingHandler, err := signing.NewHandler(pool, auditor, log)
	if err != nil {
		return err
	}
	senders, err := newNotificationSenders(cfg, log)
	if err != nil {
		return err
	}
	notifyHandler, err := notify.NewHandler(senders, auditor, log)
	if err != nil {
		return err
	}
	defer notifyHandler.Close()

	worker, err := jobs.NewWorker(backend, log, jobs.WorkerConfig{
		Queues:      jobs.KnownQueues,
		Concurrency: cfg.Worker.Concurrency,
		LeaseTTL:    cfg.Queue.LeaseTTL,
		Backoff:     backoff.NewExponentialWithJitter(cfg.Worker.InitialBackoff, cfg.Worker.MaxBackoff),
	}, jobs.WithDeadLetterer(deadLetters), jobs.WithAuditSink(auditor))
	if err != nil {
		return err
	}
	if err := worker.Register(jobs.KindTransmission, transmitHandler.Handle); err != nil {
		return err
	}
	if err := worker.Register(jobs.KindSigning, signingHandler.Handle); err != nil {
		return err
	}
	if err := worker.Register(jobs.KindNotification, notifyHandler.Handle); err != nil {
		return err
	}

	lockProvider, err := newLockProvider(cfg, log)
	if err != nil {
		return err
	}
	defer lockProvider.Close()

	runtime, err := scheduler.NewRuntime(lockProvider, log, scheduler.Config{
		DefaultLockTTL: cfg.Scheduler.LockTTL,
	})
	if err != nil {
		return err
	}
	if err := runtime.Register(deadLetters.PurgeTask(cfg.Scheduler.PurgeSchedule)); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Alerts.Recipient) != "" && strings.TrimSpace(cfg.Signing.KeyDirectory) != "" {
		bundles, err := discoverKeyBundles(cfg.Signing.KeyDirectory)
		if err != nil {
			return err
		}
		producer, err := jobs.NewProducer(backend, log)
		if err != nil {
			return err
		}
		checker, err := alerts.NewExpiryChecker(keys, cfg.Signing.Passphrases, producer, bundles, alerts.ExpiryConfig{
			WarningWindow: cfg.Alerts.WarningWindow,
			Recipient:     cfg.Alerts.Recipient,
			Channel:       cfg.Alerts.Channel,
		}, log)
		if err != nil {
			return err
		}
		if err := runtime.Register(checker.Task(cfg.Scheduler.ExpirySweep)); err != nil {
			return err
		}
	}

	exporter, err := metrics.NewExporter(backend, metrics.ExporterConfig{}, log)
	if err != nil {
		return err
	}

	healthRegistry := health.NewRegistry()
	healthRegistry.Register(health.NewAdapterChecker("queue-backend", backend, 0))
	healthRegistry.Register(health.NewAdapterChecker("dead-letter-store", store, 0))
	healthRegistry.Register(scheduler.NewLockProviderHealthChecker("", lockProvider, 0))
	healthRegistry.Register(health.NewAdapterChecker("queue-exporter", exporter, 0))

	management, err := server.NewManagement(server.ManagementConfig{
		Server: server.Config{
			Host:         cfg.Management.Host,
			Port:         cfg.Management.Port,
			ReadTimeout:  cfg.Management.ReadTimeout,
			WriteTimeout: cfg.Management.WriteTimeout,
		},
	}, healthRegistry, metrics.NewRegistry(), exporter, log)
	if err != nil {
		return err
	}

	log.Info("pipeline starting",
		"queue_backend", cfg.Queue.Backend,
		"lock_provider", cfg.Scheduler.LockProvider,
		"management_addr", management.Addr(),
	)

	errs := make(chan error, 4)
	go func() { errs <- worker.Start(ctx) }()
	go func() { errs <- runtime.Start(ctx) }()
	go func() { errs <- management.Start(ctx) }()
	go func() {
		err := exporter.Run(ctx)
		if err == context.Canceled || ctx.Err() != nil {
			err = nil
		}
		errs <- err
	}()

	for i := 0; i < 4; i++ {
		if err := <-errs; err != nil && ctx.Err() == nil {
			return err
		}
	}
	log.Info("pipeline stopped")
	return nil
}
