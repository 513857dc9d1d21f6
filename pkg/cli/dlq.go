package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dteflow/dteflow/pkg/dlq"
	"github.com/dteflow/dteflow/pkg/observability/logger"
)

// dlqEntryView is the operator-facing rendering of a dead letter. The
// payload snapshot is summarized rather than dumped raw.
type dlqEntryView struct {
	ID          string    `yaml:"id"`
	OriginQueue string    `yaml:"origin_queue"`
	Kind        string    `yaml:"kind"`
	TenantID    string    `yaml:"tenant_id,omitempty"`
	Error       string    `yaml:"error"`
	Attempts    string    `yaml:"attempts"`
	FailedAt    time.Time `yaml:"failed_at"`
	PayloadSize int       `yaml:"payload_size"`
}

func viewOfEntry(entry *dlq.Entry) dlqEntryView {
	return dlqEntryView{
		ID:          entry.ID,
		OriginQueue: entry.OriginQueue,
		Kind:        entry.Kind,
		TenantID:    entry.TenantID,
		Error:       entry.Error,
		Attempts:    fmt.Sprintf("%d/%d", entry.AttemptsAtFailure, entry.MaxAttempts),
		FailedAt:    entry.FailedAt,
		PayloadSize: len(entry.PayloadSnapshot),
	}
}

func newDLQCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and manage dead-lettered jobs",
	}
	cmd.AddCommand(newDLQListCommand())
	cmd.AddCommand(newDLQRetryCommand())
	cmd.AddCommand(newDLQDiscardCommand())
	cmd.AddCommand(newDLQPurgeCommand())
	return cmd
}

// openDLQService builds a dead letter service against the configured
// stores. The returned closer releases both the store and the queue
// backend.
func openDLQService(cmd *cobra.Command) (*dlq.Service, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(cfg.Postgres.URL) == "" {
		return nil, nil, fmt.Errorf("postgres.url is required for dlq commands")
	}
	log := logger.NewNop()

	store, err := dlq.NewPostgresStore(dlq.PostgresStoreConfig{URL: cfg.Postgres.URL}, log)
	if err != nil {
		return nil, nil, err
	}
	backend, err := newBackend(cfg.Queue, log)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	service, err := dlq.NewService(store, backend, log, dlq.ServiceConfig{
		Retention: cfg.Scheduler.DeadLetterTTL,
	})
	if err != nil {
		store.Close()
		backend.Close()
		return nil, nil, err
	}
	closer := func() {
		backend.Close()
		store.Close()
	}
	return service, closer, nil
}

func newDLQListCommand() *cobra.Command {
	var (
		queue  string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, closer, err := openDLQService(cmd)
			if err != nil {
				return err
			}
			defer closer()

			entries, err := service.List(cmd.Context(), dlq.ListOptions{
				OriginQueue: queue,
				Limit:       limit,
				Offset:      offset,
			})
			if err != nil {
				return err
			}

			views := make([]dlqEntryView, 0, len(entries))
			for _, entry := range entries {
				views = append(views, viewOfEntry(entry))
			}
			return renderYAML(cmd, views)
		},
	}
	cmd.Flags().StringVar(&queue, "queue", "", "filter by origin queue")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	return cmd
}

func newDLQRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <entry-id>",
		Short: "Re-enqueue a dead-lettered job with a fresh attempt budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, closer, err := openDLQService(cmd)
			if err != nil {
				return err
			}
			defer closer()

			job, err := service.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderYAML(cmd, map[string]string{
				"retried": args[0],
				"job_id":  job.ID,
				"queue":   job.Queue,
			})
		},
	}
}

func newDLQDiscardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <entry-id>",
		Short: "Permanently remove a dead-lettered job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, closer, err := openDLQService(cmd)
			if err != nil {
				return err
			}
			defer closer()

			entry, err := service.Discard(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderYAML(cmd, viewOfEntry(entry))
		},
	}
}

func newDLQPurgeCommand() *cobra.Command {
	var age time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete dead letters older than the given age",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, closer, err := openDLQService(cmd)
			if err != nil {
				return err
			}
			defer closer()

			var purged int64
			if age > 0 {
				purged, err = service.PurgeOlderThan(cmd.Context(), age)
			} else {
				purged, err = service.PurgeExpired(cmd.Context())
			}
			if err != nil {
				return err
			}
			return renderYAML(cmd, map[string]int64{"purged": purged})
		},
	}
	cmd.Flags().DurationVar(&age, "age", 0, "minimum entry age, defaults to the configured retention")
	return cmd
}
