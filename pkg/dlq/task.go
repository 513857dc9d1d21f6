package dlq

import (
	"context"
	"strings"

	"github.com/dteflow/dteflow/pkg/scheduler"
)

// DefaultPurgeSchedule fires the retention purge once a day.
const DefaultPurgeSchedule = "@every 24h"

// PurgeTask wraps the retention purge as a scheduler task. An empty
// schedule uses the daily default.
func (s *Service) PurgeTask(schedule string) scheduler.Task {
	if strings.TrimSpace(schedule) == "" {
		schedule = DefaultPurgeSchedule
	}
	return scheduler.Task{
		Name:     "dead-letter-purge",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			_, err := s.PurgeExpired(ctx)
			return err
		},
	}
}
