package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// SchedulerConfig configures the periodic scheduler pass.
type SchedulerConfig struct {
	RedisURL string
	Cron     string
	Timezone string
}

// passUniqueTTL keeps overlapping cron ticks from queueing a second pass.
const passUniqueTTL = 4 * time.Minute

// StartScheduler registers the periodic reminder pass and starts the asynq
// scheduler. Returns a stop function for graceful shutdown.
func StartScheduler(cfg SchedulerConfig, logger *slog.Logger) (stop func(), err error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("Invalid timezone, using UTC", "timezone", cfg.Timezone, "error", err)
		location = time.UTC
	}

	s := asynq.NewScheduler(
		redisOpt,
		&asynq.SchedulerOpts{
			Location: location,
			LogLevel: asynq.InfoLevel,
			Logger:   newAsynqLogger(logger),
		},
	)

	// empty payload runs with the stored settings
	task := newScheduleTask(nil)
	entryID, err := s.Register(cfg.Cron, task, asynq.Unique(passUniqueTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to register reminder schedule: %w", err)
	}

	if err := s.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info(
		"Scheduler started",
		"schedule", cfg.Cron,
		"timezone", location.String(),
		"entry_id", entryID,
	)
	return s.Shutdown, nil
}
