// Package worker runs reminder delivery on asynq: the task client, the
// server with its handlers and the periodic scheduler pass.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jimdaga/giftwise/internal/delivery"
	"github.com/jimdaga/giftwise/internal/scheduler"
)

// Deliverer executes single delivery jobs.
type Deliverer interface {
	Deliver(ctx context.Context, job delivery.Job) error
	OnPermanentFailure(ctx context.Context, job delivery.Job, cause error)
}

// BatchRunner fans a batch out into single jobs.
type BatchRunner interface {
	Process(ctx context.Context, jobs []delivery.Job) (delivery.BatchResult, error)
}

// ReminderScheduler runs one scheduler pass.
type ReminderScheduler interface {
	Run(ctx context.Context, opts scheduler.RunOptions) (int, error)
}

// Handlers holds the task handlers of the worker server.
type Handlers struct {
	deliverer Deliverer
	batch     BatchRunner
	scheduler ReminderScheduler
	logger    *slog.Logger
}

// NewHandlers creates the task handlers.
func NewHandlers(deliverer Deliverer, batch BatchRunner, sched ReminderScheduler, logger *slog.Logger) *Handlers {
	return &Handlers{
		deliverer: deliverer,
		batch:     batch,
		scheduler: sched,
		logger:    logger.With("component", "worker"),
	}
}

// Register adds every handler to mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskDeliverReminder, h.HandleDeliver)
	mux.HandleFunc(TaskDeliverBatch, h.HandleBatch)
	mux.HandleFunc(TaskScheduleReminders, h.HandleSchedule)
}

// HandleDeliver runs one delivery job. Invalid payloads and non-retryable
// transport errors skip the remaining retries.
func (h *Handlers) HandleDeliver(ctx context.Context, task *asynq.Task) error {
	var job delivery.Job
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	err := h.deliverer.Deliver(ctx, job)
	if err == nil {
		return nil
	}
	if delivery.IsPermanent(err) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// HandleBatch fans a batch out. Per-item errors are counted, never returned.
func (h *Handlers) HandleBatch(ctx context.Context, task *asynq.Task) error {
	var payload BatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	res, err := h.batch.Process(ctx, payload.Jobs)
	h.logger.Info("Batch processed",
		"jobs", len(payload.Jobs),
		"enqueued", res.Enqueued,
		"skipped", res.Skipped,
		"rate_limited", res.RateLimited,
		"failed", res.Failed,
	)
	return err
}

// HandleSchedule runs one scheduler pass.
func (h *Handlers) HandleSchedule(ctx context.Context, task *asynq.Task) error {
	var payload SchedulePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	start := time.Now()
	n, err := h.scheduler.Run(ctx, scheduler.RunOptions{LeadDaysOverride: payload.LeadDaysOverride})
	h.logger.Info("Scheduler pass finished", "enqueued", n, "duration", time.Since(start))
	return err
}

// HandleError logs every task failure and hands a delivery job that will not
// run again to the deliverer's permanent failure path.
func (h *Handlers) HandleError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	h.logger.Error(
		"Task execution failed",
		"task_type", task.Type(),
		"error", err.Error(),
		"retry_count", retried,
		"max_retry", maxRetry,
	)

	if retried < maxRetry && !errors.Is(err, asynq.SkipRetry) {
		return
	}
	h.logger.Error("Task archived, no retries left", "task_type", task.Type())

	if task.Type() != TaskDeliverReminder {
		return
	}
	var job delivery.Job
	if jsonErr := json.Unmarshal(task.Payload(), &job); jsonErr != nil {
		h.logger.Error("Cannot record permanent failure of unreadable job", "error", jsonErr)
		return
	}
	// the task context may already be past its deadline
	h.deliverer.OnPermanentFailure(context.WithoutCancel(ctx), job, err)
}

// ServerConfig configures the asynq server.
type ServerConfig struct {
	RedisURL        string
	Concurrency     int
	ShutdownTimeout time.Duration
}

// NewServer creates the asynq server and mux for h.
func NewServer(cfg ServerConfig, h *Handlers, logger *slog.Logger) (*asynq.Server, *asynq.ServeMux, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:     cfg.Concurrency,
			ShutdownTimeout: cfg.ShutdownTimeout,
			RetryDelayFunc:  RetryDelay,
			ErrorHandler:    asynq.ErrorHandlerFunc(h.HandleError),
			Logger:          newAsynqLogger(logger),
		},
	)

	mux := asynq.NewServeMux()
	h.Register(mux)

	logger.Info("Worker starting", "concurrency", cfg.Concurrency)
	return srv, mux, nil
}

// Run starts the server and blocks until a shutdown signal.
func Run(cfg ServerConfig, h *Handlers, logger *slog.Logger) error {
	srv, mux, err := NewServer(cfg, h, logger)
	if err != nil {
		return err
	}
	return srv.Run(mux)
}

// Start starts the server in non-blocking mode and returns a stop function.
func Start(cfg ServerConfig, h *Handlers, logger *slog.Logger) (stop func(), err error) {
	srv, mux, err := NewServer(cfg, h, logger)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return srv.Shutdown, nil
}
