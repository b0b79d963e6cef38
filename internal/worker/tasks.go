package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jimdaga/giftwise/internal/delivery"
	"github.com/jimdaga/giftwise/internal/models"
)

// Task types
const (
	TaskDeliverReminder   = "reminder:deliver"
	TaskDeliverBatch      = "reminder:deliver_batch"
	TaskScheduleReminders = "reminder:schedule"
)

const (
	deliverMaxRetry = 2
	deliverTimeout  = 120 * time.Second
	batchTimeout    = 10 * time.Minute
	scheduleTimeout = 10 * time.Minute
	taskRetention   = 24 * time.Hour
)

// retryDelays holds the backoff before the 1st, 2nd and 3rd retry.
var retryDelays = []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}

// RetryDelay is the asynq RetryDelayFunc for every task type.
func RetryDelay(retried int, _ error, _ *asynq.Task) time.Duration {
	if retried < 0 {
		retried = 0
	}
	if retried >= len(retryDelays) {
		return retryDelays[len(retryDelays)-1]
	}
	return retryDelays[retried]
}

// BatchPayload is the payload of a batch delivery task.
type BatchPayload struct {
	Jobs []delivery.Job `json:"jobs"`
}

// SchedulePayload is the payload of a scheduler pass. An empty payload uses the defaults.
type SchedulePayload struct {
	LeadDaysOverride *int `json:"lead_days_override,omitempty"`
}

// Client enqueues reminder tasks. It implements delivery.Enqueuer and delivery.Releaser.
type Client struct {
	client *asynq.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewClient creates a Client for the Redis at redisURL.
func NewClient(redisURL string, logger *slog.Logger) (*Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return NewClientFromOpt(opt, logger), nil
}

// NewClientFromOpt creates a Client from asynq connection options.
func NewClientFromOpt(opt asynq.RedisConnOpt, logger *slog.Logger) *Client {
	return &Client{
		client: asynq.NewClient(opt),
		logger: logger.With("component", "worker_client"),
		now:    time.Now,
	}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// DeliveryTaskID is the task ID of the first delivery attempt of a reminder on
// the day it was scheduled. Concurrent passes of one day collapse into one
// task; a reminder whose task was archived is queued again the next day.
func DeliveryTaskID(job delivery.Job) string {
	return "deliver:" + job.Key().String() + ":" + job.ScheduledOn
}

// newDeliverTask builds the task for job with its destination secrets sealed.
func newDeliverTask(job delivery.Job) (*asynq.Task, error) {
	sealed, err := job.Sealed()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return asynq.NewTask(
		TaskDeliverReminder,
		payload,
		asynq.MaxRetry(deliverMaxRetry),
		asynq.Timeout(deliverTimeout),
		asynq.Retention(taskRetention),
	), nil
}

// Enqueue queues a delivery job. It returns delivery.ErrAlreadyQueued when a
// task for the same reminder is still known to the queue.
func (c *Client) Enqueue(ctx context.Context, job delivery.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if job.ScheduledOn == "" {
		job.ScheduledOn = c.now().UTC().Format(models.DateLayout)
	}
	task, err := newDeliverTask(job)
	if err != nil {
		return err
	}

	info, err := c.client.EnqueueContext(ctx, task, asynq.TaskID(DeliveryTaskID(job)))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return delivery.ErrAlreadyQueued
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue delivery: %w", err)
	}

	c.logger.Debug("Delivery enqueued", "task_id", info.ID, "user_id", job.UserID, "channel", job.Channel)
	return nil
}

// Release re-enqueues a copy of job to run after delay under a fresh task ID.
func (c *Client) Release(ctx context.Context, job delivery.Job, delay time.Duration) error {
	task, err := newDeliverTask(job)
	if err != nil {
		return err
	}
	info, err := c.client.EnqueueContext(ctx, task, asynq.TaskID(uuid.NewString()), asynq.ProcessIn(delay))
	if err != nil {
		return fmt.Errorf("failed to release delivery: %w", err)
	}

	c.logger.Info("Delivery released", "task_id", info.ID, "user_id", job.UserID, "channel", job.Channel, "process_at", info.NextProcessAt)
	return nil
}

// EnqueueBatch queues a batch task holding jobs and returns its task ID.
func (c *Client) EnqueueBatch(ctx context.Context, jobs []delivery.Job) (string, error) {
	if len(jobs) == 0 {
		return "", errors.New("batch is empty")
	}
	sealed := make([]delivery.Job, len(jobs))
	for i, job := range jobs {
		s, err := job.Sealed()
		if err != nil {
			return "", err
		}
		sealed[i] = s
	}
	payload, err := json.Marshal(BatchPayload{Jobs: sealed})
	if err != nil {
		return "", fmt.Errorf("failed to marshal batch: %w", err)
	}

	task := asynq.NewTask(
		TaskDeliverBatch,
		payload,
		asynq.MaxRetry(deliverMaxRetry),
		asynq.Timeout(batchTimeout),
		asynq.Retention(taskRetention),
	)
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue batch: %w", err)
	}
	return info.ID, nil
}

// EnqueueScheduleRun queues an immediate scheduler pass and returns its task ID.
func (c *Client) EnqueueScheduleRun(ctx context.Context, payload SchedulePayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal schedule payload: %w", err)
	}
	info, err := c.client.EnqueueContext(ctx, newScheduleTask(data))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue scheduler run: %w", err)
	}
	return info.ID, nil
}

func newScheduleTask(payload []byte) *asynq.Task {
	return asynq.NewTask(
		TaskScheduleReminders,
		payload,
		asynq.MaxRetry(0),
		asynq.Timeout(scheduleTimeout),
		asynq.Retention(taskRetention),
	)
}
