// Package delivery executes reminder delivery jobs: the in-job rate gate,
// the transport call, the delivery log and outcome publication. The asynq
// wiring lives in package worker.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
	"github.com/jimdaga/giftwise/internal/notify"
	"github.com/jimdaga/giftwise/internal/transport"
)

var (
	// ErrInvalidJob is wrapped when a job payload cannot be executed.
	ErrInvalidJob = errors.New("invalid delivery job")
	// ErrAlreadyQueued is returned by an Enqueuer when the same reminder is already queued.
	ErrAlreadyQueued = errors.New("delivery already queued")
)

// Job is the payload of one reminder delivery.
type Job struct {
	UserID         uint                  `json:"user_id"`
	OccasionID     uint                  `json:"occasion_id"`
	Channel        models.Channel        `json:"channel"`
	Destination    transport.Destination `json:"destination"`
	OccurrenceDate string                `json:"occurrence_date"`
	ScheduledOn    string                `json:"scheduled_on,omitempty"` // local date of the pass that queued it
	DaysUntil      int                   `json:"days_until"`
	Reminder       notify.Reminder       `json:"reminder"`
}

// Validate checks the fields every job needs.
func (j Job) Validate() error {
	switch {
	case j.UserID == 0:
		return fmt.Errorf("%w: missing user_id", ErrInvalidJob)
	case j.OccasionID == 0:
		return fmt.Errorf("%w: missing occasion_id", ErrInvalidJob)
	case !j.Channel.Valid():
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidJob, j.Channel)
	case j.Destination.Address == "":
		return fmt.Errorf("%w: missing destination", ErrInvalidJob)
	}
	if _, err := time.Parse(models.DateLayout, j.OccurrenceDate); err != nil {
		return fmt.Errorf("%w: occurrence_date %q: %v", ErrInvalidJob, j.OccurrenceDate, err)
	}
	if j.ScheduledOn != "" {
		if _, err := time.Parse(models.DateLayout, j.ScheduledOn); err != nil {
			return fmt.Errorf("%w: scheduled_on %q: %v", ErrInvalidJob, j.ScheduledOn, err)
		}
	}
	return nil
}

// Sealed returns a copy of the job with its webhook URL and push token
// encrypted, for payloads that sit in the queue.
func (j Job) Sealed() (Job, error) {
	var err error
	if j.Channel != models.ChannelMail {
		if j.Destination.Address, err = models.SealSecret(j.Destination.Address); err != nil {
			return j, fmt.Errorf("failed to seal destination: %w", err)
		}
	}
	if j.Destination.Token, err = models.SealSecret(j.Destination.Token); err != nil {
		return j, fmt.Errorf("failed to seal token: %w", err)
	}
	return j, nil
}

// Opened reverses Sealed. Plaintext destinations pass through.
func (j Job) Opened() (Job, error) {
	var err error
	if j.Destination.Address, err = models.OpenSecret(j.Destination.Address); err != nil {
		return j, fmt.Errorf("%w: destination: %v", ErrInvalidJob, err)
	}
	if j.Destination.Token, err = models.OpenSecret(j.Destination.Token); err != nil {
		return j, fmt.Errorf("%w: token: %v", ErrInvalidJob, err)
	}
	return j, nil
}

// Key returns the dedup key of the job. Call Validate first.
func (j Job) Key() models.DeliveryKey {
	date, _ := time.Parse(models.DateLayout, j.OccurrenceDate)
	return models.DeliveryKey{OccasionID: j.OccasionID, UserID: j.UserID, Channel: j.Channel, Date: date}
}

// Enqueuer queues single delivery jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Releaser puts a job back on the queue to run after delay.
type Releaser interface {
	Release(ctx context.Context, job Job, delay time.Duration) error
}

// Sender delivers a notification on a channel.
type Sender interface {
	Send(ctx context.Context, ch models.Channel, dest transport.Destination, notification any) error
}

// Limiter is the rate limiter as seen by jobs.
type Limiter interface {
	TryAcquire(ctx context.Context, userID uint, ch models.Channel) (bool, error)
	Refund(ctx context.Context, userID uint, ch models.Channel) error
	Check(ctx context.Context, userID uint, ch models.Channel) error
	RecordSuccess(ctx context.Context, userID uint, ch models.Channel)
	RecordFailure(ctx context.Context, userID uint, ch models.Channel) (bool, error)
}

// LogStore persists delivery log entries.
type LogStore interface {
	UserExists(ctx context.Context, id uint) (bool, error)
	WasDelivered(ctx context.Context, key models.DeliveryKey) (bool, error)
	MarkDelivered(ctx context.Context, key models.DeliveryKey, destination string, sentAt time.Time) error
	RecordFailedAttempt(ctx context.Context, key models.DeliveryKey, destination, errMsg string) error
	MarkPermanentlyFailed(ctx context.Context, key models.DeliveryKey, destination, errMsg string) error
}

// IsPermanent reports whether a job error must not be retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidJob) {
		return true
	}
	var de *transport.DeliveryError
	return errors.As(err, &de) && !de.Retryable
}
