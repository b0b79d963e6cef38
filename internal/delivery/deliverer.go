package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jimdaga/giftwise/internal/ratelimit"
	"github.com/jimdaga/giftwise/internal/transport"
)

// ReleaseDelay is how long a rate-limited job waits before it runs again.
const ReleaseDelay = 300 * time.Second

// Deliverer runs single delivery jobs.
type Deliverer struct {
	store     LogStore
	limiter   Limiter
	sender    Sender
	releaser  Releaser
	publisher OutcomePublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewDeliverer wires a deliverer. publisher may be nil.
func NewDeliverer(store LogStore, limiter Limiter, sender Sender, releaser Releaser, publisher OutcomePublisher, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		store:     store,
		limiter:   limiter,
		sender:    sender,
		releaser:  releaser,
		publisher: publisher,
		logger:    logger.With("component", "delivery"),
		now:       time.Now,
	}
}

// Deliver executes one job. A blocked (user, channel) pair releases the job
// for later and returns nil. The log row is written only after the transport
// confirmed the send; log write failures are logged and swallowed.
func (d *Deliverer) Deliver(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	job, err := job.Opened()
	if err != nil {
		return err
	}
	key := job.Key()
	dest := transport.SanitizeDestination(job.Destination.Address)
	logger := d.logger.With("user_id", job.UserID, "occasion_id", job.OccasionID, "channel", job.Channel, "date", job.OccurrenceDate)

	sent, err := d.store.WasDelivered(ctx, key)
	if err != nil {
		logger.Warn("Failed to check delivery log, sending anyway", "error", err)
	} else if sent {
		logger.Info("Reminder already delivered, skipping")
		d.publish(ctx, job, Outcome{Status: OutcomeSkippedDuplicate})
		deliveriesCounter.WithLabelValues(string(job.Channel), OutcomeSkippedDuplicate).Inc()
		return nil
	}

	if err := d.limiter.Check(ctx, job.UserID, job.Channel); err != nil {
		var exceeded *ratelimit.ExceededError
		if !errors.As(err, &exceeded) {
			logger.Warn("Rate limit check failed, continuing", "error", err)
		} else {
			if err := d.releaser.Release(ctx, job, ReleaseDelay); err != nil {
				return fmt.Errorf("failed to release rate limited job: %w", err)
			}
			logger.Info("Rate limited, job released", "retry_after", exceeded.RetryAfter, "release_delay", ReleaseDelay)
			d.publish(ctx, job, Outcome{Status: OutcomeReleased, Error: exceeded.Error()})
			deliveriesCounter.WithLabelValues(string(job.Channel), OutcomeReleased).Inc()
			return nil
		}
	}

	start := d.now()
	sendErr := d.sender.Send(ctx, job.Channel, job.Destination, job.Reminder)
	elapsed := d.now().Sub(start)
	deliveryDurationHist.WithLabelValues(string(job.Channel)).Observe(elapsed.Seconds())

	if sendErr == nil {
		if err := d.store.MarkDelivered(ctx, key, dest, d.now()); err != nil {
			logger.Error("Failed to write delivery log after successful send", "error", err)
		}
		d.limiter.RecordSuccess(ctx, job.UserID, job.Channel)
		d.publish(ctx, job, Outcome{Status: OutcomeSent, DurationMs: elapsed.Milliseconds()})
		deliveriesCounter.WithLabelValues(string(job.Channel), OutcomeSent).Inc()
		logger.Info("Reminder delivered", "destination", dest, "duration", elapsed)
		return nil
	}

	if err := d.store.RecordFailedAttempt(ctx, key, dest, sendErr.Error()); err != nil {
		logger.Error("Failed to record failed attempt", "error", err)
	}
	if blocked, err := d.limiter.RecordFailure(ctx, job.UserID, job.Channel); err != nil {
		logger.Warn("Failed to record failure on rate limiter", "error", err)
	} else if blocked {
		logger.Warn("Channel blocked after repeated failures")
	}

	outcome := Outcome{Status: OutcomeFailed, Error: sendErr.Error(), DurationMs: elapsed.Milliseconds()}
	var de *transport.DeliveryError
	if errors.As(sendErr, &de) {
		outcome.StatusCode = de.StatusCode
	}
	d.publish(ctx, job, outcome)
	deliveriesCounter.WithLabelValues(string(job.Channel), OutcomeFailed).Inc()
	logger.Error("Reminder delivery failed", "destination", dest, "retryable", !IsPermanent(sendErr), "error", sendErr)

	return fmt.Errorf("deliver reminder: %w", sendErr)
}

// OnPermanentFailure records a job that will not be retried again.
func (d *Deliverer) OnPermanentFailure(ctx context.Context, job Job, cause error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	logger := d.logger.With("user_id", job.UserID, "occasion_id", job.OccasionID, "channel", job.Channel, "date", job.OccurrenceDate)

	if opened, err := job.Opened(); err != nil {
		logger.Warn("Cannot open job destination", "error", err)
	} else {
		job = opened
	}
	if job.Validate() == nil {
		dest := transport.SanitizeDestination(job.Destination.Address)
		if err := d.store.MarkPermanentlyFailed(ctx, job.Key(), dest, msg); err != nil {
			logger.Error("Failed to record permanent failure", "error", err)
		}
	}

	d.publish(ctx, job, Outcome{Status: OutcomePermanentlyFailed, Error: msg})
	deliveriesCounter.WithLabelValues(string(job.Channel), OutcomePermanentlyFailed).Inc()
	logger.Error("Reminder delivery permanently failed", "error", msg)
}

func (d *Deliverer) publish(ctx context.Context, job Job, outcome Outcome) {
	if d.publisher == nil {
		return
	}
	outcome.UserID = job.UserID
	outcome.OccasionID = job.OccasionID
	outcome.Channel = job.Channel
	outcome.Destination = transport.SanitizeDestination(job.Destination.Address)
	outcome.OccurrenceDate = job.OccurrenceDate
	outcome.OccurredAt = d.now().UTC()
	if err := d.publisher.PublishOutcome(ctx, outcome); err != nil {
		d.logger.Warn("Failed to publish delivery outcome", "status", outcome.Status, "error", err)
	}
}
