// Package scheduler finds the reminders that are due now and enqueues one
// delivery job per (occasion, channel).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jimdaga/giftwise/internal/delivery"
	"github.com/jimdaga/giftwise/internal/models"
	"github.com/jimdaga/giftwise/internal/notify"
	"github.com/jimdaga/giftwise/internal/occurrence"
	"github.com/jimdaga/giftwise/internal/transport"
)

// DefaultBatchSize is the number of users loaded per page.
const DefaultBatchSize = 100

const defaultSendTime = "09:00"

// Store is the data the scheduler reads.
type Store interface {
	ListUsersWithSettings(ctx context.Context, afterID uint, limit int) ([]models.User, error)
	ListOccasionsForUser(ctx context.Context, userID uint) ([]models.Occasion, error)
	IsOccasionCompleted(ctx context.Context, occasionID uint, year int) (bool, error)
	WasDelivered(ctx context.Context, key models.DeliveryKey) (bool, error)
}

// Limiter counts send attempts. Refund returns an attempt whose job was
// already queued and so never sends.
type Limiter interface {
	TryAcquire(ctx context.Context, userID uint, ch models.Channel) (bool, error)
	Refund(ctx context.Context, userID uint, ch models.Channel) error
}

// RunOptions tune one pass.
type RunOptions struct {
	// LeadDaysOverride replaces every user's lead time when set.
	LeadDaysOverride *int
}

// Scheduler runs reminder passes. A pass is synchronous; run one at a time.
type Scheduler struct {
	store     Store
	limiter   Limiter
	enqueuer  delivery.Enqueuer
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

func New(store Store, limiter Limiter, enqueuer delivery.Enqueuer, batchSize int, logger *slog.Logger) *Scheduler {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Scheduler{
		store:     store,
		limiter:   limiter,
		enqueuer:  enqueuer,
		batchSize: batchSize,
		logger:    logger.With("component", "scheduler"),
		now:       time.Now,
	}
}

// Run walks every user with notification settings and enqueues the reminders
// due now. It returns the number of jobs enqueued. Per-user errors are logged
// and joined into the returned error; progress made so far is kept.
func (s *Scheduler) Run(ctx context.Context, opts RunOptions) (int, error) {
	start := time.Now()
	defer func() { runDurationHist.Observe(time.Since(start).Seconds()) }()

	now := s.now()
	var (
		afterID uint
		total   int
		users   int
		errs    []error
	)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch, err := s.store.ListUsersWithSettings(ctx, afterID, s.batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to list users: %w", err)
		}
		for i := range batch {
			user := batch[i]
			afterID = user.ID
			users++
			n, err := s.processUser(ctx, user, now, opts)
			total += n
			if err != nil {
				s.logger.Error("Failed to schedule reminders for user", "user_id", user.ID, "error", err)
				errs = append(errs, fmt.Errorf("user %d: %w", user.ID, err))
			}
		}
		if len(batch) < s.batchSize {
			break
		}
	}

	s.logger.Info("Reminder pass finished", "users", users, "enqueued", total, "errors", len(errs), "duration", time.Since(start))
	return total, errors.Join(errs...)
}

type target struct {
	channel models.Channel
	dest    transport.Destination
}

func (s *Scheduler) processUser(ctx context.Context, user models.User, now time.Time, opts RunOptions) (int, error) {
	settings := user.NotificationSettings
	if settings == nil {
		return 0, nil
	}
	logger := s.logger.With("user_id", user.ID)

	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		logger.Warn("Invalid user timezone, using UTC", "timezone", user.Timezone, "error", err)
		loc = time.UTC
	}
	local := now.In(loc)

	sendM, err := ParseClock(settings.SendTime)
	if err != nil {
		logger.Warn("Invalid send time, using default", "send_time", settings.SendTime)
		sendM, _ = ParseClock(defaultSendTime)
	}
	if minutesOfDay(local) < sendM {
		return 0, nil
	}
	if s.inQuietHours(settings, minutesOfDay(local)) {
		logger.Debug("Inside quiet hours, skipping")
		return 0, nil
	}

	targets := resolveTargets(user, settings)
	if len(targets) == 0 {
		return 0, nil
	}

	leadDays := settings.LeadTimeDays
	if opts.LeadDaysOverride != nil {
		leadDays = *opts.LeadDaysOverride
	}

	occasions, err := s.store.ListOccasionsForUser(ctx, user.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list occasions: %w", err)
	}

	today := occurrence.Today(now, loc)
	var (
		enqueued int
		errs     []error
	)
	for i := range occasions {
		occasion := occasions[i]
		next := occurrence.NextOccurrence(occasion.Date, occasion.IsRecurring, today)
		days := occurrence.DaysUntil(today, next)
		if days < 0 || days > leadDays {
			continue
		}

		completed, err := s.store.IsOccasionCompleted(ctx, occasion.ID, next.Year())
		if err != nil {
			errs = append(errs, fmt.Errorf("occasion %d: %w", occasion.ID, err))
			continue
		}
		if completed {
			continue
		}

		reminder := notify.NewReminder(user, occasion, next, today, now)
		for _, t := range targets {
			job := delivery.Job{
				UserID:         user.ID,
				OccasionID:     occasion.ID,
				Channel:        t.channel,
				Destination:    t.dest,
				OccurrenceDate: next.Format(models.DateLayout),
				ScheduledOn:    today.Format(models.DateLayout),
				DaysUntil:      days,
				Reminder:       reminder,
			}
			ok, err := s.schedule(ctx, job)
			if err != nil {
				errs = append(errs, fmt.Errorf("occasion %d on %s: %w", occasion.ID, t.channel, err))
				continue
			}
			if ok {
				enqueued++
			}
		}
	}
	return enqueued, errors.Join(errs...)
}

// schedule enqueues one job unless it was already sent, queued or rate limited.
func (s *Scheduler) schedule(ctx context.Context, job delivery.Job) (bool, error) {
	ch := string(job.Channel)
	logger := s.logger.With("user_id", job.UserID, "occasion_id", job.OccasionID, "channel", job.Channel, "date", job.OccurrenceDate)

	sent, err := s.store.WasDelivered(ctx, job.Key())
	if err != nil {
		return false, fmt.Errorf("failed to check delivery log: %w", err)
	}
	if sent {
		remindersSkippedCounter.WithLabelValues(ch, "already_sent").Inc()
		return false, nil
	}

	allowed, err := s.limiter.TryAcquire(ctx, job.UserID, job.Channel)
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	if !allowed {
		logger.Info("Rate limited, reminder skipped this pass")
		remindersSkippedCounter.WithLabelValues(ch, "rate_limited").Inc()
		return false, nil
	}

	if err := s.enqueuer.Enqueue(ctx, job); err != nil {
		if errors.Is(err, delivery.ErrAlreadyQueued) {
			if err := s.limiter.Refund(ctx, job.UserID, job.Channel); err != nil {
				logger.Warn("Failed to refund rate limit attempt", "error", err)
			}
			remindersSkippedCounter.WithLabelValues(ch, "already_queued").Inc()
			return false, nil
		}
		return false, fmt.Errorf("failed to enqueue: %w", err)
	}

	logger.Info("Reminder enqueued", "days_until", job.DaysUntil)
	remindersEnqueuedCounter.WithLabelValues(ch).Inc()
	return true, nil
}

func (s *Scheduler) inQuietHours(settings *models.NotificationSettings, localM int) bool {
	if settings.QuietHoursStart == nil || settings.QuietHoursEnd == nil {
		return false
	}
	from, err := ParseClock(*settings.QuietHoursStart)
	if err != nil {
		return false
	}
	to, err := ParseClock(*settings.QuietHoursEnd)
	if err != nil {
		return false
	}
	return InWindow(localM, from, to)
}

// resolveTargets maps enabled channels to destinations, dropping channels
// without one.
func resolveTargets(user models.User, settings *models.NotificationSettings) []target {
	var targets []target
	for _, ch := range settings.Channels() {
		address, token := settings.DestinationFor(ch, user.Email)
		if address == "" {
			continue
		}
		targets = append(targets, target{channel: ch, dest: transport.Destination{Address: address, Token: token}})
	}
	return targets
}
