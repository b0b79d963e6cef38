package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
	"github.com/jimdaga/giftwise/internal/store"
	"github.com/jimdaga/giftwise/internal/transport"
	"github.com/jimdaga/giftwise/internal/webhook"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 8
	scanPageSize       = 100
)

// Store is the data the monitor reads and writes.
type Store interface {
	ListUsersWithSettings(ctx context.Context, afterID uint, limit int) ([]models.User, error)
	GetUser(ctx context.Context, id uint) (*models.User, error)
	DeliveryActivity(ctx context.Context, userID uint, channel models.Channel, since time.Time) (store.Activity, error)
	RecordHealthSample(ctx context.Context, sample *models.HealthSample) error
	OpenOutage(ctx context.Context, channel models.Channel, reason string, at time.Time) (*models.Outage, bool, error)
	ResolveOutage(ctx context.Context, channel models.Channel, at time.Time) (int64, error)
	ActiveOutages(ctx context.Context) ([]models.Outage, error)
}

// Prober checks webhook connectivity.
type Prober interface {
	Probe(ctx context.Context, ch models.Channel, dest transport.Destination) (webhook.ProbeResult, error)
}

// Monitor derives channel health from recent delivery activity and live probes.
type Monitor struct {
	store       Store
	prober      Prober
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// NewMonitor creates a monitor. prober may be nil to skip connectivity checks.
func NewMonitor(store Store, prober Prober, concurrency int, logger *slog.Logger) *Monitor {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Monitor{
		store:       store,
		prober:      prober,
		concurrency: concurrency,
		logger:      logger.With("component", "health"),
		now:         time.Now,
	}
}

// ChannelHealth evaluates one channel of a user.
//
// Not configured and no deliveries in the last seven days both yield inactive.
// Any recent delivery counts as a success, so a channel with activity reports a
// 100% success rate. A failing connectivity probe makes the channel unhealthy
// whatever its activity.
func (m *Monitor) ChannelHealth(ctx context.Context, user models.User, ch models.Channel) (ChannelHealth, error) {
	h := ChannelHealth{Channel: ch, Status: StatusInactive}

	settings := user.NotificationSettings
	if settings == nil || !settings.HasChannel(ch) {
		h.Details = append(h.Details, "channel not enabled")
		return h, nil
	}
	address, token := settings.DestinationFor(ch, user.Email)
	if address == "" {
		h.Details = append(h.Details, "no destination configured")
		return h, nil
	}
	h.Configured = true

	activity, err := m.store.DeliveryActivity(ctx, user.ID, ch, m.now().Add(-ActivityWindow))
	if err != nil {
		return h, fmt.Errorf("failed to load activity for %s: %w", ch, err)
	}
	h.TotalAttempts = activity.Count
	h.LastUsed = activity.LastUsed
	if activity.Count == 0 {
		h.Details = append(h.Details, "no deliveries in the last 7 days")
	} else {
		h.Status = StatusHealthy
		h.SuccessRate = 100
	}

	if m.prober != nil && ch.IsWebhook() {
		result, err := m.prober.Probe(ctx, ch, transport.Destination{Address: address, Token: token})
		if err != nil {
			h.Details = append(h.Details, fmt.Sprintf("connectivity check failed: %v", err))
		} else {
			h.Connectivity = &result
			if !result.Healthy {
				h.Status = StatusUnhealthy
				h.Details = append(h.Details, "connectivity check failed: "+result.Error)
			}
		}
	}
	return h, nil
}

// UserHealth evaluates every channel of one user.
func (m *Monitor) UserHealth(ctx context.Context, userID uint) (*UserHealth, error) {
	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	uh, err := m.evaluate(ctx, *user)
	if err != nil {
		return nil, err
	}
	return &uh, nil
}

func (m *Monitor) evaluate(ctx context.Context, user models.User) (UserHealth, error) {
	uh := UserHealth{UserID: user.ID, Email: user.Email}
	for _, ch := range models.AllChannels() {
		h, err := m.ChannelHealth(ctx, user, ch)
		if err != nil {
			return uh, err
		}
		uh.Channels = append(uh.Channels, h)
	}
	return uh, nil
}

// scan evaluates all users with settings, probing with bounded concurrency.
// Results are ordered by user ID.
func (m *Monitor) scan(ctx context.Context) ([]UserHealth, error) {
	var (
		mu      sync.Mutex
		results []UserHealth
		afterID uint
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for {
		users, err := m.store.ListUsersWithSettings(gctx, afterID, scanPageSize)
		if err != nil {
			_ = g.Wait()
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
		for i := range users {
			user := users[i]
			afterID = user.ID
			g.Go(func() error {
				uh, err := m.evaluate(gctx, user)
				if err != nil {
					return fmt.Errorf("user %d: %w", user.ID, err)
				}
				mu.Lock()
				results = append(results, uh)
				mu.Unlock()
				return nil
			})
		}
		if len(users) < scanPageSize {
			break
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].UserID < results[j].UserID })
	return results, nil
}

// SystemOverview aggregates health over every user with settings.
func (m *Monitor) SystemOverview(ctx context.Context) (*SystemOverview, error) {
	users, err := m.scan(ctx)
	if err != nil {
		return nil, err
	}
	return m.overview(users), nil
}

func (m *Monitor) overview(users []UserHealth) *SystemOverview {
	ov := &SystemOverview{
		Channels:   make(map[models.Channel]*ChannelSummary),
		TotalUsers: len(users),
		CheckedAt:  m.now().UTC(),
	}
	for _, ch := range models.AllChannels() {
		ov.Channels[ch] = &ChannelSummary{}
	}

	var healthy, unhealthy int
	for _, uh := range users {
		if uh.HasHealthy() {
			ov.ActiveUsers++
		}
		for _, h := range uh.Channels {
			sum := ov.Channels[h.Channel]
			if h.Configured {
				sum.Configured++
			}
			switch h.Status {
			case StatusHealthy:
				sum.Healthy++
				healthy++
			case StatusUnhealthy:
				sum.Unhealthy++
				unhealthy++
			default:
				sum.Inactive++
			}
		}
	}

	ov.HealthPercentage = 100
	if healthy+unhealthy > 0 {
		ov.HealthPercentage = float64(healthy) / float64(healthy+unhealthy) * 100
	}
	return ov
}

// UsersWithUnhealthyChannels returns the users having at least one unhealthy channel.
func (m *Monitor) UsersWithUnhealthyChannels(ctx context.Context) ([]UserHealth, error) {
	users, err := m.scan(ctx)
	if err != nil {
		return nil, err
	}
	var out []UserHealth
	for _, uh := range users {
		if len(uh.Unhealthy()) > 0 {
			out = append(out, uh)
		}
	}
	return out, nil
}

// CheckResult is the outcome of a system check.
type CheckResult struct {
	Overview      *SystemOverview `json:"overview"`
	OpenedOutages []models.Outage `json:"opened_outages"`
}

// CheckSystem computes the overview, records one system sample per channel and
// opens an outage for every channel where more than half of the configured
// users are unhealthy. Outages stay open until resolved explicitly.
func (m *Monitor) CheckSystem(ctx context.Context) (*CheckResult, error) {
	start := m.now()
	ov, err := m.SystemOverview(ctx)
	if err != nil {
		return nil, err
	}
	elapsed := m.now().Sub(start)

	res := &CheckResult{Overview: ov}
	var errs []error
	for _, ch := range models.AllChannels() {
		sum := ov.Channels[ch]
		status := models.SampleStatusHealthy
		msg := fmt.Sprintf("%d healthy, %d unhealthy, %d configured", sum.Healthy, sum.Unhealthy, sum.Configured)
		if sum.Unhealthy > 0 {
			status = models.SampleStatusWarning
		}

		if sum.Configured > 0 && sum.Unhealthy*2 > sum.Configured {
			status = models.SampleStatusCritical
			outage, created, err := m.store.OpenOutage(ctx, ch, msg, m.now())
			if err != nil {
				errs = append(errs, err)
			} else if created {
				m.logger.Error("Channel outage opened", "channel", ch, "reason", msg)
				res.OpenedOutages = append(res.OpenedOutages, *outage)
			}
		}

		sample := &models.HealthSample{
			Channel:        ch,
			CheckType:      models.CheckTypeSystem,
			Status:         status,
			ResponseTimeMs: elapsed.Milliseconds(),
			Message:        msg,
			CheckedAt:      m.now(),
		}
		if err := m.store.RecordHealthSample(ctx, sample); err != nil {
			m.logger.Warn("Failed to record health sample", "channel", ch, "error", err)
		}
	}
	return res, errors.Join(errs...)
}

// ResolveOutage closes the open outages of ch.
func (m *Monitor) ResolveOutage(ctx context.Context, ch models.Channel) (int64, error) {
	n, err := m.store.ResolveOutage(ctx, ch, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("Channel outage resolved", "channel", ch, "outages", n)
	}
	return n, nil
}

// ActiveOutages lists the outages not yet resolved.
func (m *Monitor) ActiveOutages(ctx context.Context) ([]models.Outage, error) {
	return m.store.ActiveOutages(ctx)
}
