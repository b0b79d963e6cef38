package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the gorm-backed implementation used in production.
type Store struct {
	db *gorm.DB
}

// New wraps an open gorm connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ListUsersWithSettings returns up to limit users with an ID greater than afterID
// that have a notification settings row, ordered by ID for keyset pagination.
func (s *Store) ListUsersWithSettings(ctx context.Context, afterID uint, limit int) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Preload("NotificationSettings").
		Where("users.id > ?", afterID).
		Where("EXISTS (SELECT 1 FROM notification_settings ns WHERE ns.user_id = users.id AND ns.deleted_at IS NULL)").
		Order("users.id ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// GetUser loads a user with its settings (if any).
func (s *Store) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("NotificationSettings").First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return &user, nil
}

// UserExists reports whether a (non-deleted) user exists.
func (s *Store) UserExists(ctx context.Context, id uint) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return count > 0, nil
}

// GetOrCreateSettings returns the user's settings, creating them from defaults on first access.
func (s *Store) GetOrCreateSettings(ctx context.Context, userID uint, defaults SettingsDefaults) (*models.NotificationSettings, error) {
	settings := models.NotificationSettings{
		UserID:       userID,
		LeadTimeDays: defaults.LeadTimeDays,
		SendTime:     defaults.SendTime,
	}
	settings.SetChannels(defaults.Channels)

	err := s.db.WithContext(ctx).
		Where(models.NotificationSettings{UserID: userID}).
		Attrs(settings).
		FirstOrCreate(&settings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load notification settings: %w", err)
	}
	return &settings, nil
}

// SaveSettings persists changes to an existing settings row.
func (s *Store) SaveSettings(ctx context.Context, settings *models.NotificationSettings) error {
	if err := s.db.WithContext(ctx).Save(settings).Error; err != nil {
		return fmt.Errorf("failed to save notification settings: %w", err)
	}
	return nil
}

// ListOccasionsForUser returns every occasion owned by the user's people.
func (s *Store) ListOccasionsForUser(ctx context.Context, userID uint) ([]models.Occasion, error) {
	var occasions []models.Occasion
	err := s.db.WithContext(ctx).
		InnerJoins("Person").
		Where("\"Person\".user_id = ?", userID).
		Order("occasions.id ASC").
		Find(&occasions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list occasions: %w", err)
	}
	return occasions, nil
}

// IsOccasionCompleted reports whether the occasion was marked complete for year.
func (s *Store) IsOccasionCompleted(ctx context.Context, occasionID uint, year int) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.OccasionCompletion{}).
		Where("occasion_id = ? AND year = ?", occasionID, year).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check occasion completion: %w", err)
	}
	return count > 0, nil
}

// WasDelivered reports whether a log row with non-null sent_at exists for key.
func (s *Store) WasDelivered(ctx context.Context, key models.DeliveryKey) (bool, error) {
	var count int64
	err := s.keyScope(s.db.WithContext(ctx).Model(&models.DeliveryLog{}), key).
		Where("sent_at IS NOT NULL").
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check delivery log: %w", err)
	}
	return count > 0, nil
}

// MarkDelivered upserts the log row for key with sent_at. An existing sent_at is kept.
func (s *Store) MarkDelivered(ctx context.Context, key models.DeliveryKey, destination string, sentAt time.Time) error {
	entry := newLogEntry(key, destination)
	entry.Status = models.DeliveryStatusSent
	entry.Attempts = 1
	entry.SentAt = &sentAt

	return s.upsertLog(ctx, &entry, clause.Assignments(map[string]interface{}{
		"status":      models.DeliveryStatusSent,
		"sent_at":     gorm.Expr("COALESCE(delivery_logs.sent_at, ?)", sentAt),
		"attempts":    gorm.Expr("delivery_logs.attempts + 1"),
		"destination": destination,
		"last_error":  "",
		"updated_at":  time.Now(),
	}), false)
}

// RecordFailedAttempt counts a failed attempt without touching a confirmed send.
func (s *Store) RecordFailedAttempt(ctx context.Context, key models.DeliveryKey, destination, errMsg string) error {
	entry := newLogEntry(key, destination)
	entry.Attempts = 1
	entry.LastError = errMsg

	return s.upsertLog(ctx, &entry, clause.Assignments(map[string]interface{}{
		"attempts":    gorm.Expr("delivery_logs.attempts + 1"),
		"destination": destination,
		"last_error":  errMsg,
		"updated_at":  time.Now(),
	}), true)
}

// MarkPermanentlyFailed records "attempted but failed" with a null sent_at.
// Rows that were already delivered are left alone.
func (s *Store) MarkPermanentlyFailed(ctx context.Context, key models.DeliveryKey, destination, errMsg string) error {
	entry := newLogEntry(key, destination)
	entry.Status = models.DeliveryStatusFailed
	entry.LastError = errMsg

	return s.upsertLog(ctx, &entry, clause.Assignments(map[string]interface{}{
		"status":     models.DeliveryStatusFailed,
		"last_error": errMsg,
		"updated_at": time.Now(),
	}), true)
}

// DeliveryActivity counts log rows for the pair touched since the given time.
func (s *Store) DeliveryActivity(ctx context.Context, userID uint, channel models.Channel, since time.Time) (Activity, error) {
	var row struct {
		Count    int64
		LastUsed *time.Time
	}
	err := s.db.WithContext(ctx).Model(&models.DeliveryLog{}).
		Select("COUNT(*) AS count, MAX(updated_at) AS last_used").
		Where("user_id = ? AND channel = ? AND updated_at >= ?", userID, channel, since).
		Scan(&row).Error
	if err != nil {
		return Activity{}, fmt.Errorf("failed to query delivery activity: %w", err)
	}
	return Activity{Count: row.Count, LastUsed: row.LastUsed}, nil
}

// ListRateLimitConfigs returns all stored per-channel policies.
func (s *Store) ListRateLimitConfigs(ctx context.Context) ([]models.RateLimitConfig, error) {
	var configs []models.RateLimitConfig
	if err := s.db.WithContext(ctx).Order("channel").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("failed to list rate limit configs: %w", err)
	}
	return configs, nil
}

// UpsertRateLimitConfig creates or updates the policy for cfg.Channel.
func (s *Store) UpsertRateLimitConfig(ctx context.Context, cfg *models.RateLimitConfig) error {
	var existing models.RateLimitConfig
	result := s.db.WithContext(ctx).Where("channel = ?", cfg.Channel).First(&existing)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(cfg).Error
	} else if result.Error != nil {
		return result.Error
	}

	cfg.ID = existing.ID
	return s.db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
		"max_attempts":           cfg.MaxAttempts,
		"window_minutes":         cfg.WindowMinutes,
		"block_duration_minutes": cfg.BlockDurationMinutes,
		"active":                 cfg.Active,
	}).Error
}

// SaveRateLimitCounter upserts the durable mirror of a live counter.
func (s *Store) SaveRateLimitCounter(ctx context.Context, counter *models.RateLimitCounter) error {
	counter.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "channel"}},
		DoUpdates: clause.AssignmentColumns([]string{"attempts", "failures", "window_reset_at", "blocked", "blocked_until", "updated_at"}),
	}).Create(counter).Error
}

// RecordHealthSample appends a health observation.
func (s *Store) RecordHealthSample(ctx context.Context, sample *models.HealthSample) error {
	if sample.CheckedAt.IsZero() {
		sample.CheckedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(sample).Error
}

// RecentHealthSamples returns samples for channel newer than since, newest first.
func (s *Store) RecentHealthSamples(ctx context.Context, channel models.Channel, since time.Time) ([]models.HealthSample, error) {
	var samples []models.HealthSample
	err := s.db.WithContext(ctx).
		Where("channel = ? AND checked_at >= ?", channel, since).
		Order("checked_at DESC").
		Find(&samples).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list health samples: %w", err)
	}
	return samples, nil
}

// OpenOutage starts an outage for channel unless one is already open.
// created is false when an open outage was returned instead.
func (s *Store) OpenOutage(ctx context.Context, channel models.Channel, reason string, at time.Time) (*models.Outage, bool, error) {
	var outage models.Outage
	result := s.db.WithContext(ctx).Where("channel = ? AND resolved = ?", channel, false).First(&outage)
	if result.Error == nil {
		return &outage, false, nil
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to look up outage: %w", result.Error)
	}

	outage = models.Outage{Channel: channel, StartedAt: at, Reason: reason}
	if err := s.db.WithContext(ctx).Create(&outage).Error; err != nil {
		return nil, false, fmt.Errorf("failed to open outage: %w", err)
	}
	return &outage, true, nil
}

// ResolveOutage closes every open outage of channel and returns how many were closed.
func (s *Store) ResolveOutage(ctx context.Context, channel models.Channel, at time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.Outage{}).
		Where("channel = ? AND resolved = ?", channel, false).
		Updates(map[string]interface{}{"resolved": true, "ended_at": at})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to resolve outage: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ActiveOutages lists unresolved outages.
func (s *Store) ActiveOutages(ctx context.Context) ([]models.Outage, error) {
	var outages []models.Outage
	if err := s.db.WithContext(ctx).Where("resolved = ?", false).Order("started_at").Find(&outages).Error; err != nil {
		return nil, fmt.Errorf("failed to list outages: %w", err)
	}
	return outages, nil
}

func (s *Store) keyScope(tx *gorm.DB, key models.DeliveryKey) *gorm.DB {
	return tx.Where("occasion_id = ? AND user_id = ? AND channel = ? AND reminder_date = ?",
		key.OccasionID, key.UserID, key.Channel, key.Date.Format(models.DateLayout))
}

// upsertLog inserts entry or applies set on conflict with the dedup key.
// With onlyUnsent the update is skipped for rows that already carry sent_at.
func (s *Store) upsertLog(ctx context.Context, entry *models.DeliveryLog, set clause.Set, onlyUnsent bool) error {
	conflict := clause.OnConflict{
		Columns: []clause.Column{
			{Name: "occasion_id"}, {Name: "user_id"}, {Name: "channel"}, {Name: "reminder_date"},
		},
		DoUpdates: set,
	}
	if onlyUnsent {
		conflict.Where = clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "delivery_logs.sent_at IS NULL"},
		}}
	}

	if err := s.db.WithContext(ctx).Clauses(conflict).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to write delivery log %s: %w", entry.Key(), err)
	}
	return nil
}

func newLogEntry(key models.DeliveryKey, destination string) models.DeliveryLog {
	return models.DeliveryLog{
		OccasionID:   key.OccasionID,
		UserID:       key.UserID,
		Channel:      key.Channel,
		ReminderDate: key.Date,
		Status:       models.DeliveryStatusPending,
		Destination:  destination,
	}
}
