// Package storetest provides an in-memory store with the same method set as
// store.Store, for tests of packages that persist reminders and health data.
package storetest

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
	"github.com/jimdaga/giftwise/internal/store"
)

// Store is a concurrency-safe in-memory store.
type Store struct {
	mu sync.Mutex

	nextID      uint
	users       map[uint]models.User
	settings    map[uint]models.NotificationSettings
	occasions   map[uint][]models.Occasion // by user
	completions map[uint]map[int]bool
	logs        map[string]*models.DeliveryLog
	configs     map[models.Channel]models.RateLimitConfig
	counters    map[string]models.RateLimitCounter
	samples     []models.HealthSample
	outages     []models.Outage

	// Now is used for log timestamps; defaults to time.Now.
	Now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:       make(map[uint]models.User),
		settings:    make(map[uint]models.NotificationSettings),
		occasions:   make(map[uint][]models.Occasion),
		completions: make(map[uint]map[int]bool),
		logs:        make(map[string]*models.DeliveryLog),
		configs:     make(map[models.Channel]models.RateLimitConfig),
		counters:    make(map[string]models.RateLimitCounter),
		Now:         time.Now,
	}
}

func (s *Store) id() uint {
	s.nextID++
	return s.nextID
}

// AddUser stores a user and, when settings is non-nil, its settings. It returns the user ID.
func (s *Store) AddUser(user models.User, settings *models.NotificationSettings) uint {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == 0 {
		user.ID = s.id()
	} else if user.ID > s.nextID {
		s.nextID = user.ID
	}
	if user.Timezone == "" {
		user.Timezone = "UTC"
	}
	s.users[user.ID] = user
	if settings != nil {
		cp := *settings
		cp.UserID = user.ID
		if cp.ID == 0 {
			cp.ID = s.id()
		}
		s.settings[user.ID] = cp
	}
	return user.ID
}

// DeleteUser removes a user and its settings.
func (s *Store) DeleteUser(id uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	delete(s.settings, id)
}

// AddOccasion attaches an occasion to a person of the user and returns its ID.
func (s *Store) AddOccasion(userID uint, personName string, occasion models.Occasion) uint {
	s.mu.Lock()
	defer s.mu.Unlock()

	if occasion.ID == 0 {
		occasion.ID = s.id()
	}
	occasion.Person = models.Person{UserID: userID, Name: personName}
	occasion.Person.ID = s.id()
	occasion.PersonID = occasion.Person.ID
	s.occasions[userID] = append(s.occasions[userID], occasion)
	return occasion.ID
}

// CompleteOccasion marks the occasion complete for year.
func (s *Store) CompleteOccasion(occasionID uint, year int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completions[occasionID] == nil {
		s.completions[occasionID] = make(map[int]bool)
	}
	s.completions[occasionID][year] = true
}

// ListUsersWithSettings mirrors store.Store.
func (s *Store) ListUsersWithSettings(_ context.Context, afterID uint, limit int) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint, 0, len(s.settings))
	for id := range s.settings {
		if _, ok := s.users[id]; ok && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}

	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		u := s.users[id]
		st := s.settings[id]
		u.NotificationSettings = &st
		users = append(users, u)
	}
	return users, nil
}

// GetUser mirrors store.Store.
func (s *Store) GetUser(_ context.Context, id uint) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if st, ok := s.settings[id]; ok {
		u.NotificationSettings = &st
	}
	return &u, nil
}

// UserExists mirrors store.Store.
func (s *Store) UserExists(_ context.Context, id uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[id]
	return ok, nil
}

// GetOrCreateSettings mirrors store.Store.
func (s *Store) GetOrCreateSettings(_ context.Context, userID uint, defaults store.SettingsDefaults) (*models.NotificationSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return nil, store.ErrNotFound
	}
	if st, ok := s.settings[userID]; ok {
		return &st, nil
	}
	st := models.NotificationSettings{UserID: userID, LeadTimeDays: defaults.LeadTimeDays, SendTime: defaults.SendTime}
	st.ID = s.id()
	st.SetChannels(defaults.Channels)
	s.settings[userID] = st
	return &st, nil
}

// SaveSettings mirrors store.Store.
func (s *Store) SaveSettings(_ context.Context, settings *models.NotificationSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if settings.ID == 0 {
		settings.ID = s.id()
	}
	s.settings[settings.UserID] = *settings
	return nil
}

// ListOccasionsForUser mirrors store.Store.
func (s *Store) ListOccasionsForUser(_ context.Context, userID uint) ([]models.Occasion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Occasion(nil), s.occasions[userID]...), nil
}

// IsOccasionCompleted mirrors store.Store.
func (s *Store) IsOccasionCompleted(_ context.Context, occasionID uint, year int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completions[occasionID][year], nil
}

// WasDelivered mirrors store.Store.
func (s *Store) WasDelivered(_ context.Context, key models.DeliveryKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[key.String()]
	return ok && l.SentAt != nil, nil
}

func (s *Store) entry(key models.DeliveryKey, destination string) *models.DeliveryLog {
	l, ok := s.logs[key.String()]
	if !ok {
		now := s.Now()
		l = &models.DeliveryLog{
			ID:           s.id(),
			OccasionID:   key.OccasionID,
			UserID:       key.UserID,
			Channel:      key.Channel,
			ReminderDate: key.Date,
			Status:       models.DeliveryStatusPending,
			CreatedAt:    now,
		}
		s.logs[key.String()] = l
	}
	l.Destination = destination
	l.UpdatedAt = s.Now()
	return l
}

// MarkDelivered mirrors store.Store.
func (s *Store) MarkDelivered(_ context.Context, key models.DeliveryKey, destination string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.entry(key, destination)
	l.Attempts++
	l.Status = models.DeliveryStatusSent
	l.LastError = ""
	if l.SentAt == nil {
		l.SentAt = &sentAt
	}
	return nil
}

// RecordFailedAttempt mirrors store.Store.
func (s *Store) RecordFailedAttempt(_ context.Context, key models.DeliveryKey, destination, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[key.String()]; ok && l.SentAt != nil {
		return nil
	}
	l := s.entry(key, destination)
	l.Attempts++
	l.LastError = errMsg
	return nil
}

// MarkPermanentlyFailed mirrors store.Store.
func (s *Store) MarkPermanentlyFailed(_ context.Context, key models.DeliveryKey, destination, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[key.String()]; ok && l.SentAt != nil {
		return nil
	}
	l := s.entry(key, destination)
	l.Status = models.DeliveryStatusFailed
	l.LastError = errMsg
	return nil
}

// Log returns a copy of the log row for key.
func (s *Store) Log(key models.DeliveryKey) (models.DeliveryLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[key.String()]
	if !ok {
		return models.DeliveryLog{}, false
	}
	return *l, true
}

// Logs returns copies of every log row.
func (s *Store) Logs() []models.DeliveryLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DeliveryLog, 0, len(s.logs))
	for _, l := range s.logs {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PutLog inserts or replaces a log row as is.
func (s *Store) PutLog(l models.DeliveryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == 0 {
		l.ID = s.id()
	}
	s.logs[l.Key().String()] = &l
}

// DeliveryActivity mirrors store.Store.
func (s *Store) DeliveryActivity(_ context.Context, userID uint, channel models.Channel, since time.Time) (store.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var a store.Activity
	for _, l := range s.logs {
		if l.UserID != userID || l.Channel != channel || l.UpdatedAt.Before(since) {
			continue
		}
		a.Count++
		if a.LastUsed == nil || l.UpdatedAt.After(*a.LastUsed) {
			t := l.UpdatedAt
			a.LastUsed = &t
		}
	}
	return a, nil
}

// ListRateLimitConfigs mirrors store.Store.
func (s *Store) ListRateLimitConfigs(_ context.Context) ([]models.RateLimitConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RateLimitConfig, 0, len(s.configs))
	for _, c := range s.configs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out, nil
}

// UpsertRateLimitConfig mirrors store.Store.
func (s *Store) UpsertRateLimitConfig(_ context.Context, cfg *models.RateLimitConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.configs[cfg.Channel]; ok {
		cfg.ID = existing.ID
	} else if cfg.ID == 0 {
		cfg.ID = s.id()
	}
	s.configs[cfg.Channel] = *cfg
	return nil
}

// SaveRateLimitCounter mirrors store.Store.
func (s *Store) SaveRateLimitCounter(_ context.Context, counter *models.RateLimitCounter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[counterKey(counter.UserID, counter.Channel)] = *counter
	return nil
}

// Counter returns the mirrored counter for the pair.
func (s *Store) Counter(userID uint, channel models.Channel) (models.RateLimitCounter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[counterKey(userID, channel)]
	return c, ok
}

// RecordHealthSample mirrors store.Store.
func (s *Store) RecordHealthSample(_ context.Context, sample *models.HealthSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample.ID = s.id()
	if sample.CheckedAt.IsZero() {
		sample.CheckedAt = s.Now()
	}
	s.samples = append(s.samples, *sample)
	return nil
}

// RecentHealthSamples mirrors store.Store.
func (s *Store) RecentHealthSamples(_ context.Context, channel models.Channel, since time.Time) ([]models.HealthSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.HealthSample
	for i := len(s.samples) - 1; i >= 0; i-- {
		smp := s.samples[i]
		if smp.Channel == channel && !smp.CheckedAt.Before(since) {
			out = append(out, smp)
		}
	}
	return out, nil
}

// Samples returns every recorded sample in insertion order.
func (s *Store) Samples() []models.HealthSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.HealthSample(nil), s.samples...)
}

// OpenOutage mirrors store.Store.
func (s *Store) OpenOutage(_ context.Context, channel models.Channel, reason string, at time.Time) (*models.Outage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outages {
		if s.outages[i].Channel == channel && !s.outages[i].Resolved {
			o := s.outages[i]
			return &o, false, nil
		}
	}
	o := models.Outage{ID: s.id(), Channel: channel, StartedAt: at, Reason: reason}
	s.outages = append(s.outages, o)
	return &o, true, nil
}

// ResolveOutage mirrors store.Store.
func (s *Store) ResolveOutage(_ context.Context, channel models.Channel, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.outages {
		if s.outages[i].Channel == channel && !s.outages[i].Resolved {
			ended := at
			s.outages[i].Resolved = true
			s.outages[i].EndedAt = &ended
			n++
		}
	}
	return n, nil
}

// ActiveOutages mirrors store.Store.
func (s *Store) ActiveOutages(_ context.Context) ([]models.Outage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Outage
	for _, o := range s.outages {
		if !o.Resolved {
			out = append(out, o)
		}
	}
	return out, nil
}

func counterKey(userID uint, channel models.Channel) string {
	return string(channel) + ":" + strconv.FormatUint(uint64(userID), 10)
}
