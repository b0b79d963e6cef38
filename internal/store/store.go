// Package store persists users, occasions, delivery logs, rate-limit state and
// health data. Consumers declare the narrow interfaces they need; *Store
// satisfies all of them.
package store

import (
	"errors"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SettingsDefaults seeds a lazily created NotificationSettings row.
type SettingsDefaults struct {
	LeadTimeDays int
	SendTime     string
	Channels     []models.Channel
}

// Activity summarizes delivery log rows for one (user, channel) pair.
type Activity struct {
	Count    int64
	LastUsed *time.Time
}
