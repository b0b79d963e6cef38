package models

import (
	"fmt"
	"time"
)

// Delivery log status constants
const (
	DeliveryStatusPending = "pending"
	DeliveryStatusSent    = "sent"
	DeliveryStatusFailed  = "failed"
)

// DateLayout is the wire and key format for civil dates.
const DateLayout = "2006-01-02"

// DeliveryKey is the uniqueness boundary for "already reminded".
type DeliveryKey struct {
	OccasionID uint
	UserID     uint
	Channel    Channel
	Date       time.Time
}

func (k DeliveryKey) String() string {
	return fmt.Sprintf("%d:%d:%s:%s", k.OccasionID, k.UserID, k.Channel, k.Date.Format(DateLayout))
}

// DeliveryLog is the durable dedup and audit record for one reminder.
// SentAt is set only after the transport confirmed success.
type DeliveryLog struct {
	ID           uint      `gorm:"primaryKey"`
	OccasionID   uint      `gorm:"not null;uniqueIndex:idx_delivery_logs_key"`
	UserID       uint      `gorm:"not null;uniqueIndex:idx_delivery_logs_key;index"`
	Channel      Channel   `gorm:"type:varchar(20);not null;uniqueIndex:idx_delivery_logs_key"`
	ReminderDate time.Time `gorm:"type:date;not null;uniqueIndex:idx_delivery_logs_key"`
	Status       string    `gorm:"not null;default:'pending';index"`
	Attempts     int       `gorm:"not null;default:0"`
	Destination  string    // sanitized, no secrets
	LastError    string    `gorm:"column:last_error;type:text"`
	SentAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Key returns the dedup key of the entry.
func (l *DeliveryLog) Key() DeliveryKey {
	return DeliveryKey{OccasionID: l.OccasionID, UserID: l.UserID, Channel: l.Channel, Date: l.ReminderDate}
}
