package models

import (
	"time"

	"gorm.io/gorm"
)

// RateLimitConfig is the per-channel send policy
type RateLimitConfig struct {
	gorm.Model
	Channel              Channel `gorm:"type:varchar(20);not null;uniqueIndex:idx_rate_limit_configs_channel,where:deleted_at IS NULL"`
	MaxAttempts          int     `gorm:"not null"`
	WindowMinutes        int     `gorm:"not null"`
	BlockDurationMinutes int     `gorm:"not null"`
	Active               bool    `gorm:"not null;default:true"`
}

// RateLimitCounter mirrors the live per (user, channel) counter for diagnostics.
type RateLimitCounter struct {
	ID            uint    `gorm:"primaryKey"`
	UserID        uint    `gorm:"not null;uniqueIndex:idx_rate_limit_counters_user_channel"`
	Channel       Channel `gorm:"type:varchar(20);not null;uniqueIndex:idx_rate_limit_counters_user_channel"`
	Attempts      int     `gorm:"not null;default:0"`
	Failures      int     `gorm:"not null;default:0"`
	WindowResetAt *time.Time
	Blocked       bool `gorm:"not null;default:false"`
	BlockedUntil  *time.Time
	UpdatedAt     time.Time
}
