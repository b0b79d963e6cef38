package models

import "time"

// Health status constants for samples
const (
	SampleStatusHealthy  = "healthy"
	SampleStatusWarning  = "warning"
	SampleStatusCritical = "critical"
)

// Health check types
const (
	CheckTypeConnectivity = "connectivity"
	CheckTypeActivity     = "activity"
	CheckTypeDelivery     = "delivery"
	CheckTypeSystem       = "system"
)

// HealthSample is an append-only health observation for a channel
type HealthSample struct {
	ID             uint    `gorm:"primaryKey"`
	Channel        Channel `gorm:"type:varchar(20);not null;index:idx_health_samples_channel_time"`
	UserID         *uint   `gorm:"index"`
	CheckType      string  `gorm:"not null"`
	Status         string  `gorm:"not null"`
	ResponseTimeMs int64
	Message        string    `gorm:"type:text"`
	CheckedAt      time.Time `gorm:"not null;index:idx_health_samples_channel_time"`
}

// Outage tracks a degraded period of a channel. It stays open until resolved explicitly.
type Outage struct {
	ID        uint      `gorm:"primaryKey"`
	Channel   Channel   `gorm:"type:varchar(20);not null;index"`
	StartedAt time.Time `gorm:"not null"`
	EndedAt   *time.Time
	Resolved  bool   `gorm:"not null;default:false;index"`
	Reason    string `gorm:"type:text"`
}
