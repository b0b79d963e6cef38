package health

import (
	"time"

	"github.com/jimdaga/giftwise/internal/models"
	"github.com/jimdaga/giftwise/internal/webhook"
)

// Channel health statuses
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusInactive  = "inactive"
)

// ActivityWindow is how far back delivery activity counts.
const ActivityWindow = 7 * 24 * time.Hour

// ChannelHealth is the verdict for one (user, channel) pair.
type ChannelHealth struct {
	Channel       models.Channel       `json:"channel"`
	Status        string               `json:"status"`
	Configured    bool                 `json:"configured"`
	LastUsed      *time.Time           `json:"last_used,omitempty"`
	SuccessRate   float64              `json:"success_rate"`
	TotalAttempts int64                `json:"total_attempts"`
	Connectivity  *webhook.ProbeResult `json:"connectivity,omitempty"`
	Details       []string             `json:"details,omitempty"`
}

// UserHealth holds the verdicts for every channel of one user.
type UserHealth struct {
	UserID   uint            `json:"user_id"`
	Email    string          `json:"email"`
	Channels []ChannelHealth `json:"channels"`
}

// HasHealthy reports whether at least one channel is healthy.
func (u UserHealth) HasHealthy() bool {
	for _, ch := range u.Channels {
		if ch.Status == StatusHealthy {
			return true
		}
	}
	return false
}

// Unhealthy returns the unhealthy channels.
func (u UserHealth) Unhealthy() []ChannelHealth {
	var out []ChannelHealth
	for _, ch := range u.Channels {
		if ch.Status == StatusUnhealthy {
			out = append(out, ch)
		}
	}
	return out
}

// ChannelSummary counts users per status for one channel.
type ChannelSummary struct {
	Healthy    int `json:"healthy"`
	Unhealthy  int `json:"unhealthy"`
	Inactive   int `json:"inactive"`
	Configured int `json:"configured"`
}

// SystemOverview aggregates health over all users.
type SystemOverview struct {
	Channels         map[models.Channel]*ChannelSummary `json:"channels"`
	TotalUsers       int                                `json:"total_users"`
	ActiveUsers      int                                `json:"active_users"`
	HealthPercentage float64                            `json:"health_percentage"`
	CheckedAt        time.Time                          `json:"checked_at"`
}
