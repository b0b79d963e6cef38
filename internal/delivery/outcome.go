package delivery

import (
	"context"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
)

// Outcome statuses
const (
	OutcomeSent              = "sent"
	OutcomeFailed            = "failed"
	OutcomeReleased          = "released"
	OutcomePermanentlyFailed = "permanently_failed"
	OutcomeSkippedDuplicate  = "skipped_duplicate"
)

// Outcome is one delivery event for analytics and health sampling.
type Outcome struct {
	UserID         uint           `json:"user_id"`
	OccasionID     uint           `json:"occasion_id"`
	Channel        models.Channel `json:"channel"`
	Destination    string         `json:"destination"` // sanitized
	OccurrenceDate string         `json:"occurrence_date"`
	Status         string         `json:"status"`
	StatusCode     int            `json:"status_code,omitempty"`
	Error          string         `json:"error,omitempty"`
	DurationMs     int64          `json:"duration_ms"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// OutcomePublisher receives delivery outcomes. Publishing is best effort.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, outcome Outcome) error
}
