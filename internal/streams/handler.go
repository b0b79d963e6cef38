package streams

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jimdaga/giftwise/internal/delivery"
	"github.com/jimdaga/giftwise/internal/models"
)

// SampleRecorder persists health samples.
type SampleRecorder interface {
	RecordHealthSample(ctx context.Context, sample *models.HealthSample) error
}

// RecordDeliverySamples returns a handler that turns each outcome into a
// delivery health sample. Duplicates skipped at execution time are ignored.
func RecordDeliverySamples(recorder SampleRecorder, logger *slog.Logger) OutcomeHandler {
	return func(ctx context.Context, outcome delivery.Outcome) error {
		var status string
		switch outcome.Status {
		case delivery.OutcomeSent:
			status = models.SampleStatusHealthy
		case delivery.OutcomeFailed, delivery.OutcomeReleased:
			status = models.SampleStatusWarning
		case delivery.OutcomePermanentlyFailed:
			status = models.SampleStatusCritical
		case delivery.OutcomeSkippedDuplicate:
			return nil
		default:
			return fmt.Errorf("unknown outcome status: %s", outcome.Status)
		}

		userID := outcome.UserID
		sample := &models.HealthSample{
			Channel:        outcome.Channel,
			UserID:         &userID,
			CheckType:      models.CheckTypeDelivery,
			Status:         status,
			ResponseTimeMs: outcome.DurationMs,
			Message:        sampleMessage(outcome),
			CheckedAt:      outcome.OccurredAt,
		}
		if err := recorder.RecordHealthSample(ctx, sample); err != nil {
			return fmt.Errorf("failed to record delivery sample: %w", err)
		}

		if status == models.SampleStatusCritical {
			logger.Error("Delivery permanently failed",
				"user_id", outcome.UserID,
				"channel", outcome.Channel,
				"destination", outcome.Destination,
				"error", outcome.Error,
			)
		}
		return nil
	}
}

func sampleMessage(o delivery.Outcome) string {
	msg := fmt.Sprintf("%s to %s for occasion %d on %s", o.Status, o.Destination, o.OccasionID, o.OccurrenceDate)
	if o.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", o.StatusCode)
	}
	if o.Error != "" {
		msg += ": " + o.Error
	}
	return msg
}
