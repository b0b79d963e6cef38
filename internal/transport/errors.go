package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
)

var (
	// ErrInvalidDestination is wrapped when a destination fails validation.
	ErrInvalidDestination = errors.New("invalid destination")
	// ErrUnsupportedNotification is wrapped when the notification lacks the channel's renderer.
	ErrUnsupportedNotification = errors.New("notification does not support channel")
	// ErrUnknownChannel is wrapped when no transport is registered for a channel.
	ErrUnknownChannel = errors.New("no transport registered for channel")
)

// DeliveryError describes a failed send. Destination is sanitized.
type DeliveryError struct {
	Channel     models.Channel
	Destination string
	StatusCode  int
	Attempts    int
	Retryable   bool
	RetryAfter  time.Duration
	Err         error
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("%s delivery to %s failed", e.Channel, e.Destination)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with status %d", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsRetryable reports whether err may succeed on a later attempt.
// Errors that are not a *DeliveryError are treated as retryable.
func IsRetryable(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return err != nil
}

func validationError(ch models.Channel, dest string, err error) *DeliveryError {
	return &DeliveryError{Channel: ch, Destination: SanitizeDestination(dest), Err: err}
}
