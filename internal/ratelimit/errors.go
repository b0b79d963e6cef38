package ratelimit

import (
	"fmt"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
)

// ExceededError reports that a (user, channel) pair is blocked.
// It is retryable: callers should delay the work by RetryAfter, not fail it.
type ExceededError struct {
	UserID     uint
	Channel    models.Channel
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for user %d on %s, retry after %s", e.UserID, e.Channel, e.RetryAfter)
}
