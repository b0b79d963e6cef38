// Package ratelimit enforces per (user, channel) send quotas.
//
// Counting uses fixed windows: the first attempt opens a window of the
// channel's length and every attempt inside it counts against the same
// quota. Bursts straddling a window boundary are accepted. Once the quota is
// exhausted the pair is blocked for the channel's block duration and then
// starts over with a fresh window.
//
// Redis is the single authoritative store; every mutation is one Lua script,
// so the scheduler and any number of delivery workers can share a counter.
// The rate_limit_counters table only mirrors the live state for diagnostics.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
	"github.com/redis/go-redis/v9"
)

// KEYS: count, blocked. ARGV: limit, window ms, block ms.
var acquireScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
local current = 0
local raw = redis.call('GET', KEYS[1])
if raw then
	current = tonumber(raw)
end
if current >= tonumber(ARGV[1]) then
	redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
	redis.call('DEL', KEYS[1])
	return 0
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// KEYS: failures, blocked, count. ARGV: threshold, window ms, block ms.
var failureScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if n >= tonumber(ARGV[1]) then
	redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
	redis.call('DEL', KEYS[1], KEYS[3])
	return 1
end
return 0
`)

// KEYS: count. The key is never created, so an expired window stays expired.
var refundScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if raw and tonumber(raw) > 0 then
	return redis.call('DECR', KEYS[1])
end
return 0
`)

// CounterMirror receives a snapshot after each counter mutation.
type CounterMirror interface {
	SaveRateLimitCounter(ctx context.Context, counter *models.RateLimitCounter) error
}

// Stats describes the live counter of a (user, channel) pair.
type Stats struct {
	Channel      models.Channel `json:"channel"`
	Current      int            `json:"current"`
	Limit        int            `json:"limit"`
	Remaining    int            `json:"remaining"`
	ResetAt      time.Time      `json:"reset_at"`
	Failures     int            `json:"failures"`
	Blocked      bool           `json:"blocked"`
	BlockedUntil *time.Time     `json:"blocked_until,omitempty"`
}

// Limiter is safe for concurrent use.
type Limiter struct {
	rdb      *redis.Client
	policies map[models.Channel]Policy
	mirror   CounterMirror
	logger   *slog.Logger
	now      func() time.Time
}

// NewLimiter creates a limiter for the given policies. Channels without a policy are unlimited.
// mirror may be nil.
func NewLimiter(rdb *redis.Client, policies []Policy, mirror CounterMirror, logger *slog.Logger) *Limiter {
	byChannel := make(map[models.Channel]Policy, len(policies))
	for _, p := range policies {
		byChannel[p.Channel] = p
	}
	return &Limiter{
		rdb:      rdb,
		policies: byChannel,
		mirror:   mirror,
		logger:   logger.With("component", "ratelimit"),
		now:      time.Now,
	}
}

// Policy returns the policy for ch and whether one is configured.
func (l *Limiter) Policy(ch models.Channel) (Policy, bool) {
	p, ok := l.policies[ch]
	return p, ok
}

func (l *Limiter) enforced(ch models.Channel) (Policy, bool) {
	p, ok := l.policies[ch]
	return p, ok && p.Active && p.MaxAttempts > 0
}

func keys(userID uint, ch models.Channel) (count, blocked, failures string) {
	base := fmt.Sprintf("ratelimit:%d:%s", userID, ch)
	return base + ":count", base + ":blocked", base + ":failures"
}

// TryAcquire counts one send attempt and reports whether it may proceed.
// The attempt that reaches the limit is allowed; the next one is denied and blocks the pair.
func (l *Limiter) TryAcquire(ctx context.Context, userID uint, ch models.Channel) (bool, error) {
	p, ok := l.enforced(ch)
	if !ok {
		return true, nil
	}

	countKey, blockedKey, _ := keys(userID, ch)
	res, err := acquireScript.Run(ctx, l.rdb, []string{countKey, blockedKey},
		p.MaxAttempts, p.Window.Milliseconds(), p.BlockDuration.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit acquire for user %d on %s: %w", userID, ch, err)
	}

	allowed := res == 1
	if !allowed {
		l.logger.Warn("Rate limit reached", "user_id", userID, "channel", ch, "limit", p.MaxAttempts, "window", p.Window)
	}
	l.mirrorState(ctx, userID, ch)
	return allowed, nil
}

// Check returns an *ExceededError while the pair is blocked. It does not count an attempt.
func (l *Limiter) Check(ctx context.Context, userID uint, ch models.Channel) error {
	if _, ok := l.enforced(ch); !ok {
		return nil
	}

	_, blockedKey, _ := keys(userID, ch)
	ttl, err := l.rdb.PTTL(ctx, blockedKey).Result()
	if err != nil {
		return fmt.Errorf("rate limit check for user %d on %s: %w", userID, ch, err)
	}
	switch {
	case ttl > 0:
		return &ExceededError{UserID: userID, Channel: ch, RetryAfter: ttl}
	case ttl == -1:
		// blocked without expiry, should not happen; treat as one block period
		p, _ := l.Policy(ch)
		return &ExceededError{UserID: userID, Channel: ch, RetryAfter: p.BlockDuration}
	}
	return nil
}

// Refund gives back one attempt counted by TryAcquire for a send that was never
// queued. It leaves the window expiry and any block in place.
func (l *Limiter) Refund(ctx context.Context, userID uint, ch models.Channel) error {
	if _, ok := l.enforced(ch); !ok {
		return nil
	}

	countKey, _, _ := keys(userID, ch)
	if err := refundScript.Run(ctx, l.rdb, []string{countKey}).Err(); err != nil {
		return fmt.Errorf("rate limit refund for user %d on %s: %w", userID, ch, err)
	}
	l.mirrorState(ctx, userID, ch)
	return nil
}

// RecordSuccess refreshes the durable mirror after a confirmed send.
func (l *Limiter) RecordSuccess(ctx context.Context, userID uint, ch models.Channel) {
	l.mirrorState(ctx, userID, ch)
}

// RecordFailure counts a failed delivery. When failures in the current window reach the
// channel's max attempts the pair is blocked for the block duration; blocked reports that.
func (l *Limiter) RecordFailure(ctx context.Context, userID uint, ch models.Channel) (blocked bool, err error) {
	p, ok := l.enforced(ch)
	if !ok {
		return false, nil
	}

	countKey, blockedKey, failuresKey := keys(userID, ch)
	res, err := failureScript.Run(ctx, l.rdb, []string{failuresKey, blockedKey, countKey},
		p.MaxAttempts, p.Window.Milliseconds(), p.BlockDuration.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit failure for user %d on %s: %w", userID, ch, err)
	}

	blocked = res == 1
	if blocked {
		l.logger.Warn("Channel blocked after repeated failures", "user_id", userID, "channel", ch, "block_duration", p.BlockDuration)
	}
	l.mirrorState(ctx, userID, ch)
	return blocked, nil
}

// Stats reads the live counter of the pair.
func (l *Limiter) Stats(ctx context.Context, userID uint, ch models.Channel) (Stats, error) {
	now := l.now()
	p, _ := l.Policy(ch)
	st := Stats{Channel: ch, Limit: p.MaxAttempts, ResetAt: now}

	countKey, blockedKey, failuresKey := keys(userID, ch)
	pipe := l.rdb.Pipeline()
	countCmd := pipe.Get(ctx, countKey)
	countTTL := pipe.PTTL(ctx, countKey)
	blockedTTL := pipe.PTTL(ctx, blockedKey)
	failuresCmd := pipe.Get(ctx, failuresKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return st, fmt.Errorf("rate limit stats for user %d on %s: %w", userID, ch, err)
	}

	if n, err := countCmd.Int(); err == nil {
		st.Current = n
	}
	if n, err := failuresCmd.Int(); err == nil {
		st.Failures = n
	}
	if ttl := countTTL.Val(); ttl > 0 {
		st.ResetAt = now.Add(ttl)
	}
	if ttl := blockedTTL.Val(); ttl > 0 || ttl == -1 {
		st.Blocked = true
		if ttl > 0 {
			until := now.Add(ttl)
			st.BlockedUntil = &until
			st.ResetAt = until
		}
	}

	if st.Limit > 0 && st.Current > st.Limit {
		st.Current = st.Limit
	}
	st.Remaining = st.Limit - st.Current
	if st.Blocked || st.Remaining < 0 {
		st.Remaining = 0
	}
	return st, nil
}

// Reset clears the counter and lifts any block immediately.
func (l *Limiter) Reset(ctx context.Context, userID uint, ch models.Channel) error {
	countKey, blockedKey, failuresKey := keys(userID, ch)
	if err := l.rdb.Del(ctx, countKey, blockedKey, failuresKey).Err(); err != nil {
		return fmt.Errorf("rate limit reset for user %d on %s: %w", userID, ch, err)
	}
	l.logger.Info("Rate limit reset", "user_id", userID, "channel", ch)
	l.mirrorState(ctx, userID, ch)
	return nil
}

// mirrorState copies the live state to the durable mirror. Failures are logged only.
func (l *Limiter) mirrorState(ctx context.Context, userID uint, ch models.Channel) {
	if l.mirror == nil {
		return
	}
	st, err := l.Stats(ctx, userID, ch)
	if err != nil {
		l.logger.Warn("Failed to read counter for mirror", "user_id", userID, "channel", ch, "error", err)
		return
	}

	resetAt := st.ResetAt
	counter := &models.RateLimitCounter{
		UserID:        userID,
		Channel:       ch,
		Attempts:      st.Current,
		Failures:      st.Failures,
		WindowResetAt: &resetAt,
		Blocked:       st.Blocked,
		BlockedUntil:  st.BlockedUntil,
	}
	if err := l.mirror.SaveRateLimitCounter(ctx, counter); err != nil {
		l.logger.Warn("Failed to mirror rate limit counter", "user_id", userID, "channel", ch, "error", err)
	}
}
