package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
)

const (
	// DefaultUserAgent identifies outbound webhook calls.
	DefaultUserAgent = "giftwise-reminders/1.0"

	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	defaultRetryAfter = 60 * time.Second
	maxErrorBody      = 512
)

// URLValidator checks a webhook URL for a channel.
type URLValidator interface {
	ValidateURL(ch models.Channel, raw string) error
}

// Poster performs JSON webhook calls with bounded retry.
// 429 waits for Retry-After, 5xx and network errors wait one second,
// any other non-2xx status fails immediately.
type Poster struct {
	httpClient        *http.Client
	userAgent         string
	validator         URLValidator
	logger            *slog.Logger
	maxRetries        int
	retryDelay        time.Duration
	defaultRetryAfter time.Duration
	sleep             func(ctx context.Context, d time.Duration) error
}

// NewPoster creates a poster. validator may be nil, in which case only an
// absolute http(s) URL is required.
func NewPoster(userAgent string, validator URLValidator, logger *slog.Logger) *Poster {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Poster{
		httpClient:        &http.Client{Timeout: defaultTimeout},
		userAgent:         userAgent,
		validator:         validator,
		logger:            logger.With("component", "transport"),
		maxRetries:        defaultMaxRetries,
		retryDelay:        defaultRetryDelay,
		defaultRetryAfter: defaultRetryAfter,
		sleep:             sleepContext,
	}
}

// Post sends body as JSON to dest. It returns a *DeliveryError on failure.
func (p *Poster) Post(ctx context.Context, ch models.Channel, dest Destination, body any) error {
	if err := p.validate(ch, dest.Address); err != nil {
		return validationError(ch, dest.Address, fmt.Errorf("%w: %v", ErrInvalidDestination, err))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return validationError(ch, dest.Address, fmt.Errorf("failed to marshal payload: %w", err))
	}

	sanitized := SanitizeDestination(dest.Address)
	var last *DeliveryError
	for attempt := 1; attempt <= p.maxRetries+1; attempt++ {
		start := time.Now()
		status, retryAfter, err := p.do(ctx, dest, payload)
		elapsed := time.Since(start)

		if err == nil && status >= 200 && status < 300 {
			p.logger.Debug("Webhook delivered", "channel", ch, "destination", sanitized, "status", status, "attempt", attempt, "duration", elapsed)
			return nil
		}

		last = &DeliveryError{Channel: ch, Destination: sanitized, StatusCode: status, Attempts: attempt, Retryable: true, Err: err}
		var delay time.Duration
		switch {
		case status == 0:
			if ctx.Err() != nil {
				last.Err = ctx.Err()
				return last
			}
			delay = p.retryDelay
		case status == http.StatusTooManyRequests:
			delay = retryAfter
			last.RetryAfter = retryAfter
		case status >= 500:
			delay = p.retryDelay
		default:
			last.Retryable = false
			return last
		}

		p.logger.Warn("Webhook attempt failed", "channel", ch, "destination", sanitized, "status", status, "attempt", attempt, "retry_in", delay, "error", err)
		if attempt > p.maxRetries {
			break
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			last.RetryAfter = delay
			return last
		}
		if err := p.sleep(ctx, delay); err != nil {
			last.Err = err
			return last
		}
	}

	p.logger.Error("Webhook delivery failed", "channel", ch, "destination", sanitized, "attempts", last.Attempts, "status", last.StatusCode)
	return last
}

func (p *Poster) validate(ch models.Channel, raw string) error {
	if p.validator != nil {
		return p.validator.ValidateURL(ch, raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("not an absolute http(s) URL")
	}
	return nil
}

// do performs one request and returns the status and Retry-After delay.
func (p *Poster) do(ctx context.Context, dest Destination, payload []byte) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.Address, bytes.NewReader(payload))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", p.userAgent)
	if dest.Token != "" {
		req.Header.Set("Authorization", "Bearer "+dest.Token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, 0, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return resp.StatusCode, p.parseRetryAfter(resp.Header.Get("Retry-After")),
		fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func (p *Poster) parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return p.defaultRetryAfter
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return p.defaultRetryAfter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
