package webhook

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
	"github.com/jimdaga/giftwise/internal/transport"
	"github.com/redis/go-redis/v9"
)

// ProbeCacheTTL is how long a probe result is reused.
const ProbeCacheTTL = 5 * time.Minute

const probeTimeout = 10 * time.Second

// ProbeResult is the outcome of one connectivity probe.
type ProbeResult struct {
	Healthy      bool          `json:"healthy"`
	StatusCode   int           `json:"status_code,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
	CheckedAt    time.Time     `json:"checked_at"`
	Cached       bool          `json:"cached"`
}

// Prober sends a small test payload to a webhook and treats any 2xx as healthy.
// Results are cached in Redis per (channel, URL hash).
type Prober struct {
	rdb        *redis.Client
	httpClient *http.Client
	userAgent  string
	ttl        time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewProber creates a prober. rdb may be nil to disable caching.
func NewProber(rdb *redis.Client, userAgent string, logger *slog.Logger) *Prober {
	if userAgent == "" {
		userAgent = transport.DefaultUserAgent
	}
	return &Prober{
		rdb:        rdb,
		httpClient: &http.Client{Timeout: probeTimeout},
		userAgent:  userAgent,
		ttl:        ProbeCacheTTL,
		logger:     logger.With("component", "webhook_prober"),
		now:        time.Now,
	}
}

func probeCacheKey(ch models.Channel, rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return fmt.Sprintf("webhook:probe:%s:%s", ch, hex.EncodeToString(sum[:]))
}

func probePayload(ch models.Channel) any {
	const text = "Giftwise connection test"
	switch ch {
	case models.ChannelDiscord:
		return map[string]string{"content": text}
	case models.ChannelSlack:
		return map[string]string{"text": text}
	default:
		return map[string]any{"type": "connection_test", "title": text}
	}
}

// Probe checks dest for a webhook channel. Unreachable endpoints are reported
// in the result; an error is returned only for channels that cannot be probed.
func (p *Prober) Probe(ctx context.Context, ch models.Channel, dest transport.Destination) (ProbeResult, error) {
	if !ch.IsWebhook() {
		return ProbeResult{}, fmt.Errorf("channel %s has no webhook to probe", ch)
	}

	key := probeCacheKey(ch, dest.Address)
	if cached, ok := p.cached(ctx, key); ok {
		return cached, nil
	}

	result := p.probe(ctx, ch, dest)

	if p.rdb != nil {
		data, _ := json.Marshal(result)
		if err := p.rdb.Set(ctx, key, data, p.ttl).Err(); err != nil {
			p.logger.Warn("Failed to cache probe result", "channel", ch, "error", err)
		}
	}
	return result, nil
}

func (p *Prober) cached(ctx context.Context, key string) (ProbeResult, bool) {
	if p.rdb == nil {
		return ProbeResult{}, false
	}
	data, err := p.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			p.logger.Warn("Failed to read probe cache", "error", err)
		}
		return ProbeResult{}, false
	}
	var result ProbeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return ProbeResult{}, false
	}
	result.Cached = true
	return result, true
}

func (p *Prober) probe(ctx context.Context, ch models.Channel, dest transport.Destination) ProbeResult {
	start := p.now()
	result := ProbeResult{CheckedAt: start}

	body, _ := json.Marshal(probePayload(ch))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.Address, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Sprintf("failed to create request: %v", err)
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", p.userAgent)
	if dest.Token != "" {
		req.Header.Set("Authorization", "Bearer "+dest.Token)
	}

	resp, err := p.httpClient.Do(req)
	result.ResponseTime = p.now().Sub(start)
	if err != nil {
		result.Error = fmt.Sprintf("failed to execute request: %v", err)
		p.logger.Info("Webhook probe failed", "channel", ch, "destination", transport.SanitizeDestination(dest.Address), "error", err)
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	result.StatusCode = resp.StatusCode
	result.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !result.Healthy {
		result.Error = fmt.Sprintf("webhook returned status %d", resp.StatusCode)
	}
	return result
}
