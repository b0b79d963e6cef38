package ratelimit

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
	"gopkg.in/yaml.v3"
)

// Policy is the send quota of one channel.
type Policy struct {
	Channel       models.Channel
	MaxAttempts   int
	Window        time.Duration
	BlockDuration time.Duration
	Active        bool
}

// DefaultPolicies returns the built-in quota table.
func DefaultPolicies() []Policy {
	return []Policy{
		{Channel: models.ChannelMail, MaxAttempts: 50, Window: 60 * time.Minute, BlockDuration: 60 * time.Minute, Active: true},
		{Channel: models.ChannelDiscord, MaxAttempts: 10, Window: time.Minute, BlockDuration: 5 * time.Minute, Active: true},
		{Channel: models.ChannelSlack, MaxAttempts: 10, Window: time.Minute, BlockDuration: 5 * time.Minute, Active: true},
		{Channel: models.ChannelPush, MaxAttempts: 5, Window: time.Minute, BlockDuration: 5 * time.Minute, Active: true},
	}
}

// PolicyFromConfig converts a stored config row.
func PolicyFromConfig(cfg models.RateLimitConfig) Policy {
	return Policy{
		Channel:       cfg.Channel,
		MaxAttempts:   cfg.MaxAttempts,
		Window:        time.Duration(cfg.WindowMinutes) * time.Minute,
		BlockDuration: time.Duration(cfg.BlockDurationMinutes) * time.Minute,
		Active:        cfg.Active,
	}
}

// Config converts the policy into a storable row.
func (p Policy) Config() models.RateLimitConfig {
	return models.RateLimitConfig{
		Channel:              p.Channel,
		MaxAttempts:          p.MaxAttempts,
		WindowMinutes:        int(p.Window / time.Minute),
		BlockDurationMinutes: int(p.BlockDuration / time.Minute),
		Active:               p.Active,
	}
}

// policyFile is the YAML layout of RATE_LIMIT_POLICY_FILE.
type policyFile struct {
	Policies []struct {
		Channel              string `yaml:"channel"`
		MaxAttempts          int    `yaml:"max_attempts"`
		WindowMinutes        int    `yaml:"window_minutes"`
		BlockDurationMinutes int    `yaml:"block_duration_minutes"`
		Active               *bool  `yaml:"active"`
	} `yaml:"policies"`
}

// LoadPolicyFile reads a policy file with strict decoding: unknown keys are rejected.
// Active defaults to true when omitted.
func LoadPolicyFile(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit policies: %w", err)
	}

	var file policyFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse rate limit policies: %w", err)
	}

	policies := make([]Policy, 0, len(file.Policies))
	for i, p := range file.Policies {
		ch := models.Channel(p.Channel)
		if !ch.Valid() {
			return nil, fmt.Errorf("policy %d: unknown channel %q", i, p.Channel)
		}
		if p.MaxAttempts <= 0 || p.WindowMinutes <= 0 {
			return nil, fmt.Errorf("policy %d (%s): max_attempts and window_minutes must be positive", i, ch)
		}
		active := true
		if p.Active != nil {
			active = *p.Active
		}
		block := p.BlockDurationMinutes
		if block <= 0 {
			block = p.WindowMinutes
		}
		policies = append(policies, Policy{
			Channel:       ch,
			MaxAttempts:   p.MaxAttempts,
			Window:        time.Duration(p.WindowMinutes) * time.Minute,
			BlockDuration: time.Duration(block) * time.Minute,
			Active:        active,
		})
	}
	return policies, nil
}

// ConfigStore persists per-channel policies.
type ConfigStore interface {
	ListRateLimitConfigs(ctx context.Context) ([]models.RateLimitConfig, error)
	UpsertRateLimitConfig(ctx context.Context, cfg *models.RateLimitConfig) error
}

// SyncPolicies writes policies to the config table (create or update per channel).
// Individual failures are logged and skipped.
func SyncPolicies(ctx context.Context, store ConfigStore, policies []Policy, logger *slog.Logger) {
	for _, p := range policies {
		cfg := p.Config()
		if err := store.UpsertRateLimitConfig(ctx, &cfg); err != nil {
			logger.Warn("Failed to sync rate limit policy", "channel", p.Channel, "error", err)
			continue
		}
		logger.Info("Synced rate limit policy", "channel", p.Channel, "max_attempts", p.MaxAttempts, "window", p.Window)
	}
}

// LoadPolicies returns the defaults overridden by stored config rows.
func LoadPolicies(ctx context.Context, store ConfigStore) ([]Policy, error) {
	byChannel := make(map[models.Channel]Policy)
	for _, p := range DefaultPolicies() {
		byChannel[p.Channel] = p
	}

	configs, err := store.ListRateLimitConfigs(ctx)
	if err != nil {
		return nil, err
	}
	for _, cfg := range configs {
		if cfg.Channel.Valid() {
			byChannel[cfg.Channel] = PolicyFromConfig(cfg)
		}
	}

	policies := make([]Policy, 0, len(byChannel))
	for _, ch := range models.AllChannels() {
		if p, ok := byChannel[ch]; ok {
			policies = append(policies, p)
		}
	}
	return policies, nil
}
