package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jimdaga/giftwise/internal/crypto"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var secretBox *crypto.SecretBox

// InitEncryption initializes the secret box used for webhook URLs and push tokens.
// Without it, destinations are stored as plaintext.
func InitEncryption(encryptionKey string) error {
	box, err := crypto.NewSecretBox(encryptionKey)
	if err != nil {
		return err
	}
	secretBox = box
	return nil
}

// SealSecret encrypts v with the key set by InitEncryption. Without a key v is
// returned unchanged.
func SealSecret(v string) (string, error) {
	if secretBox == nil {
		return v, nil
	}
	return secretBox.Seal(v)
}

// OpenSecret reverses SealSecret. Plaintext input is returned as is.
func OpenSecret(v string) (string, error) {
	if secretBox == nil {
		return v, nil
	}
	return secretBox.Open(v)
}

// NotificationSettings holds a user's reminder preferences and channel destinations.
// Exactly one row exists per user; it is created lazily with defaults.
type NotificationSettings struct {
	gorm.Model
	UserID          uint           `gorm:"not null;uniqueIndex:idx_notification_settings_user,where:deleted_at IS NULL"`
	LeadTimeDays    int            `gorm:"not null;default:7"`
	SendTime        string         `gorm:"not null;default:'09:00'"` // HH:MM, user local time
	QuietHoursStart *string        // HH:MM, optional
	QuietHoursEnd   *string        // HH:MM, optional
	EnabledChannels datatypes.JSON `gorm:"type:jsonb"`

	MailAddress       string `gorm:"column:mail_address"`
	DiscordWebhookURL string `gorm:"column:discord_webhook_url;type:text"` // stored encrypted
	SlackWebhookURL   string `gorm:"column:slack_webhook_url;type:text"`   // stored encrypted
	PushEndpoint      string `gorm:"column:push_endpoint;type:text"`       // stored encrypted
	PushToken         string `gorm:"column:push_token;type:text"`          // stored encrypted
}

// Channels decodes the enabled channel list, dropping unknown entries.
func (s *NotificationSettings) Channels() []Channel {
	if len(s.EnabledChannels) == 0 {
		return nil
	}
	var raw []string
	if err := json.Unmarshal(s.EnabledChannels, &raw); err != nil {
		return nil
	}
	channels := make([]Channel, 0, len(raw))
	for _, r := range raw {
		ch := Channel(strings.ToLower(strings.TrimSpace(r)))
		if ch.Valid() {
			channels = append(channels, ch)
		}
	}
	return channels
}

// SetChannels replaces the enabled channel list.
func (s *NotificationSettings) SetChannels(channels []Channel) {
	raw := make([]string, 0, len(channels))
	for _, ch := range channels {
		raw = append(raw, string(ch))
	}
	data, _ := json.Marshal(raw)
	s.EnabledChannels = datatypes.JSON(data)
}

// HasChannel reports whether ch is enabled.
func (s *NotificationSettings) HasChannel(ch Channel) bool {
	for _, c := range s.Channels() {
		if c == ch {
			return true
		}
	}
	return false
}

// BeforeSave encrypts destination secrets before writing them.
func (s *NotificationSettings) BeforeSave(tx *gorm.DB) error {
	return s.transformSecrets(SealSecret)
}

// AfterSave restores plaintext on the in-memory struct so callers keep usable values.
func (s *NotificationSettings) AfterSave(tx *gorm.DB) error {
	return s.AfterFind(tx)
}

// AfterFind decrypts destination secrets after loading.
func (s *NotificationSettings) AfterFind(tx *gorm.DB) error {
	return s.transformSecrets(OpenSecret)
}

func (s *NotificationSettings) transformSecrets(fn func(string) (string, error)) error {
	if secretBox == nil {
		return nil
	}
	for name, field := range map[string]*string{
		"discord_webhook_url": &s.DiscordWebhookURL,
		"slack_webhook_url":   &s.SlackWebhookURL,
		"push_endpoint":       &s.PushEndpoint,
		"push_token":          &s.PushToken,
	} {
		if *field == "" {
			continue
		}
		out, err := fn(*field)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*field = out
	}
	return nil
}

// DestinationFor returns where ch delivers to. Mail falls back to the account
// address. An empty address means the channel is not configured.
func (s *NotificationSettings) DestinationFor(ch Channel, accountEmail string) (address, token string) {
	switch ch {
	case ChannelMail:
		if s.MailAddress != "" {
			return s.MailAddress, ""
		}
		return accountEmail, ""
	case ChannelDiscord:
		return s.DiscordWebhookURL, ""
	case ChannelSlack:
		return s.SlackWebhookURL, ""
	case ChannelPush:
		return s.PushEndpoint, s.PushToken
	}
	return "", ""
}
