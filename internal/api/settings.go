package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jimdaga/giftwise/internal/models"
	"github.com/jimdaga/giftwise/internal/store"
	"github.com/jimdaga/giftwise/internal/transport"
)

// settingsDocument is the JSON shape of notification settings checked by the settings schema.
type settingsDocument struct {
	LeadTimeDays      int              `json:"lead_time_days"`
	SendTime          string           `json:"send_time"`
	QuietHoursStart   *string          `json:"quiet_hours_start"`
	QuietHoursEnd     *string          `json:"quiet_hours_end"`
	EnabledChannels   []models.Channel `json:"enabled_channels"`
	MailAddress       string           `json:"mail_address"`
	DiscordWebhookURL string           `json:"discord_webhook_url"`
	SlackWebhookURL   string           `json:"slack_webhook_url"`
	PushEndpoint      string           `json:"push_endpoint"`
	PushToken         string           `json:"push_token"`
}

func documentFrom(s *models.NotificationSettings) settingsDocument {
	return settingsDocument{
		LeadTimeDays:      s.LeadTimeDays,
		SendTime:          s.SendTime,
		QuietHoursStart:   s.QuietHoursStart,
		QuietHoursEnd:     s.QuietHoursEnd,
		EnabledChannels:   append([]models.Channel{}, s.Channels()...),
		MailAddress:       s.MailAddress,
		DiscordWebhookURL: s.DiscordWebhookURL,
		SlackWebhookURL:   s.SlackWebhookURL,
		PushEndpoint:      s.PushEndpoint,
		PushToken:         s.PushToken,
	}
}

func (d settingsDocument) applyTo(s *models.NotificationSettings) {
	s.LeadTimeDays = d.LeadTimeDays
	s.SendTime = d.SendTime
	s.QuietHoursStart = d.QuietHoursStart
	s.QuietHoursEnd = d.QuietHoursEnd
	s.SetChannels(d.EnabledChannels)
	s.MailAddress = d.MailAddress
	s.DiscordWebhookURL = d.DiscordWebhookURL
	s.SlackWebhookURL = d.SlackWebhookURL
	s.PushEndpoint = d.PushEndpoint
	s.PushToken = d.PushToken
}

// masked hides webhook secrets behind their scheme and host.
func (d settingsDocument) masked() settingsDocument {
	mask := func(v string) string {
		if v == "" {
			return ""
		}
		return transport.SanitizeDestination(v)
	}
	d.DiscordWebhookURL = mask(d.DiscordWebhookURL)
	d.SlackWebhookURL = mask(d.SlackWebhookURL)
	d.PushEndpoint = mask(d.PushEndpoint)
	if d.PushToken != "" {
		d.PushToken = "***"
	}
	return d
}

func (h *Handler) loadSettings(c *gin.Context) (*models.NotificationSettings, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return nil, false
	}
	exists, err := h.deps.Settings.UserExists(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if !exists {
		h.fail(c, store.ErrNotFound)
		return nil, false
	}

	settings, err := h.deps.Settings.GetOrCreateSettings(c.Request.Context(), id, h.deps.SettingsDefaults)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return settings, true
}

// GetSettings returns the user's settings, creating them with defaults on first access.
func (h *Handler) GetSettings(c *gin.Context) {
	settings, ok := h.loadSettings(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, documentFrom(settings).masked())
}

// UpdateSettings overlays the body on the stored settings, validates the
// result as a whole and saves it. Omitted fields keep their stored value.
func (h *Handler) UpdateSettings(c *gin.Context) {
	settings, ok := h.loadSettings(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	var patch map[string]any
	if err := json.Unmarshal(body, &patch); err != nil || patch == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON object"})
		return
	}

	doc, err := toMap(documentFrom(settings))
	if err != nil {
		h.fail(c, err)
		return
	}
	for k, v := range patch {
		doc[k] = v
	}
	if err := h.deps.Validator.ValidateSettings(doc); err != nil {
		h.fail(c, err)
		return
	}

	merged, err := fromMap(doc)
	if err != nil {
		h.fail(c, err)
		return
	}
	merged.applyTo(settings)
	if err := h.deps.Settings.SaveSettings(c.Request.Context(), settings); err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info("Notification settings updated", "user_id", settings.UserID, "channels", settings.Channels())
	c.JSON(http.StatusOK, documentFrom(settings).masked())
}

func toMap(doc settingsDocument) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return out, nil
}

func fromMap(doc map[string]any) (settingsDocument, error) {
	var out settingsDocument
	data, err := json.Marshal(doc)
	if err != nil {
		return out, fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode settings: %w", err)
	}
	return out, nil
}
