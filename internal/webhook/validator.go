package webhook

import (
	_ "embed"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jimdaga/giftwise/internal/models"
	"github.com/kaptinlin/jsonschema"
)

//go:embed settings.schema.json
var settingsSchema []byte

var (
	discordURLPattern = regexp.MustCompile(`^https://(?:(?:canary|ptb)\.)?discord(?:app)?\.com/api/webhooks/\d+/[A-Za-z0-9_-]+$`)
	slackURLPattern   = regexp.MustCompile(`^https://hooks\.slack\.com/services/T[A-Z0-9]+/B[A-Z0-9]+/[A-Za-z0-9]+$`)
)

// Validator checks channel destinations and settings documents.
type Validator struct {
	trustedDomains []string
	validate       *validator.Validate
	schema         *jsonschema.Schema
}

// NewValidator creates a validator. When trustedDomains is non-empty, push
// endpoints must be served from one of them or a subdomain.
func NewValidator(trustedDomains []string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(settingsSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile settings schema: %w", err)
	}

	domains := make([]string, 0, len(trustedDomains))
	for _, d := range trustedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}

	return &Validator{
		trustedDomains: domains,
		validate:       validator.New(),
		schema:         schema,
	}, nil
}

// FieldFor returns the settings field holding the destination of ch.
func FieldFor(ch models.Channel) string {
	switch ch {
	case models.ChannelMail:
		return "mail_address"
	case models.ChannelDiscord:
		return "discord_webhook_url"
	case models.ChannelSlack:
		return "slack_webhook_url"
	case models.ChannelPush:
		return "push_endpoint"
	}
	return string(ch)
}

// ValidateURL checks the syntax of a destination for ch.
// It returns a *ValidationError.
func (v *Validator) ValidateURL(ch models.Channel, raw string) error {
	verr := &ValidationError{}
	field := FieldFor(ch)
	raw = strings.TrimSpace(raw)

	switch ch {
	case models.ChannelMail:
		if err := v.validate.Var(raw, "required,email"); err != nil {
			verr.add(field, "must be a valid mail address")
		}
	case models.ChannelDiscord:
		if !discordURLPattern.MatchString(raw) {
			verr.add(field, "must be a Discord webhook URL (https://discord.com/api/webhooks/<id>/<token>)")
		}
	case models.ChannelSlack:
		if !slackURLPattern.MatchString(raw) {
			verr.add(field, "must be a Slack incoming webhook URL (https://hooks.slack.com/services/...)")
		}
	case models.ChannelPush:
		u, err := url.Parse(raw)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			verr.add(field, "must be an https URL")
			break
		}
		if !v.trusted(u.Hostname()) {
			verr.add(field, fmt.Sprintf("host %q is not a trusted push domain", u.Hostname()))
		}
	default:
		verr.add("channel", fmt.Sprintf("unknown channel %q", ch))
	}
	return verr.errOrNil()
}

func (v *Validator) trusted(host string) bool {
	if len(v.trustedDomains) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, d := range v.trustedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// ValidateSettings checks a settings document against the settings schema,
// then applies the per-channel destination rules. Enabling a webhook channel
// requires its destination.
func (v *Validator) ValidateSettings(doc map[string]any) error {
	verr := &ValidationError{}

	result := v.schema.Validate(doc)
	if !result.IsValid() {
		for field, evalErr := range result.Errors {
			verr.add(field, evalErr.Error())
		}
		return verr
	}

	enabled := map[models.Channel]bool{}
	if list, ok := doc["enabled_channels"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				enabled[models.Channel(s)] = true
			}
		}
	}

	for _, ch := range models.AllChannels() {
		field := FieldFor(ch)
		value, _ := doc[field].(string)
		if value == "" {
			if enabled[ch] && ch.IsWebhook() {
				verr.add(field, fmt.Sprintf("required when %s is enabled", ch))
			}
			continue
		}
		if err := v.ValidateURL(ch, value); err != nil {
			if fieldErr, ok := err.(*ValidationError); ok {
				verr.merge(fieldErr)
			}
		}
	}
	return verr.errOrNil()
}
