// Package transport delivers rendered reminders over mail and outbound webhooks.
//
// A notification is any value; each transport asserts the renderer interface
// it needs and builds its wire payload from the result. A renderer returning
// nil turns the send into a no-op.
package transport

import (
	"context"

	"github.com/jimdaga/giftwise/internal/models"
)

// Destination is where a reminder goes: an address or webhook URL, plus an
// optional bearer token for push endpoints.
type Destination struct {
	Address string `json:"address"`
	Token   string `json:"token,omitempty"`
}

// Transport sends one notification over one channel.
type Transport interface {
	Channel() models.Channel
	Send(ctx context.Context, dest Destination, notification any) error
}

// MailMessage is a plain-text mail.
type MailMessage struct {
	Subject string
	Body    string
}

// DiscordEmbed is one rich embed of a Discord webhook message.
type DiscordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// DiscordMessage is the body of a Discord webhook execution.
type DiscordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

// SlackAttachment is a legacy Slack message attachment.
type SlackAttachment struct {
	Color string `json:"color,omitempty"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text,omitempty"`
	Ts    int64  `json:"ts,omitempty"`
}

// SlackMessage is the body of a Slack incoming webhook.
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// MailRenderer renders a notification as mail.
type MailRenderer interface {
	RenderMail() *MailMessage
}

// DiscordRenderer renders a notification for a Discord webhook.
type DiscordRenderer interface {
	RenderDiscord() *DiscordMessage
}

// SlackRenderer renders a notification for a Slack webhook.
// It returns a *SlackMessage, a plain string, or nil.
type SlackRenderer interface {
	RenderSlack() any
}

// PushRenderer renders a notification as an arbitrary JSON-encodable push body.
type PushRenderer interface {
	RenderPush() any
}
