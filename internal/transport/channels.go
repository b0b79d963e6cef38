package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
)

// DiscordTransport posts embeds to a Discord webhook.
type DiscordTransport struct {
	poster *Poster
}

func NewDiscordTransport(poster *Poster) *DiscordTransport {
	return &DiscordTransport{poster: poster}
}

func (t *DiscordTransport) Channel() models.Channel { return models.ChannelDiscord }

func (t *DiscordTransport) Send(ctx context.Context, dest Destination, notification any) error {
	r, ok := notification.(DiscordRenderer)
	if !ok {
		return validationError(t.Channel(), dest.Address, fmt.Errorf("%w: %T", ErrUnsupportedNotification, notification))
	}
	msg := r.RenderDiscord()
	if msg == nil {
		return nil
	}
	return t.poster.Post(ctx, t.Channel(), dest, msg)
}

// SlackTransport posts to a Slack incoming webhook.
type SlackTransport struct {
	poster *Poster
}

func NewSlackTransport(poster *Poster) *SlackTransport {
	return &SlackTransport{poster: poster}
}

func (t *SlackTransport) Channel() models.Channel { return models.ChannelSlack }

func (t *SlackTransport) Send(ctx context.Context, dest Destination, notification any) error {
	r, ok := notification.(SlackRenderer)
	if !ok {
		return validationError(t.Channel(), dest.Address, fmt.Errorf("%w: %T", ErrUnsupportedNotification, notification))
	}

	var msg *SlackMessage
	switch v := r.RenderSlack().(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		msg = &SlackMessage{Text: v}
	case *SlackMessage:
		if v == nil {
			return nil
		}
		msg = v
	case SlackMessage:
		msg = &v
	default:
		return validationError(t.Channel(), dest.Address, fmt.Errorf("unsupported slack payload %T", v))
	}
	return t.poster.Post(ctx, t.Channel(), dest, msg)
}

// PushTransport posts an arbitrary JSON body to a push endpoint, with an
// optional bearer token.
type PushTransport struct {
	poster *Poster
}

func NewPushTransport(poster *Poster) *PushTransport {
	return &PushTransport{poster: poster}
}

func (t *PushTransport) Channel() models.Channel { return models.ChannelPush }

func (t *PushTransport) Send(ctx context.Context, dest Destination, notification any) error {
	r, ok := notification.(PushRenderer)
	if !ok {
		return validationError(t.Channel(), dest.Address, fmt.Errorf("%w: %T", ErrUnsupportedNotification, notification))
	}
	body := r.RenderPush()
	if body == nil {
		return nil
	}
	return t.poster.Post(ctx, t.Channel(), dest, body)
}

// DiscordTimestamp formats t the way Discord embeds expect.
func DiscordTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
