package models

// Channel identifies a delivery transport.
type Channel string

const (
	ChannelMail    Channel = "mail"
	ChannelDiscord Channel = "discord"
	ChannelSlack   Channel = "slack"
	ChannelPush    Channel = "push"
)

// AllChannels returns every supported channel in display order.
func AllChannels() []Channel {
	return []Channel{ChannelMail, ChannelDiscord, ChannelSlack, ChannelPush}
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelMail, ChannelDiscord, ChannelSlack, ChannelPush:
		return true
	}
	return false
}

// IsWebhook reports whether the channel is delivered through an outbound webhook.
func (c Channel) IsWebhook() bool {
	return c == ChannelDiscord || c == ChannelSlack || c == ChannelPush
}

func (c Channel) String() string { return string(c) }
