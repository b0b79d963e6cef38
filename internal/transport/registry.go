package transport

import (
	"context"
	"fmt"
	"sort"

	"github.com/jimdaga/giftwise/internal/models"
)

// Registry maps channels to their transports.
type Registry struct {
	transports map[models.Channel]Transport
}

// NewRegistry creates a registry holding the given transports.
// Later transports replace earlier ones for the same channel.
func NewRegistry(transports ...Transport) *Registry {
	r := &Registry{transports: make(map[models.Channel]Transport, len(transports))}
	for _, t := range transports {
		r.transports[t.Channel()] = t
	}
	return r
}

// Register adds a transport.
// Returns an error if the channel already has one.
func (r *Registry) Register(t Transport) error {
	if _, exists := r.transports[t.Channel()]; exists {
		return fmt.Errorf("transport already registered: %s", t.Channel())
	}
	r.transports[t.Channel()] = t
	return nil
}

// Get retrieves the transport of a channel.
func (r *Registry) Get(ch models.Channel) (Transport, bool) {
	t, ok := r.transports[ch]
	return t, ok
}

// Channels lists the registered channels, sorted for deterministic ordering.
func (r *Registry) Channels() []models.Channel {
	channels := make([]models.Channel, 0, len(r.transports))
	for ch := range r.transports {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}

// Send dispatches to the channel's transport.
func (r *Registry) Send(ctx context.Context, ch models.Channel, dest Destination, notification any) error {
	t, ok := r.Get(ch)
	if !ok {
		return validationError(ch, dest.Address, fmt.Errorf("%w: %s", ErrUnknownChannel, ch))
	}
	return t.Send(ctx, dest, notification)
}
