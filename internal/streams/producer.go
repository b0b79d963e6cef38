package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jimdaga/giftwise/internal/delivery"
	"github.com/redis/go-redis/v9"
)

// Publisher appends delivery outcomes to the analytics stream.
type Publisher struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	now    func() time.Time
}

// NewPublisher creates a Publisher on an existing Redis client.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{
		rdb:    rdb,
		stream: StreamDeliveryOutcomes,
		maxLen: streamMaxLen,
		now:    time.Now,
	}
}

// PublishOutcome implements delivery.OutcomePublisher.
func (p *Publisher) PublishOutcome(ctx context.Context, outcome delivery.Outcome) error {
	_, err := p.Publish(ctx, outcome)
	return err
}

// Publish appends outcome and returns the stream entry ID.
func (p *Publisher) Publish(ctx context.Context, outcome delivery.Outcome) (string, error) {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return "", fmt.Errorf("failed to marshal outcome: %w", err)
	}

	result := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			fieldEventID:       uuid.NewString(),
			fieldPayload:       string(payload),
			fieldPublishedAt:   p.now().Unix(),
			fieldSchemaVersion: SchemaVersionV1,
		},
	})
	if result.Err() != nil {
		return "", fmt.Errorf("failed to publish to stream: %w", result.Err())
	}
	return result.Val(), nil
}
