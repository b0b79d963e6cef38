package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jimdaga/giftwise/internal/delivery"
	"github.com/redis/go-redis/v9"
)

// OutcomeHandler processes one outcome. Returning an error leaves the entry pending.
type OutcomeHandler func(ctx context.Context, outcome delivery.Outcome) error

// OutcomeConsumer reads delivery outcomes through a consumer group.
type OutcomeConsumer struct {
	rdb          *redis.Client
	stream       string
	groupName    string
	consumerName string
	block        time.Duration
	logger       *slog.Logger
}

// NewOutcomeConsumer creates the consumer group if needed and returns a consumer.
func NewOutcomeConsumer(ctx context.Context, rdb *redis.Client, consumerName string, logger *slog.Logger) (*OutcomeConsumer, error) {
	// "0" reads from the beginning when the group is new
	err := rdb.XGroupCreateMkStream(ctx, StreamDeliveryOutcomes, GroupHealthRecorders, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &OutcomeConsumer{
		rdb:          rdb,
		stream:       StreamDeliveryOutcomes,
		groupName:    GroupHealthRecorders,
		consumerName: consumerName,
		block:        5 * time.Second,
		logger:       logger.With("component", "streams", "consumer", consumerName),
	}, nil
}

// Consume runs a blocking loop until ctx is done.
func (c *OutcomeConsumer) Consume(ctx context.Context, handler OutcomeHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := c.poll(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("Failed to read from stream", "error", err)
			time.Sleep(time.Second)
		}
	}
}

// poll reads one batch and returns the number of acknowledged entries.
func (c *OutcomeConsumer) poll(ctx context.Context, handler OutcomeHandler) (int, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.groupName,
		Consumer: c.consumerName,
		Streams:  []string{c.stream, ">"},
		Count:    10,
		Block:    c.block,
	}).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		// an idle blocking read times out, which is not an error
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, nil
		}
		return 0, err
	}

	acked := 0
	for _, stream := range streams {
		for _, message := range stream.Messages {
			if c.handle(ctx, message, handler) {
				acked++
			}
		}
	}
	return acked, nil
}

func (c *OutcomeConsumer) handle(ctx context.Context, message redis.XMessage, handler OutcomeHandler) bool {
	payload, ok := message.Values[fieldPayload].(string)
	if !ok {
		c.logger.Error("Invalid message payload", "message_id", message.ID)
		return c.ack(ctx, message.ID)
	}

	var outcome delivery.Outcome
	if err := json.Unmarshal([]byte(payload), &outcome); err != nil {
		c.logger.Error("Failed to unmarshal outcome", "error", err, "message_id", message.ID)
		return c.ack(ctx, message.ID)
	}

	if err := handler(ctx, outcome); err != nil {
		// stays in the PEL for a later claim
		c.logger.Error("Handler failed", "error", err, "message_id", message.ID, "channel", outcome.Channel)
		return false
	}
	return c.ack(ctx, message.ID)
}

func (c *OutcomeConsumer) ack(ctx context.Context, id string) bool {
	if err := c.rdb.XAck(ctx, c.stream, c.groupName, id).Err(); err != nil {
		c.logger.Error("Failed to ACK message", "error", err, "message_id", id)
		return false
	}
	return true
}

// StartOutcomeConsumer runs a consumer in a background goroutine and returns a stop function.
func StartOutcomeConsumer(rdb *redis.Client, consumerName string, handler OutcomeHandler, logger *slog.Logger) (stop func(), err error) {
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := NewOutcomeConsumer(ctx, rdb, consumerName, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create outcome consumer: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Consume(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
			consumer.logger.Error("Outcome consumer stopped with error", "error", err)
		}
	}()

	consumer.logger.Info("Outcome consumer started")

	return func() {
		cancel()
		<-done
	}, nil
}
