package streams

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jimdaga/giftwise/internal/delivery"
	"github.com/jimdaga/giftwise/internal/models"
	"github.com/jimdaga/giftwise/internal/store/storetest"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func newConsumer(t *testing.T, rdb *redis.Client) *OutcomeConsumer {
	t.Helper()
	c, err := NewOutcomeConsumer(context.Background(), rdb, "test-1", testLogger())
	require.NoError(t, err)
	c.block = -1
	return c
}

func outcome(status string) delivery.Outcome {
	return delivery.Outcome{
		UserID:         7,
		OccasionID:     3,
		Channel:        models.ChannelDiscord,
		Destination:    "https://discord.com",
		OccurrenceDate: "2025-06-05",
		Status:         status,
		DurationMs:     120,
		OccurredAt:     time.Date(2025, 6, 1, 9, 5, 0, 0, time.UTC),
	}
}

func TestPublisher_Publish(t *testing.T) {
	ctx := context.Background()
	rdb := setup(t)
	p := NewPublisher(rdb)

	id, err := p.Publish(ctx, outcome(delivery.OutcomeSent))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries, err := rdb.XRange(ctx, StreamDeliveryOutcomes, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, SchemaVersionV1, entries[0].Values[fieldSchemaVersion])
	assert.NotEmpty(t, entries[0].Values[fieldEventID])

	var got delivery.Outcome
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values[fieldPayload].(string)), &got))
	assert.Equal(t, outcome(delivery.OutcomeSent), got)
}

func TestConsumer_RecordsDeliverySamples(t *testing.T) {
	ctx := context.Background()
	rdb := setup(t)
	st := storetest.New()
	c := newConsumer(t, rdb)
	p := NewPublisher(rdb)

	for _, status := range []string{
		delivery.OutcomeSent,
		delivery.OutcomeFailed,
		delivery.OutcomePermanentlyFailed,
		delivery.OutcomeSkippedDuplicate,
	} {
		require.NoError(t, p.PublishOutcome(ctx, outcome(status)))
	}

	n, err := c.poll(ctx, RecordDeliverySamples(st, testLogger()))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	samples := st.Samples()
	require.Len(t, samples, 3)
	statuses := []string{samples[0].Status, samples[1].Status, samples[2].Status}
	assert.Equal(t, []string{models.SampleStatusHealthy, models.SampleStatusWarning, models.SampleStatusCritical}, statuses)
	for _, s := range samples {
		assert.Equal(t, models.CheckTypeDelivery, s.CheckType)
		require.NotNil(t, s.UserID)
		assert.EqualValues(t, 7, *s.UserID)
		assert.EqualValues(t, 120, s.ResponseTimeMs)
	}

	n, err = c.poll(ctx, RecordDeliverySamples(st, testLogger()))
	require.NoError(t, err)
	assert.Zero(t, n, "acknowledged entries are not delivered again")
}

func TestConsumer_HandlerErrorLeavesEntryPending(t *testing.T) {
	ctx := context.Background()
	rdb := setup(t)
	c := newConsumer(t, rdb)
	require.NoError(t, NewPublisher(rdb).PublishOutcome(ctx, outcome(delivery.OutcomeSent)))

	n, err := c.poll(ctx, func(context.Context, delivery.Outcome) error {
		return errors.New("database down")
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := rdb.XPending(ctx, StreamDeliveryOutcomes, GroupHealthRecorders).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending.Count)
}

func TestConsumer_MalformedPayloadIsAcknowledged(t *testing.T) {
	ctx := context.Background()
	rdb := setup(t)
	c := newConsumer(t, rdb)
	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamDeliveryOutcomes,
		Values: map[string]interface{}{fieldPayload: "{not json"},
	}).Err())

	called := false
	n, err := c.poll(ctx, func(context.Context, delivery.Outcome) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, called)
}

func TestNewOutcomeConsumer_ExistingGroup(t *testing.T) {
	rdb := setup(t)
	newConsumer(t, rdb)
	_, err := NewOutcomeConsumer(context.Background(), rdb, "test-2", testLogger())
	assert.NoError(t, err)
}

func TestRecordDeliverySamples_UnknownStatus(t *testing.T) {
	h := RecordDeliverySamples(storetest.New(), testLogger())
	assert.Error(t, h(context.Background(), outcome("exploded")))
}
