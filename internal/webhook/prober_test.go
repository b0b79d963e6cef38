package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jimdaga/giftwise/internal/models"
	"github.com/jimdaga/giftwise/internal/transport"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProber(t *testing.T) (*Prober, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewProber(rdb, "", slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func countingServer(t *testing.T, status int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestProbe_HealthyAndCached(t *testing.T) {
	ctx := context.Background()
	p, mr := newTestProber(t)
	srv, hits := countingServer(t, http.StatusNoContent)
	dest := transport.Destination{Address: srv.URL}

	first, err := p.Probe(ctx, models.ChannelDiscord, dest)
	require.NoError(t, err)
	assert.True(t, first.Healthy)
	assert.False(t, first.Cached)
	assert.Equal(t, http.StatusNoContent, first.StatusCode)

	second, err := p.Probe(ctx, models.ChannelDiscord, dest)
	require.NoError(t, err)
	assert.True(t, second.Healthy)
	assert.True(t, second.Cached)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	// a different channel is a different cache entry
	_, err = p.Probe(ctx, models.ChannelSlack, dest)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))

	mr.FastForward(ProbeCacheTTL + time.Second)
	third, err := p.Probe(ctx, models.ChannelDiscord, dest)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
}

func TestProbe_Unhealthy(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProber(t)
	srv, _ := countingServer(t, http.StatusNotFound)

	result, err := p.Probe(ctx, models.ChannelSlack, transport.Destination{Address: srv.URL})
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	assert.Equal(t, http.StatusNotFound, result.StatusCode)
	assert.NotEmpty(t, result.Error)

	srv.Close()
	down, err := p.Probe(ctx, models.ChannelPush, transport.Destination{Address: srv.URL})
	require.NoError(t, err)
	assert.False(t, down.Healthy)
	assert.Zero(t, down.StatusCode)
}

func TestProbe_MailIsNotProbed(t *testing.T) {
	p, _ := newTestProber(t)
	_, err := p.Probe(context.Background(), models.ChannelMail, transport.Destination{Address: "a@example.com"})
	assert.Error(t, err)
}

func TestProbeCacheKey_HashesURL(t *testing.T) {
	key := probeCacheKey(models.ChannelDiscord, "https://discord.com/api/webhooks/1/secret")
	assert.NotContains(t, key, "secret")
	assert.Contains(t, key, "webhook:probe:discord:")
}
