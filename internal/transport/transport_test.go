package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNote struct {
	discord *DiscordMessage
	slack   any
	push    any
	mail    *MailMessage
}

func (n fakeNote) RenderDiscord() *DiscordMessage { return n.discord }
func (n fakeNote) RenderSlack() any               { return n.slack }
func (n fakeNote) RenderPush() any                { return n.push }
func (n fakeNote) RenderMail() *MailMessage       { return n.mail }

type recordedRequest struct {
	Header http.Header
	Body   map[string]any
}

// webhookServer answers with the given statuses in order, then 204.
func webhookServer(t *testing.T, statuses ...int) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest
	var n int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		_ = json.Unmarshal(body, &decoded)
		mu.Lock()
		reqs = append(reqs, recordedRequest{Header: r.Header.Clone(), Body: decoded})
		mu.Unlock()

		i := int(atomic.AddInt32(&n, 1)) - 1
		if i < len(statuses) {
			if statuses[i] == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "2")
			}
			w.WriteHeader(statuses[i])
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func testPoster() (*Poster, *[]time.Duration) {
	p := NewPoster("", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var slept []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return p, &slept
}

func TestDiscordTransport_Send(t *testing.T) {
	srv, requests := webhookServer(t)
	poster, _ := testPoster()
	tr := NewDiscordTransport(poster)

	note := fakeNote{discord: &DiscordMessage{
		Content: "Reminder",
		Embeds:  []DiscordEmbed{{Title: "Alice's Birthday", Description: "in 4 days", Color: 0x5865F2, Timestamp: "2025-06-01T09:05:00Z"}},
	}}
	require.NoError(t, tr.Send(context.Background(), Destination{Address: srv.URL}, note))

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, DefaultUserAgent, reqs[0].Header.Get("User-Agent"))
	assert.Equal(t, "application/json", reqs[0].Header.Get("Content-Type"))
	assert.Equal(t, "Reminder", reqs[0].Body["content"])
	embeds := reqs[0].Body["embeds"].([]any)
	require.Len(t, embeds, 1)
	assert.Equal(t, "Alice's Birthday", embeds[0].(map[string]any)["title"])
}

func TestWebhookTransports_NilRenderIsNoop(t *testing.T) {
	srv, requests := webhookServer(t)
	poster, _ := testPoster()
	dest := Destination{Address: srv.URL}

	for _, tr := range []Transport{NewDiscordTransport(poster), NewSlackTransport(poster), NewPushTransport(poster)} {
		assert.NoError(t, tr.Send(context.Background(), dest, fakeNote{}), tr.Channel())
	}
	assert.Empty(t, requests())
}

func TestWebhookTransports_MissingRenderer(t *testing.T) {
	poster, _ := testPoster()
	err := NewDiscordTransport(poster).Send(context.Background(), Destination{Address: "https://discord.com/api/webhooks/1/x"}, "plain string")

	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.False(t, de.Retryable)
	assert.ErrorIs(t, err, ErrUnsupportedNotification)
	assert.Equal(t, "https://discord.com", de.Destination)
}

func TestSlackTransport_BareStringBecomesText(t *testing.T) {
	srv, requests := webhookServer(t)
	poster, _ := testPoster()

	err := NewSlackTransport(poster).Send(context.Background(), Destination{Address: srv.URL}, fakeNote{slack: "Gift time"})
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string]any{"text": "Gift time"}, reqs[0].Body)
}

func TestPushTransport_BearerToken(t *testing.T) {
	srv, requests := webhookServer(t)
	poster, _ := testPoster()
	tr := NewPushTransport(poster)

	require.NoError(t, tr.Send(context.Background(), Destination{Address: srv.URL, Token: "tok-1"}, fakeNote{push: map[string]any{"title": "hi"}}))
	require.NoError(t, tr.Send(context.Background(), Destination{Address: srv.URL}, fakeNote{push: map[string]any{"title": "hi"}}))

	reqs := requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Bearer tok-1", reqs[0].Header.Get("Authorization"))
	assert.Empty(t, reqs[1].Header.Get("Authorization"))
	assert.Equal(t, "hi", reqs[0].Body["title"])
}

func TestPoster_RetryPolicy(t *testing.T) {
	tests := []struct {
		name          string
		statuses      []int
		wantErr       bool
		wantRetryable bool
		wantAttempts  int
		wantSleeps    []time.Duration
	}{
		{name: "success", statuses: nil, wantAttempts: 1},
		{name: "429 honors retry-after", statuses: []int{429}, wantAttempts: 2, wantSleeps: []time.Duration{2 * time.Second}},
		{name: "5xx then success", statuses: []int{500, 503}, wantAttempts: 3, wantSleeps: []time.Duration{time.Second, time.Second}},
		{name: "5xx exhausts retries", statuses: []int{500, 500, 502, 504}, wantErr: true, wantRetryable: true, wantAttempts: 4,
			wantSleeps: []time.Duration{time.Second, time.Second, time.Second}},
		{name: "4xx fails immediately", statuses: []int{404}, wantErr: true, wantAttempts: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, requests := webhookServer(t, tt.statuses...)
			poster, slept := testPoster()

			err := poster.Post(context.Background(), models.ChannelSlack, Destination{Address: srv.URL}, map[string]string{"text": "x"})
			assert.Len(t, requests(), tt.wantAttempts)
			assert.Equal(t, tt.wantSleeps, *slept)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var de *DeliveryError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.wantRetryable, de.Retryable)
			assert.Equal(t, tt.wantAttempts, de.Attempts)
			assert.Equal(t, tt.statuses[len(tt.statuses)-1], de.StatusCode)
		})
	}
}

func TestPoster_RetryAfterDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	poster, slept := testPoster()

	err := poster.Post(context.Background(), models.ChannelDiscord, Destination{Address: srv.URL}, map[string]string{})
	require.Error(t, err)
	require.Len(t, *slept, 3)
	assert.Equal(t, 60*time.Second, (*slept)[0])

	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 60*time.Second, de.RetryAfter)
}

func TestPoster_RetryAfterBeyondDeadline(t *testing.T) {
	srv, requests := webhookServer(t, 429)
	poster, slept := testPoster()
	poster.defaultRetryAfter = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := poster.Post(ctx, models.ChannelDiscord, Destination{Address: srv.URL}, map[string]string{})
	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.True(t, de.Retryable)
	assert.Equal(t, 2*time.Second, de.RetryAfter)
	assert.Empty(t, *slept)
	assert.Len(t, requests(), 1)
}

func TestPoster_RejectsRelativeURL(t *testing.T) {
	poster, _ := testPoster()
	err := poster.Post(context.Background(), models.ChannelPush, Destination{Address: "/not/absolute"}, map[string]string{})
	assert.ErrorIs(t, err, ErrInvalidDestination)
	assert.False(t, IsRetryable(err))
}

type fakeMailer struct {
	to   []string
	msgs []*MailMessage
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to string, msg *MailMessage) error {
	m.to = append(m.to, to)
	m.msgs = append(m.msgs, msg)
	return m.err
}

func TestMailTransport_Send(t *testing.T) {
	mailer := &fakeMailer{}
	tr := NewMailTransport(mailer, slog.New(slog.NewTextHandler(io.Discard, nil)))

	note := fakeNote{mail: &MailMessage{Subject: "Upcoming: Alice's Birthday", Body: "in 4 days"}}
	require.NoError(t, tr.Send(context.Background(), Destination{Address: "bob@example.com"}, note))
	assert.Equal(t, []string{"bob@example.com"}, mailer.to)
	assert.Equal(t, "Upcoming: Alice's Birthday", mailer.msgs[0].Subject)

	err := tr.Send(context.Background(), Destination{Address: "not-an-address"}, note)
	assert.ErrorIs(t, err, ErrInvalidDestination)
	assert.False(t, IsRetryable(err))
	assert.Len(t, mailer.to, 1)
}

func TestMailTransport_ServerFailureIsRetryable(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("421 service not available")}
	tr := NewMailTransport(mailer, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := tr.Send(context.Background(), Destination{Address: "bob@example.com"}, fakeNote{mail: &MailMessage{Subject: "s"}})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "b***@example.com")
}

func TestRegistry(t *testing.T) {
	poster, _ := testPoster()
	reg := NewRegistry(NewDiscordTransport(poster), NewSlackTransport(poster))

	assert.Equal(t, []models.Channel{models.ChannelDiscord, models.ChannelSlack}, reg.Channels())
	assert.Error(t, reg.Register(NewSlackTransport(poster)))
	require.NoError(t, reg.Register(NewPushTransport(poster)))

	err := reg.Send(context.Background(), models.ChannelMail, Destination{Address: "a@b.co"}, fakeNote{})
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestSanitizeDestination(t *testing.T) {
	tests := map[string]string{
		"https://discord.com/api/webhooks/123/secret-token": "https://discord.com",
		"https://hooks.slack.com/services/T0/B0/xyz":        "https://hooks.slack.com",
		"alice@example.com":                                 "a***@example.com",
		"":                                                  "",
		"::nope":                                            "[invalid]",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeDestination(in), in)
	}
}
