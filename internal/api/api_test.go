package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/jimdaga/giftwise/internal/delivery"
	"github.com/jimdaga/giftwise/internal/health"
	"github.com/jimdaga/giftwise/internal/models"
	"github.com/jimdaga/giftwise/internal/ratelimit"
	"github.com/jimdaga/giftwise/internal/store"
	"github.com/jimdaga/giftwise/internal/store/storetest"
	"github.com/jimdaga/giftwise/internal/webhook"
	"github.com/jimdaga/giftwise/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	operatorToken = "op-secret"
	discordURL    = "https://discord.com/api/webhooks/123456/abc-DEF_token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeQueue struct {
	batches [][]delivery.Job
	runs    []worker.SchedulePayload
}

func (q *fakeQueue) EnqueueBatch(_ context.Context, jobs []delivery.Job) (string, error) {
	q.batches = append(q.batches, jobs)
	return "batch-1", nil
}

func (q *fakeQueue) EnqueueScheduleRun(_ context.Context, payload worker.SchedulePayload) (string, error) {
	q.runs = append(q.runs, payload)
	return "run-1", nil
}

type testEnv struct {
	router  *gin.Engine
	store   *storetest.Store
	limiter *ratelimit.Limiter
	queue   *fakeQueue
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st := storetest.New()
	limiter := ratelimit.NewLimiter(rdb, ratelimit.DefaultPolicies(), st, logger)
	validator, err := webhook.NewValidator([]string{"push.example.com"})
	require.NoError(t, err)
	queue := &fakeQueue{}

	router := NewRouter(Deps{
		Health:     health.NewMonitor(st, nil, 2, logger),
		RateLimits: limiter,
		Settings:   st,
		SettingsDefaults: store.SettingsDefaults{
			LeadTimeDays: 7,
			SendTime:     "09:00",
			Channels:     []models.Channel{models.ChannelMail},
		},
		Validator:     validator,
		Queue:         queue,
		OperatorToken: operatorToken,
		Logger:        logger,
	})
	return &testEnv{router: router, store: st, limiter: limiter, queue: queue}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+operatorToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	env := newEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "giftwise_http_requests_total")
}

func TestRequireOperator(t *testing.T) {
	env := newEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/outages", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/outages", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/outages", nil).Code)
}

func TestRequireOperator_EmptyTokenDisablesCheck(t *testing.T) {
	router := gin.New()
	router.GET("/x", RequireOperator(""), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestNotificationSettings_LazyCreateAndUpdate(t *testing.T) {
	env := newEnv(t)
	id := env.store.AddUser(models.User{Email: "bob@example.com"}, nil)
	path := "/api/users/" + itoa(id) + "/notification-settings"

	w := env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.EqualValues(t, 7, got["lead_time_days"])
	assert.Equal(t, "09:00", got["send_time"])
	assert.Equal(t, []any{"mail"}, got["enabled_channels"])

	w = env.do(t, http.MethodPut, path, map[string]any{"enabled_channels": []string{"mail", "discord"}})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decode(t, w)["fields"], "discord_webhook_url")

	w = env.do(t, http.MethodPut, path, map[string]any{
		"enabled_channels":    []string{"mail", "discord"},
		"discord_webhook_url": discordURL,
		"quiet_hours_start":   "22:00",
		"quiet_hours_end":     "07:00",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got = decode(t, w)
	assert.Equal(t, "https://discord.com", got["discord_webhook_url"], "secrets are masked")
	assert.EqualValues(t, 7, got["lead_time_days"], "omitted fields keep their value")

	stored, err := env.store.GetOrCreateSettings(context.Background(), id, store.SettingsDefaults{})
	require.NoError(t, err)
	assert.Equal(t, discordURL, stored.DiscordWebhookURL)
	assert.True(t, stored.HasChannel(models.ChannelDiscord))
	require.NotNil(t, stored.QuietHoursStart)
	assert.Equal(t, "22:00", *stored.QuietHoursStart)
}

func TestNotificationSettings_Rejects(t *testing.T) {
	env := newEnv(t)
	id := env.store.AddUser(models.User{Email: "bob@example.com"}, nil)
	path := "/api/users/" + itoa(id) + "/notification-settings"

	for name, body := range map[string]any{
		"unknown field":   map[string]any{"favourite_colour": "blue"},
		"lead time range": map[string]any{"lead_time_days": 400},
		"send time":       map[string]any{"send_time": "9am"},
		"slack url":       map[string]any{"slack_webhook_url": "https://example.com/hook"},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodPut, path, body).Code)
		})
	}

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, path, []int{1}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/users/999/notification-settings", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/users/abc/notification-settings", nil).Code)
}

func TestRateLimitStatsAndReset(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := env.limiter.TryAcquire(ctx, 5, models.ChannelPush)
		require.NoError(t, err)
		require.True(t, ok)
	}

	w := env.do(t, http.MethodGet, "/api/ratelimits/5/push", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.EqualValues(t, 3, got["current"])
	assert.EqualValues(t, 5, got["limit"])
	assert.EqualValues(t, 2, got["remaining"])

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/ratelimits/5/push", nil).Code)
	got = decode(t, env.do(t, http.MethodGet, "/api/ratelimits/5/push", nil))
	assert.EqualValues(t, 0, got["current"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/ratelimits/5/pigeon", nil).Code)
}

func TestValidateWebhook(t *testing.T) {
	env := newEnv(t)

	w := env.do(t, http.MethodPost, "/api/webhooks/validate", map[string]any{"channel": "discord", "url": discordURL})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["valid"])

	w = env.do(t, http.MethodPost, "/api/webhooks/validate", map[string]any{"channel": "push", "url": "https://evil.example.net/p"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, false, decode(t, w)["valid"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/webhooks/validate", map[string]any{"channel": "discord"}).Code)
}

func TestHealthEndpoints(t *testing.T) {
	env := newEnv(t)
	set := &models.NotificationSettings{LeadTimeDays: 7, SendTime: "09:00"}
	set.SetChannels([]models.Channel{models.ChannelMail})
	id := env.store.AddUser(models.User{Email: "bob@example.com"}, set)

	w := env.do(t, http.MethodGet, "/api/health/overview", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total_users"])

	w = env.do(t, http.MethodGet, "/api/health/users/"+itoa(id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["channels"], len(models.AllChannels()))

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/health/users/999", nil).Code)

	w = env.do(t, http.MethodGet, "/api/health/unhealthy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["count"])

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/health/check", nil).Code)

	w = env.do(t, http.MethodPost, "/api/outages/slack/resolve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["resolved"])
}

func TestEnqueueBatchAndRun(t *testing.T) {
	env := newEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/deliveries/batch", map[string]any{"jobs": []any{}}).Code)

	job := delivery.Job{UserID: 1, OccasionID: 2, Channel: models.ChannelMail, OccurrenceDate: "2025-06-05"}
	w := env.do(t, http.MethodPost, "/api/deliveries/batch", map[string]any{"jobs": []delivery.Job{job}})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "batch-1", decode(t, w)["task_id"])
	require.Len(t, env.queue.batches, 1)
	assert.Equal(t, job, env.queue.batches[0][0])

	w = env.do(t, http.MethodPost, "/api/reminders/run", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	w = env.do(t, http.MethodPost, "/api/reminders/run", map[string]any{"lead_days": 30})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, env.queue.runs, 2)
	assert.Nil(t, env.queue.runs[0].LeadDaysOverride)
	require.NotNil(t, env.queue.runs[1].LeadDaysOverride)
	assert.Equal(t, 30, *env.queue.runs[1].LeadDaysOverride)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/reminders/run", map[string]any{"lead_days": -1}).Code)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
