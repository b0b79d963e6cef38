// Package api serves the operator HTTP API: health and outages, rate limit
// inspection, settings management and manual delivery triggers.
package api

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/jimdaga/giftwise/internal/delivery"
	"github.com/jimdaga/giftwise/internal/health"
	"github.com/jimdaga/giftwise/internal/models"
	"github.com/jimdaga/giftwise/internal/ratelimit"
	"github.com/jimdaga/giftwise/internal/store"
	"github.com/jimdaga/giftwise/internal/transport"
	"github.com/jimdaga/giftwise/internal/webhook"
	"github.com/jimdaga/giftwise/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthService is the channel health monitor.
type HealthService interface {
	SystemOverview(ctx context.Context) (*health.SystemOverview, error)
	UserHealth(ctx context.Context, userID uint) (*health.UserHealth, error)
	UsersWithUnhealthyChannels(ctx context.Context) ([]health.UserHealth, error)
	CheckSystem(ctx context.Context) (*health.CheckResult, error)
	ActiveOutages(ctx context.Context) ([]models.Outage, error)
	ResolveOutage(ctx context.Context, ch models.Channel) (int64, error)
}

// RateLimits exposes counter inspection and reset.
type RateLimits interface {
	Stats(ctx context.Context, userID uint, ch models.Channel) (ratelimit.Stats, error)
	Reset(ctx context.Context, userID uint, ch models.Channel) error
}

// SettingsStore loads and saves notification settings.
type SettingsStore interface {
	UserExists(ctx context.Context, id uint) (bool, error)
	GetOrCreateSettings(ctx context.Context, userID uint, defaults store.SettingsDefaults) (*models.NotificationSettings, error)
	SaveSettings(ctx context.Context, settings *models.NotificationSettings) error
}

// Validator checks destinations and settings documents.
type Validator interface {
	ValidateURL(ch models.Channel, raw string) error
	ValidateSettings(doc map[string]any) error
}

// Prober checks webhook connectivity.
type Prober interface {
	Probe(ctx context.Context, ch models.Channel, dest transport.Destination) (webhook.ProbeResult, error)
}

// Queue enqueues background work.
type Queue interface {
	EnqueueBatch(ctx context.Context, jobs []delivery.Job) (string, error)
	EnqueueScheduleRun(ctx context.Context, payload worker.SchedulePayload) (string, error)
}

// Deps wires the router. Prober may be nil.
type Deps struct {
	Health           HealthService
	RateLimits       RateLimits
	Settings         SettingsStore
	SettingsDefaults store.SettingsDefaults
	Validator        Validator
	Prober           Prober
	Queue            Queue
	OperatorToken    string
	Logger           *slog.Logger
}

// Handler serves the operator API.
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

// NewRouter builds the gin engine with every route.
func NewRouter(deps Deps) *gin.Engine {
	h := &Handler{deps: deps, logger: deps.Logger.With("component", "api")}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(h.logger), MetricsMiddleware)

	router.GET("/health", gin.WrapF(health.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api", RequireOperator(deps.OperatorToken))
	{
		api.GET("/health/overview", h.Overview)
		api.POST("/health/check", h.CheckSystem)
		api.GET("/health/users/:id", h.UserHealth)
		api.GET("/health/unhealthy", h.Unhealthy)

		api.GET("/outages", h.ActiveOutages)
		api.POST("/outages/:channel/resolve", h.ResolveOutage)

		api.GET("/ratelimits/:user/:channel", h.RateLimitStats)
		api.DELETE("/ratelimits/:user/:channel", h.ResetRateLimit)

		api.POST("/webhooks/validate", h.ValidateWebhook)

		api.GET("/users/:id/notification-settings", h.GetSettings)
		api.PUT("/users/:id/notification-settings", h.UpdateSettings)

		api.POST("/deliveries/batch", h.EnqueueBatch)
		api.POST("/reminders/run", h.RunScheduler)
	}
	return router
}
