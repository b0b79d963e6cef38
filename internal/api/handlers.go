package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jimdaga/giftwise/internal/delivery"
	"github.com/jimdaga/giftwise/internal/models"
	"github.com/jimdaga/giftwise/internal/store"
	"github.com/jimdaga/giftwise/internal/transport"
	"github.com/jimdaga/giftwise/internal/webhook"
	"github.com/jimdaga/giftwise/internal/worker"
)

func parseID(c *gin.Context, param string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s parameter", param)})
		return 0, false
	}
	return uint(id), true
}

func parseChannel(c *gin.Context, raw string) (models.Channel, bool) {
	ch := models.Channel(raw)
	if !ch.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown channel %q", raw)})
		return "", false
	}
	return ch, true
}

// fail writes err as JSON. Validation errors become 422 with their fields,
// missing records 404, anything else 500.
func (h *Handler) fail(c *gin.Context, err error) {
	var verr *webhook.ValidationError
	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		h.logger.Error("Request failed", "path", c.FullPath(), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Overview returns the system health overview.
func (h *Handler) Overview(c *gin.Context) {
	ov, err := h.deps.Health.SystemOverview(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

// CheckSystem runs a system check, recording samples and opening outages.
func (h *Handler) CheckSystem(c *gin.Context) {
	res, err := h.deps.Health.CheckSystem(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// UserHealth returns the channel health of one user.
func (h *Handler) UserHealth(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	uh, err := h.deps.Health.UserHealth(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, uh)
}

// Unhealthy lists users with at least one unhealthy channel.
func (h *Handler) Unhealthy(c *gin.Context) {
	users, err := h.deps.Health.UsersWithUnhealthyChannels(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// ActiveOutages lists unresolved outages.
func (h *Handler) ActiveOutages(c *gin.Context) {
	outages, err := h.deps.Health.ActiveOutages(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outages": outages})
}

// ResolveOutage closes the open outages of a channel.
func (h *Handler) ResolveOutage(c *gin.Context) {
	ch, ok := parseChannel(c, c.Param("channel"))
	if !ok {
		return
	}
	n, err := h.deps.Health.ResolveOutage(c.Request.Context(), ch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": ch, "resolved": n})
}

// RateLimitStats returns the live counter of a (user, channel) pair.
func (h *Handler) RateLimitStats(c *gin.Context) {
	id, ok := parseID(c, "user")
	if !ok {
		return
	}
	ch, ok := parseChannel(c, c.Param("channel"))
	if !ok {
		return
	}
	stats, err := h.deps.RateLimits.Stats(c.Request.Context(), id, ch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ResetRateLimit clears the counter and any block of a (user, channel) pair.
func (h *Handler) ResetRateLimit(c *gin.Context) {
	id, ok := parseID(c, "user")
	if !ok {
		return
	}
	ch, ok := parseChannel(c, c.Param("channel"))
	if !ok {
		return
	}
	if err := h.deps.RateLimits.Reset(c.Request.Context(), id, ch); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type validateWebhookRequest struct {
	Channel string `json:"channel" binding:"required"`
	URL     string `json:"url" binding:"required"`
	Token   string `json:"token"`
	Probe   bool   `json:"probe"`
}

// ValidateWebhook checks a destination and optionally probes it.
func (h *Handler) ValidateWebhook(c *gin.Context) {
	var req validateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid body: %s", err)})
		return
	}
	ch, ok := parseChannel(c, req.Channel)
	if !ok {
		return
	}

	if err := h.deps.Validator.ValidateURL(ch, req.URL); err != nil {
		var verr *webhook.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"valid": false, "fields": verr.Fields})
			return
		}
		h.fail(c, err)
		return
	}

	resp := gin.H{"valid": true, "destination": transport.SanitizeDestination(req.URL)}
	if req.Probe && h.deps.Prober != nil && ch.IsWebhook() {
		result, err := h.deps.Prober.Probe(c.Request.Context(), ch, transport.Destination{Address: req.URL, Token: req.Token})
		if err != nil {
			h.fail(c, err)
			return
		}
		resp["probe"] = result
	}
	c.JSON(http.StatusOK, resp)
}

type batchRequest struct {
	Jobs []delivery.Job `json:"jobs"`
}

// EnqueueBatch queues a batch delivery task.
func (h *Handler) EnqueueBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid body: %s", err)})
		return
	}
	if len(req.Jobs) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "jobs must not be empty"})
		return
	}

	taskID, err := h.deps.Queue.EnqueueBatch(c.Request.Context(), req.Jobs)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID, "jobs": len(req.Jobs)})
}

type runRequest struct {
	LeadDays *int `json:"lead_days"`
}

// RunScheduler queues an immediate scheduler pass.
func (h *Handler) RunScheduler(c *gin.Context) {
	var req runRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid body: %s", err)})
			return
		}
	}
	if req.LeadDays != nil && (*req.LeadDays < 0 || *req.LeadDays > 365) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "lead_days must be between 0 and 365"})
		return
	}

	taskID, err := h.deps.Queue.EnqueueScheduleRun(c.Request.Context(), worker.SchedulePayload{LeadDaysOverride: req.LeadDays})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}
