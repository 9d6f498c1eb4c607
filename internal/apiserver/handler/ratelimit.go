package handler

import (
	"net/http"

	"github.com/amoylab/riderwatch/internal/common/errorx"

	"github.com/gin-gonic/gin"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// ListRateLimitEvents handles GET /api/v1/ratelimit/events. Callers only see
// their own tenant.
func (h *Handler) ListRateLimitEvents(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	if t := c.Query("tenant"); t != "" && t != caller.Tenant {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil || limit < 0 {
		h.errs.HandleError(c, errorx.Newf(errorx.KindValidation, "handler.ratelimit_events", caller.Tenant, "invalid limit %q", c.Query("limit")))
		return
	}
	if limit == 0 {
		limit = defaultEventLimit
	}
	limit = min(limit, maxEventLimit)

	events, err := h.events.Recent(c.Request.Context(), caller.Tenant, limit)
	if err != nil {
		h.errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// GetBudget handles GET /api/v1/ratelimit/budget
func (h *Handler) GetBudget(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	snap := h.budgets.Snapshot(caller.Tenant)
	available := make(map[string]int, len(snap.Available))
	for p, n := range snap.Available {
		available[p.String()] = n
	}
	consumed := make(map[string]int64, len(snap.PriorityConsumed))
	for p, n := range snap.PriorityConsumed {
		consumed[p.String()] = n
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant":           caller.Tenant,
		"globalAvailable":  snap.GlobalAvailable,
		"globalConsumed":   snap.GlobalConsumed,
		"available":        available,
		"priorityConsumed": consumed,
	})
}
