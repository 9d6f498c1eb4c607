package handler

import (
	"context"
	"net/http"

	"github.com/amoylab/riderwatch/internal/aggregation"
	"github.com/amoylab/riderwatch/internal/apiserver/middleware"
	"github.com/amoylab/riderwatch/internal/block"
	"github.com/amoylab/riderwatch/internal/common/errorx"
	"github.com/amoylab/riderwatch/internal/ratelimit"
	"github.com/amoylab/riderwatch/internal/rider"
	"github.com/amoylab/riderwatch/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Searcher runs rider searches
type Searcher interface {
	Search(ctx context.Context, q aggregation.Query) (rider.Page, error)
}

// Blocker manages block state and city limits
type Blocker interface {
	Status(ctx context.Context, tenant, employeeID string) (*block.Status, error)
	SetManualBlock(ctx context.Context, tenant, employeeID string, blocked bool, reason string) (*block.Status, error)
	SetCityConfig(ctx context.Context, tenant string, cityID int64, enabled bool, cashLimit decimal.Decimal) (*block.CityConfig, error)
}

// Budgets exposes the rate budget of a tenant
type Budgets interface {
	Snapshot(tenant string) ratelimit.Snapshot
}

// Handler serves the riderwatch HTTP API
type Handler struct {
	logger  *zap.Logger
	search  Searcher
	blocker Blocker
	events  telemetry.Reader
	budgets Budgets
	errs    *errorx.ErrorHandler
}

// NewHandler creates the API handler
func NewHandler(logger *zap.Logger, search Searcher, blocker Blocker, events telemetry.Reader, budgets Budgets) *Handler {
	return &Handler{
		logger:  logger.Named("apiserver.handler"),
		search:  search,
		blocker: blocker,
		events:  events,
		budgets: budgets,
		errs:    errorx.NewErrorHandler(logger),
	}
}

// Register mounts the API on r. auth authenticates every /api/v1 route.
func (h *Handler) Register(r gin.IRouter, auth gin.HandlerFunc) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1", auth)
	api.GET("/riders", h.SearchRiders)
	api.GET("/riders/:id/block-status", h.GetBlockStatus)
	api.GET("/ratelimit/events", h.ListRateLimitEvents)
	api.GET("/ratelimit/budget", h.GetBudget)

	ops := api.Group("", middleware.RequireOperator())
	ops.POST("/riders/:id/manual-block", h.SetManualBlock)
	ops.PUT("/cities/:id/block-config", h.SetCityConfig)
}

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// caller returns the authenticated caller or aborts the request
func (h *Handler) caller(c *gin.Context) (rider.Caller, bool) {
	caller, ok := middleware.Caller(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return caller, ok
}
