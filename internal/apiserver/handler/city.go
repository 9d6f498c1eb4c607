package handler

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/amoylab/riderwatch/internal/common/errorx"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CityConfigRequest is the body of PUT /api/v1/cities/:id/block-config
type CityConfigRequest struct {
	Enabled   bool            `json:"enabled"`
	CashLimit decimal.Decimal `json:"cashLimit"`
}

// SetCityConfig handles PUT /api/v1/cities/:id/block-config
func (h *Handler) SetCityConfig(c *gin.Context) {
	const op = "handler.city_config"
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	cityID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.errs.HandleError(c, errorx.Newf(errorx.KindValidation, op, caller.Tenant, "invalid city id %q", c.Param("id")))
		return
	}
	if len(caller.AllowedCities) > 0 && !slices.Contains(caller.AllowedCities, cityID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	var req CityConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.HandleError(c, errorx.New(errorx.KindValidation, op, caller.Tenant, err))
		return
	}
	cfg, err := h.blocker.SetCityConfig(c.Request.Context(), caller.Tenant, cityID, req.Enabled, req.CashLimit)
	if err != nil {
		h.errs.HandleError(c, err)
		return
	}
	h.logger.Info("city block config updated",
		zap.String("tenant", caller.Tenant),
		zap.Int64("city_id", cityID),
		zap.Bool("enabled", cfg.Enabled),
		zap.String("cash_limit", cfg.CashLimit.String()))
	c.JSON(http.StatusOK, cfg)
}
