package handler

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/amoylab/riderwatch/internal/aggregation"
	"github.com/amoylab/riderwatch/internal/common/errorx"
	"github.com/amoylab/riderwatch/internal/rider"

	"github.com/gin-gonic/gin"
)

// SearchRiders handles GET /api/v1/riders
func (h *Handler) SearchRiders(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var f rider.Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		h.errs.HandleError(c, errorx.New(errorx.KindValidation, "handler.search", caller.Tenant, err))
		return
	}
	page, err := intQuery(c, "page")
	if err != nil {
		h.errs.HandleError(c, errorx.New(errorx.KindValidation, "handler.search", caller.Tenant, err))
		return
	}
	size, err := intQuery(c, "pageSize")
	if err != nil {
		h.errs.HandleError(c, errorx.New(errorx.KindValidation, "handler.search", caller.Tenant, err))
		return
	}

	result, err := h.search.Search(c.Request.Context(), aggregation.Query{
		Caller:   caller,
		Filter:   f,
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		h.errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// intQuery parses an optional integer query parameter; absent means zero
func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// GetBlockStatus handles GET /api/v1/riders/:id/block-status
func (h *Handler) GetBlockStatus(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	st, err := h.blocker.Status(c.Request.Context(), caller.Tenant, c.Param("id"))
	if err != nil {
		h.errs.HandleError(c, err)
		return
	}
	if len(caller.AllowedCities) > 0 && !slices.Contains(caller.AllowedCities, st.CityID) {
		h.errs.HandleError(c, errorx.Newf(errorx.KindNotFound, "handler.block_status", caller.Tenant, "rider %s not visible", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, st)
}

// ManualBlockRequest is the body of POST /api/v1/riders/:id/manual-block
type ManualBlockRequest struct {
	Blocked *bool  `json:"blocked" binding:"required"`
	Reason  string `json:"reason"`
}

// SetManualBlock handles POST /api/v1/riders/:id/manual-block
func (h *Handler) SetManualBlock(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req ManualBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.HandleError(c, errorx.New(errorx.KindValidation, "handler.manual_block", caller.Tenant, err))
		return
	}
	st, err := h.blocker.SetManualBlock(c.Request.Context(), caller.Tenant, c.Param("id"), *req.Blocked, req.Reason)
	if err != nil {
		h.errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
