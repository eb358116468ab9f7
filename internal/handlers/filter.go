package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// @Summary      Get filter status
// @Description  Latest filter wear numbers computed by the backend. Pass refresh=true to fetch before answering.
// @Tags         filter
// @Produce      json
// @Param        refresh  query  bool  false  "Fetch from the backend before answering"
// @Success      200  {object}  models.FilterStatus
// @Failure      401  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/v1/filter/status [get]
// @Security     BearerAuth
func (h *Handler) getFilterStatus(c *gin.Context) {
	ctx := c.Request.Context()

	if c.Query("refresh") == "true" {
		if err := h.services.RefreshNow(ctx); err != nil {
			// Fall back to the cache below; only fail when there is none.
			if h.log != nil {
				h.log.Errorw("filter_refresh_failed", "err", err)
			}
		}
	}

	st, ok := h.services.Current()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errNoFilterStatus})
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Reset filter
// @Description  Asks the backend to zero the filter usage counters, then refreshes the cached status.
// @Tags         filter
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, filter_status"
// @Failure      401  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /api/v1/filter/reset [post]
// @Security     BearerAuth
func (h *Handler) resetFilter(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.services.Reset(ctx); err != nil {
		h.logAndJSONError(c, http.StatusBadGateway, errFilterReset, "filter_reset_failed", err)
		return
	}

	resp := gin.H{"status": statusReset}
	if st, ok := h.services.Current(); ok {
		resp["filter_status"] = st
	}
	c.JSON(http.StatusOK, resp)
}
