package handlers

import (
	"errors"
	"net/http"

	"smartfilterpro/internal/service"

	"github.com/gin-gonic/gin"
)

// @Summary      Send telemetry now
// @Description  Queues an immediate steady-state payload for the backend, built from the latest snapshot.
// @Tags         telemetry
// @Produce      json
// @Success      202  {object}  map[string]string  "status"
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/telemetry/send-now [post]
// @Security     BearerAuth
func (h *Handler) sendNow(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.services.SendNow(ctx); err != nil {
		if errors.Is(err, service.ErrNoLiveState) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to queue telemetry", "telemetry_send_now_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": statusQueued})
}
