package handlers

import (
	"errors"
	"net/http"

	"parking_barrier/internal/service"

	"github.com/gin-gonic/gin"
)

// @Summary      Open barrier
// @Description  Accepted only while the lot is not full, the feed is connected and no pulse is running.
// @Tags         barrier
// @Produce      json
// @Success      202  {object}  map[string]interface{}  "status, request_id, state"
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Failure      422  {object}  map[string]string
// @Router       /api/v1/barrier/open [post]
// @Security     BearerAuth
func (h *Handler) openBarrier(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errNotAuthenticated})
		return
	}

	status := h.services.Feed.Latest().Status
	reqID, err := h.services.Barrier.Trigger(c.Request.Context(), status, &user)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{
			"status":     statusAccepted,
			"request_id": reqID,
			"state":      h.services.Barrier.State(),
		})
	case errors.Is(err, service.ErrAlreadyInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrLotFull), errors.Is(err, service.ErrNotConnected):
		h.log.Infow("barrier_open_rejected", "user_id", user.ID, "status", status, "err", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "status": status})
	default:
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to open barrier", "barrier_open_failed", err, "user_id", user.ID)
	}
}

// @Summary      Barrier state
// @Tags         barrier
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/barrier/state [get]
// @Security     BearerAuth
func (h *Handler) getBarrierState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.services.Barrier.State()})
}
