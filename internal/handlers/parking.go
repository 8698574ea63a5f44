package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK       = "ok"
	statusAccepted = "accepted"

	errInvalidBodyPref  = "invalid body: "
	errNotAuthenticated = "not authenticated"
	errLoadHistory      = "failed to load history"
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Parking status
// @Description  Latest aggregate status with its display hint, connectivity verdict and spot snapshot.
// @Tags         parking
// @Produce      json
// @Success      200  {object}  models.StatusView
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/parking/status [get]
// @Security     BearerAuth
func (h *Handler) getParkingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Feed.Latest())
}
