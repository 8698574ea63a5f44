package handlers

import (
	"errors"
	"net/http"

	"parking_barrier/internal/models"
	"parking_barrier/internal/service"

	"github.com/gin-gonic/gin"
)

// @Summary      Barrier history
// @Description  Audit records of the caller, newest first.
// @Tags         history
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, records"
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/history [get]
// @Security     BearerAuth
func (h *Handler) getHistory(c *gin.Context) {
	userID := c.GetString(ctxUserID)
	records, err := h.services.AuditLog.History(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrNotAuthenticated) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": errNotAuthenticated})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, errLoadHistory, "history_list_failed", err, "user_id", userID)
		return
	}
	if records == nil {
		records = []models.AuditRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"records": records,
	})
}
