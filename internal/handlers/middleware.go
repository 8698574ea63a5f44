package handlers

import (
	"net/http"
	"strings"

	"parking_barrier/internal/models"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID = "userId"
	ctxUser   = "user"
)

func (h *Handler) userIdMiddleware(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "missing Authorization header",
		})
		return
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "invalid Authorization header format",
		})
		return
	}

	user, err := h.services.Authorization.ParseToken(parts[1])
	if err != nil {
		h.log.Infow("auth_token_rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "invalid or expired token",
		})
		return
	}

	c.Set(ctxUserID, user.ID)
	c.Set(ctxUser, user)
	c.Next()
}

// currentUser returns the session user stored by userIdMiddleware.
func currentUser(c *gin.Context) (models.SessionUser, bool) {
	v, ok := c.Get(ctxUser)
	if !ok {
		return models.SessionUser{}, false
	}
	u, ok := v.(models.SessionUser)
	return u, ok && u.ID != ""
}
