package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"realtime-service/internal/notifications"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *notifications.Emitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/notification-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notification emitter not configured"})
			return
		}
		userID := userIDFromContext(c)
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user id required"})
			return
		}
		emitter.Push(c.Request.Context(), userID, "debug", map[string]any{
			"request_id": requestIDFromContext(c),
			"message":    "notification test",
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
