package websocket

import (
	"github.com/gin-gonic/gin"

	"go-retainer-tracker/internal/infrastructure/hub"
	"go-retainer-tracker/internal/infrastructure/logger"
)

// InitWebSocketRouter initializes WebSocket routes.
func InitWebSocketRouter(logger logger.Logger, hubInstance *hub.Hub, allowedOrigins []string, rg *gin.RouterGroup) {
	wsHandler := NewWebSocketHandler(hubInstance, logger, allowedOrigins)

	wsGroup := rg.Group("/ws")
	wsGroup.GET("", wsHandler.Connect)

	apiGroup := rg.Group("/api/v1/ws")
	apiGroup.GET("/connections", wsHandler.GetConnections)
}
