package sse

import (
	"github.com/gin-gonic/gin"

	"go-retainer-tracker/internal/infrastructure/hub"
	"go-retainer-tracker/internal/infrastructure/logger"
)

func InitSSERouter(logger logger.Logger, hubInstance *hub.Hub, rg *gin.RouterGroup) {
	sseHandler := NewServerSentEventHandler(hubInstance, logger)

	sseGroup := rg.Group("/sse")
	sseGroup.GET("", sseHandler.Connect)

	apiGroup := rg.Group("/api/v1/sse")
	apiGroup.GET("/connections", sseHandler.GetConnections)
}
