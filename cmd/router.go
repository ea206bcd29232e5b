package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"go-retainer-tracker/internal/application/service"
	"go-retainer-tracker/internal/infrastructure/config"
	"go-retainer-tracker/internal/infrastructure/hub"
	"go-retainer-tracker/internal/infrastructure/logger"
	"go-retainer-tracker/internal/interfaces/rest/v1/handler"
	"go-retainer-tracker/internal/interfaces/sse"
	"go-retainer-tracker/internal/interfaces/websocket"
)

func InitRouter(
	cfg *config.Config,
	svc *service.ClientService,
	hubInstance *hub.Hub,
	log logger.Logger,
) http.Handler {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.AllowedOrigins()))

	rootGroup := router.Group("")

	// Health check endpoint
	rootGroup.GET("/hub/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"hub_running": hubInstance.IsRunning(),
			"connections": hubInstance.ConnectionCount(),
		})
	})

	clientHandler := handler.NewClientHandler(svc, hubInstance, log)
	logHandler := handler.NewLogHandler(svc, hubInstance, log)

	apiGroup := rootGroup.Group("/api")
	{
		apiGroup.POST("/clients", clientHandler.Create)
		apiGroup.GET("/clients/admin", clientHandler.GetAdmin)
		apiGroup.PATCH("/clients/status", clientHandler.UpdateStatus)
		apiGroup.PATCH("/clients/details", clientHandler.UpdateDetails)
		apiGroup.POST("/clients/refill", clientHandler.Refill)
		apiGroup.DELETE("/clients/details", clientHandler.Delete)
		// Registered after the fixed /clients paths.
		apiGroup.GET("/clients/:slug", clientHandler.GetPublic)

		apiGroup.POST("/logs", logHandler.AddLog)
		apiGroup.DELETE("/logs/:logId", logHandler.DeleteLog)

		apiGroup.GET("/export", clientHandler.Export)
	}

	sse.InitSSERouter(log, hubInstance, rootGroup)
	websocket.InitWebSocketRouter(log, hubInstance, cfg.AllowedOrigins(), rootGroup)

	return router
}

// corsMiddleware reflects the request origin back when it is on the
// allow-list: the two local development origins plus the deployed
// frontend.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
