package sse

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/rs/xid"

	"go-retainer-tracker/internal/infrastructure/hub"
	"go-retainer-tracker/internal/infrastructure/logger"
)

// ServerSentEventHandler serves the streaming fallback for viewers
// that cannot hold a WebSocket. SSE has no inbound channel, so the
// room is joined at connect time via the `room` query parameter.
type ServerSentEventHandler struct {
	hub    *hub.Hub
	logger logger.Logger
}

func NewServerSentEventHandler(hubInstance *hub.Hub, logger logger.Logger) *ServerSentEventHandler {
	return &ServerSentEventHandler{
		hub:    hubInstance,
		logger: logger.WithField("handler", "sse"),
	}
}

// Connect handles SSE connection requests.
func (h *ServerSentEventHandler) Connect(c *gin.Context) {
	h.logger.Info("New SSE connection request")

	if !h.hub.IsRunning() {
		h.logger.Error("Hub is not running")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
		return
	}

	connID := "sse-" + xid.New().String()
	conn := hub.NewSSEConnection(c.Request.Context(), connID, c.Writer, h.logger)

	if err := h.hub.RegisterConnection(conn); err != nil {
		h.logger.Errorf("Failed to register connection: %v", err)
		_ = conn.Close()
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to register connection",
		})
		return
	}

	if room := c.Query("room"); room != "" {
		h.hub.JoinRoom(connID, room)
	}

	h.logger.Infof("SSE connection %s connected and registered", connID)
	sse.Encode(c.Writer, sse.Event{
		Event: "connected",
		Data: map[string]any{
			"connection_id": connID,
			"timestamp":     time.Now().Format(time.RFC3339),
		},
	})
	c.Writer.Flush()

	// The connection context is derived from the request context, so
	// this covers both hub-side teardown and the client going away.
	<-conn.Context().Done()
	h.logger.Infof("SSE connection %s closed", connID)
	h.hub.UnregisterConnection(connID)
}

// GetConnections returns information about active connections.
func (h *ServerSentEventHandler) GetConnections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"total_connections": h.hub.ConnectionCount(),
		"hub_running":       h.hub.IsRunning(),
	})
}
