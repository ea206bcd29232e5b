package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"go-retainer-tracker/internal/infrastructure/hub"
	"go-retainer-tracker/internal/infrastructure/logger"
)

// WebSocketHandler upgrades viewer connections and dispatches their
// inbound events to the hub.
//
// Room joins are unauthenticated, matching the public dashboard model:
// any connection may join any slug's room. Slugs carry a random suffix
// and are only handed out by the create/view APIs.
type WebSocketHandler struct {
	hub      *hub.Hub
	logger   logger.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a WebSocket handler. Cross-origin
// upgrades are only accepted from the allowed origins.
func NewWebSocketHandler(hubInstance *hub.Hub, logger logger.Logger, allowedOrigins []string) *WebSocketHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return &WebSocketHandler{
		hub:    hubInstance,
		logger: logger.WithField("handler", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Same-origin and non-browser clients send no Origin.
				return origin == "" || allowed[origin]
			},
		},
	}
}

// Connect handles WebSocket connection upgrade requests.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	h.logger.Info("New WebSocket connection request")

	if !h.hub.IsRunning() {
		h.logger.Error("Hub is not running")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("Failed to upgrade connection: %v", err)
		return
	}

	connID := "ws-" + xid.New().String()

	wsConn := hub.NewWebSocketConnection(connID, conn, h.logger, func(event string, data json.RawMessage) {
		h.handleEvent(connID, event, data)
	})

	if err := h.hub.RegisterConnection(wsConn); err != nil {
		h.logger.Errorf("Failed to register WebSocket connection: %v", err)
		wsConn.Close()
		return
	}

	h.logger.Infof("WebSocket connection %s connected and registered", connID)

	<-wsConn.Context().Done()
	h.logger.Infof("WebSocket connection %s disconnected", connID)
}

// handleEvent traces every inbound event and dispatches the ones the
// hub understands. Unknown event names are accepted and only logged.
func (h *WebSocketHandler) handleEvent(connID, event string, data json.RawMessage) {
	h.logger.Debugf("Received [%s] from %s: %s", event, connID, data)

	switch event {
	case hub.JoinRoomEvent:
		var roomID string
		if err := json.Unmarshal(data, &roomID); err != nil {
			h.logger.Warnf("Connection %s sent %s with non-string payload", connID, event)
			return
		}
		h.hub.JoinRoom(connID, roomID)

	case hub.LeaveRoomEvent:
		var roomID string
		if err := json.Unmarshal(data, &roomID); err != nil {
			h.logger.Warnf("Connection %s sent %s with non-string payload", connID, event)
			return
		}
		h.hub.LeaveRoom(connID, roomID)

	default:
		h.logger.Debugf("Ignoring unhandled event [%s] from %s", event, connID)
	}
}

// GetConnections returns information about active connections.
func (h *WebSocketHandler) GetConnections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"total_connections": h.hub.ConnectionCount(),
		"hub_running":       h.hub.IsRunning(),
	})
}
