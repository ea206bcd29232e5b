package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gorilla/websocket"

	"go-retainer-tracker/internal/infrastructure/logger"
)

// SSEConnection implements Connection for Server-Sent Events viewers.
// SSE is one-way, so room membership is fixed at connect time by the
// handler; there is no inbound event stream to dispatch.
type SSEConnection struct {
	id      string
	writer  http.ResponseWriter
	flusher http.Flusher

	// writeMu serializes broadcast writes with keep-alive writes.
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	closed   bool
	closedMu sync.RWMutex

	logger logger.Logger
}

// NewSSEConnection creates a new SSE connection bound to the request's
// response writer. Headers are set immediately; the keep-alive loop
// starts in the background.
func NewSSEConnection(
	ctx context.Context,
	id string,
	w http.ResponseWriter,
	logger logger.Logger,
) *SSEConnection {
	rctx, cancel := context.WithCancel(ctx)

	conn := &SSEConnection{
		id:     id,
		writer: w,
		ctx:    rctx,
		cancel: cancel,
		logger: logger.WithField("connection_id", id),
	}
	conn.flusher, _ = w.(http.Flusher)

	conn.setupSSEHeaders()

	go conn.keepAlive()

	return conn
}

// ID returns the unique connection identifier.
func (c *SSEConnection) ID() string {
	return c.id
}

// Type returns the connection type.
func (c *SSEConnection) Type() string {
	return "sse"
}

// Send writes one retainer-update event to the viewer and flushes it.
func (c *SSEConnection) Send(ctx context.Context, event *Event) error {
	if c.IsClosed() {
		return fmt.Errorf("connection is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	err := sse.Encode(c.writer, sse.Event{
		Event: OutboundEvent,
		Data:  event,
	})
	if err != nil {
		c.logger.Errorf("Failed to write event: %v", err)
		c.Close()
		return err
	}
	if c.flusher != nil {
		c.flusher.Flush()
	}
	return nil
}

// Close marks the connection closed and cancels its context.
func (c *SSEConnection) Close() error {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.cancel()

	c.logger.Info("SSE connection closed")
	return nil
}

// IsClosed returns true if the connection is closed.
func (c *SSEConnection) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

// Context returns the connection's context (for cancellation).
func (c *SSEConnection) Context() context.Context {
	return c.ctx
}

func (c *SSEConnection) setupSSEHeaders() {
	c.writer.Header().Set("Content-Type", "text/event-stream")
	c.writer.Header().Set("Cache-Control", "no-cache")
	c.writer.Header().Set("Connection", "keep-alive")
	c.writer.Header().Set("X-Accel-Buffering", "no") // For nginx
}

// keepAlive writes an SSE comment every 30 seconds so proxies don't
// reap the idle stream.
func (c *SSEConnection) keepAlive() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.IsClosed() {
				return
			}

			c.writeMu.Lock()
			_, err := io.WriteString(c.writer, ": keepalive\n\n")
			if err == nil && c.flusher != nil {
				c.flusher.Flush()
			}
			c.writeMu.Unlock()

			if err != nil {
				c.logger.Errorf("Failed to send keep-alive: %v", err)
				c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// inboundMessage is the envelope viewers send over WebSocket.
type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// outboundMessage is the envelope pushed to WebSocket viewers: the
// fixed retainer-update event name wrapping the tagged payload.
type outboundMessage struct {
	Event string    `json:"event"`
	Type  EventType `json:"type"`
	Data  any       `json:"data,omitempty"`
}

// EventHandler receives every inbound WebSocket event by name with its
// raw payload. The websocket handler wires this to room joins.
type EventHandler func(event string, data json.RawMessage)

// WebSocketConnection implements Connection for WebSocket viewers.
type WebSocketConnection struct {
	id   string
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	closed   bool
	closedMu sync.RWMutex

	logger logger.Logger

	// Outgoing events, drained in order by writePump.
	send chan *Event

	onEvent EventHandler

	writeTimeout time.Duration
	pongTimeout  time.Duration
}

// NewWebSocketConnection creates a new WebSocket connection. Inbound
// events are handed to onEvent in read order.
func NewWebSocketConnection(
	id string,
	conn *websocket.Conn,
	logger logger.Logger,
	onEvent EventHandler,
) *WebSocketConnection {
	ctx, cancel := context.WithCancel(context.Background())

	wsConn := &WebSocketConnection{
		id:           id,
		conn:         conn,
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.WithField("connection_id", id),
		send:         make(chan *Event, 256),
		onEvent:      onEvent,
		writeTimeout: 10 * time.Second,
		pongTimeout:  60 * time.Second,
	}

	wsConn.setupWebSocket()

	go wsConn.writePump()
	go wsConn.readPump()

	return wsConn
}

// ID returns the unique connection identifier.
func (c *WebSocketConnection) ID() string {
	return c.id
}

// Type returns the connection type.
func (c *WebSocketConnection) Type() string {
	return "websocket"
}

// Send enqueues an event for the write pump. Enqueue order is delivery
// order, so events broadcast in sequence arrive in sequence.
func (c *WebSocketConnection) Send(ctx context.Context, event *Event) error {
	if c.IsClosed() {
		return fmt.Errorf("WebSocket connection is closed")
	}

	select {
	case c.send <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return fmt.Errorf("connection closed")
	}
}

// Close gracefully closes the WebSocket connection. The send channel
// is deliberately left open: a Send racing Close must fail through the
// cancelled context, never panic on a closed channel. writePump exits
// via the context for the same reason.
func (c *WebSocketConnection) Close() error {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.cancel()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	c.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	c.conn.Close()

	c.logger.Info("WebSocket connection closed")
	return nil
}

// IsClosed returns true if the connection is closed.
func (c *WebSocketConnection) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

// Context returns the connection's context (for cancellation).
func (c *WebSocketConnection) Context() context.Context {
	return c.ctx
}

func (c *WebSocketConnection) setupWebSocket() {
	c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return nil
	})
}

// writePump drains the send queue and keeps the connection alive with
// pings.
func (c *WebSocketConnection) writePump() {
	// Ping period must stay under the pong timeout.
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))

			msg := outboundMessage{
				Event: OutboundEvent,
				Type:  event.Type,
				Data:  event.Data,
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Errorf("Failed to write event: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Errorf("Failed to send ping: %v", err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// readPump reads inbound frames and hands parsed events to onEvent.
// Frames that are not valid event envelopes are logged and dropped.
func (c *WebSocketConnection) readPump() {
	defer func() {
		c.Close()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				c.logger.Errorf("WebSocket error: %v", err)
			}
			break
		}

		if messageType != websocket.TextMessage {
			c.logger.Debugf("Ignoring non-text frame of length %d", len(data))
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warnf("Malformed inbound message: %v", err)
			continue
		}

		if c.onEvent != nil {
			c.onEvent(msg.Event, msg.Data)
		}
	}
}
