package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-retainer-tracker/internal/infrastructure/logger"
)

// ErrNotInitialized is returned when a broadcast (or the package-level
// accessor) is used before the hub has been started. Callers on the
// mutation path must log and discard it: the mutation has already
// committed and a notification failure must never surface as a request
// failure.
var ErrNotInitialized = errors.New("hub: not initialized")

// sendTimeout bounds a single delivery attempt to one connection.
const sendTimeout = 5 * time.Second

// Hub groups connections into rooms keyed by client slug and fans
// mutation events out to every connection in the affected room.
//
// The global connection set and the room index are guarded by one
// mutex, so join, leave and broadcast are each atomic with respect to
// one another. Delivery itself is best effort per connection.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]Connection
	rooms       map[string]map[string]Connection

	running   bool
	runningMu sync.RWMutex

	logger logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Hub instance.
func New(logger logger.Logger) *Hub {
	return &Hub{
		connections: make(map[string]Connection),
		rooms:       make(map[string]map[string]Connection),
		logger:      logger.WithField("component", "hub"),
	}
}

// Start marks the hub ready and begins the cleanup loop.
func (h *Hub) Start(ctx context.Context) error {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()

	if h.running {
		return fmt.Errorf("hub is already running")
	}

	h.ctx, h.cancel = context.WithCancel(ctx)
	h.running = true

	go h.run()

	h.logger.Info("Hub started successfully")
	return nil
}

// Stop gracefully stops the hub and disconnects all connections.
func (h *Hub) Stop(ctx context.Context) error {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()

	if !h.running {
		return nil
	}

	h.cancel()

	h.mu.Lock()
	for _, conn := range h.connections {
		if err := conn.Close(); err != nil {
			h.logger.Errorf("Failed to close connection %s: %v", conn.ID(), err)
		}
	}
	h.connections = make(map[string]Connection)
	h.rooms = make(map[string]map[string]Connection)
	h.mu.Unlock()

	h.running = false
	h.logger.Info("Hub stopped successfully")
	return nil
}

// IsRunning returns true if the hub is currently running.
func (h *Hub) IsRunning() bool {
	h.runningMu.RLock()
	defer h.runningMu.RUnlock()
	return h.running
}

// RegisterConnection adds a new connection to the hub's global set.
// Room membership starts empty; the connection must explicitly join.
func (h *Hub) RegisterConnection(conn Connection) error {
	if !h.IsRunning() {
		return ErrNotInitialized
	}

	h.mu.Lock()
	h.connections[conn.ID()] = conn
	h.mu.Unlock()

	h.logger.Infof("Connection %s registered (type: %s)", conn.ID(), conn.Type())

	// Tear down hub-side state when the transport goes away.
	go func() {
		<-conn.Context().Done()
		h.UnregisterConnection(conn.ID())
	}()

	return nil
}

// UnregisterConnection removes a connection from every room it joined
// and from the global set, then closes it. Membership removal happens
// before Close so no broadcast can reach a half-closed channel.
func (h *Hub) UnregisterConnection(connID string) {
	h.mu.Lock()
	conn, exists := h.connections[connID]
	if exists {
		for roomID, members := range h.rooms {
			if _, ok := members[connID]; ok {
				delete(members, connID)
				if len(members) == 0 {
					delete(h.rooms, roomID)
				}
			}
		}
		delete(h.connections, connID)
	}
	h.mu.Unlock()

	if exists {
		conn.Close()
		h.logger.Infof("Connection %s unregistered", connID)
	}
}

// JoinRoom adds a registered connection to a room. Joining a room the
// connection is already in has no further effect. An empty room id is
// not an error: it is logged and ignored, mirroring clients that ask
// to subscribe before their project has a slug.
func (h *Hub) JoinRoom(connID, roomID string) {
	if roomID == "" {
		h.logger.Warnf("Connection %s sent %s without a room id", connID, JoinRoomEvent)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	conn, exists := h.connections[connID]
	if !exists {
		h.logger.Warnf("Join for unknown connection %s (room %s)", connID, roomID)
		return
	}

	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]Connection)
		h.rooms[roomID] = members
	}
	members[connID] = conn

	h.logger.Infof("Connection %s joined room %s", connID, roomID)
}

// LeaveRoom removes a connection from a single room. Empty rooms are
// dropped from the index.
func (h *Hub) LeaveRoom(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if _, in := members[connID]; !in {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}

	h.logger.Infof("Connection %s left room %s", connID, roomID)
}

// Broadcast delivers an event to every connection currently in roomID.
//
// An empty roomID is a silent no-op (the mutated entity has no slug
// yet). A hub that was never started returns ErrNotInitialized; the
// caller must log and discard it. A delivery failure to one connection
// never aborts delivery to the rest — the failed connection is
// unregistered and the loop continues.
func (h *Hub) Broadcast(roomID string, event *Event) error {
	if roomID == "" {
		h.logger.Debugf("Broadcast of %s skipped: no room id", event.Type)
		return nil
	}

	if !h.IsRunning() {
		return ErrNotInitialized
	}

	h.mu.RLock()
	members := make([]Connection, 0, len(h.rooms[roomID]))
	for _, conn := range h.rooms[roomID] {
		members = append(members, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range members {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := conn.Send(ctx, event)
		cancel()
		if err != nil {
			h.logger.Errorf("Failed to send %s to connection %s: %v", event.Type, conn.ID(), err)
			go h.UnregisterConnection(conn.ID())
			continue
		}
		delivered++
	}

	h.logger.Debugf("Broadcasted %s to %d/%d connections in room %s",
		event.Type, delivered, len(members), roomID)
	return nil
}

// GetConnection returns a connection by ID.
func (h *Hub) GetConnection(connID string) (Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conn, exists := h.connections[connID]
	return conn, exists
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// RoomCount returns the number of connections currently in roomID.
func (h *Hub) RoomCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Rooms returns the room ids the given connection has joined.
func (h *Hub) Rooms(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var rooms []string
	for roomID, members := range h.rooms {
		if _, ok := members[connID]; ok {
			rooms = append(rooms, roomID)
		}
	}
	return rooms
}

// run periodically sweeps connections whose transport closed without
// the unregister path firing.
func (h *Hub) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.cleanupClosedConnections()

		case <-h.ctx.Done():
			h.logger.Info("Hub run loop stopped")
			return
		}
	}
}

func (h *Hub) cleanupClosedConnections() {
	h.mu.RLock()
	closed := make([]string, 0)
	for id, conn := range h.connections {
		if conn.IsClosed() {
			closed = append(closed, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range closed {
		h.UnregisterConnection(id)
		h.logger.Infof("Cleaned up closed connection %s", id)
	}
}
