package hub

import (
	"context"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"go-retainer-tracker/internal/domain"
	"go-retainer-tracker/internal/infrastructure/logger"
)

func TestHub_StartStop(t *testing.T) {
	hub := New(&mockLogger{})
	ctx := context.Background()

	if err := hub.Start(ctx); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	if !hub.IsRunning() {
		t.Error("Hub should be running after start")
	}

	if err := hub.Start(ctx); err == nil {
		t.Error("Second start should fail")
	}

	if err := hub.Stop(ctx); err != nil {
		t.Fatalf("Failed to stop hub: %v", err)
	}
	if hub.IsRunning() {
		t.Error("Hub should not be running after stop")
	}
}

func TestHub_BroadcastBeforeStart(t *testing.T) {
	hub := New(&mockLogger{})

	err := hub.Broadcast("acme-co", NewRefill(50))
	if err != ErrNotInitialized {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
}

func TestHub_JoinRoomIdempotent(t *testing.T) {
	hub := startedHub(t)

	conn := newMockConnection("conn-1")
	hub.RegisterConnection(conn)

	hub.JoinRoom("conn-1", "acme-co")
	hub.JoinRoom("conn-1", "acme-co")
	hub.JoinRoom("conn-1", "acme-co")

	if got := hub.RoomCount("acme-co"); got != 1 {
		t.Errorf("Expected 1 member after repeated joins, got %d", got)
	}

	hub.Broadcast("acme-co", NewProjectDeleted())
	if got := len(conn.received()); got != 1 {
		t.Errorf("Expected exactly 1 delivery, got %d", got)
	}
}

func TestHub_JoinRoomEmptyID(t *testing.T) {
	hub := startedHub(t)

	conn := newMockConnection("conn-1")
	hub.RegisterConnection(conn)

	hub.JoinRoom("conn-1", "")

	if got := len(hub.Rooms("conn-1")); got != 0 {
		t.Errorf("Empty room id should not change state, connection is in %d rooms", got)
	}
}

func TestHub_BroadcastEmptyRoomID(t *testing.T) {
	hub := startedHub(t)

	if err := hub.Broadcast("", NewRefill(10)); err != nil {
		t.Errorf("Broadcast with empty room id should be a silent no-op, got %v", err)
	}
}

func TestHub_BroadcastNoMembers(t *testing.T) {
	hub := startedHub(t)

	if err := hub.Broadcast("nobody-home", NewRefill(10)); err != nil {
		t.Errorf("Broadcast to empty room should succeed, got %v", err)
	}
}

func TestHub_BroadcastRoomIsolation(t *testing.T) {
	hub := startedHub(t)

	connA := newMockConnection("conn-a")
	connB := newMockConnection("conn-b")
	hub.RegisterConnection(connA)
	hub.RegisterConnection(connB)

	hub.JoinRoom("conn-a", "acme-co")
	hub.JoinRoom("conn-b", "beta-inc")

	hub.Broadcast("acme-co", NewLogAdded(domain.WorkLog{ID: "log-1"}, 9.5))
	hub.Broadcast("beta-inc", NewLogDeleted("log-9"))

	aGot := connA.received()
	if len(aGot) != 1 || aGot[0].Type != EventAddLog {
		t.Errorf("Connection A should receive only the ADD_LOG event, got %v", aGot)
	}

	bGot := connB.received()
	if len(bGot) != 1 || bGot[0].Type != EventDeleteLog {
		t.Errorf("Connection B should receive only the DELETE_LOG event, got %v", bGot)
	}
}

func TestHub_BroadcastSamePayloadToAllMembers(t *testing.T) {
	hub := startedHub(t)

	conn1 := newMockConnection("conn-1")
	conn2 := newMockConnection("conn-2")
	other := newMockConnection("conn-3")
	hub.RegisterConnection(conn1)
	hub.RegisterConnection(conn2)
	hub.RegisterConnection(other)

	hub.JoinRoom("conn-1", "acme-co")
	hub.JoinRoom("conn-2", "acme-co")
	hub.JoinRoom("conn-3", "other-co")

	event := NewRefill(50)
	if err := hub.Broadcast("acme-co", event); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	for _, conn := range []*mockConnection{conn1, conn2} {
		got := conn.received()
		if len(got) != 1 {
			t.Fatalf("Connection %s should have received 1 event, got %d", conn.id, len(got))
		}
		payload, ok := got[0].Data.(RefillPayload)
		if !ok || payload.TotalHours != 50 {
			t.Errorf("Connection %s received wrong payload: %+v", conn.id, got[0].Data)
		}
	}

	if got := len(other.received()); got != 0 {
		t.Errorf("Connection in other-co should receive nothing, got %d events", got)
	}
}

func TestHub_DisconnectRemovesEverywhere(t *testing.T) {
	hub := startedHub(t)

	conn := newMockConnection("conn-1")
	hub.RegisterConnection(conn)
	hub.JoinRoom("conn-1", "acme-co")
	hub.JoinRoom("conn-1", "beta-inc")

	hub.UnregisterConnection("conn-1")

	if _, exists := hub.GetConnection("conn-1"); exists {
		t.Error("Connection should be gone from the global set")
	}
	if !conn.closed {
		t.Error("Connection should be closed on unregister")
	}

	hub.Broadcast("acme-co", NewRefill(1))
	hub.Broadcast("beta-inc", NewRefill(2))
	if got := len(conn.received()); got != 0 {
		t.Errorf("Unregistered connection should receive nothing, got %d events", got)
	}
}

func TestHub_ContextCancelUnregisters(t *testing.T) {
	hub := startedHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	conn := newMockConnection("conn-1")
	conn.ctx = ctx
	hub.RegisterConnection(conn)
	hub.JoinRoom("conn-1", "acme-co")

	cancel()
	time.Sleep(100 * time.Millisecond)

	if got := hub.ConnectionCount(); got != 0 {
		t.Errorf("Expected 0 connections after context cancel, got %d", got)
	}
	if got := hub.RoomCount("acme-co"); got != 0 {
		t.Errorf("Expected empty room after context cancel, got %d members", got)
	}
}

func TestHub_SendFailureDoesNotAbortBroadcast(t *testing.T) {
	hub := startedHub(t)

	failing := newMockConnection("conn-bad")
	failing.sendErr = io.ErrClosedPipe
	healthy := newMockConnection("conn-good")
	hub.RegisterConnection(failing)
	hub.RegisterConnection(healthy)

	hub.JoinRoom("conn-bad", "acme-co")
	hub.JoinRoom("conn-good", "acme-co")

	if err := hub.Broadcast("acme-co", NewRefill(5)); err != nil {
		t.Fatalf("Broadcast should not propagate per-connection failures: %v", err)
	}

	if got := len(healthy.received()); got != 1 {
		t.Errorf("Healthy connection should still receive the event, got %d", got)
	}

	// The failing connection is unregistered asynchronously.
	time.Sleep(100 * time.Millisecond)
	if _, exists := hub.GetConnection("conn-bad"); exists {
		t.Error("Failing connection should have been unregistered")
	}
}

func TestDefaultAccessor(t *testing.T) {
	defaultMu.Lock()
	defaultHub = nil
	defaultMu.Unlock()

	if _, err := Default(); err != ErrNotInitialized {
		t.Errorf("Expected ErrNotInitialized before SetDefault, got %v", err)
	}

	hub := New(&mockLogger{})
	if err := SetDefault(hub); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}

	got, err := Default()
	if err != nil || got != hub {
		t.Errorf("Default should return the installed hub, got %v (%v)", got, err)
	}

	if err := SetDefault(New(&mockLogger{})); err == nil {
		t.Error("Second SetDefault should fail")
	}

	defaultMu.Lock()
	defaultHub = nil
	defaultMu.Unlock()
}

func startedHub(t *testing.T) *Hub {
	t.Helper()

	hub := New(&mockLogger{})
	ctx := context.Background()
	if err := hub.Start(ctx); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	t.Cleanup(func() { hub.Stop(ctx) })
	return hub
}

func TestHub_BroadcastOrderPreserved(t *testing.T) {
	hub := startedHub(t)

	conn := newMockConnection("conn-1")
	hub.RegisterConnection(conn)
	hub.JoinRoom("conn-1", "acme-co")

	other := newMockConnection("conn-2")
	hub.RegisterConnection(other)
	hub.JoinRoom("conn-2", "acme-co")

	const n = 50
	for i := 0; i < n; i++ {
		if err := hub.Broadcast("acme-co", NewLogDeleted(strconv.Itoa(i))); err != nil {
			t.Fatalf("Broadcast %d failed: %v", i, err)
		}
	}

	for _, member := range []*mockConnection{conn, other} {
		events := member.received()
		if len(events) != n {
			t.Fatalf("Connection %s: expected %d events, got %d", member.id, n, len(events))
		}
		for i, event := range events {
			payload, ok := event.Data.(LogDeletedPayload)
			if !ok || payload.LogID != strconv.Itoa(i) {
				t.Fatalf("Connection %s: event %d out of issue order: %+v", member.id, i, event.Data)
			}
		}
	}
}

func TestHub_LeaveRoom(t *testing.T) {
	hub := startedHub(t)

	conn := newMockConnection("conn-1")
	hub.RegisterConnection(conn)
	hub.JoinRoom("conn-1", "acme-co")
	hub.JoinRoom("conn-1", "beta-inc")

	hub.LeaveRoom("conn-1", "acme-co")

	if got := hub.RoomCount("acme-co"); got != 0 {
		t.Errorf("Expected empty room after leave, got %d members", got)
	}

	hub.Broadcast("acme-co", NewProjectDeleted())
	if got := len(conn.received()); got != 0 {
		t.Errorf("Connection should receive nothing after leaving, got %d events", got)
	}

	// Other memberships are untouched.
	hub.Broadcast("beta-inc", NewRefill(10))
	if got := len(conn.received()); got != 1 {
		t.Errorf("Connection should still receive in its remaining room, got %d events", got)
	}

	// Leaving a room twice, or one never joined, is a no-op.
	hub.LeaveRoom("conn-1", "acme-co")
	hub.LeaveRoom("conn-1", "no-such-room")
}

// Mock implementations for testing

type mockLogger struct{}

func (m *mockLogger) Debug(msg string)                              {}
func (m *mockLogger) Debugf(format string, args ...any)             {}
func (m *mockLogger) Info(msg string)                               {}
func (m *mockLogger) Infof(format string, args ...any)              {}
func (m *mockLogger) Warn(msg string)                               {}
func (m *mockLogger) Warnf(format string, args ...any)              {}
func (m *mockLogger) Error(msg string)                              {}
func (m *mockLogger) Errorf(format string, args ...any)             {}
func (m *mockLogger) Fatal(msg string)                              {}
func (m *mockLogger) Fatalf(format string, args ...any)             {}
func (m *mockLogger) WithField(key string, value any) logger.Logger { return m }
func (m *mockLogger) WithFields(fields logger.Fields) logger.Logger { return m }
func (m *mockLogger) SetOutput(output io.Writer)                    {}

type mockConnection struct {
	id      string
	ctx     context.Context
	closed  bool
	sendErr error

	mu     sync.Mutex
	events []*Event
}

func newMockConnection(id string) *mockConnection {
	return &mockConnection{id: id, ctx: context.Background()}
}

func (m *mockConnection) ID() string   { return m.id }
func (m *mockConnection) Type() string { return "mock" }
func (m *mockConnection) Send(ctx context.Context, event *Event) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}
func (m *mockConnection) Close() error             { m.closed = true; return nil }
func (m *mockConnection) IsClosed() bool           { return m.closed }
func (m *mockConnection) Context() context.Context { return m.ctx }

func (m *mockConnection) received() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}
