package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"go-retainer-tracker/internal/application/service"
	"go-retainer-tracker/internal/infrastructure/hub"
	"go-retainer-tracker/internal/infrastructure/logger"
	"go-retainer-tracker/internal/infrastructure/store"
)

type fixture struct {
	router *gin.Engine
	hub    *hub.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewLogrusLogger(logger.NewDefaultConfig())
	log.SetOutput(io.Discard)

	st, err := store.Open(store.Config{Path: ":memory:", PoolSize: 1, Logger: log})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hubInstance := hub.New(log)
	if err := hubInstance.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	t.Cleanup(func() { hubInstance.Stop(context.Background()) })

	svc := service.NewClientService(st, log)
	clientHandler := NewClientHandler(svc, hubInstance, log)
	logHandler := NewLogHandler(svc, hubInstance, log)

	router := gin.New()
	api := router.Group("/api")
	api.POST("/clients", clientHandler.Create)
	api.GET("/clients/admin", clientHandler.GetAdmin)
	api.PATCH("/clients/status", clientHandler.UpdateStatus)
	api.PATCH("/clients/details", clientHandler.UpdateDetails)
	api.POST("/clients/refill", clientHandler.Refill)
	api.DELETE("/clients/details", clientHandler.Delete)
	api.GET("/clients/:slug", clientHandler.GetPublic)
	api.POST("/logs", logHandler.AddLog)
	api.DELETE("/logs/:logId", logHandler.DeleteLog)
	api.GET("/export", clientHandler.Export)

	return &fixture{router: router, hub: hubInstance}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) createClient(t *testing.T) (token, slug string) {
	t.Helper()

	w := f.do(t, http.MethodPost, "/api/clients", "", gin.H{
		"name":       "Acme Co",
		"totalHours": 40,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Create returned %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data struct {
			AdminToken string `json:"adminToken"`
			Slug       string `json:"slug"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode create response: %v", err)
	}
	if resp.Data.AdminToken == "" || resp.Data.Slug == "" {
		t.Fatalf("Create response missing token or slug: %s", w.Body.String())
	}
	return resp.Data.AdminToken, resp.Data.Slug
}

func TestCreateAndPublicView(t *testing.T) {
	f := newFixture(t)

	_, slug := f.createClient(t)

	w := f.do(t, http.MethodGet, "/api/clients/"+slug, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GetPublic returned %d: %s", w.Code, w.Body.String())
	}
	if bytes.Contains(w.Body.Bytes(), []byte("adminToken")) {
		t.Error("Public view must not leak the admin token")
	}
}

func TestAdminViewRequiresBearer(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/clients/admin", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/clients/admin", "no-such-token", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown token, got %d", w.Code)
	}
}

func TestAddLogBroadcastsToRoom(t *testing.T) {
	f := newFixture(t)

	token, slug := f.createClient(t)

	viewer := &fakeConnection{id: "viewer-1", ctx: context.Background()}
	if err := f.hub.RegisterConnection(viewer); err != nil {
		t.Fatalf("Failed to register viewer: %v", err)
	}
	f.hub.JoinRoom("viewer-1", slug)

	outsider := &fakeConnection{id: "viewer-2", ctx: context.Background()}
	f.hub.RegisterConnection(outsider)
	f.hub.JoinRoom("viewer-2", "other-co")

	w := f.do(t, http.MethodPost, "/api/logs", token, gin.H{
		"description": "design review",
		"hours":       2.5,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("AddLog returned %d: %s", w.Code, w.Body.String())
	}

	events := viewer.received()
	if len(events) != 1 || events[0].Type != hub.EventAddLog {
		t.Fatalf("Viewer should receive one ADD_LOG event, got %+v", events)
	}
	payload, ok := events[0].Data.(hub.LogAddedPayload)
	if !ok || payload.HoursRemaining != 37.5 {
		t.Errorf("Unexpected ADD_LOG payload: %+v", events[0].Data)
	}

	if got := len(outsider.received()); got != 0 {
		t.Errorf("Viewer in another room should receive nothing, got %d events", got)
	}
}

func TestBroadcastFailureDoesNotChangeResponse(t *testing.T) {
	f := newFixture(t)

	token, _ := f.createClient(t)

	// Stop the hub: every broadcast now fails with ErrNotInitialized,
	// but the mutation has committed and the response must stay 201.
	f.hub.Stop(context.Background())

	w := f.do(t, http.MethodPost, "/api/logs", token, gin.H{
		"description": "work after hub died",
		"hours":       1,
	})
	if w.Code != http.StatusCreated {
		t.Errorf("Mutation response must not reflect broadcast failure, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRefillAndStatus(t *testing.T) {
	f := newFixture(t)

	token, _ := f.createClient(t)

	w := f.do(t, http.MethodPost, "/api/clients/refill", token, gin.H{"hours": 10})
	if w.Code != http.StatusOK {
		t.Fatalf("Refill returned %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPatch, "/api/clients/status", token, gin.H{"status": "PAUSED"})
	if w.Code != http.StatusOK {
		t.Fatalf("UpdateStatus returned %d: %s", w.Code, w.Body.String())
	}

	// Paused clients accept no new logs.
	w = f.do(t, http.MethodPost, "/api/logs", token, gin.H{"description": "x", "hours": 1})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 logging against paused client, got %d", w.Code)
	}

	w = f.do(t, http.MethodPatch, "/api/clients/status", token, gin.H{"status": "SLEEPING"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown status, got %d", w.Code)
	}
}

func TestDeleteClientNotifiesRoom(t *testing.T) {
	f := newFixture(t)

	token, slug := f.createClient(t)

	viewer := &fakeConnection{id: "viewer-1", ctx: context.Background()}
	f.hub.RegisterConnection(viewer)
	f.hub.JoinRoom("viewer-1", slug)

	w := f.do(t, http.MethodDelete, "/api/clients/details", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Delete returned %d: %s", w.Code, w.Body.String())
	}

	events := viewer.received()
	if len(events) != 1 || events[0].Type != hub.EventProjectDeleted {
		t.Errorf("Viewer should receive PROJECT_DELETED, got %+v", events)
	}

	w = f.do(t, http.MethodGet, "/api/clients/"+slug, "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for deleted client, got %d", w.Code)
	}
}

func TestExportCSV(t *testing.T) {
	f := newFixture(t)

	token, _ := f.createClient(t)
	f.do(t, http.MethodPost, "/api/logs", token, gin.H{"description": "design, review", "hours": 2})

	w := f.do(t, http.MethodGet, "/api/export", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Export returned %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "text/csv" {
		t.Errorf("Expected text/csv, got %q", got)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"design, review"`)) {
		t.Errorf("CSV should quote the description, got:\n%s", w.Body.String())
	}
}

type fakeConnection struct {
	id  string
	ctx context.Context

	mu     sync.Mutex
	events []*hub.Event
}

func (f *fakeConnection) ID() string   { return f.id }
func (f *fakeConnection) Type() string { return "fake" }
func (f *fakeConnection) Send(ctx context.Context, event *hub.Event) error {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	return nil
}
func (f *fakeConnection) Close() error             { return nil }
func (f *fakeConnection) IsClosed() bool           { return false }
func (f *fakeConnection) Context() context.Context { return f.ctx }

func (f *fakeConnection) received() []*hub.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*hub.Event(nil), f.events...)
}
