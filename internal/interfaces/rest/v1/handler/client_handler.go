package handler

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"go-retainer-tracker/internal/application/service"
	"go-retainer-tracker/internal/domain"
	"go-retainer-tracker/internal/infrastructure/hub"
	"go-retainer-tracker/internal/infrastructure/logger"
)

// ClientHandler exposes the retainer mutations over HTTP. Every
// successful mutation is followed by a broadcast to the client's slug
// room; a broadcast failure is logged and discarded because the
// mutation has already committed and the prepared response must not
// change.
type ClientHandler struct {
	service *service.ClientService
	hub     *hub.Hub
	logger  logger.Logger
}

func NewClientHandler(svc *service.ClientService, hubInstance *hub.Hub, logger logger.Logger) *ClientHandler {
	return &ClientHandler{
		service: svc,
		hub:     hubInstance,
		logger:  logger.WithField("handler", "client"),
	}
}

type createClientRequest struct {
	Name       string  `json:"name" binding:"required"`
	TotalHours float64 `json:"totalHours" binding:"required"`
	RefillLink string  `json:"refillLink"`
}

// Create provisions a new retainer. The admin token appears in this
// response and nowhere else; the frontend must show it to the user
// immediately.
func (h *ClientHandler) Create(c *gin.Context) {
	var req createClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name and totalHours are required"})
		return
	}

	client, err := h.service.CreateClient(c.Request.Context(), req.Name, req.TotalHours, req.RefillLink)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Retainer created successfully",
		"data": gin.H{
			"adminToken": client.AdminToken,
			"slug":       client.Slug,
			"adminUrl":   "/manage/" + client.AdminToken,
			"publicUrl":  "/" + client.Slug,
		},
	})
}

// GetAdmin returns the full dashboard for the Bearer token's client.
func (h *ClientHandler) GetAdmin(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		return
	}

	view, err := h.service.AdminView(c.Request.Context(), token)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"role": "ADMIN", "data": view})
}

// GetPublic returns the read-only dashboard for a slug.
func (h *ClientHandler) GetPublic(c *gin.Context) {
	slug := c.Param("slug")
	if slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Slug is required"})
		return
	}

	view, err := h.service.PublicView(c.Request.Context(), slug)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"role": "CLIENT", "data": view})
}

type updateDetailsRequest struct {
	Name       *string  `json:"name"`
	RefillLink *string  `json:"refillLink"`
	TotalHours *float64 `json:"totalHours"`
}

// UpdateDetails applies a partial update of name, refill link and
// total hours.
func (h *ClientHandler) UpdateDetails(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		return
	}

	var req updateDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	client, err := h.service.UpdateDetails(c.Request.Context(), token, service.UpdateDetailsParams{
		Name:       req.Name,
		RefillLink: req.RefillLink,
		TotalHours: req.TotalHours,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.notify(client.Slug, hub.NewDetailsUpdate(client))

	c.JSON(http.StatusOK, gin.H{"success": true, "data": client})
}

type updateStatusRequest struct {
	Status domain.ClientStatus `json:"status" binding:"required"`
}

// UpdateStatus pauses, resumes or archives the retainer.
func (h *ClientHandler) UpdateStatus(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Status is required"})
		return
	}

	client, err := h.service.UpdateStatus(c.Request.Context(), token, req.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.notify(client.Slug, hub.NewStatusUpdate(client.Status))

	c.JSON(http.StatusOK, gin.H{"data": client})
}

type refillRequest struct {
	Hours float64 `json:"hours" binding:"required"`
}

// Refill adds prepaid hours to the retainer's balance.
func (h *ClientHandler) Refill(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		return
	}

	var req refillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Hours is required"})
		return
	}

	client, err := h.service.Refill(c.Request.Context(), token, req.Hours)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.notify(client.Slug, hub.NewRefill(client.TotalHours))

	c.JSON(http.StatusOK, gin.H{"data": client})
}

// Delete removes the retainer and all its logs, then tells the room
// the project is gone.
func (h *ClientHandler) Delete(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		return
	}

	client, err := h.service.DeleteClient(c.Request.Context(), token)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.notify(client.Slug, hub.NewProjectDeleted())

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Project deleted successfully"})
}

// Export streams the client's work log history as CSV.
func (h *ClientHandler) Export(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		return
	}

	view, err := h.service.AdminView(c.Request.Context(), token)
	if err != nil {
		h.respondError(c, err)
		return
	}

	fileName := fmt.Sprintf("%s-logs.csv", view.Slug)
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename="+fileName)

	w := csv.NewWriter(c.Writer)
	w.Write([]string{"date", "description", "hours"})
	for _, log := range view.Logs {
		w.Write([]string{
			log.LoggedAt.Format("2006-01-02"),
			log.Description,
			fmt.Sprintf("%.2f", log.Hours),
		})
	}
	w.Write([]string{"", "total used", fmt.Sprintf("%.2f", view.HoursUsed)})
	w.Write([]string{"", "remaining", fmt.Sprintf("%.2f", view.HoursRemaining)})
	w.Flush()

	if err := w.Error(); err != nil {
		h.logger.Errorf("Failed to write CSV export: %v", err)
	}
}

// notify broadcasts one update event and explicitly discards any hub
// error: the mutation already committed, so a delivery failure must
// never surface to the HTTP caller.
func (h *ClientHandler) notify(slug string, event *hub.Event) {
	if err := h.hub.Broadcast(slug, event); err != nil {
		h.logger.Warnf("Update %s not broadcast to room %s: %v", event.Type, slug, err)
	}
}

func (h *ClientHandler) respondError(c *gin.Context, err error) {
	respondServiceError(c, h.logger, err)
}

// bearerToken extracts the admin token from the Authorization header,
// writing the 401 response itself when the header is missing or
// malformed.
func bearerToken(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Missing Admin Token"})
		return "", false
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Missing Admin Token"})
		return "", false
	}
	return token, true
}

func respondServiceError(c *gin.Context, log logger.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, service.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Errorf("Unhandled service error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
