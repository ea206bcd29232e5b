package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"go-retainer-tracker/internal/application/service"
	"go-retainer-tracker/internal/infrastructure/hub"
	"go-retainer-tracker/internal/infrastructure/logger"
)

// LogHandler exposes the work-log mutations over HTTP.
type LogHandler struct {
	service *service.ClientService
	hub     *hub.Hub
	logger  logger.Logger
}

func NewLogHandler(svc *service.ClientService, hubInstance *hub.Hub, logger logger.Logger) *LogHandler {
	return &LogHandler{
		service: svc,
		hub:     hubInstance,
		logger:  logger.WithField("handler", "log"),
	}
}

type addLogRequest struct {
	Description string  `json:"description" binding:"required"`
	Hours       float64 `json:"hours" binding:"required"`
	Date        string  `json:"date"`
}

// AddLog records hours against the Bearer token's client and notifies
// the client's room.
func (h *LogHandler) AddLog(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		return
	}

	var req addLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Description and Hours are required"})
		return
	}

	var loggedAt time.Time
	if req.Date != "" {
		parsed, err := parseDate(req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date format"})
			return
		}
		loggedAt = parsed
	}

	log, slug, remaining, err := h.service.AddWorkLog(c.Request.Context(), token, req.Description, req.Hours, loggedAt)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	if err := h.hub.Broadcast(slug, hub.NewLogAdded(log, remaining)); err != nil {
		h.logger.Warnf("ADD_LOG not broadcast to room %s: %v", slug, err)
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Log added", "data": log})
}

// DeleteLog removes a log entry and tells the room to drop it from the
// list.
func (h *LogHandler) DeleteLog(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		return
	}

	logID := c.Param("logId")
	if logID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Log ID is required"})
		return
	}

	slug, err := h.service.DeleteWorkLog(c.Request.Context(), token, logID)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	if err := h.hub.Broadcast(slug, hub.NewLogDeleted(logID)); err != nil {
		h.logger.Warnf("DELETE_LOG not broadcast to room %s: %v", slug, err)
	}

	c.JSON(http.StatusOK, gin.H{"message": "Log deleted"})
}

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}
