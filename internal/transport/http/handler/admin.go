package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"patient-assistant/internal/app"
	"patient-assistant/internal/session"
	"patient-assistant/internal/transport/http/response"
)

const maxIngestItems = 1000

type AdminHandler struct {
	sessions  *session.Store
	knowledge *app.KnowledgeService
	logger    *zap.Logger
}

type IngestRequest struct {
	Items []map[string]any `json:"items" binding:"required"`
}

func NewAdminHandler(sessions *session.Store, knowledge *app.KnowledgeService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{sessions: sessions, knowledge: knowledge, logger: logger}
}

func (h *AdminHandler) ListSessions(c *gin.Context) {
	sessions := h.sessions.List()
	response.OK(c, gin.H{"count": len(sessions), "sessions": sessions})
}

func (h *AdminHandler) ClearSessions(c *gin.Context) {
	cleared := h.sessions.ClearAll()
	h.logger.Info("all sessions cleared", zap.Int("count", cleared))
	response.OK(c, gin.H{"cleared": cleared})
}

func (h *AdminHandler) IndexStatus(c *gin.Context) {
	response.OK(c, h.knowledge.IndexStatuses())
}

func (h *AdminHandler) InvalidateIndexes(c *gin.Context) {
	response.OK(c, gin.H{"invalidated": h.knowledge.InvalidateAll()})
}

func (h *AdminHandler) Ingest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	if len(req.Items) > maxIngestItems {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "too many items in one request")
		return
	}

	result, err := h.knowledge.Ingest(c.Request.Context(), c.Param("collection"), req.Items, nil)
	if err != nil {
		if errors.Is(err, app.ErrUnknownCollection) {
			response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
			return
		}
		h.logger.Error("ingest knowledge failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ingest knowledge failed")
		return
	}
	response.OK(c, result)
}
