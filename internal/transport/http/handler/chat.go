package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"patient-assistant/internal/app"
	"patient-assistant/internal/docstore"
	"patient-assistant/internal/generation"
	"patient-assistant/internal/transport/http/middleware"
	"patient-assistant/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
	logger      *zap.Logger
}

type SendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

func NewChatHandler(chatService *app.ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{chatService: chatService, logger: logger}
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.chatService.SendMessage(c.Request.Context(), userID, req.Message)
	if err != nil {
		h.writeError(c, err, "send message failed")
		return
	}

	response.OK(c, result)
}

// StreamMessage answers with server-sent events, one JSON event per frame.
func (h *ChatHandler) StreamMessage(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	stream, err := h.chatService.StreamMessage(c.Request.Context(), userID, req.Message)
	if err != nil {
		h.writeError(c, err, "stream message failed")
		return
	}
	defer stream.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for ev := range stream.Events() {
		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("encode stream event failed", zap.Error(err))
			return
		}
		if _, err := c.Writer.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
			h.logger.Info("stream client went away", zap.String("user_id", userID), zap.Error(err))
			return
		}
		flusher.Flush()
	}
}

func (h *ChatHandler) SessionInfo(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	info, err := h.chatService.SessionInfo(userID)
	if err != nil {
		h.writeError(c, err, "get session failed")
		return
	}
	response.OK(c, info)
}

func (h *ChatHandler) ClearMemory(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	if err := h.chatService.ClearMemory(userID); err != nil {
		h.writeError(c, err, "clear memory failed")
		return
	}
	response.OK(c, gin.H{"cleared": true})
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessionID := c.Param("id")
	deleted, err := h.chatService.DeleteSession(c.Request.Context(), userID, sessionID)
	if err != nil {
		h.writeError(c, err, "delete session failed")
		return
	}
	response.OK(c, gin.H{"deleted_session_id": sessionID, "deleted_messages": deleted})
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessions, err := h.chatService.History(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err, "get history failed")
		return
	}
	response.OK(c, gin.H{"sessions": sessions})
}

func (h *ChatHandler) ClearHistory(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	deleted, err := h.chatService.ClearHistory(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err, "clear history failed")
		return
	}
	response.OK(c, gin.H{"deleted_messages": deleted})
}

func (h *ChatHandler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrMessageEmpty):
		response.Error(c, http.StatusBadRequest, response.CodeMessageEmpty, err.Error())
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
	case errors.Is(err, generation.ErrGenerationFailed):
		h.logger.Warn(fallback, zap.Error(err))
		response.Error(c, http.StatusBadGateway, response.CodeGenerationFailed, "generation failed")
	case errors.Is(err, docstore.ErrUnavailable):
		h.logger.Warn(fallback, zap.Error(err))
		response.Error(c, http.StatusServiceUnavailable, response.CodeUnavailable, "storage unavailable")
	default:
		h.logger.Error(fallback, zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
