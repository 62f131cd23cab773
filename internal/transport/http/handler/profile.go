package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"patient-assistant/internal/app"
	"patient-assistant/internal/docstore"
	"patient-assistant/internal/model"
	"patient-assistant/internal/transport/http/middleware"
	"patient-assistant/internal/transport/http/response"
)

type ProfileHandler struct {
	profileService *app.ProfileService
	logger         *zap.Logger
}

func NewProfileHandler(profileService *app.ProfileService, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{profileService: profileService, logger: logger}
}

func (h *ProfileHandler) Get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	profile, err := h.profileService.Get(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err, "get profile failed")
		return
	}
	response.OK(c, profile)
}

// Put replaces the caller's profile. user_id in the body is ignored.
func (h *ProfileHandler) Put(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req model.UserProfile
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	req.UserID = userID

	if err := h.profileService.Save(c.Request.Context(), &req); err != nil {
		h.writeError(c, err, "save profile failed")
		return
	}
	response.OK(c, &req)
}

func (h *ProfileHandler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrProfileNotFound):
		response.Error(c, http.StatusNotFound, response.CodeProfileNotFound, err.Error())
	case errors.Is(err, docstore.ErrUnavailable):
		h.logger.Warn(fallback, zap.Error(err))
		response.Error(c, http.StatusServiceUnavailable, response.CodeUnavailable, "storage unavailable")
	default:
		h.logger.Error(fallback, zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
