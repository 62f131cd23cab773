package http

import (
	"github.com/gin-gonic/gin"

	"patient-assistant/internal/bootstrap"
	"patient-assistant/internal/transport/http/handler"
	"patient-assistant/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	chatHandler := handler.NewChatHandler(app.Chat, app.Logger.Named("http"))
	profileHandler := handler.NewProfileHandler(app.Profiles, app.Logger.Named("http"))
	adminHandler := handler.NewAdminHandler(app.Sessions, app.Knowledge, app.Logger.Named("admin"))

	router.GET("/healthz", healthHandler.Check)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))

	chatGroup := v1.Group("/chat")
	chatGroup.POST("", chatHandler.SendMessage)
	chatGroup.POST("/stream", chatHandler.StreamMessage)
	chatGroup.GET("/session", chatHandler.SessionInfo)
	chatGroup.DELETE("/session", chatHandler.ClearMemory)
	chatGroup.DELETE("/session/:id", chatHandler.DeleteSession)
	chatGroup.GET("/history", chatHandler.GetHistory)
	chatGroup.DELETE("/history", chatHandler.ClearHistory)

	v1.GET("/profile", profileHandler.Get)
	v1.PUT("/profile", profileHandler.Put)

	adminGroup := router.Group("/admin")
	adminGroup.Use(middleware.AdminKey(app.Config.Admin.KeyHash))
	adminGroup.GET("/sessions", adminHandler.ListSessions)
	adminGroup.DELETE("/sessions", adminHandler.ClearSessions)
	adminGroup.GET("/indexes", adminHandler.IndexStatus)
	adminGroup.POST("/indexes/invalidate", adminHandler.InvalidateIndexes)
	adminGroup.POST("/knowledge/:collection", adminHandler.Ingest)

	return router
}
