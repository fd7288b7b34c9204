package router

import (
	"github.com/labstack/echo/v4"

	"lokapasar/internal/adapter/api/handler"
	"lokapasar/internal/adapter/api/middleware"
)

// SetupChatRouter wires the REST chat surface (the WebSocket routes live in
// SetupWebSocketRouter).
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware) {
	chatGroup := e.Group("/v1/conversations")
	chatGroup.Use(authMiddleware.Authenticate)

	chatGroup.POST("", chatHandler.StartConversation)
	chatGroup.GET("", chatHandler.Inbox)
	chatGroup.GET("/:id", chatHandler.GetConversation)
	chatGroup.PUT("/:id/read", chatHandler.MarkRead)
	chatGroup.PUT("/:id/clear", chatHandler.ClearHistory)
	chatGroup.DELETE("/:id", chatHandler.Hide)

	chatGroup.GET("/:id/messages", chatHandler.Messages)
	chatGroup.POST("/:id/messages", chatHandler.SendMessage)
	chatGroup.POST("/:id/images", chatHandler.SendImage)
}
