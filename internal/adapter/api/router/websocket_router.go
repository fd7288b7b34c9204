package router

import (
	"github.com/labstack/echo/v4"

	"lokapasar/internal/adapter/api/handler"
	"lokapasar/internal/adapter/api/middleware"
)

// SetupWebSocketRouter wires the websocket endpoints. The sockets carry
// their own ticket auth, so only the ticket mint goes through the auth
// middleware.
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler, authMiddleware *middleware.AuthMiddleware) {
	e.POST("/v1/ws/ticket", wsHandler.Ticket, authMiddleware.Authenticate)

	e.GET("/ws/inbox", wsHandler.HandleInbox)
	e.GET("/ws/conversations/:id", wsHandler.HandleConversation)
}
