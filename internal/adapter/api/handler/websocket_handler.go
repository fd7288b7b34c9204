package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"sync"

	gorillaws "github.com/gorilla/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"lokapasar/internal/chatsync"
	"lokapasar/internal/infrastructure/ticket"
	ws "lokapasar/internal/infrastructure/websocket"
	"lokapasar/internal/usecase"
	"lokapasar/pkg/errors"
	"lokapasar/pkg/logger"
	"lokapasar/pkg/response"
)

type WebSocketHandler struct {
	wsManager   *ws.Manager
	chatUseCase *usecase.ChatUseCase
	tickets     *ticket.Issuer
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: restrict to the marketplace origins before launch
	},
}

func NewWebSocketHandler(wsManager *ws.Manager, chatUseCase *usecase.ChatUseCase, tickets *ticket.Issuer) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager:   wsManager,
		chatUseCase: chatUseCase,
		tickets:     tickets,
	}
}

// clientCommand is what the browser sends over an open conversation socket.
type clientCommand struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// wsConn serializes writes: the event loop and the command loop both talk
// back on the same connection, and gorilla allows one writer at a time.
type wsConn struct {
	mu   sync.Mutex
	conn *gorillaws.Conn
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) writeClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(gorillaws.CloseMessage, []byte{})
}

// Ticket trades an authenticated REST call for a short-lived websocket
// ticket. Browsers cannot set headers on the ws handshake, so the ticket
// rides the query string instead of the Firebase token.
func (h *WebSocketHandler) Ticket(c echo.Context) error {
	userID := c.Get("uid").(string)

	t, err := h.tickets.Issue(userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"ticket": t})
}

// HandleInbox keeps a user-level connection open for inbox nudges pushed
// by the manager after REST sends.
func (h *WebSocketHandler) HandleInbox(c echo.Context) error {
	userID, err := h.verifyTicket(c)
	if err != nil {
		return response.Error(c, err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return errors.Internal("Failed to upgrade connection", err)
	}

	client := &ws.Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
	}
	h.wsManager.Register <- client

	go client.WritePump()

	go func() {
		defer func() {
			h.wsManager.Unregister <- client
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	return nil
}

// HandleConversation upgrades the connection and bridges it to a live
// session for one conversation: session events flow out as JSON, client
// commands (typing, send_message, load_older) flow in.
func (h *WebSocketHandler) HandleConversation(c echo.Context) error {
	userID, err := h.verifyTicket(c)
	if err != nil {
		return response.Error(c, err)
	}
	conversationID := c.Param("id")

	// The session outlives this handler (the request context dies once the
	// connection is hijacked); it ends with the socket via session.Close.
	ctx := context.Background()

	session, err := h.chatUseCase.OpenSession(ctx, userID, conversationID)
	if err != nil {
		return response.Error(c, err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		session.Close()
		return errors.Internal("Failed to upgrade connection", err)
	}

	wc := &wsConn{conn: conn}
	go h.writeLoop(wc, session)
	go h.readLoop(ctx, conn, wc, session)

	return nil
}

func (h *WebSocketHandler) writeLoop(wc *wsConn, session *chatsync.Session) {
	defer wc.conn.Close()

	for {
		select {
		case event := <-session.Events():
			if err := wc.writeJSON(event); err != nil {
				logger.Warn("websocket write failed: %v", err)
				session.Close()
				return
			}
		case <-session.Done():
			wc.writeClose()
			return
		}
	}
}

func (h *WebSocketHandler) readLoop(ctx context.Context, conn *gorillaws.Conn, wc *wsConn, session *chatsync.Session) {
	defer session.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			logger.Debug("ignoring malformed websocket command: %v", err)
			continue
		}

		switch cmd.Type {
		case "typing":
			session.Typing(ctx)
		case "send_message":
			if _, err := session.SendText(ctx, cmd.Text); err != nil {
				h.sendError(wc, err)
			}
		case "load_older":
			if err := session.LoadOlder(ctx); err != nil {
				h.sendError(wc, err)
			}
		case "ping":
			wc.writeJSON(map[string]string{"kind": "pong"})
		default:
			logger.Debug("ignoring unknown websocket command %q", cmd.Type)
		}
	}
}

func (h *WebSocketHandler) sendError(wc *wsConn, err error) {
	payload := map[string]string{"kind": "error", "message": err.Error()}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		payload["code"] = appErr.Code
		payload["message"] = appErr.Message
	}
	wc.writeJSON(payload)
}

func (h *WebSocketHandler) verifyTicket(c echo.Context) (string, error) {
	t := c.QueryParam("ticket")
	if t == "" {
		// Non-browser clients may still use a bearer header.
		authHeader := c.Request().Header.Get("Authorization")
		if parts := strings.Split(authHeader, " "); len(parts) == 2 && parts[0] == "Bearer" {
			t = parts[1]
		}
	}
	if t == "" {
		return "", errors.Unauthorized("Ticket is required", nil)
	}

	return h.tickets.Verify(t)
}
