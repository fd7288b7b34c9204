package websocket

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"lokapasar/pkg/logger"
)

// Client is one websocket connection. A user may hold several at once
// (multiple tabs, one per open conversation view).
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// Manager tracks active connections so server-side events (inbox updates
// after a REST send, for example) can be pushed to every connection a user
// holds.
type Manager struct {
	clients    map[string]map[string]*Client // userID -> clientID -> client
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		clients:    make(map[string]map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Start runs the manager's registration loop in a goroutine.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				if m.clients[client.UserID] == nil {
					m.clients[client.UserID] = make(map[string]*Client)
				}
				m.clients[client.UserID][client.ID] = client
				m.mutex.Unlock()
				logger.Info("Client registered: user=%s conn=%s", client.UserID, client.ID)

			case client := <-m.Unregister:
				m.mutex.Lock()
				if conns, ok := m.clients[client.UserID]; ok {
					if _, ok := conns[client.ID]; ok {
						delete(conns, client.ID)
						close(client.Send)
						if len(conns) == 0 {
							delete(m.clients, client.UserID)
						}
					}
				}
				m.mutex.Unlock()
				logger.Info("Client unregistered: user=%s conn=%s", client.UserID, client.ID)

			case <-ctx.Done():
				return
			}
		}
	}()
}

// SendToUser pushes a message to every connection the user holds. Slow
// connections are skipped rather than blocked on.
func (m *Manager) SendToUser(userID string, message []byte) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, client := range m.clients[userID] {
		select {
		case client.Send <- message:
		default:
			logger.Warn("Dropping message for slow client: user=%s conn=%s", userID, client.ID)
		}
	}
}

// WritePump drains the client's send queue onto the wire. It exits when
// the queue is closed by the manager.
func (c *Client) WritePump() {
	defer c.Conn.Close()

	for {
		message, ok := <-c.Send
		if !ok {
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logger.Warn("websocket write failed for user %s: %v", c.UserID, err)
			return
		}
	}
}
