package chathub

import (
	"context"
	"encoding/json"
	"swapgogo/backend/internal/models"
	"swapgogo/backend/internal/storage"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64

	// CloseSwapEnded is the close code sent to a chat socket after swap.logout.
	CloseSwapEnded = 4000
)

// WebSocketClient реалізує інтерфейс chathub.Client
type WebSocketClient struct {
	UserID  string
	ChatID  string
	Conn    *websocket.Conn
	Hub     *ManagerService
	Session *Session

	send   chan models.Event
	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

// NewWebSocketClient wires a socket to the hub. session handles the inbound
// protocol; its replies go to this connection only.
func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, session *Session, logger zerolog.Logger) *WebSocketClient {
	ctx, cancel := context.WithCancel(context.Background())
	c := &WebSocketClient{
		UserID:  session.UserID,
		ChatID:  session.ChatID,
		Conn:    conn,
		Hub:     hub,
		Session: session,
		send:    make(chan models.Event, sendBuffer),
		ctx:     ctx,
		cancel:  cancel,
		log:     logger.With().Str("user_id", session.UserID).Str("chat_id", session.ChatID).Logger(),
	}
	session.reply = func(ev models.Event) { c.Deliver(ev) }
	return c
}

// --- Реалізація методів інтерфейсу ---

func (c *WebSocketClient) GetUserID() string { return c.UserID }
func (c *WebSocketClient) GetChatID() string { return c.ChatID }

func (c *WebSocketClient) Channels() []string {
	if c.ChatID == "" {
		return []string{storage.UserChannel(c.UserID)}
	}
	return []string{storage.ChatChannel(c.ChatID), storage.UserChannel(c.UserID)}
}

func (c *WebSocketClient) Deliver(ev models.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Run запускає 'pumps' для WebSocket
func (c *WebSocketClient) Run() {
	if !c.Hub.Register(c) {
		c.Conn.Close()
		return
	}
	go c.writePump()
	c.Session.Start(c.ctx)
	go c.readPump()
}

// Close закриває send канал (що зупинить writePump)
func (c *WebSocketClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *WebSocketClient) readPump() {
	defer func() {
		last := c.Hub.Leave(c)
		c.Conn.Close()
		c.Session.End(c.ctx, !last)
		c.cancel()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("Error reading message")
			}
			return
		}
		c.Session.Handle(c.ctx, message)
	}
}

// writePump читає події з каналу send і записує їх у WebSocket.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Канал закрито хабом, закриваємо з'єднання WS
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(ev)
			if err != nil {
				c.log.Error().Err(err).Str("event", ev.Type).Msg("Error encoding event")
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

			// A chat socket is closed after the swap logout so the client re-enters with its own identity.
			if ev.Type == models.TypeSwapLogout && c.ChatID != "" {
				msg := websocket.FormatCloseMessage(CloseSwapEnded, "swap ended")
				c.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
