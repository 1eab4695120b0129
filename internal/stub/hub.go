package stub

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sokochat/internal/domain/chat"
)

var (
	errSelfConversation = errors.New(chat.SelfConversationDetail)
	errNotParticipant   = errors.New("not a conversation participant")
)

const (
	writeWait      = 10 * time.Second
	maxIntentBytes = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsClient is one connected socket inside a conversation room.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	user chat.UserID
}

// Hub fans events out to every socket joined to a conversation.
type Hub struct {
	mu     sync.Mutex
	rooms  map[chat.ConversationID]map[*wsClient]bool
	logger *slog.Logger
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[chat.ConversationID]map[*wsClient]bool),
		logger: logger,
	}
}

func (h *Hub) register(id chat.ConversationID, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[id] == nil {
		h.rooms[id] = make(map[*wsClient]bool)
	}
	h.rooms[id][c] = true
}

func (h *Hub) unregister(id chat.ConversationID, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.rooms[id]; ok {
		if clients[c] {
			delete(clients, c)
			close(c.send)
		}
		if len(clients) == 0 {
			delete(h.rooms, id)
		}
	}
}

// OtherConnected reports whether a participant other than user has an open
// socket in the room. Drives the sent -> delivered promotion.
func (h *Hub) OtherConnected(id chat.ConversationID, user chat.UserID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[id] {
		if c.user != user {
			return true
		}
	}
	return false
}

// Broadcast sends one event to every socket in the room, dropping clients
// whose send buffer is full.
func (h *Hub) Broadcast(id chat.ConversationID, event chat.Event) {
	payload, err := chat.EncodeEvent(event)
	if err != nil {
		h.logger.Error("cannot marshal event", "conversation", id, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[id] {
		select {
		case c.send <- payload:
		default:
			delete(h.rooms[id], c)
			close(c.send)
		}
	}
}

// sendTo delivers one event to a single socket.
func (h *Hub) sendTo(c *wsClient, event chat.Event) {
	payload, err := chat.EncodeEvent(event)
	if err != nil {
		h.logger.Error("cannot marshal event", "error", err)
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// writePump drains the client's send buffer onto the socket.
func (c *wsClient) writePump() {
	defer c.conn.Close()
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// intent is the inbound client frame: {"action": "join"|"typing", ...}.
type intent struct {
	Action       chat.IntentAction   `json:"action"`
	Conversation chat.ConversationID `json:"conversation"`
	IsTyping     bool                `json:"is_typing"`
}
