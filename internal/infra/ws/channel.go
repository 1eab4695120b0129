package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sokochat/internal/domain/chat"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Starting delay for the reconnect backoff.
	initialBackoff = 500 * time.Millisecond
)

// Config defines live-channel settings.
type Config struct {
	// BaseURL is the websocket origin, e.g. "ws://localhost:8000".
	BaseURL string
	// AccessToken is passed as a query parameter; header injection is not
	// available at upgrade time for browser clients, and the stub accepts
	// both, so the query form is the contract.
	AccessToken string
	// Reconnect enables capped exponential-backoff redial after an
	// unexpected close. Off by default: the observed behavior lets the
	// channel die with the view.
	Reconnect bool
	// MaxBackoff caps the reconnect delay.
	MaxBackoff time.Duration
	// HandshakeTimeout bounds the websocket upgrade.
	HandshakeTimeout time.Duration
}

// Callbacks receive channel lifecycle and event notifications. All callbacks
// are invoked from the channel's read goroutine, one at a time.
type Callbacks struct {
	// OnEvent delivers each decoded inbound event.
	OnEvent func(chat.Event)
	// OnConnected fires after every successful dial + join, including
	// reconnects. Reconnect handlers typically trigger a history resync.
	OnConnected func(reconnected bool)
	// OnDisconnected fires when the socket drops. err is nil on a clean
	// client-side Close.
	OnDisconnected func(err error)
}

// Channel is one persistent bidirectional connection scoped to a single
// conversation. It is never reused across conversations.
type Channel struct {
	cfg          Config
	conversation chat.ConversationID
	callbacks    Callbacks
	logger       *slog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu        sync.Mutex
	connected bool

	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens the channel for one conversation, sends the join intent, and
// starts the read loop.
func Dial(ctx context.Context, cfg Config, conversation chat.ConversationID, cb Callbacks, logger *slog.Logger) (*Channel, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ws: base URL required")
	}
	c := &Channel{
		cfg:          cfg,
		conversation: conversation,
		callbacks:    cb,
		logger:       logger,
		done:         make(chan struct{}),
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.attach(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if cb.OnConnected != nil {
		cb.OnConnected(false)
	}
	go c.run(conn)
	return c, nil
}

// Conversation returns the conversation this channel is keyed by.
func (c *Channel) Conversation() chat.ConversationID {
	return c.conversation
}

// Connected reports whether the socket is currently open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendTyping emits a typing intent. Returns chat.ErrNotConnected when the
// socket is down so callers can degrade to a no-op.
func (c *Channel) SendTyping(isTyping bool) error {
	return c.writeJSON(chat.NewTypingIntent(isTyping))
}

// Close tears the channel down: stops any reconnect loop, performs the close
// handshake, and releases the connection. Safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		conn := c.conn
		c.connected = false
		c.mu.Unlock()
		if conn == nil {
			return
		}
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	})
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint := fmt.Sprintf("%s/ws/chat/%d/", strings.TrimRight(c.cfg.BaseURL, "/"), c.conversation)
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("ws: invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", c.cfg.AccessToken)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", u.Path, err)
	}
	return conn, nil
}

// attach installs a fresh connection and announces the conversation.
func (c *Channel) attach(conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	if err := c.writeJSON(chat.NewJoinIntent(c.conversation)); err != nil {
		return fmt.Errorf("ws: join: %w", err)
	}
	return nil
}

func (c *Channel) writeJSON(v any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return chat.ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// run owns the read loop and, when enabled, the reconnect loop. It is the
// only goroutine invoking callbacks.
func (c *Channel) run(conn *websocket.Conn) {
	for {
		err := c.readLoop(conn)

		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		conn.Close()

		select {
		case <-c.done:
			if c.callbacks.OnDisconnected != nil {
				c.callbacks.OnDisconnected(nil)
			}
			return
		default:
		}
		if c.callbacks.OnDisconnected != nil {
			c.callbacks.OnDisconnected(err)
		}
		if !c.cfg.Reconnect {
			return
		}

		next, ok := c.redial()
		if !ok {
			return
		}
		conn = next
		if c.callbacks.OnConnected != nil {
			c.callbacks.OnConnected(true)
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("live channel read failed", "conversation", c.conversation, "error", err)
			}
			return err
		}
		ev, err := chat.DecodeEvent(data)
		if err != nil {
			// Malformed payloads are dropped; they never crash the handler.
			c.logger.Warn("dropping malformed live event", "conversation", c.conversation, "error", err)
			continue
		}
		if c.callbacks.OnEvent != nil {
			c.callbacks.OnEvent(ev)
		}
	}
}

// redial retries with exponential backoff until a connection is attached or
// the channel is closed.
func (c *Channel) redial() (*websocket.Conn, bool) {
	backoff := initialBackoff
	maxBackoff := c.cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	for {
		select {
		case <-c.done:
			return nil, false
		case <-time.After(backoff):
		}
		conn, err := c.dial(context.Background())
		if err == nil {
			if err := c.attach(conn); err == nil {
				c.logger.Info("live channel reconnected", "conversation", c.conversation)
				return conn, true
			}
			conn.Close()
		} else {
			c.logger.Warn("live channel reconnect failed", "conversation", c.conversation, "error", err, "backoff", backoff)
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}
