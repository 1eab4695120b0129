package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sokochat/internal/domain/chat"
	"sokochat/internal/infra/obs"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// wsServer is a minimal upgrade endpoint that records inbound intents and
// lets tests push raw frames to the connected client.
type wsServer struct {
	t       *testing.T
	srv     *httptest.Server
	mu      sync.Mutex
	intents []map[string]any
	tokens  []string
	conns   chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	s := &wsServer{t: t, conns: make(chan *websocket.Conn, 4)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.tokens = append(s.tokens, r.URL.Query().Get("token"))
		s.mu.Unlock()
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var intent map[string]any
			if err := json.Unmarshal(data, &intent); err != nil {
				continue
			}
			s.mu.Lock()
			s.intents = append(s.intents, intent)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) baseURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("no websocket connection arrived")
		return nil
	}
}

func (s *wsServer) waitIntents(t *testing.T, n int) []map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.intents) >= n {
			out := append([]map[string]any(nil), s.intents...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d intents", n)
	return nil
}

func TestDialSendsJoinWithToken(t *testing.T) {
	server := newWSServer(t)

	ch, err := Dial(context.Background(), Config{BaseURL: server.baseURL(), AccessToken: "tok-123"}, 55, Callbacks{}, obs.Discard())
	require.NoError(t, err)
	defer ch.Close()
	server.waitConn(t)

	intents := server.waitIntents(t, 1)
	assert.Equal(t, "join", intents[0]["action"])
	assert.Equal(t, float64(55), intents[0]["conversation"])
	assert.Equal(t, "tok-123", server.tokens[0])
	assert.True(t, ch.Connected())
}

func TestEventsAreDecodedAndDelivered(t *testing.T) {
	server := newWSServer(t)

	events := make(chan chat.Event, 8)
	ch, err := Dial(context.Background(), Config{BaseURL: server.baseURL()}, 55, Callbacks{
		OnEvent: func(ev chat.Event) { events <- ev },
	}, obs.Discard())
	require.NoError(t, err)
	defer ch.Close()

	conn := server.waitConn(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"message.created","message":{"id":9001,"conversation":55,"sender":7,"text":"hi","status":"sent"}}`)))

	select {
	case ev := <-events:
		created, ok := ev.(chat.MessageCreatedEvent)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, chat.MessageID(9001), created.Message.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMalformedPayloadsAreDroppedNotFatal(t *testing.T) {
	server := newWSServer(t)

	events := make(chan chat.Event, 8)
	ch, err := Dial(context.Background(), Config{BaseURL: server.baseURL()}, 55, Callbacks{
		OnEvent: func(ev chat.Event) { events <- ev },
	}, obs.Discard())
	require.NoError(t, err)
	defer ch.Close()

	conn := server.waitConn(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"no.such.event"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"conversation.typing","state":{"id":1,"conversation":55,"user":7,"is_typing":true}}`)))

	select {
	case ev := <-events:
		typing, ok := ev.(chat.TypingEvent)
		require.True(t, ok, "got %T", ev)
		assert.True(t, typing.State.IsTyping)
	case <-time.After(3 * time.Second):
		t.Fatal("valid event after garbage was not delivered")
	}
	assert.Empty(t, events, "garbage frames must not produce events")
}

func TestSendTyping(t *testing.T) {
	server := newWSServer(t)

	ch, err := Dial(context.Background(), Config{BaseURL: server.baseURL()}, 55, Callbacks{}, obs.Discard())
	require.NoError(t, err)
	defer ch.Close()
	server.waitConn(t)

	require.NoError(t, ch.SendTyping(true))
	require.NoError(t, ch.SendTyping(false))

	intents := server.waitIntents(t, 3)
	assert.Equal(t, "typing", intents[1]["action"])
	assert.Equal(t, true, intents[1]["is_typing"])
	assert.Equal(t, false, intents[2]["is_typing"])
}

func TestCloseIsCleanAndIdempotent(t *testing.T) {
	server := newWSServer(t)

	disconnected := make(chan error, 2)
	ch, err := Dial(context.Background(), Config{BaseURL: server.baseURL()}, 55, Callbacks{
		OnDisconnected: func(err error) { disconnected <- err },
	}, obs.Discard())
	require.NoError(t, err)
	server.waitConn(t)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	select {
	case err := <-disconnected:
		assert.NoError(t, err, "client-initiated close reports nil")
	case <-time.After(3 * time.Second):
		t.Fatal("OnDisconnected not fired")
	}
	assert.False(t, ch.Connected())
	assert.ErrorIs(t, ch.SendTyping(true), chat.ErrNotConnected)
}

func TestReconnectWithBackoffRejoins(t *testing.T) {
	server := newWSServer(t)

	var mu sync.Mutex
	var reconnects []bool
	connectedCh := make(chan bool, 4)
	ch, err := Dial(context.Background(), Config{
		BaseURL:    server.baseURL(),
		Reconnect:  true,
		MaxBackoff: time.Second,
	}, 55, Callbacks{
		OnConnected: func(re bool) {
			mu.Lock()
			reconnects = append(reconnects, re)
			mu.Unlock()
			connectedCh <- re
		},
	}, obs.Discard())
	require.NoError(t, err)
	defer ch.Close()

	first := server.waitConn(t)
	<-connectedCh
	server.waitIntents(t, 1)

	// Server-side drop: the channel must redial and re-join.
	first.Close()

	select {
	case re := <-connectedCh:
		assert.True(t, re, "second OnConnected must be flagged as reconnect")
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not reconnect")
	}
	server.waitConn(t)

	intents := server.waitIntents(t, 2)
	assert.Equal(t, "join", intents[0]["action"])
	assert.Equal(t, "join", intents[1]["action"])
}
