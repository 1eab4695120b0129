// Package session implements the conversation client core: conversation
// resolution, history loading, live-event reconciliation, and typing
// debouncing. One Session serves one mounted conversation view.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sokochat/internal/domain/chat"
)

const defaultTypingIdle = 2500 * time.Millisecond

// Config defines session settings.
type Config struct {
	// Viewer is the logged-in user, used for typing suppression, status
	// marks, and mark-seen decisions.
	Viewer chat.UserID
	// TypingIdle is the inactivity window after which a typing:false intent
	// is emitted. Defaults to 2.5s.
	TypingIdle time.Duration
}

// ResolveTarget names the conversation to operate on: either an existing id,
// or a (seller, product) pair to create-or-get. Zero values mean "unset".
type ResolveTarget struct {
	Conversation chat.ConversationID
	Seller       chat.SellerID
	Product      chat.ProductID
}

// Snapshot is the rendering-ready view of the session state handed to
// subscribers. Slices are copies; subscribers may keep them.
type Snapshot struct {
	Conversation chat.Conversation
	Messages     []chat.Message
	States       []chat.ParticipantState
	OtherTyping  bool
	Connected    bool
}

// Session owns the canonical message and participant-state lists for one
// conversation view. All state is guarded by one mutex; the channel read
// goroutine, REST completions, and debounce timers all serialize on it.
type Session struct {
	api        API
	dialer     ChannelDialer
	logger     *slog.Logger
	viewer     chat.UserID
	typingIdle time.Duration

	mu           sync.Mutex
	resolveMu    sync.Mutex
	conversation chat.ConversationID
	resolved     bool
	meta         chat.Conversation
	messages     []chat.Message
	index        map[chat.MessageID]int
	states       []chat.ParticipantState
	channel      Channel
	connected    bool
	closed       bool

	typing      bool
	typingTimer *time.Timer

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// New builds a session over the given ports.
func New(api API, dialer ChannelDialer, cfg Config, logger *slog.Logger) *Session {
	idle := cfg.TypingIdle
	if idle <= 0 {
		idle = defaultTypingIdle
	}
	return &Session{
		api:        api,
		dialer:     dialer,
		logger:     logger,
		viewer:     cfg.Viewer,
		typingIdle: idle,
		index:      make(map[chat.MessageID]int),
		subs:       make(map[int]func(Snapshot)),
	}
}

// Subscribe registers a listener invoked with a fresh snapshot after every
// state change. The returned function unsubscribes it.
func (s *Session) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Resolve determines the conversation to operate on. A known id is reused
// as-is; otherwise a create-or-get call is issued with the seller (required)
// and product (optional). The result is sticky: once resolved, later calls
// return the same id without touching the network.
func (s *Session) Resolve(ctx context.Context, target ResolveTarget) (chat.ConversationID, error) {
	s.resolveMu.Lock()
	defer s.resolveMu.Unlock()

	s.mu.Lock()
	if s.resolved {
		id := s.conversation
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	if target.Conversation != 0 {
		s.setResolved(target.Conversation)
		return target.Conversation, nil
	}
	if target.Seller == 0 {
		return 0, chat.ErrMissingContext
	}
	var productID *chat.ProductID
	if target.Product != 0 {
		p := target.Product
		productID = &p
	}
	conv, err := s.api.CreateConversation(ctx, target.Seller, productID)
	if err != nil {
		// chat.ErrSelfConversation passes through for the distinct message.
		return 0, err
	}
	s.mu.Lock()
	s.meta = conv
	s.mu.Unlock()
	s.setResolved(conv.ID)
	return conv.ID, nil
}

func (s *Session) setResolved(id chat.ConversationID) {
	s.mu.Lock()
	s.conversation = id
	s.resolved = true
	s.mu.Unlock()
	s.publish()
}

// ConversationID returns the resolved conversation id, zero if unresolved.
func (s *Session) ConversationID() chat.ConversationID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation
}

// LoadHistory fetches the conversation with its full message list and
// participant states and replaces local state wholesale. This is the resync
// primitive: it runs at bootstrap and whenever the live channel cannot be
// trusted. A best-effort mark-seen fires on success.
func (s *Session) LoadHistory(ctx context.Context) error {
	s.mu.Lock()
	if !s.resolved {
		s.mu.Unlock()
		return chat.ErrMissingContext
	}
	id := s.conversation
	s.mu.Unlock()

	conv, err := s.api.GetConversation(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.meta = conv
	s.replaceMessagesLocked(conv.Messages)
	s.states = append([]chat.ParticipantState(nil), conv.ParticipantStates...)
	s.mu.Unlock()
	s.publish()

	s.markSeenQuiet(ctx, id)
	return nil
}

// markSeenQuiet is the best-effort read receipt: failures are logged and
// swallowed so the read path never blocks on it.
func (s *Session) markSeenQuiet(ctx context.Context, id chat.ConversationID) {
	if err := s.api.MarkSeen(ctx, id); err != nil {
		s.logger.Warn("mark seen failed", "conversation", id, "error", err)
	}
}

func (s *Session) replaceMessagesLocked(msgs []chat.Message) {
	s.messages = append([]chat.Message(nil), msgs...)
	s.index = make(map[chat.MessageID]int, len(msgs))
	for i, m := range s.messages {
		s.index[m.ID] = i
	}
}

// Connect opens the live channel for the resolved conversation. Exactly one
// channel exists per session; a prior one is torn down first.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if !s.resolved {
		s.mu.Unlock()
		return chat.ErrMissingContext
	}
	id := s.conversation
	old := s.channel
	s.channel = nil
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}

	ch, err := s.dialer.DialChannel(ctx, id, ChannelCallbacks{
		OnEvent:        s.handleEvent,
		OnConnected:    s.handleConnected,
		OnDisconnected: s.handleDisconnected,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.channel = ch
	s.mu.Unlock()
	return nil
}

func (s *Session) handleConnected(reconnected bool) {
	s.mu.Lock()
	s.connected = true
	id := s.conversation
	s.mu.Unlock()
	s.publish()
	if reconnected {
		// The channel was dark for a while; only a wholesale resync makes
		// the local list trustworthy again.
		go func() {
			if err := s.LoadHistory(context.Background()); err != nil {
				s.logger.Warn("resync after reconnect failed", "conversation", id, "error", err)
			}
		}()
	}
}

func (s *Session) handleDisconnected(err error) {
	s.mu.Lock()
	s.connected = false
	s.stopTypingTimerLocked()
	s.typing = false
	id := s.conversation
	s.mu.Unlock()
	s.publish()
	if err != nil {
		s.logger.Info("live channel disconnected", "conversation", id, "error", err)
	}
}

// handleEvent is the single entry point for decoded live events.
func (s *Session) handleEvent(ev chat.Event) {
	switch ev := ev.(type) {
	case chat.ConnectionEvent:
		s.logger.Debug("live channel hello", "conversation", ev.Conversation, "user", ev.User)
	case chat.MessageCreatedEvent:
		s.applyCreated(ev.Message)
	case chat.MessageUpdatedEvent:
		s.applyUpdated(ev.Message)
	case chat.TypingEvent:
		s.applyTyping(ev.State)
	case chat.BulkStateEvent:
		s.applyBulk(ev)
	}
}

// applyCreated appends an unseen message or overwrites the entry with the
// same id in place; the overwrite covers server-confirmed updates to an
// optimistic entry. Messages from the other participant trigger a
// best-effort mark-seen.
func (s *Session) applyCreated(msg chat.Message) {
	s.mu.Lock()
	s.upsertMessageLocked(msg)
	id := s.conversation
	fromOther := msg.Sender != s.viewer
	s.mu.Unlock()
	s.publish()
	if fromOther {
		s.markSeenQuiet(context.Background(), id)
	}
}

// applyUpdated overwrites the matching entry in place and is a no-op when
// the id was never seen. Last write wins: no version is compared.
func (s *Session) applyUpdated(msg chat.Message) {
	s.mu.Lock()
	i, ok := s.index[msg.ID]
	if ok {
		s.messages[i] = msg
	}
	s.mu.Unlock()
	if ok {
		s.publish()
	}
}

// applyTyping upserts the participant-state row matching the event's state
// identifier.
func (s *Session) applyTyping(state chat.ParticipantState) {
	s.mu.Lock()
	replaced := false
	for i := range s.states {
		if s.states[i].ID == state.ID {
			s.states[i] = state
			replaced = true
			break
		}
	}
	if !replaced {
		s.states = append(s.states, state)
	}
	s.mu.Unlock()
	s.publish()
}

// applyBulk wholesale-replaces whichever lists the snapshot carries.
func (s *Session) applyBulk(ev chat.BulkStateEvent) {
	s.mu.Lock()
	if ev.Messages != nil {
		s.replaceMessagesLocked(ev.Messages)
	}
	if ev.ParticipantStates != nil {
		s.states = append([]chat.ParticipantState(nil), ev.ParticipantStates...)
	}
	s.mu.Unlock()
	s.publish()
}

func (s *Session) upsertMessageLocked(msg chat.Message) {
	if i, ok := s.index[msg.ID]; ok {
		s.messages[i] = msg
		return
	}
	s.messages = append(s.messages, msg)
	s.index[msg.ID] = len(s.messages) - 1
}

// Send posts a message over REST and reconciles the response against the
// live list: the server-assigned record is appended only if the channel has
// not already delivered it. When the channel is down at send time a full
// history resync follows, since no live echo can be relied upon.
func (s *Session) Send(ctx context.Context, text string) (chat.Message, error) {
	s.mu.Lock()
	if !s.resolved {
		s.mu.Unlock()
		return chat.Message{}, chat.ErrMissingContext
	}
	id := s.conversation
	connected := s.connected
	s.mu.Unlock()

	msg, err := s.api.SendMessage(ctx, id, text)
	if err != nil {
		return chat.Message{}, err
	}

	s.mu.Lock()
	if _, ok := s.index[msg.ID]; !ok {
		s.upsertMessageLocked(msg)
	}
	s.mu.Unlock()
	s.publish()

	if !connected {
		if err := s.LoadHistory(ctx); err != nil {
			s.logger.Warn("resync after offline send failed", "conversation", id, "error", err)
		}
	}
	return msg, nil
}

// Close tears the session down: the channel is closed and any pending typing
// timer is cancelled. In-flight REST results applied afterwards remain
// harmless because all handlers are idempotent by identifier.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTypingTimerLocked()
	s.typing = false
	ch := s.channel
	s.channel = nil
	s.connected = false
	s.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

// Connected reports whether the live channel is currently open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Messages returns a copy of the canonical ordered message list.
func (s *Session) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Message(nil), s.messages...)
}

// States returns a copy of the participant-state list.
func (s *Session) States() []chat.ParticipantState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.ParticipantState(nil), s.states...)
}

// OtherTyping derives "the other side is typing", never counting the viewer.
func (s *Session) OtherTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return chat.OtherTyping(s.states, s.viewer)
}

// Snapshot assembles the rendering-ready view under the lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Conversation: s.meta,
		Messages:     append([]chat.Message(nil), s.messages...),
		States:       append([]chat.ParticipantState(nil), s.states...),
		OtherTyping:  chat.OtherTyping(s.states, s.viewer),
		Connected:    s.connected,
	}
}

func (s *Session) publish() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.subMu.Lock()
	listeners := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	s.subMu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
