package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sokochat/internal/domain/chat"
	"sokochat/internal/infra/obs"
)

const viewer = chat.UserID(3)

type createCall struct {
	seller  chat.SellerID
	product *chat.ProductID
}

type fakeAPI struct {
	mu sync.Mutex

	createCalls []createCall
	createResp  chat.Conversation
	createErr   error

	getCalls []chat.ConversationID
	getResp  chat.Conversation
	getErr   error

	markSeenCalls []chat.ConversationID
	markSeenErr   error

	sendCalls []string
	sendResp  chat.Message
	sendErr   error
}

func (f *fakeAPI) CreateConversation(_ context.Context, sellerID chat.SellerID, productID *chat.ProductID) (chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, createCall{seller: sellerID, product: productID})
	return f.createResp, f.createErr
}

func (f *fakeAPI) GetConversation(_ context.Context, id chat.ConversationID) (chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls = append(f.getCalls, id)
	return f.getResp, f.getErr
}

func (f *fakeAPI) MarkSeen(_ context.Context, id chat.ConversationID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markSeenCalls = append(f.markSeenCalls, id)
	return f.markSeenErr
}

func (f *fakeAPI) SendMessage(_ context.Context, id chat.ConversationID, text string) (chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls = append(f.sendCalls, text)
	return f.sendResp, f.sendErr
}

func (f *fakeAPI) markSeenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.markSeenCalls)
}

func (f *fakeAPI) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.getCalls)
}

type fakeChannel struct {
	mu      sync.Mutex
	intents []bool
	closed  bool
}

func (f *fakeChannel) SendTyping(isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return chat.ErrNotConnected
	}
	f.intents = append(f.intents, isTyping)
	return nil
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) sentIntents() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.intents...)
}

type fakeDialer struct {
	mu      sync.Mutex
	channel *fakeChannel
	cb      ChannelCallbacks
	dialed  []chat.ConversationID
}

func (f *fakeDialer) DialChannel(_ context.Context, conversation chat.ConversationID, cb ChannelCallbacks) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialed = append(f.dialed, conversation)
	f.cb = cb
	if f.channel == nil {
		f.channel = &fakeChannel{}
	}
	return f.channel, nil
}

func newSession(api *fakeAPI, dialer *fakeDialer, idle time.Duration) *Session {
	return New(api, dialer, Config{Viewer: viewer, TypingIdle: idle}, obs.Discard())
}

// connect resolves conversation 55, opens the fake channel, and marks it
// live, mirroring the view-mount sequence.
func connect(t *testing.T, s *Session, dialer *fakeDialer) {
	t.Helper()
	_, err := s.Resolve(context.Background(), ResolveTarget{Conversation: 55})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	dialer.cb.OnConnected(false)
}

func msg(id chat.MessageID, sender chat.UserID, text string) chat.Message {
	return chat.Message{ID: id, Conversation: 55, Sender: sender, Text: text, Status: chat.StatusSent}
}

func TestResolveCreatesOnceForSellerProduct(t *testing.T) {
	// Scenario A: no prior conversation; one create call with seller and
	// product, the response id becomes the active conversation.
	api := &fakeAPI{createResp: chat.Conversation{ID: 100, Buyer: viewer, Seller: 7}}
	s := newSession(api, &fakeDialer{}, 0)

	id, err := s.Resolve(context.Background(), ResolveTarget{Seller: 7, Product: 42})
	require.NoError(t, err)
	assert.Equal(t, chat.ConversationID(100), id)
	require.Len(t, api.createCalls, 1)
	assert.Equal(t, chat.SellerID(7), api.createCalls[0].seller)
	require.NotNil(t, api.createCalls[0].product)
	assert.Equal(t, chat.ProductID(42), *api.createCalls[0].product)

	// Re-render: guard flag prevents a duplicate creation request.
	again, err := s.Resolve(context.Background(), ResolveTarget{Seller: 7, Product: 42})
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Len(t, api.createCalls, 1)
}

func TestResolveReusesKnownConversation(t *testing.T) {
	// Scenario B: a known id is reused; no creation call is issued.
	api := &fakeAPI{getResp: chat.Conversation{ID: 55}}
	s := newSession(api, &fakeDialer{}, 0)

	id, err := s.Resolve(context.Background(), ResolveTarget{Conversation: 55})
	require.NoError(t, err)
	assert.Equal(t, chat.ConversationID(55), id)
	assert.Empty(t, api.createCalls)

	require.NoError(t, s.LoadHistory(context.Background()))
	require.Len(t, api.getCalls, 1)
	assert.Equal(t, chat.ConversationID(55), api.getCalls[0])
}

func TestResolveWithoutContextFails(t *testing.T) {
	s := newSession(&fakeAPI{}, &fakeDialer{}, 0)
	_, err := s.Resolve(context.Background(), ResolveTarget{})
	assert.ErrorIs(t, err, chat.ErrMissingContext)
}

func TestResolveSelfConversationSurfacesSentinel(t *testing.T) {
	// Scenario E: the specific sentinel passes through untouched so the UI
	// can show "cannot message yourself" instead of the generic text.
	api := &fakeAPI{createErr: chat.ErrSelfConversation}
	s := newSession(api, &fakeDialer{}, 0)

	_, err := s.Resolve(context.Background(), ResolveTarget{Seller: 7})
	assert.ErrorIs(t, err, chat.ErrSelfConversation)
}

func TestLoadHistoryReplacesWholesale(t *testing.T) {
	api := &fakeAPI{getResp: chat.Conversation{
		ID:                55,
		Messages:          []chat.Message{msg(1, 7, "old a"), msg(2, viewer, "old b")},
		ParticipantStates: []chat.ParticipantState{{ID: 10, Conversation: 55, User: 7, IsTyping: true}},
	}}
	dialer := &fakeDialer{}
	s := newSession(api, dialer, 0)
	connect(t, s, dialer)

	// Seed divergent local state via live events, then resync.
	dialer.cb.OnEvent(chat.MessageCreatedEvent{Message: msg(90, viewer, "stale")})
	require.NoError(t, s.LoadHistory(context.Background()))

	got := s.Messages()
	require.Len(t, got, 2, "resync keeps exactly the fetched set")
	assert.Equal(t, chat.MessageID(1), got[0].ID)
	assert.Equal(t, chat.MessageID(2), got[1].ID)
	assert.True(t, s.OtherTyping())
	assert.GreaterOrEqual(t, api.markSeenCount(), 1, "mark seen fires on resync")
}

func TestLoadHistorySwallowsMarkSeenFailure(t *testing.T) {
	api := &fakeAPI{
		getResp:     chat.Conversation{ID: 55, Messages: []chat.Message{msg(1, 7, "a")}},
		markSeenErr: errors.New("boom"),
	}
	s := newSession(api, &fakeDialer{}, 0)
	_, err := s.Resolve(context.Background(), ResolveTarget{Conversation: 55})
	require.NoError(t, err)

	assert.NoError(t, s.LoadHistory(context.Background()), "mark-seen failure never fails the read path")
	assert.Len(t, s.Messages(), 1)
}

func TestDedupLiveEchoBeforeRESTResponse(t *testing.T) {
	// The channel delivers the message before the REST send returns: the
	// final list holds exactly one entry for that id.
	api := &fakeAPI{sendResp: msg(9001, viewer, "hello")}
	dialer := &fakeDialer{}
	s := newSession(api, dialer, 0)
	connect(t, s, dialer)

	dialer.cb.OnEvent(chat.MessageCreatedEvent{Message: msg(9001, viewer, "hello")})
	_, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)

	got := s.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, chat.MessageID(9001), got[0].ID)
}

func TestDedupRESTResponseBeforeLiveEcho(t *testing.T) {
	api := &fakeAPI{sendResp: msg(9001, viewer, "hello")}
	dialer := &fakeDialer{}
	s := newSession(api, dialer, 0)
	connect(t, s, dialer)

	_, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	dialer.cb.OnEvent(chat.MessageCreatedEvent{Message: msg(9001, viewer, "hello")})

	require.Len(t, s.Messages(), 1)
}

func TestAppendsPreserveOrderAndUpdatesPreservePosition(t *testing.T) {
	dialer := &fakeDialer{}
	s := newSession(&fakeAPI{}, dialer, 0)
	connect(t, s, dialer)

	dialer.cb.OnEvent(chat.MessageCreatedEvent{Message: msg(1, 7, "a")})
	dialer.cb.OnEvent(chat.MessageCreatedEvent{Message: msg(2, viewer, "b")})
	dialer.cb.OnEvent(chat.MessageCreatedEvent{Message: msg(3, 7, "c")})

	updated := msg(2, viewer, "b")
	updated.Status = chat.StatusRead
	dialer.cb.OnEvent(chat.MessageUpdatedEvent{Message: updated})

	got := s.Messages()
	require.Len(t, got, 3)
	assert.Equal(t, chat.MessageID(1), got[0].ID)
	assert.Equal(t, chat.MessageID(2), got[1].ID)
	assert.Equal(t, chat.MessageID(3), got[2].ID)
	assert.Equal(t, chat.StatusRead, got[1].Status, "update changes content in place")
}

func TestUpdateForUnknownIDIsNoOp(t *testing.T) {
	dialer := &fakeDialer{}
	s := newSession(&fakeAPI{}, dialer, 0)
	connect(t, s, dialer)

	dialer.cb.OnEvent(chat.MessageUpdatedEvent{Message: msg(404, 7, "ghost")})
	assert.Empty(t, s.Messages())
}

func TestMessageFromOtherTriggersMarkSeenOnce(t *testing.T) {
	// Scenario C: a live message from the other participant is appended and
	// mark-seen fires exactly once for that event.
	api := &fakeAPI{}
	dialer := &fakeDialer{}
	s := newSession(api, dialer, 0)
	connect(t, s, dialer)

	dialer.cb.OnEvent(chat.MessageCreatedEvent{Message: msg(9001, 7, "habari")})

	require.Len(t, s.Messages(), 1)
	assert.Equal(t, 1, api.markSeenCount())
}

func TestOwnMessageEchoDoesNotMarkSeen(t *testing.T) {
	api := &fakeAPI{}
	dialer := &fakeDialer{}
	s := newSession(api, dialer, 0)
	connect(t, s, dialer)

	dialer.cb.OnEvent(chat.MessageCreatedEvent{Message: msg(9002, viewer, "mine")})
	assert.Zero(t, api.markSeenCount())
}

func TestSendWhileDisconnectedForcesResync(t *testing.T) {
	// Scenario D: REST send succeeds with the channel down; the message is
	// appended and a full history resync follows.
	api := &fakeAPI{
		sendResp: msg(9001, viewer, "hello"),
		getResp:  chat.Conversation{ID: 55, Messages: []chat.Message{msg(9001, viewer, "hello")}},
	}
	dialer := &fakeDialer{}
	s := newSession(api, dialer, 0)
	_, err := s.Resolve(context.Background(), ResolveTarget{Conversation: 55})
	require.NoError(t, err)

	sent, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, chat.MessageID(9001), sent.ID)
	assert.Equal(t, []string{"hello"}, api.sendCalls)
	assert.Equal(t, 1, api.getCount(), "offline send must trigger a resync")
	require.Len(t, s.Messages(), 1)
}

func TestSendWhileConnectedSkipsResync(t *testing.T) {
	api := &fakeAPI{sendResp: msg(9001, viewer, "hello")}
	dialer := &fakeDialer{}
	s := newSession(api, dialer, 0)
	connect(t, s, dialer)

	_, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Zero(t, api.getCount())
}

func TestSendFailureSurfacesWithoutAppending(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("network down")}
	dialer := &fakeDialer{}
	s := newSession(api, dialer, 0)
	connect(t, s, dialer)

	_, err := s.Send(context.Background(), "hello")
	assert.Error(t, err)
	assert.Empty(t, s.Messages())
}

func TestTypingEventUpsertsByStateID(t *testing.T) {
	dialer := &fakeDialer{}
	s := newSession(&fakeAPI{}, dialer, 0)
	connect(t, s, dialer)

	dialer.cb.OnEvent(chat.TypingEvent{State: chat.ParticipantState{ID: 10, Conversation: 55, User: 7, IsTyping: true}})
	assert.True(t, s.OtherTyping())

	dialer.cb.OnEvent(chat.TypingEvent{State: chat.ParticipantState{ID: 10, Conversation: 55, User: 7, IsTyping: false}})
	assert.False(t, s.OtherTyping())
	assert.Len(t, s.States(), 1, "same state id replaces, never duplicates")
}

func TestViewerTypingNeverSurfaces(t *testing.T) {
	dialer := &fakeDialer{}
	s := newSession(&fakeAPI{}, dialer, 0)
	connect(t, s, dialer)

	dialer.cb.OnEvent(chat.TypingEvent{State: chat.ParticipantState{ID: 11, Conversation: 55, User: viewer, IsTyping: true}})
	dialer.cb.OnEvent(chat.TypingEvent{State: chat.ParticipantState{ID: 12, Conversation: 55, User: viewer, IsTyping: true}})
	assert.False(t, s.OtherTyping())
}

func TestBulkStateReplacesWholesale(t *testing.T) {
	dialer := &fakeDialer{}
	s := newSession(&fakeAPI{}, dialer, 0)
	connect(t, s, dialer)

	dialer.cb.OnEvent(chat.MessageCreatedEvent{Message: msg(1, 7, "a")})
	dialer.cb.OnEvent(chat.MessageCreatedEvent{Message: msg(2, 7, "b")})

	dialer.cb.OnEvent(chat.BulkStateEvent{
		Messages:          []chat.Message{msg(5, 7, "x"), msg(6, viewer, "y"), msg(7, 7, "z")},
		ParticipantStates: []chat.ParticipantState{{ID: 10, Conversation: 55, User: 7}},
	})

	got := s.Messages()
	require.Len(t, got, 3, "prior entries not in the snapshot are discarded")
	assert.Equal(t, chat.MessageID(5), got[0].ID)
	assert.Len(t, s.States(), 1)
}

func TestBulkStateLeavesAbsentListsUntouched(t *testing.T) {
	dialer := &fakeDialer{}
	s := newSession(&fakeAPI{}, dialer, 0)
	connect(t, s, dialer)

	dialer.cb.OnEvent(chat.MessageCreatedEvent{Message: msg(1, 7, "a")})
	dialer.cb.OnEvent(chat.BulkStateEvent{
		ParticipantStates: []chat.ParticipantState{{ID: 10, Conversation: 55, User: 7, IsTyping: true}},
	})

	assert.Len(t, s.Messages(), 1, "messages absent from payload stay as-is")
	assert.True(t, s.OtherTyping())
}

func TestReconnectTriggersResync(t *testing.T) {
	api := &fakeAPI{getResp: chat.Conversation{ID: 55, Messages: []chat.Message{msg(1, 7, "a")}}}
	dialer := &fakeDialer{}
	s := newSession(api, dialer, 0)
	connect(t, s, dialer)

	dialer.cb.OnDisconnected(errors.New("socket dropped"))
	assert.False(t, s.Connected())

	dialer.cb.OnConnected(true)
	require.Eventually(t, func() bool { return api.getCount() == 1 }, 3*time.Second, 10*time.Millisecond,
		"reconnect must force a history resync")
	assert.True(t, s.Connected())
}

func TestCloseTearsDownChannel(t *testing.T) {
	dialer := &fakeDialer{}
	s := newSession(&fakeAPI{}, dialer, 50*time.Millisecond)
	connect(t, s, dialer)

	s.InputChanged("hal") // arm the debounce timer
	s.Close()
	assert.True(t, dialer.channel.closed)

	// The pending timer was cancelled: no trailing typing:false shows up.
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, []bool{true}, dialer.channel.sentIntents())
}

func TestSubscribePublishesSnapshots(t *testing.T) {
	dialer := &fakeDialer{}
	s := newSession(&fakeAPI{}, dialer, 0)

	var mu sync.Mutex
	var snaps []Snapshot
	cancel := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		snaps = append(snaps, snap)
		mu.Unlock()
	})
	connect(t, s, dialer)
	dialer.cb.OnEvent(chat.MessageCreatedEvent{Message: msg(1, 7, "a")})

	mu.Lock()
	n := len(snaps)
	last := snaps[n-1]
	mu.Unlock()
	require.NotZero(t, n)
	assert.Len(t, last.Messages, 1)
	assert.True(t, last.Connected)

	cancel()
	dialer.cb.OnEvent(chat.MessageCreatedEvent{Message: msg(2, 7, "b")})
	mu.Lock()
	assert.Equal(t, n, len(snaps), "unsubscribed listeners stop receiving")
	mu.Unlock()
}
