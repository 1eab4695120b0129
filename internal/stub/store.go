// Package stub is an in-repo marketplace backend used for local development
// and integration tests of the conversation client. It implements the REST
// and live-channel contracts the client consumes, backed by memory.
package stub

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"sokochat/internal/domain/chat"
)

// User is a seeded account.
type User struct {
	ID           chat.UserID
	Username     string
	PasswordHash string
}

// Store holds all stub state behind one mutex.
type Store struct {
	mu sync.Mutex

	users    map[chat.UserID]*User
	byName   map[string]chat.UserID
	sellers  map[chat.SellerID]chat.Seller
	products map[chat.ProductID]chat.Product

	conversations map[chat.ConversationID]*chat.Conversation
	messages      map[chat.ConversationID][]chat.Message
	states        map[chat.ConversationID][]chat.ParticipantState

	nextUser    chat.UserID
	nextConv    chat.ConversationID
	nextMessage chat.MessageID
	nextState   int64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:         make(map[chat.UserID]*User),
		byName:        make(map[string]chat.UserID),
		sellers:       make(map[chat.SellerID]chat.Seller),
		products:      make(map[chat.ProductID]chat.Product),
		conversations: make(map[chat.ConversationID]*chat.Conversation),
		messages:      make(map[chat.ConversationID][]chat.Message),
		states:        make(map[chat.ConversationID][]chat.ParticipantState),
	}
}

// AddUser registers an account with a bcrypt-hashed password.
func (s *Store) AddUser(username, password string) (chat.UserID, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUser++
	id := s.nextUser
	s.users[id] = &User{ID: id, Username: username, PasswordHash: string(hash)}
	s.byName[username] = id
	return id, nil
}

// Authenticate checks credentials and returns the user id.
func (s *Store) Authenticate(username, password string) (chat.UserID, error) {
	s.mu.Lock()
	id, ok := s.byName[username]
	var hash string
	if ok {
		hash = s.users[id].PasswordHash
	}
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("unknown user %q", username)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return 0, fmt.Errorf("bad credentials for %q", username)
	}
	return id, nil
}

// AddSeller registers a seller profile owned by a user.
func (s *Store) AddSeller(seller chat.Seller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sellers[seller.ID] = seller
}

// AddProduct registers a product.
func (s *Store) AddProduct(product chat.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

// Seller looks up a seller profile.
func (s *Store) Seller(id chat.SellerID) (chat.Seller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seller, ok := s.sellers[id]
	return seller, ok
}

// Product looks up a product.
func (s *Store) Product(id chat.ProductID) (chat.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[id]
	return product, ok
}

// GetOrCreateConversation returns the thread for (buyer, seller[, product]),
// creating it atomically on first contact. A buyer cannot open a thread with
// their own seller profile.
func (s *Store) GetOrCreateConversation(buyer chat.UserID, sellerID chat.SellerID, productID *chat.ProductID) (chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seller, ok := s.sellers[sellerID]
	if !ok {
		return chat.Conversation{}, fmt.Errorf("unknown seller %d", sellerID)
	}
	if seller.User == buyer {
		return chat.Conversation{}, errSelfConversation
	}

	for _, conv := range s.conversations {
		if conv.Buyer != buyer || conv.Seller != sellerID {
			continue
		}
		if !sameProduct(conv.Product, productID) {
			continue
		}
		return *conv, nil
	}

	s.nextConv++
	conv := &chat.Conversation{
		ID:        s.nextConv,
		Buyer:     buyer,
		Seller:    sellerID,
		Product:   productID,
		CreatedAt: time.Now().UTC(),
	}
	s.conversations[conv.ID] = conv
	return *conv, nil
}

func sameProduct(a, b *chat.ProductID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// IsParticipant reports whether a user belongs to a conversation, either as
// the buyer or as the seller profile's owner.
func (s *Store) IsParticipant(id chat.ConversationID, user chat.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isParticipantLocked(id, user)
}

func (s *Store) isParticipantLocked(id chat.ConversationID, user chat.UserID) bool {
	conv, ok := s.conversations[id]
	if !ok {
		return false
	}
	if conv.Buyer == user {
		return true
	}
	seller, ok := s.sellers[conv.Seller]
	return ok && seller.User == user
}

// OtherParticipant returns the user on the other side of a conversation.
func (s *Store) OtherParticipant(id chat.ConversationID, user chat.UserID) (chat.UserID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return 0, false
	}
	seller, ok := s.sellers[conv.Seller]
	if !ok {
		return 0, false
	}
	if conv.Buyer == user {
		return seller.User, true
	}
	return conv.Buyer, true
}

// ConversationSnapshot assembles the full conversation view for a viewer:
// nested messages, participant states, unread count, and the derived
// other-typing flag.
func (s *Store) ConversationSnapshot(id chat.ConversationID, viewer chat.UserID) (chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, fmt.Errorf("unknown conversation %d", id)
	}
	out := *conv
	out.Messages = append([]chat.Message(nil), s.messages[id]...)
	out.ParticipantStates = append([]chat.ParticipantState(nil), s.states[id]...)
	out.IsOtherTyping = chat.OtherTyping(out.ParticipantStates, viewer)
	out.UnreadCount = 0
	for _, m := range out.Messages {
		if m.Sender != viewer && !m.IsRead {
			out.UnreadCount++
		}
	}
	if n := len(out.Messages); n > 0 {
		last := out.Messages[n-1]
		out.LastMessage = &last
		out.LastMessageAt = last.CreatedAt
	}
	return out, nil
}

// AppendMessage stores a new message with status "sent".
func (s *Store) AppendMessage(id chat.ConversationID, sender chat.UserID, text string) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return chat.Message{}, fmt.Errorf("unknown conversation %d", id)
	}
	if !s.isParticipantLocked(id, sender) {
		return chat.Message{}, errNotParticipant
	}
	s.nextMessage++
	now := time.Now().UTC()
	msg := chat.Message{
		ID:           s.nextMessage,
		Conversation: id,
		Sender:       sender,
		Text:         text,
		Status:       chat.StatusSent,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.messages[id] = append(s.messages[id], msg)
	s.conversations[id].LastMessageAt = now
	return msg, nil
}

// AdvanceStatus moves a message's delivery status forward and returns the
// updated record. Regressions are ignored.
func (s *Store) AdvanceStatus(id chat.ConversationID, msgID chat.MessageID, status chat.DeliveryStatus) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[id]
	for i := range msgs {
		if msgs[i].ID != msgID {
			continue
		}
		if !status.AtLeast(msgs[i].Status) || msgs[i].Status == status {
			return msgs[i], false
		}
		msgs[i].Status = status
		msgs[i].IsRead = status == chat.StatusRead
		msgs[i].UpdatedAt = time.Now().UTC()
		return msgs[i], true
	}
	return chat.Message{}, false
}

// MarkSeen records that a user has seen the conversation: their participant
// state is stamped and every message from the other side is promoted to
// read. Returns the changed messages and the viewer's updated state.
func (s *Store) MarkSeen(id chat.ConversationID, user chat.UserID) ([]chat.Message, chat.ParticipantState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var changed []chat.Message
	msgs := s.messages[id]
	for i := range msgs {
		if msgs[i].Sender == user || msgs[i].Status == chat.StatusRead {
			continue
		}
		msgs[i].Status = chat.StatusRead
		msgs[i].IsRead = true
		msgs[i].UpdatedAt = now
		changed = append(changed, msgs[i])
	}
	state := s.upsertStateLocked(id, user, func(st *chat.ParticipantState) {
		st.LastSeenAt = &now
		st.LastReadAt = &now
		st.IsTyping = false
	})
	return changed, state
}

// SetTyping flips a participant's typing flag and returns the updated state.
func (s *Store) SetTyping(id chat.ConversationID, user chat.UserID, isTyping bool) chat.ParticipantState {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	return s.upsertStateLocked(id, user, func(st *chat.ParticipantState) {
		st.IsTyping = isTyping
		st.LastTypingAt = &now
	})
}

// States returns the participant-state list for a conversation.
func (s *Store) States(id chat.ConversationID) []chat.ParticipantState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.ParticipantState(nil), s.states[id]...)
}

func (s *Store) upsertStateLocked(id chat.ConversationID, user chat.UserID, mutate func(*chat.ParticipantState)) chat.ParticipantState {
	states := s.states[id]
	for i := range states {
		if states[i].User == user {
			mutate(&states[i])
			return states[i]
		}
	}
	s.nextState++
	st := chat.ParticipantState{ID: s.nextState, Conversation: id, User: user}
	mutate(&st)
	s.states[id] = append(states, st)
	return st
}
