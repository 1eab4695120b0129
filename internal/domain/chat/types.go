package chat

import "time"

// ConversationID identifies a buyer-seller thread.
type ConversationID int64

// UserID identifies a platform user.
type UserID int64

// SellerID identifies a seller profile.
type SellerID int64

// ProductID identifies a product listing.
type ProductID int64

// MessageID identifies a single chat message.
type MessageID int64

// DeliveryStatus is the lifecycle of an outbound message as seen by its
// sender. It only ever moves forward: sent -> delivered -> read.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

// rank orders statuses for comparisons; unknown values rank lowest.
func (s DeliveryStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// AtLeast reports whether s is equal to or later than other in the
// sent -> delivered -> read progression.
func (s DeliveryStatus) AtLeast(other DeliveryStatus) bool {
	return s.rank() >= other.rank()
}

// Indicator renders the status mark shown next to the viewer's own messages:
// a single mark for sent, a double mark for delivered, and a double mark
// plus a read flag for read. Received messages carry no indicator.
func (s DeliveryStatus) Indicator() (marks string, read bool) {
	switch s {
	case StatusDelivered:
		return "✓✓", false
	case StatusRead:
		return "✓✓", true
	default:
		return "✓", false
	}
}

// Conversation is a persistent buyer-seller thread, optionally scoped to a
// product. The server enforces uniqueness per (buyer, seller[, product]).
type Conversation struct {
	ID                ConversationID     `json:"id"`
	Buyer             UserID             `json:"buyer"`
	Seller            SellerID           `json:"seller"`
	Product           *ProductID         `json:"product,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	LastMessageAt     time.Time          `json:"last_message_at,omitempty"`
	LastMessage       *Message           `json:"last_message,omitempty"`
	UnreadCount       int                `json:"unread_count"`
	IsOtherTyping     bool               `json:"is_other_typing"`
	Messages          []Message          `json:"messages,omitempty"`
	ParticipantStates []ParticipantState `json:"participant_states,omitempty"`
}

// Message is one chat message inside a conversation.
type Message struct {
	ID           MessageID      `json:"id"`
	Conversation ConversationID `json:"conversation"`
	Sender       UserID         `json:"sender"`
	Text         string         `json:"text"`
	Status       DeliveryStatus `json:"status"`
	IsRead       bool           `json:"is_read"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ParticipantState tracks per-participant presence inside a conversation:
// one row per (conversation, user).
type ParticipantState struct {
	ID           int64          `json:"id"`
	Conversation ConversationID `json:"conversation"`
	User         UserID         `json:"user"`
	IsTyping     bool           `json:"is_typing"`
	LastTypingAt *time.Time     `json:"last_typing_at,omitempty"`
	LastSeenAt   *time.Time     `json:"last_seen_at,omitempty"`
	LastReadAt   *time.Time     `json:"last_read_at,omitempty"`
}

// OtherTyping reports whether any participant other than viewer is
// currently typing. The viewer's own rows are never surfaced.
func OtherTyping(states []ParticipantState, viewer UserID) bool {
	for _, st := range states {
		if st.User != viewer && st.IsTyping {
			return true
		}
	}
	return false
}

// Product is the minimal product view used for context fallback before a
// conversation is resolved.
type Product struct {
	ID       ProductID `json:"id"`
	Seller   SellerID  `json:"seller"`
	Name     string    `json:"name"`
	Price    string    `json:"price"`
	Currency string    `json:"currency"`
	ImageURL string    `json:"image_url,omitempty"`
}

// Seller is the minimal seller profile view used for context fallback.
type Seller struct {
	ID           SellerID `json:"id"`
	User         UserID   `json:"user"`
	BusinessName string   `json:"business_name"`
	IsVerified   bool     `json:"is_verified"`
	Rating       string   `json:"rating"`
}
