package session

import (
	"context"

	"sokochat/internal/domain/chat"
)

// API is the REST surface the session depends on. internal/infra/rest
// provides the production implementation.
type API interface {
	CreateConversation(ctx context.Context, sellerID chat.SellerID, productID *chat.ProductID) (chat.Conversation, error)
	GetConversation(ctx context.Context, id chat.ConversationID) (chat.Conversation, error)
	MarkSeen(ctx context.Context, id chat.ConversationID) error
	SendMessage(ctx context.Context, id chat.ConversationID, text string) (chat.Message, error)
}

// Channel is the live connection surface. internal/infra/ws provides the
// production implementation.
type Channel interface {
	SendTyping(isTyping bool) error
	Connected() bool
	Close() error
}

// ChannelCallbacks receive channel notifications. The channel invokes them
// from a single goroutine, one at a time.
type ChannelCallbacks struct {
	OnEvent        func(chat.Event)
	OnConnected    func(reconnected bool)
	OnDisconnected func(err error)
}

// ChannelDialer opens a live channel scoped to one conversation.
type ChannelDialer interface {
	DialChannel(ctx context.Context, conversation chat.ConversationID, cb ChannelCallbacks) (Channel, error)
}
