package ws

import (
	"context"
	"log/slog"

	"sokochat/internal/app/session"
	"sokochat/internal/domain/chat"
)

// SessionDialer adapts this package to the session's ChannelDialer port.
type SessionDialer struct {
	Cfg    Config
	Logger *slog.Logger
}

// DialChannel opens a live channel for one conversation.
func (d SessionDialer) DialChannel(ctx context.Context, conversation chat.ConversationID, cb session.ChannelCallbacks) (session.Channel, error) {
	return Dial(ctx, d.Cfg, conversation, Callbacks{
		OnEvent:        cb.OnEvent,
		OnConnected:    cb.OnConnected,
		OnDisconnected: cb.OnDisconnected,
	}, d.Logger)
}

var _ session.ChannelDialer = SessionDialer{}
