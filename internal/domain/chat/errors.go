package chat

import "errors"

// SelfConversationDetail is the exact error detail the backend returns when
// a buyer tries to open a thread with their own seller profile. The client
// matches it verbatim to pick the friendly message over the generic one.
const SelfConversationDetail = "You cannot start a conversation with yourself."

var (
	// ErrMissingContext means neither a conversation id nor a seller id is
	// available, so there is no conversation target to resolve.
	ErrMissingContext = errors.New("chat: cannot determine conversation target")

	// ErrSelfConversation is the mapped form of SelfConversationDetail.
	ErrSelfConversation = errors.New("chat: cannot start a conversation with yourself")

	// ErrNotParticipant means the viewer is not part of the conversation.
	ErrNotParticipant = errors.New("chat: not a conversation participant")

	// ErrNotConnected means an intent was attempted with no open channel.
	ErrNotConnected = errors.New("chat: live channel not connected")
)
