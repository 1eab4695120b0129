package chat

import (
	"encoding/json"
	"fmt"
)

// EventType tags events arriving on the live channel.
type EventType string

const (
	EventConnection     EventType = "connection"
	EventMessageCreated EventType = "message.created"
	EventMessageUpdated EventType = "message.updated"
	EventTyping         EventType = "conversation.typing"
	EventBulkState      EventType = "conversation.bulk_state"
)

// Event is the decoded form of one inbound channel payload. Payloads are
// decoded exactly once, at the channel boundary; everything past that point
// works with these concrete variants.
type Event interface {
	Type() EventType
}

// ConnectionEvent is the hello frame sent by the server right after the
// socket is accepted.
type ConnectionEvent struct {
	Conversation ConversationID `json:"conversation_id"`
	User         UserID         `json:"user_id"`
}

func (ConnectionEvent) Type() EventType { return EventConnection }

// MessageCreatedEvent carries a newly stored message.
type MessageCreatedEvent struct {
	Message Message `json:"message"`
}

func (MessageCreatedEvent) Type() EventType { return EventMessageCreated }

// MessageUpdatedEvent carries a full replacement for an existing message.
type MessageUpdatedEvent struct {
	Message Message `json:"message"`
}

func (MessageUpdatedEvent) Type() EventType { return EventMessageUpdated }

// TypingEvent carries one participant-state row to upsert.
type TypingEvent struct {
	State ParticipantState `json:"state"`
}

func (TypingEvent) Type() EventType { return EventTyping }

// BulkStateEvent is a resync snapshot. Nil slices mean "absent": only the
// lists present in the payload are replaced.
type BulkStateEvent struct {
	Messages          []Message          `json:"messages"`
	ParticipantStates []ParticipantState `json:"participant_states"`
}

func (BulkStateEvent) Type() EventType { return EventBulkState }

type eventEnvelope struct {
	Type EventType `json:"type"`
}

// DecodeEvent parses one inbound channel payload into its typed variant.
// Unknown types and malformed payloads return an error; the channel logs and
// drops them without disturbing the read loop.
func DecodeEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("chat: malformed event payload: %w", err)
	}
	switch env.Type {
	case EventConnection:
		var ev ConnectionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("chat: malformed %s event: %w", env.Type, err)
		}
		return ev, nil
	case EventMessageCreated:
		var ev MessageCreatedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("chat: malformed %s event: %w", env.Type, err)
		}
		return ev, nil
	case EventMessageUpdated:
		var ev MessageUpdatedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("chat: malformed %s event: %w", env.Type, err)
		}
		return ev, nil
	case EventTyping:
		var ev TypingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("chat: malformed %s event: %w", env.Type, err)
		}
		return ev, nil
	case EventBulkState:
		var ev BulkStateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("chat: malformed %s event: %w", env.Type, err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("chat: unknown event type %q", env.Type)
	}
}

// EncodeEvent renders an event as one channel frame, splicing the type tag
// into the payload object. The inverse of DecodeEvent.
func EncodeEvent(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("chat: encode %s event: %w", ev.Type(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("chat: encode %s event: %w", ev.Type(), err)
	}
	tag, err := json.Marshal(ev.Type())
	if err != nil {
		return nil, fmt.Errorf("chat: encode %s event: %w", ev.Type(), err)
	}
	fields["type"] = tag
	return json.Marshal(fields)
}

// IntentAction tags intents the client sends over the live channel.
type IntentAction string

const (
	ActionJoin   IntentAction = "join"
	ActionTyping IntentAction = "typing"
)

// JoinIntent announces which conversation this socket serves.
type JoinIntent struct {
	Action       IntentAction   `json:"action"`
	Conversation ConversationID `json:"conversation"`
}

// NewJoinIntent builds the join frame for a conversation.
func NewJoinIntent(id ConversationID) JoinIntent {
	return JoinIntent{Action: ActionJoin, Conversation: id}
}

// TypingIntent signals that the viewer started or stopped typing.
type TypingIntent struct {
	Action   IntentAction `json:"action"`
	IsTyping bool         `json:"is_typing"`
}

// NewTypingIntent builds a typing frame.
func NewTypingIntent(isTyping bool) TypingIntent {
	return TypingIntent{Action: ActionTyping, IsTyping: isTyping}
}
