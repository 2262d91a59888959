package bus

import (
	"time"
)

// Kind discriminates inbound envelope types.
type Kind string

const (
	// KindMessage is a user message for the agent.
	KindMessage Kind = "message"
	// KindCancel requests cancellation of an in-flight run.
	KindCancel Kind = "cancel"
	// KindHistory requests the recent transcript of a session.
	KindHistory Kind = "history"
	// KindCreateSession requests creation of a fresh session.
	KindCreateSession Kind = "create_session"
	// KindDeleteSession requests deletion of a session.
	KindDeleteSession Kind = "delete_session"
)

// InboundMessage is an envelope flowing from a channel to the router.
type InboundMessage struct {
	Kind      Kind              `json:"kind"`
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	Persona   string            `json:"persona,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// SessionKey derives the routing key for this envelope.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// NewMessage builds a user message envelope.
func NewMessage(channel, senderID, chatID, content string) InboundMessage {
	return InboundMessage{
		Kind:      KindMessage,
		Channel:   channel,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Event marks what an outbound message represents beyond plain content.
type Event string

const (
	// EventNone is a normal assistant reply.
	EventNone Event = ""
	// EventDelta is a streaming text fragment of an in-progress reply.
	EventDelta Event = "delta"
	// EventBusy signals the session already has a run in flight.
	EventBusy Event = "busy"
	// EventCancelled signals a run was cancelled.
	EventCancelled Event = "cancelled"
	// EventError signals a run failed.
	EventError Event = "error"
	// EventHistory carries a session transcript.
	EventHistory Event = "history"
	// EventSessionCreated confirms session creation.
	EventSessionCreated Event = "session_created"
	// EventSessionDeleted confirms session deletion.
	EventSessionDeleted Event = "session_deleted"
)

// HistoryEntry is one transcript line carried by a history response.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// OutboundMessage is an envelope flowing from the router back to channels.
type OutboundMessage struct {
	Channel   string            `json:"channel"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	Event     Event             `json:"event,omitempty"`
	History   []HistoryEntry    `json:"history,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewOutbound builds a plain reply envelope.
func NewOutbound(channel, chatID, content string) OutboundMessage {
	return OutboundMessage{
		Channel:   channel,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// SessionKey derives the session key for this envelope.
func (m OutboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}
