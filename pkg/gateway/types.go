package gateway

import "time"

// Inbound WebSocket message types.
const (
	TypeMessage       = "message"
	TypeGetHistory    = "get_history"
	TypeCreateSession = "create_session"
	TypeDeleteSession = "delete_session"
	TypeCancel        = "cancel"
)

// Outbound WebSocket message types.
const (
	TypeConnected      = "connected"
	TypeTextDelta      = "text_delta"
	TypeUserMessage    = "user_message"
	TypeThinking       = "thinking"
	TypeHistory        = "history"
	TypeSessionCreated = "session_created"
	TypeSessionDeleted = "session_deleted"
	TypeBusy           = "busy"
	TypeError          = "error"
)

// ClientMessage is one frame from a browser client.
type ClientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	ChatID  string `json:"chatId,omitempty"`
	Persona string `json:"persona,omitempty"`
}

// ServerMessage is one frame to browser clients.
type ServerMessage struct {
	Type      string           `json:"type"`
	Content   string           `json:"content,omitempty"`
	ChatID    string           `json:"chatId,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
	Messages  []HistoryMessage `json:"messages,omitempty"`
}

// HistoryMessage is one transcript line in a history frame.
type HistoryMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// SessionInfo is one row of the sessions API response.
type SessionInfo struct {
	ID        string    `json:"id"`
	Persona   string    `json:"persona,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
