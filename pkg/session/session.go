package session

import (
	"time"
)

// Turn is a single transcript entry.
type Turn struct {
	Role      string    `json:"role"` // user, assistant, system
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ToolsUsed []string  `json:"tools_used,omitempty"`
}

// NewTurn builds a turn stamped with the current time.
func NewTurn(role, content string) Turn {
	return Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Metadata is the first record of every session file. It is rewritten
// in place on update while turns are only ever appended.
type Metadata struct {
	Type             string            `json:"_type"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	LastConsolidated int               `json:"last_consolidated"`
	Persona          string            `json:"persona,omitempty"`
	Extensions       map[string]string `json:"extensions,omitempty"`
}

// metadataType marks the metadata record on disk.
const metadataType = "metadata"

// NewMetadata builds metadata for a fresh session.
func NewMetadata() Metadata {
	now := time.Now().UTC()
	return Metadata{
		Type:      metadataType,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Session is a loaded transcript plus its metadata.
type Session struct {
	Key   string
	Meta  Metadata
	Turns []Turn
}

// Window returns the most recent n turns.
func (s *Session) Window(n int) []Turn {
	if n <= 0 || len(s.Turns) <= n {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// Info is a listing entry produced without reading full transcripts.
type Info struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Persona   string    `json:"persona,omitempty"`
}
