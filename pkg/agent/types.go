package agent

import (
	"strings"

	"github.com/jaredwolff/patina/pkg/tools"
)

// Message is a single conversation entry sent to a provider.
type Message struct {
	Role       string     `json:"role"` // user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Usage counts tokens for one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage count.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Request is a provider-agnostic model request.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []tools.Definition
	Temperature  float64
	MaxTokens    int
}

// Response is a provider-agnostic model response.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// IsRetryableError reports whether a provider error is worth retrying.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit",
		"429",
		"overloaded",
		"529",
		"timeout",
		"connection reset",
		"temporarily unavailable",
		"502",
		"503",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
