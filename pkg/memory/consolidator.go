package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jaredwolff/patina/internal/observability"
	"github.com/jaredwolff/patina/pkg/agent"
	"github.com/jaredwolff/patina/pkg/session"
)

const consolidationPrompt = `You are a memory consolidation agent. Process this conversation and return a JSON object with exactly two keys:

1. "history_entry": A paragraph (2-5 sentences) summarizing the key events/decisions/topics. Start with a timestamp like [YYYY-MM-DD HH:MM]. Include enough detail to be useful when found by grep search later.

2. "memory_update": The updated long-term memory content. Add any new facts: user location, preferences, personal info, habits, project context, technical decisions, tools/services used. If nothing new, return the existing content unchanged.

## Current Long-term Memory
%s

## Conversation to Process
%s

Respond with ONLY valid JSON, no markdown fences.`

// Consolidator summarizes transcript windows into the memory files
// and advances the session's consolidation watermark.
type Consolidator struct {
	store    *session.Store
	provider agent.Provider
	files    *Files
	model    string
	window   int
	logger   zerolog.Logger
}

// NewConsolidator creates a consolidator. window is the transcript
// window the agent keeps in context.
func NewConsolidator(store *session.Store, provider agent.Provider, files *Files, model string, window int, logger zerolog.Logger) (*Consolidator, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if files == nil {
		return nil, fmt.Errorf("memory files are required")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %d", window)
	}

	return &Consolidator{
		store:    store,
		provider: provider,
		files:    files,
		model:    model,
		window:   window,
		logger:   logger.With().Str("component", "consolidator").Logger(),
	}, nil
}

// Consolidate summarizes turns past the keep window into the memory files.
// With archiveAll set (session reset), every turn is consolidated.
func (c *Consolidator) Consolidate(ctx context.Context, key string, archiveAll bool) error {
	sess, err := c.store.Load(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	keep := c.window / 2
	if archiveAll {
		keep = 0
	}

	total := len(sess.Turns)
	if total <= keep {
		return nil
	}

	end := total - keep
	if end <= sess.Meta.LastConsolidated {
		return nil
	}

	start := sess.Meta.LastConsolidated
	if start < 0 || start > total {
		start = 0
	}
	window := sess.Turns[start:end]
	if len(window) == 0 {
		return nil
	}

	conversation := renderConversation(window)
	current, err := c.files.ReadLongTerm()
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to read long-term memory")
	}

	response, err := c.provider.Complete(ctx, agent.Request{
		Model: c.model,
		Messages: []agent.Message{
			{Role: "user", Content: fmt.Sprintf(consolidationPrompt, current, conversation)},
		},
		Temperature: 0.3,
		MaxTokens:   2048,
	})
	if err != nil {
		observability.RecordConsolidation(false)
		return fmt.Errorf("consolidation model call failed: %w", err)
	}

	var parsed struct {
		HistoryEntry string `json:"history_entry"`
		MemoryUpdate string `json:"memory_update"`
	}
	if err := json.Unmarshal([]byte(stripFences(response.Content)), &parsed); err != nil {
		observability.RecordConsolidation(false)
		return fmt.Errorf("failed to parse consolidation response: %w", err)
	}

	if parsed.HistoryEntry != "" {
		if err := c.files.AppendHistory(parsed.HistoryEntry); err != nil {
			c.logger.Warn().Err(err).Msg("failed to append history")
		}
	}
	if parsed.MemoryUpdate != "" {
		if err := c.files.WriteLongTerm(parsed.MemoryUpdate); err != nil {
			c.logger.Warn().Err(err).Msg("failed to update long-term memory")
		}
	}

	if err := c.store.UpdateMeta(ctx, key, func(m *session.Metadata) {
		if end > m.LastConsolidated {
			m.LastConsolidated = end
		}
	}); err != nil {
		observability.RecordConsolidation(false)
		return fmt.Errorf("failed to advance watermark: %w", err)
	}

	observability.RecordConsolidation(true)
	c.logger.Info().
		Str("session_key", key).
		Int("consolidated", len(window)).
		Msg("memory consolidated")
	return nil
}

// renderConversation flattens turns for the consolidation prompt.
func renderConversation(turns []session.Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		toolsInfo := ""
		if len(turn.ToolsUsed) > 0 {
			toolsInfo = fmt.Sprintf(" [tools: %s]", strings.Join(turn.ToolsUsed, ", "))
		}
		fmt.Fprintf(&b, "[%s] %s%s: %s\n",
			turn.Timestamp.Format("2006-01-02 15:04"),
			strings.ToUpper(turn.Role),
			toolsInfo,
			turn.Content)
	}
	return b.String()
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
