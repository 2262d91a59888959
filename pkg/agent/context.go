package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/jaredwolff/patina/pkg/session"
)

// bootstrapFiles are loaded from the workspace into the system prompt,
// in this order, when present.
var bootstrapFiles = []string{"AGENTS.md", "SOUL.md", "USER.md", "TOOLS.md", "IDENTITY.md"}

// LongTermMemory exposes consolidated memory for prompt assembly.
type LongTermMemory interface {
	ReadLongTerm() (string, error)
}

// ContextBuilder assembles the system prompt and message list for
// model calls. The bootstrap portion of the prompt is cached and
// invalidated by a workspace file watcher.
type ContextBuilder struct {
	workspace string
	memory    LongTermMemory
	logger    zerolog.Logger

	mu        sync.Mutex
	cached    string
	cacheOK   bool
	watcher   *fsnotify.Watcher
	closeOnce sync.Once
}

// NewContextBuilder creates a context builder over the workspace. The
// memory source may be nil.
func NewContextBuilder(workspace string, memory LongTermMemory, logger zerolog.Logger) (*ContextBuilder, error) {
	if workspace == "" {
		return nil, fmt.Errorf("workspace path is required")
	}
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	b := &ContextBuilder{
		workspace: workspace,
		memory:    memory,
		logger:    logger.With().Str("component", "context").Logger(),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// The builder still works without a watcher, it just rebuilds
		// the bootstrap section on every call.
		b.logger.Warn().Err(err).Msg("workspace watcher unavailable")
		return b, nil
	}
	if err := watcher.Add(workspace); err != nil {
		b.logger.Warn().Err(err).Msg("failed to watch workspace")
		watcher.Close()
		return b, nil
	}

	b.watcher = watcher
	go b.watch()

	return b, nil
}

// watch invalidates the cached bootstrap section on workspace changes.
func (b *ContextBuilder) watch() {
	for {
		select {
		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			for _, bootstrap := range bootstrapFiles {
				if name == bootstrap {
					b.mu.Lock()
					b.cacheOK = false
					b.mu.Unlock()
					b.logger.Debug().Str("file", name).Msg("bootstrap cache invalidated")
					break
				}
			}
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn().Err(err).Msg("workspace watcher error")
		}
	}
}

// Close stops the workspace watcher.
func (b *ContextBuilder) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.watcher != nil {
			err = b.watcher.Close()
		}
	})
	return err
}

// BuildSystemPrompt assembles the full system prompt: identity,
// bootstrap files, long-term memory, and the session persona.
func (b *ContextBuilder) BuildSystemPrompt(persona string) (string, error) {
	parts := []string{b.identity()}

	if bootstrap := b.bootstrapSection(); bootstrap != "" {
		parts = append(parts, bootstrap)
	}

	if b.memory != nil {
		memory, err := b.memory.ReadLongTerm()
		if err != nil {
			b.logger.Warn().Err(err).Msg("failed to read long-term memory")
		} else if memory != "" {
			parts = append(parts, "# Memory\n\n"+memory)
		}
	}

	if persona != "" {
		parts = append(parts, "# Persona\n\n"+persona)
	}

	return strings.Join(parts, "\n\n---\n\n"), nil
}

// identity renders the core identity preamble.
func (b *ContextBuilder) identity() string {
	now := time.Now()
	workspace := b.workspace
	if abs, err := filepath.Abs(workspace); err == nil {
		workspace = abs
	}

	return fmt.Sprintf(`# Patina

You are Patina, a helpful AI assistant. You have access to tools that allow you to:
- Read, write, and list files
- Execute shell commands

## Current Time
%s (%s)

## Runtime
%s %s

## Workspace
Your workspace is at: %s
- Long-term memory: %s/memory/MEMORY.md
- History log: %s/memory/HISTORY.md (grep-searchable)

Always be helpful, accurate, and concise. When using tools, think step by step.
When remembering something important, write to %s/memory/MEMORY.md
To recall past events, grep %s/memory/HISTORY.md`,
		now.Format("2006-01-02 15:04 (Monday)"), now.Format("MST"),
		runtime.GOOS, runtime.GOARCH,
		workspace, workspace, workspace, workspace, workspace)
}

// bootstrapSection loads the workspace bootstrap files, cached until
// the watcher sees a change.
func (b *ContextBuilder) bootstrapSection() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cacheOK && b.watcher != nil {
		return b.cached
	}

	parts := []string{}
	for _, name := range bootstrapFiles {
		data, err := os.ReadFile(filepath.Join(b.workspace, name))
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("## %s\n\n%s", name, string(data)))
	}

	b.cached = strings.Join(parts, "\n\n")
	b.cacheOK = true
	return b.cached
}

// BuildMessages converts a transcript window into provider messages,
// appending the current user message last.
func (b *ContextBuilder) BuildMessages(window []session.Turn, userMessage string) []Message {
	messages := make([]Message, 0, len(window)+1)
	for _, turn := range window {
		role := turn.Role
		if role != "user" && role != "assistant" {
			// System notices in the transcript read back as user
			// context so every provider accepts them.
			role = "user"
		}
		messages = append(messages, Message{Role: role, Content: turn.Content})
	}
	messages = append(messages, Message{Role: "user", Content: userMessage})
	return messages
}
