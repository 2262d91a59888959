package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaredwolff/patina/pkg/session"
)

type fakeMemory struct {
	content string
	err     error
}

func (f *fakeMemory) ReadLongTerm() (string, error) { return f.content, f.err }

func newTestBuilder(t *testing.T, memory LongTermMemory) (*ContextBuilder, string) {
	t.Helper()
	workspace := t.TempDir()
	builder, err := NewContextBuilder(workspace, memory, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { builder.Close() })
	return builder, workspace
}

func TestBuildSystemPromptIdentity(t *testing.T) {
	builder, workspace := newTestBuilder(t, nil)

	prompt, err := builder.BuildSystemPrompt("")
	require.NoError(t, err)
	assert.Contains(t, prompt, "You are Patina")
	assert.Contains(t, prompt, workspace)
}

func TestBuildSystemPromptBootstrapFiles(t *testing.T) {
	builder, workspace := newTestBuilder(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "AGENTS.md"), []byte("follow the rules"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "SOUL.md"), []byte("be kind"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "README.md"), []byte("not bootstrap"), 0644))

	prompt, err := builder.BuildSystemPrompt("")
	require.NoError(t, err)
	assert.Contains(t, prompt, "follow the rules")
	assert.Contains(t, prompt, "be kind")
	assert.NotContains(t, prompt, "not bootstrap")
}

func TestBootstrapCacheInvalidation(t *testing.T) {
	builder, workspace := newTestBuilder(t, nil)
	path := filepath.Join(workspace, "AGENTS.md")
	require.NoError(t, os.WriteFile(path, []byte("version one"), 0644))

	prompt, err := builder.BuildSystemPrompt("")
	require.NoError(t, err)
	assert.Contains(t, prompt, "version one")

	require.NoError(t, os.WriteFile(path, []byte("version two"), 0644))

	// The watcher invalidates asynchronously
	assert.Eventually(t, func() bool {
		prompt, err := builder.BuildSystemPrompt("")
		return err == nil && strings.Contains(prompt, "version two")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestBuildSystemPromptMemoryAndPersona(t *testing.T) {
	builder, _ := newTestBuilder(t, &fakeMemory{content: "user prefers tabs"})

	prompt, err := builder.BuildSystemPrompt("speak like a pirate")
	require.NoError(t, err)
	assert.Contains(t, prompt, "# Memory")
	assert.Contains(t, prompt, "user prefers tabs")
	assert.Contains(t, prompt, "# Persona")
	assert.Contains(t, prompt, "speak like a pirate")
}

func TestBuildMessages(t *testing.T) {
	builder, _ := newTestBuilder(t, nil)

	window := []session.Turn{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "system", Content: "busy notice"},
	}

	messages := builder.BuildMessages(window, "new question")
	require.Len(t, messages, 4)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)
	// Non-chat roles read back as user context
	assert.Equal(t, "user", messages[2].Role)
	assert.Equal(t, "new question", messages[3].Content)
	assert.Equal(t, "user", messages[3].Role)
}
