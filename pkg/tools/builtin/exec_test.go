package builtin

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecEcho(t *testing.T) {
	tool := &Exec{Root: t.TempDir()}

	out, err := tool.Execute(context.Background(), map[string]interface{}{"command": "echo hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestExecRunsInWorkspace(t *testing.T) {
	root := t.TempDir()
	tool := &Exec{Root: root}

	out, err := tool.Execute(context.Background(), map[string]interface{}{"command": "pwd"})
	require.NoError(t, err)
	assert.Equal(t, root, strings.TrimSpace(out))
}

func TestExecFailureIncludesOutput(t *testing.T) {
	tool := &Exec{Root: t.TempDir()}

	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "echo oops >&2; exit 3",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oops")
}

func TestExecDeniedCommand(t *testing.T) {
	tool := &Exec{Root: t.TempDir(), Denied: []string{"rm -rf"}}

	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "rm -rf /",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy")
}

func TestExecEmptyCommand(t *testing.T) {
	tool := &Exec{Root: t.TempDir()}
	_, err := tool.Execute(context.Background(), map[string]interface{}{"command": "  "})
	assert.Error(t, err)
}

func TestExecCancellation(t *testing.T) {
	tool := &Exec{Root: t.TempDir()}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := tool.Execute(ctx, map[string]interface{}{"command": "sleep 10"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecWorkingDirEscapeRejected(t *testing.T) {
	tool := &Exec{Root: t.TempDir()}
	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"command":     "pwd",
		"working_dir": "../..",
	})
	assert.Error(t, err)
}
