package tools

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	name    string
	execute func(ctx context.Context, params map[string]interface{}) (string, error)
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "a test tool" }

func (f *fakeTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{"type": "string"},
		},
		"required": []string{"text"},
	}
}

func (f *fakeTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	if f.execute != nil {
		return f.execute(ctx, params)
	}
	return fmt.Sprintf("echo: %v", params["text"]), nil
}

func newTestRegistry(t *testing.T, timeout time.Duration) *Registry {
	t.Helper()
	return NewRegistry(timeout, zerolog.Nop())
}

func TestRegisterAndExecute(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	require.NoError(t, r.Register(&fakeTool{name: "echo"}))

	res := r.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"})
	assert.False(t, res.Failed)
	assert.Equal(t, "echo: hi", res.Output)
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestRegisterDuplicate(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	require.NoError(t, r.Register(&fakeTool{name: "echo"}))
	assert.Error(t, r.Register(&fakeTool{name: "echo"}))
}

func TestUnknownToolFailsSoft(t *testing.T) {
	r := newTestRegistry(t, time.Second)

	res := r.Execute(context.Background(), "missing", nil)
	assert.True(t, res.Failed)
	assert.Contains(t, res.Output, "unknown tool")
}

func TestInvalidParamsFailSoft(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	require.NoError(t, r.Register(&fakeTool{name: "echo"}))

	res := r.Execute(context.Background(), "echo", map[string]interface{}{})
	assert.True(t, res.Failed)
	assert.Contains(t, res.Output, "invalid parameters")

	res = r.Execute(context.Background(), "echo", map[string]interface{}{"text": 42})
	assert.True(t, res.Failed)
}

func TestExecutionErrorFailsSoft(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	require.NoError(t, r.Register(&fakeTool{
		name: "broken",
		execute: func(ctx context.Context, params map[string]interface{}) (string, error) {
			return "", fmt.Errorf("disk on fire")
		},
	}))

	res := r.Execute(context.Background(), "broken", map[string]interface{}{"text": "x"})
	assert.True(t, res.Failed)
	assert.Contains(t, res.Output, "disk on fire")
}

func TestExecutionTimeout(t *testing.T) {
	r := newTestRegistry(t, 50*time.Millisecond)
	require.NoError(t, r.Register(&fakeTool{
		name: "slow",
		execute: func(ctx context.Context, params map[string]interface{}) (string, error) {
			select {
			case <-time.After(5 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}))

	start := time.Now()
	res := r.Execute(context.Background(), "slow", map[string]interface{}{"text": "x"})
	assert.True(t, res.Failed)
	assert.Contains(t, res.Output, "timed out")
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecutionCancellation(t *testing.T) {
	r := newTestRegistry(t, 10*time.Second)
	require.NoError(t, r.Register(&fakeTool{
		name: "waiting",
		execute: func(ctx context.Context, params map[string]interface{}) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := r.Execute(ctx, "waiting", map[string]interface{}{"text": "x"})
	assert.True(t, res.Failed)
	assert.Contains(t, res.Output, "cancelled")
}

func TestNamesAndDefinitions(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	require.NoError(t, r.Register(&fakeTool{name: "zeta"}))
	require.NoError(t, r.Register(&fakeTool{name: "alpha"}))

	assert.Equal(t, []string{"alpha", "zeta"}, r.Names())

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.NotEmpty(t, defs[0].Description)
	assert.NotNil(t, defs[0].Schema)
}
