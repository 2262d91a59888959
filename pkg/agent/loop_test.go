package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaredwolff/patina/pkg/session"
	"github.com/jaredwolff/patina/pkg/tools"
)

// scriptedProvider returns canned responses in order.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	calls     int
	requests  []Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	idx := p.calls
	p.calls++

	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}
	if idx >= len(p.responses) {
		return &Response{Content: "default"}, nil
	}
	return p.responses[idx], nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req Request, fn StreamHandler) (*Response, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if fn != nil && resp.Content != "" {
		fn(resp.Content)
	}
	return resp, nil
}

type countingTool struct {
	name  string
	fail  bool
	mu    sync.Mutex
	calls int
}

func (c *countingTool) Name() string        { return c.name }
func (c *countingTool) Description() string { return "test tool" }

func (c *countingTool) Schema() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}

func (c *countingTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.fail {
		return "", fmt.Errorf("tool exploded")
	}
	return "tool output", nil
}

func setupLoop(t *testing.T, provider Provider, toolList ...tools.Tool) (*Loop, *session.Store) {
	t.Helper()

	store, err := session.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	registry := tools.NewRegistry(time.Second, zerolog.Nop())
	for _, tool := range toolList {
		require.NoError(t, registry.Register(tool))
	}

	builder, err := NewContextBuilder(t.TempDir(), nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { builder.Close() })

	loop, err := NewLoop(Config{
		Model:         "test-model",
		MaxIterations: 5,
		MemoryWindow:  10,
		MaxTokens:     1024,
	}, provider, registry, store, builder, nil, zerolog.Nop())
	require.NoError(t, err)

	return loop, store
}

func TestNewLoopValidation(t *testing.T) {
	store, err := session.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	registry := tools.NewRegistry(time.Second, zerolog.Nop())
	builder, err := NewContextBuilder(t.TempDir(), nil, zerolog.Nop())
	require.NoError(t, err)
	defer builder.Close()

	_, err = NewLoop(Config{Model: "m", MaxIterations: 1}, nil, registry, store, builder, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewLoop(Config{Model: "m", MaxIterations: 0}, &scriptedProvider{}, registry, store, builder, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewLoop(Config{Model: "", MaxIterations: 1}, &scriptedProvider{}, registry, store, builder, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestProcessFinalReply(t *testing.T) {
	provider := &scriptedProvider{responses: []*Response{
		{Content: "hello back", Usage: Usage{InputTokens: 10, OutputTokens: 5}},
	}}
	loop, store := setupLoop(t, provider)

	res, err := loop.Process(context.Background(), Input{SessionKey: "cli:direct", Content: "hello"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeFinal, res.Outcome)
	assert.Equal(t, "hello back", res.Content)
	assert.Equal(t, 10, res.Usage.InputTokens)

	sess, err := store.Load(context.Background(), "cli:direct")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, "user", sess.Turns[0].Role)
	assert.Equal(t, "assistant", sess.Turns[1].Role)
	assert.Equal(t, "hello back", sess.Turns[1].Content)
}

func TestUserTurnPersistedBeforeModelCall(t *testing.T) {
	boom := fmt.Errorf("provider down")
	provider := &scriptedProvider{errs: []error{boom, boom, boom}}
	loop, store := setupLoop(t, provider)

	res, err := loop.Process(context.Background(), Input{SessionKey: "cli:direct", Content: "important"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Contains(t, res.Content, "error")

	sess, err := store.Load(context.Background(), "cli:direct")
	require.NoError(t, err)
	require.NotEmpty(t, sess.Turns)
	assert.Equal(t, "important", sess.Turns[0].Content)
}

func TestToolRound(t *testing.T) {
	tool := &countingTool{name: "lookup"}
	provider := &scriptedProvider{responses: []*Response{
		{ToolCalls: []ToolCall{{ID: "1", Name: "lookup", Parameters: map[string]interface{}{}}}},
		{Content: "found it"},
	}}
	loop, _ := setupLoop(t, provider, tool)

	res, err := loop.Process(context.Background(), Input{SessionKey: "cli:direct", Content: "look this up"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeFinal, res.Outcome)
	assert.Equal(t, "found it", res.Content)
	assert.Equal(t, []string{"lookup"}, res.ToolsUsed)
	assert.Equal(t, 1, tool.calls)

	// Second request carries the tool result and reflection prompt
	require.Len(t, provider.requests, 2)
	last := provider.requests[1].Messages
	assert.Equal(t, reflectionPrompt, last[len(last)-1].Content)
	assert.Equal(t, "tool", last[len(last)-2].Role)
	assert.Equal(t, "tool output", last[len(last)-2].Content)
}

func TestToolErrorsDoNotAbort(t *testing.T) {
	tool := &countingTool{name: "flaky", fail: true}
	provider := &scriptedProvider{responses: []*Response{
		{ToolCalls: []ToolCall{{ID: "1", Name: "flaky", Parameters: map[string]interface{}{}}}},
		{Content: "recovered"},
	}}
	loop, _ := setupLoop(t, provider, tool)

	res, err := loop.Process(context.Background(), Input{SessionKey: "cli:direct", Content: "try it"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinal, res.Outcome)
	assert.Equal(t, "recovered", res.Content)

	// The failure was fed back to the model as text
	last := provider.requests[1].Messages
	assert.Contains(t, last[len(last)-2].Content, "tool exploded")
}

func TestCircuitBreaker(t *testing.T) {
	tool := &countingTool{name: "flaky", fail: true}
	failing := &Response{ToolCalls: []ToolCall{{ID: "1", Name: "flaky", Parameters: map[string]interface{}{}}}}
	provider := &scriptedProvider{responses: []*Response{failing, failing, failing, failing, failing}}
	loop, _ := setupLoop(t, provider, tool)

	res, err := loop.Process(context.Background(), Input{SessionKey: "cli:direct", Content: "loop forever"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeFinal, res.Outcome)
	assert.Contains(t, res.Content, "having trouble using a tool")
	// Stopped after three all-failed iterations, not five
	assert.Equal(t, 3, provider.calls)
}

func TestMaxIterations(t *testing.T) {
	tool := &countingTool{name: "busy"}
	looping := &Response{ToolCalls: []ToolCall{{ID: "1", Name: "busy", Parameters: map[string]interface{}{}}}}
	provider := &scriptedProvider{responses: []*Response{looping, looping, looping, looping, looping, looping}}
	loop, store := setupLoop(t, provider, tool)

	res, err := loop.Process(context.Background(), Input{SessionKey: "cli:direct", Content: "work"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeMaxIterations, res.Outcome)
	assert.Equal(t, maxIterationsReply, res.Content)
	assert.Equal(t, 5, provider.calls)

	sess, err := store.Load(context.Background(), "cli:direct")
	require.NoError(t, err)
	assert.Equal(t, maxIterationsReply, sess.Turns[len(sess.Turns)-1].Content)
}

func TestCancellation(t *testing.T) {
	provider := &scriptedProvider{}
	loop, store := setupLoop(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := loop.Process(ctx, Input{SessionKey: "cli:direct", Content: "never mind"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.NotEmpty(t, res.Content)

	// User turn persisted, no assistant turn
	sess, err := store.Load(context.Background(), "cli:direct")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, "user", sess.Turns[0].Role)
}

func TestEmptyFinalReplyGetsPlaceholder(t *testing.T) {
	provider := &scriptedProvider{responses: []*Response{{Content: ""}}}
	loop, _ := setupLoop(t, provider)

	res, err := loop.Process(context.Background(), Input{SessionKey: "cli:direct", Content: "hm"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinal, res.Outcome)
	assert.NotEmpty(t, res.Content)
}

func TestStreamHandlerReceivesDeltas(t *testing.T) {
	provider := &scriptedProvider{responses: []*Response{{Content: "streamed reply"}}}
	loop, _ := setupLoop(t, provider)

	var got []string
	res, err := loop.Process(context.Background(), Input{
		SessionKey: "web:main",
		Content:    "stream it",
		Stream:     func(delta string) { got = append(got, delta) },
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinal, res.Outcome)
	assert.Equal(t, []string{"streamed reply"}, got)
}

func TestNeedsConsolidation(t *testing.T) {
	provider := &scriptedProvider{responses: []*Response{{Content: "a"}, {Content: "b"}}}
	loop, store := setupLoop(t, provider)
	loop.cfg.MemoryWindow = 3

	// Preload enough turns to cross the window
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, store.AppendTurn(ctx, "cli:direct", session.NewTurn("user", "old")))
	}

	res, err := loop.Process(ctx, Input{SessionKey: "cli:direct", Content: "new"})
	require.NoError(t, err)
	assert.True(t, res.NeedsConsolidation)
}

func TestRetryOnTransientError(t *testing.T) {
	provider := &scriptedProvider{
		errs:      []error{fmt.Errorf("429 rate limit exceeded")},
		responses: []*Response{nil, {Content: "after retry"}},
	}
	loop, _ := setupLoop(t, provider)

	start := time.Now()
	res, err := loop.Process(context.Background(), Input{SessionKey: "cli:direct", Content: "go"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinal, res.Outcome)
	assert.Equal(t, "after retry", res.Content)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}
