package usage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaredwolff/patina/pkg/agent"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	tracker, err := NewTracker(filepath.Join(t.TempDir(), "usage.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { tracker.Close() })
	return tracker
}

func at(day string) time.Time {
	ts, err := time.Parse(time.RFC3339, day)
	if err != nil {
		panic(err)
	}
	return ts
}

func TestRecordModelCallAndSummarize(t *testing.T) {
	tracker := newTracker(t)

	tracker.RecordModelCall("cli:chat1", "anthropic", "claude-sonnet-4-20250514",
		agent.Usage{InputTokens: 100, OutputTokens: 50})
	tracker.RecordModelCall("cli:chat1", "anthropic", "claude-sonnet-4-20250514",
		agent.Usage{InputTokens: 200, OutputTokens: 100})
	tracker.RecordModelCall("telegram:42", "openai", "gpt-4o",
		agent.Usage{InputTokens: 1000, OutputTokens: 500})

	rows, err := tracker.Summarize(Filter{GroupBy: "model"})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Largest totals first.
	assert.Equal(t, "gpt-4o", rows[0].GroupKey)
	assert.Equal(t, int64(1), rows[0].Calls)
	assert.Equal(t, int64(1500), rows[0].TotalTokens)

	assert.Equal(t, "claude-sonnet-4-20250514", rows[1].GroupKey)
	assert.Equal(t, int64(2), rows[1].Calls)
	assert.Equal(t, int64(300), rows[1].InputTokens)
	assert.Equal(t, int64(150), rows[1].OutputTokens)
}

func TestSummarizeGroupBySession(t *testing.T) {
	tracker := newTracker(t)

	tracker.RecordModelCall("cli:a", "anthropic", "m", agent.Usage{InputTokens: 10, OutputTokens: 5})
	tracker.RecordModelCall("cli:b", "anthropic", "m", agent.Usage{InputTokens: 20, OutputTokens: 10})

	rows, err := tracker.Summarize(Filter{GroupBy: "session"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "cli:b", rows[0].GroupKey)
	assert.Equal(t, "cli:a", rows[1].GroupKey)
}

func TestSummarizeFilters(t *testing.T) {
	tracker := newTracker(t)

	tracker.RecordModelCall("cli:a", "anthropic", "claude", agent.Usage{InputTokens: 100, OutputTokens: 50})
	tracker.RecordModelCall("cli:a", "openai", "gpt-4o", agent.Usage{InputTokens: 200, OutputTokens: 100})

	rows, err := tracker.Summarize(Filter{Provider: "openai", GroupBy: "provider"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "openai", rows[0].GroupKey)
	assert.Equal(t, int64(300), rows[0].TotalTokens)

	rows, err = tracker.Summarize(Filter{Model: "claude", GroupBy: "model"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(100), rows[0].InputTokens)
}

func TestDaily(t *testing.T) {
	tracker := newTracker(t)

	tracker.Insert(Record{
		Timestamp: at("2026-08-30T10:00:00Z"), SessionKey: "cli:a",
		Provider: "anthropic", Model: "m", InputTokens: 100, OutputTokens: 50,
	})
	tracker.Insert(Record{
		Timestamp: at("2026-08-31T09:00:00Z"), SessionKey: "cli:a",
		Provider: "anthropic", Model: "m", InputTokens: 200, OutputTokens: 100,
	})
	tracker.Insert(Record{
		Timestamp: at("2026-08-31T15:00:00Z"), SessionKey: "cli:a",
		Provider: "anthropic", Model: "m", InputTokens: 300, OutputTokens: 150,
	})

	days, err := tracker.Daily(Filter{})
	require.NoError(t, err)
	require.Len(t, days, 2)

	// Newest first.
	assert.Equal(t, "2026-08-31", days[0].Date)
	assert.Equal(t, int64(2), days[0].Calls)
	assert.Equal(t, int64(500), days[0].InputTokens)
	assert.Equal(t, "2026-08-30", days[1].Date)
	assert.Equal(t, int64(1), days[1].Calls)
}

func TestDateRangeFilter(t *testing.T) {
	tracker := newTracker(t)

	tracker.Insert(Record{
		Timestamp: at("2026-08-28T10:00:00Z"), SessionKey: "cli:a",
		Provider: "anthropic", Model: "m", InputTokens: 100, OutputTokens: 0,
	})
	tracker.Insert(Record{
		Timestamp: at("2026-08-31T10:00:00Z"), SessionKey: "cli:a",
		Provider: "anthropic", Model: "m", InputTokens: 200, OutputTokens: 0,
	})

	rows, err := tracker.Summarize(Filter{From: at("2026-08-30T00:00:00Z")})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(200), rows[0].InputTokens)
}

func TestEmptyDatabase(t *testing.T) {
	tracker := newTracker(t)

	rows, err := tracker.Summarize(Filter{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	days, err := tracker.Daily(Filter{})
	require.NoError(t, err)
	assert.Empty(t, days)
}
