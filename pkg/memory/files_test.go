package memory

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLongTermMissing(t *testing.T) {
	files := NewFiles(t.TempDir())

	content, err := files.ReadLongTerm()
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestWriteAndReadLongTerm(t *testing.T) {
	files := NewFiles(t.TempDir())

	require.NoError(t, files.WriteLongTerm("user lives in Utrecht"))

	content, err := files.ReadLongTerm()
	require.NoError(t, err)
	assert.Equal(t, "user lives in Utrecht", content)

	// Overwrite replaces completely
	require.NoError(t, files.WriteLongTerm("fresh"))
	content, err = files.ReadLongTerm()
	require.NoError(t, err)
	assert.Equal(t, "fresh", content)
}

func TestAppendHistory(t *testing.T) {
	files := NewFiles(t.TempDir())

	require.NoError(t, files.AppendHistory("[2026-09-01 10:00] talked about the weather"))
	require.NoError(t, files.AppendHistory("[2026-09-01 11:00] planned a trip"))

	data, err := os.ReadFile(files.HistoryPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "weather")
	assert.Contains(t, string(data), "trip")
}

func TestUnicodeContent(t *testing.T) {
	files := NewFiles(t.TempDir())

	require.NoError(t, files.WriteLongTerm("emoji: 🦀 accents: café"))
	content, err := files.ReadLongTerm()
	require.NoError(t, err)
	assert.Contains(t, content, "🦀")
	assert.Contains(t, content, "café")
}
