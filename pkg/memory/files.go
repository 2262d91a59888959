// Package memory manages long-term memory files and transcript
// consolidation. MEMORY.md holds curated facts loaded into every
// system prompt; HISTORY.md is an append-only, grep-searchable log of
// summarized conversation windows.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Files reads and writes the memory files under a workspace.
type Files struct {
	dir string
}

// NewFiles creates the file accessor rooted at workspace/memory.
func NewFiles(workspace string) *Files {
	return &Files{dir: filepath.Join(workspace, "memory")}
}

// MemoryPath returns the long-term memory file path.
func (f *Files) MemoryPath() string {
	return filepath.Join(f.dir, "MEMORY.md")
}

// HistoryPath returns the history log path.
func (f *Files) HistoryPath() string {
	return filepath.Join(f.dir, "HISTORY.md")
}

// ReadLongTerm returns the long-term memory content. A missing file
// reads as empty.
func (f *Files) ReadLongTerm() (string, error) {
	data, err := os.ReadFile(f.MemoryPath())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read memory: %w", err)
	}
	return string(data), nil
}

// WriteLongTerm replaces the long-term memory content atomically.
func (f *Files) WriteLongTerm(content string) error {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("failed to create memory directory: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, "MEMORY.md.tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write memory: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync memory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close memory: %w", err)
	}

	if err := os.Rename(tmpPath, f.MemoryPath()); err != nil {
		return fmt.Errorf("failed to replace memory: %w", err)
	}
	return nil
}

// AppendHistory appends one entry to the history log.
func (f *Files) AppendHistory(entry string) error {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("failed to create memory directory: %w", err)
	}

	file, err := os.OpenFile(f.HistoryPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer file.Close()

	if !strings.HasSuffix(entry, "\n") {
		entry += "\n"
	}
	if _, err := file.WriteString(entry + "\n"); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}
