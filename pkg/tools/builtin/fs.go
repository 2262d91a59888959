// Package builtin provides the standard filesystem and shell tools,
// rooted in the configured workspace.
package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxReadBytes caps read_file output fed back to the model.
const maxReadBytes = 256 * 1024

// resolvePath joins a tool-supplied path with the workspace root and
// rejects escapes.
func resolvePath(root, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)

	rootClean := filepath.Clean(root)
	if resolved != rootClean && !strings.HasPrefix(resolved, rootClean+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return resolved, nil
}

func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// ReadFile reads a file from the workspace.
type ReadFile struct {
	Root string
}

func (t *ReadFile) Name() string { return "read_file" }

func (t *ReadFile) Description() string {
	return "Read a file from the workspace. Output is truncated past 256KB."
}

func (t *ReadFile) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path, relative to the workspace root",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFile) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	path, err := resolvePath(t.Root, stringParam(params, "path"))
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", stringParam(params, "path"), err)
	}

	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n[truncated]", nil
	}
	return string(data), nil
}

// WriteFile writes a file inside the workspace, creating parent
// directories as needed.
type WriteFile struct {
	Root string
}

func (t *WriteFile) Name() string { return "write_file" }

func (t *WriteFile) Description() string {
	return "Write content to a file in the workspace, replacing it if it exists."
}

func (t *WriteFile) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path, relative to the workspace root",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Full file content",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFile) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	path, err := resolvePath(t.Root, stringParam(params, "path"))
	if err != nil {
		return "", err
	}

	content := stringParam(params, "content")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", stringParam(params, "path"), err)
	}

	return fmt.Sprintf("Wrote %d bytes to %s", len(content), stringParam(params, "path")), nil
}

// ListDir lists a workspace directory.
type ListDir struct {
	Root string
}

func (t *ListDir) Name() string { return "list_dir" }

func (t *ListDir) Description() string {
	return "List the entries of a workspace directory."
}

func (t *ListDir) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory path, relative to the workspace root. Defaults to the root.",
			},
		},
	}
}

func (t *ListDir) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	rel := stringParam(params, "path")
	if rel == "" {
		rel = "."
	}

	path, err := resolvePath(t.Root, rel)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", rel, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		return "(empty)", nil
	}
	return strings.Join(names, "\n"), nil
}
