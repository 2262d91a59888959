package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0644))

	tool := &ReadFile{Root: root}
	out, err := tool.Execute(context.Background(), map[string]interface{}{"path": "notes.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestReadFileMissing(t *testing.T) {
	tool := &ReadFile{Root: t.TempDir()}
	_, err := tool.Execute(context.Background(), map[string]interface{}{"path": "nope.txt"})
	assert.Error(t, err)
}

func TestWriteFileCreatesDirs(t *testing.T) {
	root := t.TempDir()
	tool := &WriteFile{Root: root}

	out, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    "deep/nested/file.txt",
		"content": "data",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "4 bytes")

	data, err := os.ReadFile(filepath.Join(root, "deep", "nested", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestPathEscapeRejected(t *testing.T) {
	root := t.TempDir()

	for _, path := range []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd"} {
		_, err := (&ReadFile{Root: root}).Execute(context.Background(), map[string]interface{}{"path": path})
		assert.Error(t, err, "path %q should be rejected", path)

		_, err = (&WriteFile{Root: root}).Execute(context.Background(), map[string]interface{}{
			"path": path, "content": "x",
		})
		assert.Error(t, err, "path %q should be rejected", path)
	}
}

func TestListDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))

	tool := &ListDir{Root: root}
	out, err := tool.Execute(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "a.txt\nb.txt\nsub/", out)
}

func TestListDirEmpty(t *testing.T) {
	tool := &ListDir{Root: t.TempDir()}
	out, err := tool.Execute(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "(empty)", out)
}
