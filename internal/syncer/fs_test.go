package syncer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/islandd/internal/metadata"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func TestNewFSSource_Validation(t *testing.T) {
	_, err := NewFSSource("", FSOptions{})
	assert.Error(t, err)

	_, err = NewFSSource(filepath.Join(t.TempDir(), "missing"), FSOptions{})
	assert.ErrorContains(t, err, "does not exist")

	file := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = NewFSSource(file, FSOptions{})
	assert.ErrorContains(t, err, "must be a directory")
}

func TestFSSource_Scan(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"main.go":                 "package main\n",
		"pkg/util.go":             "package pkg\n",
		"node_modules/x/index.js": "module.exports = 1\n",
		".git/config":             "[core]\n",
		".gitignore":              "*.log\nbuild/\n",
		"debug.log":               "noise\n",
		"build/out.txt":           "generated\n",
		"pkg/.gitignore":          "secret.go\n",
		"pkg/secret.go":           "package pkg\n",
		"big.txt":                 string(make([]byte, 2048)),
	})
	require.NoError(t, os.WriteFile(filepath.Join(root, "image.bin"), []byte{0xff, 0xfe, 0x00, 0x81}, 0o644))

	src, err := NewFSSource(root, FSOptions{MaxFileBytes: 1024})
	require.NoError(t, err)
	assert.Equal(t, metadata.SourceLocal, src.Kind())

	files, err := src.Scan(context.Background())
	require.NoError(t, err)

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	assert.ElementsMatch(t, []string{".gitignore", "main.go", "pkg/.gitignore", "pkg/util.go"}, paths)
	assert.Equal(t, HashContent([]byte("package main\n")), files["main.go"].Hash)

	content, err := src.Read(context.Background(), "pkg/util.go")
	require.NoError(t, err)
	assert.Equal(t, "package pkg\n", string(content))

	_, err = src.Read(context.Background(), "../outside")
	assert.Error(t, err)
}

func TestFSSource_CancelledScan(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.go": "a\n"})
	src, err := NewFSSource(root, FSOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFSSource_RepositoryMeta(t *testing.T) {
	root := t.TempDir()
	src, err := NewFSSource(root, FSOptions{Kind: metadata.SourceRepository})
	require.NoError(t, err)

	// Not a git checkout: only the path is known.
	meta := src.Meta(context.Background())
	assert.Equal(t, src.Root(), meta.Path)
	assert.Empty(t, meta.Commit)
}
