package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRules_RootFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".gitignore"), `# Build outputs
dist/
*.log

/secret.txt
`)

	r := New(nil)
	require.NoError(t, r.Load(root, ""))
	assert.Equal(t, 3, r.Len())

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"dist", true, true},
		{"web/dist", true, true},
		{"dist", false, false},
		{"app.log", false, true},
		{"logs/app.log", false, true},
		{"secret.txt", false, true},
		{"nested/secret.txt", false, false},
		{"main.go", false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Match(tt.path, tt.isDir), tt.path)
	}
}

func TestRules_NestedAndNegation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".gitignore"), "*.txt\n")
	writeFile(t, filepath.Join(root, "docs", ".gitignore"), "!keep.txt\n")

	r := New(nil)
	require.NoError(t, r.Load(root, ""))
	require.NoError(t, r.Load(root, "docs"))

	assert.True(t, r.Match("notes.txt", false))
	assert.True(t, r.Match("docs/other.txt", false))
	assert.False(t, r.Match("docs/keep.txt", false))
	assert.True(t, r.Match("src/keep.txt", false), "negation applies only below docs/")
}

func TestRules_ExtraPatternsAndCustomFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".islanddignore"), "fixtures/\n")

	r := New(nil, "*.min.js", "", "# comment")
	require.NoError(t, r.Load(root, ""))

	assert.True(t, r.Match("static/app.min.js", false))
	assert.True(t, r.Match("testdata/fixtures", true))
	assert.False(t, r.Match("static/app.js", false))
}

func TestRules_Empty(t *testing.T) {
	r := New([]string{".customignore"})
	require.NoError(t, r.Load(t.TempDir(), ""))
	assert.Zero(t, r.Len())
	assert.False(t, r.Match("anything", false))
}
