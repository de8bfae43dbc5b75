package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numbered(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	return b.String()
}

func TestLineChunker_Windows(t *testing.T) {
	tests := []struct {
		name    string
		lines   int
		overlap int
		input   int
		want    [][2]int
	}{
		{name: "shorter than window", lines: 10, overlap: 2, input: 4, want: [][2]int{{1, 4}}},
		{name: "exact window", lines: 5, overlap: 0, input: 5, want: [][2]int{{1, 5}}},
		{name: "overlapping", lines: 5, overlap: 2, input: 11, want: [][2]int{{1, 5}, {4, 8}, {7, 11}}},
		{name: "tail", lines: 4, overlap: 1, input: 9, want: [][2]int{{1, 4}, {4, 7}, {7, 9}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(WithLines(tt.lines), WithOverlap(tt.overlap))
			chunks := c.Chunk("f.go", numbered(tt.input))
			require.Len(t, chunks, len(tt.want))
			for i, ch := range chunks {
				assert.Equal(t, i, ch.Index)
				assert.Equal(t, tt.want[i][0], ch.StartLine, "chunk %d start", i)
				assert.Equal(t, tt.want[i][1], ch.EndLine, "chunk %d end", i)
				assert.True(t, strings.HasPrefix(ch.Text, fmt.Sprintf("line %d", ch.StartLine)))
				assert.True(t, strings.HasSuffix(ch.Text, fmt.Sprintf("line %d", ch.EndLine)))
			}
		})
	}
}

func TestLineChunker_EdgeCases(t *testing.T) {
	c := New()
	assert.Empty(t, c.Chunk("empty.go", ""))
	assert.Empty(t, c.Chunk("blank.go", "\n\n  \n"))

	chunks := c.Chunk("crlf.txt", "a\r\nb\r\n")
	require.Len(t, chunks, 1)
	assert.Equal(t, "a\nb", chunks[0].Text)

	chunks = c.Chunk("noeol.txt", "only line")
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].EndLine)
}

func TestLineChunker_Deterministic(t *testing.T) {
	c := New(WithLines(7), WithOverlap(3))
	input := numbered(50)
	assert.Equal(t, c.Chunk("a.go", input), c.Chunk("a.go", input))
}

func TestNew_ClampsOverlap(t *testing.T) {
	c := New(WithLines(8), WithOverlap(8))
	assert.Equal(t, 2, c.overlap)

	c = New(WithLines(-1), WithOverlap(-1))
	assert.Equal(t, DefaultLines, c.lines)
	assert.Equal(t, DefaultOverlap, c.overlap)
}

func TestLanguage(t *testing.T) {
	tests := map[string]string{
		"cmd/main.go":        "go",
		"web/App.TSX":        "typescript",
		"docs/README.md":     "markdown",
		"build/Dockerfile":   "dockerfile",
		"data/blob.bin":      "",
		"scripts/run.sh":     "shell",
		"noextension":        "",
		"config/values.yaml": "yaml",
	}
	for path, want := range tests {
		assert.Equal(t, want, Language(path), path)
	}
}
