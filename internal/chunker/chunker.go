// Package chunker splits file content into overlapping line windows.
package chunker

import (
	"strings"
)

// Defaults for the line-window chunker.
const (
	DefaultLines   = 60
	DefaultOverlap = 10
)

// Chunk is one window of a file. Lines are 1-based and inclusive.
type Chunk struct {
	Index     int
	Text      string
	StartLine int
	EndLine   int
}

// Chunker splits a file into chunks.
type Chunker interface {
	Chunk(path, content string) []Chunk
}

// LineChunker cuts content into windows of a fixed number of lines, each
// starting Lines-Overlap lines after the previous one.
type LineChunker struct {
	lines   int
	overlap int
}

var _ Chunker = (*LineChunker)(nil)

// Option configures a LineChunker.
type Option func(*LineChunker)

// WithLines sets the window size in lines.
func WithLines(n int) Option {
	return func(c *LineChunker) {
		if n > 0 {
			c.lines = n
		}
	}
}

// WithOverlap sets how many lines consecutive windows share.
func WithOverlap(n int) Option {
	return func(c *LineChunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// New creates a line chunker.
func New(opts ...Option) *LineChunker {
	c := &LineChunker{lines: DefaultLines, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.lines {
		c.overlap = c.lines / 4
	}
	return c
}

// Chunk splits content. Whitespace-only content yields no chunks, and
// windows made only of blank lines are dropped.
func (c *LineChunker) Chunk(_ string, content string) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")

	step := c.lines - c.overlap
	chunks := make([]Chunk, 0, len(lines)/step+1)
	for start := 0; start < len(lines); start += step {
		end := min(start+c.lines, len(lines))
		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, Chunk{
				Index:     len(chunks),
				Text:      text,
				StartLine: start + 1,
				EndLine:   end,
			})
		}
		if end == len(lines) {
			break
		}
	}
	return chunks
}
