// Package ignore evaluates gitignore-style rules while walking a source tree.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// DefaultFiles are the ignore files read in every directory.
var DefaultFiles = []string{".gitignore", ".islanddignore"}

// Rules accumulates ignore patterns as a walk descends. Patterns read from
// a directory apply only below it, and later (deeper) patterns take
// precedence, so a nested "!keep.txt" re-includes what a parent excluded.
//
// Rules is not safe for concurrent use.
type Rules struct {
	files    []string
	patterns []gitignore.Pattern
	matcher  gitignore.Matcher
}

// New creates rules reading the given ignore file names. extra patterns are
// applied at the root with the lowest precedence.
func New(files []string, extra ...string) *Rules {
	if len(files) == 0 {
		files = DefaultFiles
	}
	r := &Rules{files: files}
	for _, line := range extra {
		if p, ok := parseLine(line, nil); ok {
			r.patterns = append(r.patterns, p)
		}
	}
	return r
}

// Load reads the ignore files of dir, a slash-separated path relative to
// root ("" for root itself). Missing files are skipped.
func (r *Rules) Load(root, dir string) error {
	domain := split(dir)
	for _, name := range r.files {
		patterns, err := readFile(filepath.Join(root, filepath.FromSlash(dir), name), domain)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("reading %s: %w", path.Join(dir, name), err)
		}
		if len(patterns) > 0 {
			r.patterns = append(r.patterns, patterns...)
			r.matcher = nil
		}
	}
	return nil
}

// Match reports whether rel, a slash-separated path relative to root, is
// ignored.
func (r *Rules) Match(rel string, isDir bool) bool {
	if len(r.patterns) == 0 {
		return false
	}
	if r.matcher == nil {
		r.matcher = gitignore.NewMatcher(r.patterns)
	}
	return r.matcher.Match(split(rel), isDir)
}

// Len returns the number of loaded patterns.
func (r *Rules) Len() int { return len(r.patterns) }

func readFile(name string, domain []string) ([]gitignore.Pattern, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []gitignore.Pattern
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if p, ok := parseLine(scanner.Text(), domain); ok {
			patterns = append(patterns, p)
		}
	}
	return patterns, scanner.Err()
}

// parseLine skips blank lines and comments.
func parseLine(line string, domain []string) (gitignore.Pattern, bool) {
	if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
		return nil, false
	}
	return gitignore.ParsePattern(line, domain), true
}

func split(rel string) []string {
	rel = strings.Trim(rel, "/")
	if rel == "" || rel == "." {
		return nil
	}
	return strings.Split(rel, "/")
}
