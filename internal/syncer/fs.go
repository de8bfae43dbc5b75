package syncer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/islandd/internal/ignore"
	"github.com/fyrsmithlabs/islandd/internal/metadata"
)

// DefaultMaxFileBytes is the size cap for indexed files.
const DefaultMaxFileBytes = 1 << 20

// DefaultSkipDirs are directories never descended into. They typically hold
// generated code, dependencies or version control data.
var DefaultSkipDirs = []string{
	".git", ".svn", ".hg",
	"node_modules", "vendor",
	".venv", "venv", "__pycache__",
	".idea", ".vscode", ".cache",
	"dist", "build", ".next",
	"target", // Rust/Java build output
}

// FSOptions configures a filesystem source.
type FSOptions struct {
	MaxFileBytes int64
	SkipDirs     []string
	IgnoreFiles  []string // defaults to ignore.DefaultFiles
	Kind         metadata.SourceKind
}

// FSSource scans a directory tree. Files over the size cap, files that are
// not valid UTF-8 and paths matched by ignore files are left out.
type FSSource struct {
	root     string
	maxBytes int64
	skip     map[string]bool
	ignores  []string
	kind     metadata.SourceKind
}

var _ Source = (*FSSource)(nil)

// NewFSSource creates a source rooted at root, which must be a directory.
func NewFSSource(root string, opts FSOptions) (*FSSource, error) {
	clean, err := validateRoot(root)
	if err != nil {
		return nil, err
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}
	if opts.SkipDirs == nil {
		opts.SkipDirs = DefaultSkipDirs
	}
	if opts.Kind == "" {
		opts.Kind = metadata.SourceLocal
	}
	skip := make(map[string]bool, len(opts.SkipDirs))
	for _, d := range opts.SkipDirs {
		skip[d] = true
	}
	return &FSSource{root: clean, maxBytes: opts.MaxFileBytes, skip: skip, ignores: opts.IgnoreFiles, kind: opts.Kind}, nil
}

// validateRoot cleans root and checks that it is an existing directory.
func validateRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	clean, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(clean)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("path does not exist: %s", clean)
		}
		return "", fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path must be a directory: %s", clean)
	}
	return clean, nil
}

// Root returns the absolute root directory.
func (s *FSSource) Root() string { return s.root }

func (s *FSSource) Kind() metadata.SourceKind { return s.kind }

func (s *FSSource) Meta(ctx context.Context) metadata.SourceMeta {
	meta := metadata.SourceMeta{Path: s.root}
	if s.kind == metadata.SourceRepository {
		repo := repositoryMeta(s.root)
		meta.Repository, meta.Branch, meta.Commit = repo.Remote, repo.Branch, repo.Commit
	}
	return meta
}

func (s *FSSource) Scan(ctx context.Context) (map[string]FileState, error) {
	rules := ignore.New(s.ignores)
	files := make(map[string]FileState)

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return rules.Load(s.root, "")
			}
			if s.skip[d.Name()] || rules.Match(rel, true) {
				return filepath.SkipDir
			}
			return rules.Load(s.root, rel)
		}
		if !d.Type().IsRegular() || rules.Match(rel, false) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > s.maxBytes {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading file %s: %w", rel, err)
		}
		// Binary files are skipped.
		if !utf8.Valid(content) {
			return nil
		}
		files[rel] = FileState{Path: rel, Hash: HashContent(content), Size: info.Size()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", s.root, err)
	}
	return files, nil
}

func (s *FSSource) Read(_ context.Context, rel string) ([]byte, error) {
	full := filepath.Join(s.root, filepath.FromSlash(rel))
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return nil, fmt.Errorf("path %q escapes source root", rel)
	}
	return os.ReadFile(full)
}
