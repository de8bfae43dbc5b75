package watch

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/islandd/internal/config"
	"github.com/fyrsmithlabs/islandd/internal/scope"
)

// Root is a watched directory and the dataset it feeds.
type Root struct {
	Project string
	Dataset string
	Path    string
}

// ParseRoot parses "project/dataset=path".
func ParseRoot(s string) (Root, error) {
	project, dataset, path, err := config.ParseWatchRoot(s)
	if err != nil {
		return Root{}, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Root{}, fmt.Errorf("watch root %q has an empty path", s)
	}
	if err := scope.Validate(project, dataset, scope.Local); err != nil {
		return Root{}, fmt.Errorf("watch root %q: %w", s, err)
	}
	return Root{Project: project, Dataset: dataset, Path: path}, nil
}

// ParseRoots parses every entry of a roots list.
func ParseRoots(entries []string) ([]Root, error) {
	roots := make([]Root, 0, len(entries))
	for _, e := range entries {
		r, err := ParseRoot(e)
		if err != nil {
			return nil, err
		}
		roots = append(roots, r)
	}
	return roots, nil
}
