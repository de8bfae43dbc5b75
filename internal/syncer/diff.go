package syncer

import (
	"sort"

	"github.com/fyrsmithlabs/islandd/internal/metadata"
)

// Rename is a file that moved without changing content.
type Rename struct {
	From string
	To   string
}

// Changes is the difference between a scan and the recorded state.
// Every slice is sorted by path.
type Changes struct {
	Created   []string
	Modified  []string
	Deleted   []string
	Renamed   []Rename
	Unchanged int
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Created) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0 && len(c.Renamed) == 0
}

// Diff compares the current scan with the recorded indexed files.
//
// A deleted and a created file with the same hash form a rename. Pairing is
// one-to-one: deleted paths in order each take the first unpaired created
// path with the same hash, so the result does not depend on map order.
func Diff(current map[string]FileState, recorded []metadata.IndexedFile) Changes {
	var c Changes
	seen := make(map[string]bool, len(recorded))

	for _, f := range recorded {
		seen[f.Path] = true
		cur, ok := current[f.Path]
		switch {
		case !ok:
			c.Deleted = append(c.Deleted, f.Path)
		case cur.Hash != f.ContentHash:
			c.Modified = append(c.Modified, f.Path)
		default:
			c.Unchanged++
		}
	}
	for path := range current {
		if !seen[path] {
			c.Created = append(c.Created, path)
		}
	}
	sort.Strings(c.Created)
	sort.Strings(c.Modified)
	sort.Strings(c.Deleted)

	if len(c.Created) == 0 || len(c.Deleted) == 0 {
		return c
	}

	hashes := make(map[string]string, len(recorded))
	for _, f := range recorded {
		hashes[f.Path] = f.ContentHash
	}
	byHash := make(map[string][]string)
	for _, path := range c.Created {
		h := current[path].Hash
		byHash[h] = append(byHash[h], path)
	}

	paired := make(map[string]bool)
	deleted := c.Deleted[:0:0]
	for _, from := range c.Deleted {
		candidates := byHash[hashes[from]]
		if len(candidates) == 0 || hashes[from] == "" {
			deleted = append(deleted, from)
			continue
		}
		to := candidates[0]
		byHash[hashes[from]] = candidates[1:]
		paired[to] = true
		c.Renamed = append(c.Renamed, Rename{From: from, To: to})
	}
	c.Deleted = deleted

	created := c.Created[:0:0]
	for _, path := range c.Created {
		if !paired[path] {
			created = append(created, path)
		}
	}
	c.Created = created
	return c
}
