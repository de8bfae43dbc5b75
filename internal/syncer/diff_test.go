package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/islandd/internal/metadata"
)

func state(files map[string]string) map[string]FileState {
	out := make(map[string]FileState, len(files))
	for path, hash := range files {
		out[path] = FileState{Path: path, Hash: hash}
	}
	return out
}

func records(files map[string]string) []metadata.IndexedFile {
	out := make([]metadata.IndexedFile, 0, len(files))
	for path, hash := range files {
		out = append(out, metadata.IndexedFile{Path: path, ContentHash: hash})
	}
	return out
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name     string
		current  map[string]string
		recorded map[string]string
		want     Changes
	}{
		{
			name: "empty",
			want: Changes{},
		},
		{
			name:    "first sync",
			current: map[string]string{"b.go": "h2", "a.go": "h1"},
			want:    Changes{Created: []string{"a.go", "b.go"}},
		},
		{
			name:     "unchanged",
			current:  map[string]string{"a.go": "h1"},
			recorded: map[string]string{"a.go": "h1"},
			want:     Changes{Unchanged: 1},
		},
		{
			name:     "modified and deleted",
			current:  map[string]string{"a.go": "h1x"},
			recorded: map[string]string{"a.go": "h1", "b.go": "h2"},
			want:     Changes{Modified: []string{"a.go"}, Deleted: []string{"b.go"}},
		},
		{
			name:     "rename",
			current:  map[string]string{"new.go": "h1"},
			recorded: map[string]string{"old.go": "h1"},
			want:     Changes{Renamed: []Rename{{From: "old.go", To: "new.go"}}},
		},
		{
			name:     "rename is one to one",
			current:  map[string]string{"x.go": "h1", "y.go": "h1"},
			recorded: map[string]string{"a.go": "h1"},
			want: Changes{
				Created: []string{"y.go"},
				Renamed: []Rename{{From: "a.go", To: "x.go"}},
			},
		},
		{
			name:     "copies of deleted files pair in path order",
			current:  map[string]string{"c.go": "h", "d.go": "h"},
			recorded: map[string]string{"a.go": "h", "b.go": "h"},
			want: Changes{
				Renamed: []Rename{{From: "a.go", To: "c.go"}, {From: "b.go", To: "d.go"}},
			},
		},
		{
			name:     "different content is not a rename",
			current:  map[string]string{"new.go": "h2"},
			recorded: map[string]string{"old.go": "h1"},
			want:     Changes{Created: []string{"new.go"}, Deleted: []string{"old.go"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(state(tt.current), records(tt.recorded))
			assert.ElementsMatch(t, tt.want.Created, got.Created)
			assert.ElementsMatch(t, tt.want.Modified, got.Modified)
			assert.ElementsMatch(t, tt.want.Deleted, got.Deleted)
			assert.Equal(t, tt.want.Renamed, got.Renamed)
			assert.Equal(t, tt.want.Unchanged, got.Unchanged)
		})
	}
}

func TestDiff_Deterministic(t *testing.T) {
	current := state(map[string]string{"p.go": "h", "q.go": "h", "r.go": "h", "s.go": "z"})
	recorded := records(map[string]string{"a.go": "h", "b.go": "h"})

	first := Diff(current, recorded)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Diff(current, recorded))
	}
	assert.Equal(t, []string{"r.go", "s.go"}, first.Created)
	assert.False(t, first.Empty())
}
