package vectorstore

import (
	"errors"
	"fmt"
	"sort"
)

// ErrEmptyFilter is returned by destructive operations given no conditions.
var ErrEmptyFilter = errors.New("filter must have at least one condition")

// Filter is a conjunction of exact matches on string payload fields.
type Filter map[string]string

// ScopeFilter matches points of one dataset. Empty ids are left out.
func ScopeFilter(projectID, datasetID string) Filter {
	f := Filter{}
	if projectID != "" {
		f[FieldProjectID] = projectID
	}
	if datasetID != "" {
		f[FieldDatasetID] = datasetID
	}
	return f
}

// FileFilter matches every chunk of one file in a dataset.
func FileFilter(projectID, datasetID, path string) Filter {
	f := ScopeFilter(projectID, datasetID)
	f[FieldPath] = path
	return f
}

// Matches reports whether p satisfies every condition.
func (f Filter) Matches(p Payload) bool {
	m := p.stringMap()
	for k, v := range f {
		if m[k] != v {
			return false
		}
	}
	return true
}

// Keys returns the filter fields in sorted order.
func (f Filter) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f Filter) requireConditions() error {
	if len(f) == 0 {
		return ErrEmptyFilter
	}
	return nil
}

func validateFields(fields map[string]string) error {
	if len(fields) == 0 {
		return errors.New("no payload fields to set")
	}
	for k := range fields {
		if !settable(k) {
			return fmt.Errorf("payload field %q cannot be updated", k)
		}
	}
	return nil
}
