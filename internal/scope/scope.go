// Package scope resolves project/dataset context into scope levels, partition
// names and stable identifiers.
//
// Everything here is a pure function: the sync engine and the query router
// compute partition names independently and must agree without coordination.
package scope

import (
	"errors"
	"fmt"
	"strings"
)

// Level is the breadth of a project/dataset context.
type Level int

const (
	// Unset means no explicit hint was given.
	Unset Level = iota
	// Global is deployment-wide shared knowledge.
	Global
	// Project covers every dataset of one project.
	Project
	// Local is exactly one dataset of one project.
	Local
)

var (
	// ErrInvalidScope is the parent of every scope resolution failure.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrProjectRequired indicates Project or Local scope without a project.
	ErrProjectRequired = fmt.Errorf("%w: project required", ErrInvalidScope)

	// ErrDatasetRequired indicates Local scope without a dataset.
	ErrDatasetRequired = fmt.Errorf("%w: dataset required", ErrInvalidScope)

	// ErrUnknownLevel indicates an unparseable level string.
	ErrUnknownLevel = fmt.Errorf("%w: unknown level", ErrInvalidScope)
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case Global:
		return "global"
	case Project:
		return "project"
	case Local:
		return "local"
	default:
		return "unset"
	}
}

// ParseLevel parses a level name. The empty string yields Unset.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return Unset, nil
	case "global":
		return Global, nil
	case "project":
		return Project, nil
	case "local", "dataset":
		return Local, nil
	default:
		return Unset, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}

// Resolve picks the scope level for a (project, dataset, hint) triple.
//
// An explicit Global hint always wins. With both names present the scope is
// Local unless the hint asks for Project. A project alone gives Project.
// Anything else is Global.
func Resolve(project, dataset string, hint Level) Level {
	if hint == Global {
		return Global
	}
	hasProject := strings.TrimSpace(project) != ""
	hasDataset := strings.TrimSpace(dataset) != ""

	switch {
	case hasProject && hasDataset:
		if hint == Project {
			return Project
		}
		return Local
	case hasProject:
		return Project
	default:
		return Global
	}
}

// Validate reports whether the names satisfy the requirements of level.
func Validate(project, dataset string, level Level) error {
	switch level {
	case Global:
		return nil
	case Project:
		if strings.TrimSpace(project) == "" {
			return ErrProjectRequired
		}
		return nil
	case Local:
		if strings.TrimSpace(project) == "" {
			return ErrProjectRequired
		}
		if strings.TrimSpace(dataset) == "" {
			return ErrDatasetRequired
		}
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownLevel, int(level))
	}
}
