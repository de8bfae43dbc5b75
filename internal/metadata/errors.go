package metadata

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a unique constraint rejected the write.
	ErrDuplicate = errors.New("duplicate")

	// ErrProjectInUse indicates a project still owns datasets.
	ErrProjectInUse = errors.New("project has datasets")

	// ErrSystemProject indicates an attempt to delete the system project.
	ErrSystemProject = errors.New("system project cannot be deleted")

	// ErrUnsupportedDriver indicates an unknown database driver.
	ErrUnsupportedDriver = errors.New("unsupported metadata driver")

	// ErrInvalidConfig indicates an unusable store configuration.
	ErrInvalidConfig = errors.New("invalid metadata config")
)
