package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for backend operations.
var (
	// ErrPartitionNotFound is returned when a partition does not exist.
	ErrPartitionNotFound = errors.New("partition not found")

	// ErrPartitionExists is returned when creating a partition that exists.
	ErrPartitionExists = errors.New("partition already exists")

	// ErrInvalidConfig indicates invalid backend configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidPartitionName indicates a name the backends cannot store.
	ErrInvalidPartitionName = errors.New("invalid partition name")

	// ErrDimensionMismatch is returned when a vector does not fit the partition.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector backend")

	// ErrCircuitOpen is returned while the circuit breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// Backend is the physical vector-index store. A partition is one named
// collection (qdrant), index (elasticsearch) or chromem collection.
//
// Implementations must be safe for concurrent use. Point IDs are stable,
// so Insert of an existing ID overwrites it.
type Backend interface {
	// Name identifies the implementation ("chromem", "qdrant", ...).
	Name() string

	// CreatePartition creates a partition for vectors of dim dimensions.
	// Hybrid partitions also hold a sparse vector per point. Returns
	// ErrPartitionExists if the partition is already present.
	CreatePartition(ctx context.Context, name string, dim int, hybrid bool) error

	// HasPartition reports whether the partition exists.
	HasPartition(ctx context.Context, name string) (bool, error)

	// DeletePartition drops the partition. Returns ErrPartitionNotFound
	// when absent.
	DeletePartition(ctx context.Context, name string) error

	// Insert upserts points.
	Insert(ctx context.Context, name string, points []Point) error

	// DeleteByFilter removes every point matching f.
	DeleteByFilter(ctx context.Context, name string, f Filter) (DeleteResult, error)

	// SetPayload overwrites string payload fields on every point matching
	// f. The count follows the same known/unknown rule as DeleteByFilter.
	SetPayload(ctx context.Context, name string, f Filter, fields map[string]string) (DeleteResult, error)

	// Search returns up to req.Limit points by descending score.
	Search(ctx context.Context, name string, req SearchRequest) ([]ScoredPoint, error)

	// Stats returns the partition's point count.
	Stats(ctx context.Context, name string) (Stats, error)

	// ListPartitions returns every partition name in the backend.
	ListPartitions(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// UpdatePath rewrites the path field of points matching f. Used for renames,
// which keep vectors and re-point the payload.
func UpdatePath(ctx context.Context, b Backend, name string, f Filter, newPath string) (DeleteResult, error) {
	return b.SetPayload(ctx, name, f, map[string]string{FieldPath: newPath})
}

// Point is one chunk vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Sparse  *SparseVector
	Payload Payload
}

// SparseVector is a term-weight vector for hybrid partitions.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// SearchRequest describes one partition query.
type SearchRequest struct {
	Vector []float32
	Sparse *SparseVector // used only by hybrid partitions
	Filter Filter
	Limit  int
}

// ScoredPoint is one search hit.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload Payload
}

// DeleteResult reports how many points an operation touched. Known is false
// when the backend cannot count; callers then treat the operation as
// successful with an unknown count.
type DeleteResult struct {
	Count int64
	Known bool
}

// Stats describes a partition.
type Stats struct {
	PointCount int64
}

var partitionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidatePartitionName checks a name against what every backend accepts.
func ValidatePartitionName(name string) error {
	if !partitionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidPartitionName, name)
	}
	return nil
}

func validatePoints(points []Point, dim int) error {
	for i, p := range points {
		if p.ID == "" {
			return fmt.Errorf("point %d: empty id", i)
		}
		if dim > 0 && len(p.Vector) != dim {
			return fmt.Errorf("%w: point %d has %d dimensions, partition has %d", ErrDimensionMismatch, i, len(p.Vector), dim)
		}
	}
	return nil
}
