package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/logging"
	"github.com/fyrsmithlabs/islandd/internal/metadata"
	"github.com/fyrsmithlabs/islandd/internal/scope"
	"github.com/fyrsmithlabs/islandd/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/islandd/internal/lifecycle"

// DefaultBackendTimeout bounds each backend call made by the manager.
const DefaultBackendTimeout = 30 * time.Second

var (
	// ErrBackend wraps vector backend failures during partition creation.
	// The relational transaction has been rolled back when it is returned.
	ErrBackend = errors.New("vector backend error")

	// ErrDimensionMismatch is returned when a dataset's partition was
	// created for a different embedding dimension.
	ErrDimensionMismatch = errors.New("partition dimension mismatch")

	// ErrNotLegacy is returned when migrating a name outside the legacy
	// namespace.
	ErrNotLegacy = errors.New("not a legacy partition")

	// ErrAlreadyMigrated is returned when a legacy partition is already
	// bound to a dataset.
	ErrAlreadyMigrated = errors.New("legacy partition already migrated")

	// ErrDatasetHasPartition is returned when migrating into a dataset that
	// already owns a partition.
	ErrDatasetHasPartition = errors.New("dataset already has a partition")
)

// PartitionRequest identifies the dataset whose partition is wanted.
type PartitionRequest struct {
	ProjectName string
	DatasetName string
	Dimension   int
	Hybrid      bool
	Global      bool
	SourceKind  metadata.SourceKind
	Source      metadata.SourceMeta
}

// DatasetID returns the stable id of the requested dataset.
func (r PartitionRequest) DatasetID() string {
	return scope.DatasetID(r.ProjectName, r.DatasetName).String()
}

// Manager owns partition creation, stats, renames and deletion.
type Manager struct {
	store   *metadata.Store
	backend vectorstore.Backend
	logger  *logging.Logger
	tracer  trace.Tracer
	timeout time.Duration
	now     func() time.Time

	// afterLookup runs between the record lookup and the creating
	// transaction. Tests use it to interleave a competing creator.
	afterLookup func(ctx context.Context)
}

// Option configures a Manager.
type Option func(*Manager)

// WithBackendTimeout bounds each backend call. Zero disables the bound.
func WithBackendTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a lifecycle manager.
func NewManager(store *metadata.Store, backend vectorstore.Backend, logger *logging.Logger, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("vector backend is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	m := &Manager{
		store:   store,
		backend: backend,
		logger:  logger.Named("lifecycle"),
		tracer:  otel.Tracer(instrumentationName),
		timeout: DefaultBackendTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Backend returns the vector backend the manager writes to.
func (m *Manager) Backend() vectorstore.Backend { return m.backend }

// Store returns the metadata store.
func (m *Manager) Store() *metadata.Store { return m.store }

func (m *Manager) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.timeout)
}

func (m *Manager) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := m.tracer.Start(ctx, "lifecycle."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
	}
}

// GetOrCreatePartition returns the dataset's partition record, creating the
// dataset, the physical partition and the record on first use.
//
// An existing record is returned without backend I/O. A physical partition
// that exists without a record is adopted. When a concurrent caller wins
// the insert, its record is returned.
func (m *Manager) GetOrCreatePartition(ctx context.Context, req PartitionRequest) (p *metadata.Partition, err error) {
	if err := scope.Validate(req.ProjectName, req.DatasetName, scope.Local); err != nil {
		return nil, err
	}
	if req.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", vectorstore.ErrInvalidConfig)
	}
	datasetID := req.DatasetID()
	ctx = logging.WithScope(ctx, req.ProjectName, req.DatasetName)

	ctx, end := m.startSpan(ctx, "get_or_create_partition",
		attribute.String("project", req.ProjectName),
		attribute.String("dataset", req.DatasetName))
	defer end(&err)

	existing, err := m.store.GetPartitionByDataset(ctx, datasetID)
	switch {
	case err == nil:
		partitionsEnsured.WithLabelValues("existing").Inc()
		return existing, checkDimension(existing, req.Dimension)
	case !errors.Is(err, metadata.ErrNotFound):
		return nil, fmt.Errorf("lookup partition: %w", err)
	}

	if m.afterLookup != nil {
		m.afterLookup(ctx)
	}

	name, err := scope.PartitionName(req.ProjectName, req.DatasetName, scope.Local)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithPartition(ctx, name)

	created := &metadata.Partition{
		ID:             uuid.NewString(),
		DatasetID:      datasetID,
		Name:           name,
		Backend:        m.backend.Name(),
		Dimension:      req.Dimension,
		Hybrid:         req.Hybrid,
		DisplayProject: req.ProjectName,
		DisplayDataset: req.DatasetName,
		CreatedAt:      m.now(),
	}

	adopted := false
	err = m.store.WithTx(ctx, func(tx *metadata.Tx) error {
		ds, err := tx.EnsureDataset(ctx, metadata.DatasetSpec{
			ProjectName: req.ProjectName,
			Name:        req.DatasetName,
			Global:      req.Global,
			SourceKind:  req.SourceKind,
			Source:      req.Source,
		})
		if err != nil {
			return err
		}
		created.ProjectID = ds.ProjectID

		adopted, err = m.ensurePhysical(ctx, name, req.Dimension, req.Hybrid)
		if err != nil {
			return err
		}
		return tx.InsertPartition(ctx, created)
	})

	switch {
	case err == nil:
	case errors.Is(err, metadata.ErrDuplicate):
		winner, lookupErr := m.store.GetPartitionByDataset(ctx, datasetID)
		if lookupErr != nil {
			partitionsEnsured.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("re-read partition after concurrent create: %w", lookupErr)
		}
		partitionsEnsured.WithLabelValues("lost_race").Inc()
		m.logger.Debug(ctx, "partition created concurrently, using winner", zap.String("partition_id", winner.ID))
		return winner, checkDimension(winner, req.Dimension)
	default:
		partitionsEnsured.WithLabelValues("error").Inc()
		return nil, err
	}

	if adopted {
		partitionsEnsured.WithLabelValues("adopted").Inc()
		m.logger.Warn(ctx, "adopted existing physical partition", zap.Bool("orphan", true))
	} else {
		partitionsEnsured.WithLabelValues("created").Inc()
		m.logger.Info(ctx, "partition created",
			zap.Int("dimension", req.Dimension),
			zap.Bool("hybrid", req.Hybrid))
	}
	return created, nil
}

// EnsureGlobalPartition creates the deployment's well-known global
// partition if it is missing. It holds shared points written without a
// project or dataset and has no dataset record.
func (m *Manager) EnsureGlobalPartition(ctx context.Context, dim int, hybrid bool) (err error) {
	ctx, end := m.startSpan(ctx, "ensure_global")
	defer end(&err)

	existed, err := m.ensurePhysical(ctx, scope.GlobalPartition, dim, hybrid)
	if err != nil {
		return err
	}
	if !existed {
		m.logger.Info(logging.WithPartition(ctx, scope.GlobalPartition), "created global partition",
			zap.Int("dimension", dim))
	}
	return nil
}

// ensurePhysical creates the physical partition unless it already exists.
// It reports whether an existing partition was found.
func (m *Manager) ensurePhysical(ctx context.Context, name string, dim int, hybrid bool) (bool, error) {
	cctx, cancel := m.bounded(ctx)
	defer cancel()

	exists, err := m.backend.HasPartition(cctx, name)
	if err != nil {
		return false, fmt.Errorf("%w: check partition %s: %w", ErrBackend, name, err)
	}
	if exists {
		return true, nil
	}
	if err := m.backend.CreatePartition(cctx, name, dim, hybrid); err != nil {
		if errors.Is(err, vectorstore.ErrPartitionExists) {
			return true, nil
		}
		return false, fmt.Errorf("%w: create partition %s: %w", ErrBackend, name, err)
	}
	return false, nil
}

func checkDimension(p *metadata.Partition, want int) error {
	if p.Dimension > 0 && want > 0 && p.Dimension != want {
		return fmt.Errorf("%w: partition %s has %d, embedder produces %d", ErrDimensionMismatch, p.Name, p.Dimension, want)
	}
	return nil
}

// Partition returns the partition record of a dataset.
func (m *Manager) Partition(ctx context.Context, datasetID string) (*metadata.Partition, error) {
	return m.store.GetPartitionByDataset(ctx, datasetID)
}

// UpdateStats records the point count observed after an indexing run.
func (m *Manager) UpdateStats(ctx context.Context, datasetID string, pointCount int64) error {
	if err := m.store.UpdatePartitionStats(ctx, datasetID, pointCount, m.now()); err != nil {
		return err
	}
	m.logger.Debug(ctx, "partition stats updated",
		zap.String("dataset_id", datasetID),
		zap.Int64("point_count", pointCount))
	return nil
}

// RenameDisplayMetadata changes the display names shown for a dataset and
// its project. The partition name and every id stay the same. Empty names
// leave the corresponding display name unchanged.
func (m *Manager) RenameDisplayMetadata(ctx context.Context, datasetID, projectName, datasetName string) (err error) {
	ctx, end := m.startSpan(ctx, "rename", attribute.String("dataset_id", datasetID))
	defer end(&err)

	return m.store.WithTx(ctx, func(tx *metadata.Tx) error {
		ds, err := tx.GetDataset(ctx, datasetID)
		if err != nil {
			return err
		}
		p, err := tx.GetPartitionByDataset(ctx, datasetID)
		if err != nil {
			return err
		}
		project := p.DisplayProject
		if projectName != "" {
			project = projectName
			if err := tx.SetProjectDisplayName(ctx, ds.ProjectID, projectName); err != nil {
				return err
			}
		}
		dataset := p.DisplayDataset
		if datasetName != "" {
			dataset = datasetName
			if err := tx.SetDatasetDisplayName(ctx, datasetID, datasetName); err != nil {
				return err
			}
		}
		return tx.SetPartitionDisplay(ctx, datasetID, project, dataset)
	})
}

// SetProjectGlobal flags a project as globally visible. Every dataset of a
// global project becomes searchable from other projects that include global
// data in their queries.
func (m *Manager) SetProjectGlobal(ctx context.Context, projectName string, global bool) (p *metadata.Project, err error) {
	ctx, end := m.startSpan(ctx, "set_project_global", attribute.String("project", projectName))
	defer end(&err)

	err = m.store.WithTx(ctx, func(tx *metadata.Tx) error {
		proj, err := tx.GetProjectByName(ctx, projectName)
		if err != nil {
			return err
		}
		if err := tx.SetProjectGlobal(ctx, proj.ID, global); err != nil {
			return err
		}
		proj.Global = global
		p = proj
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info(ctx, "project visibility changed",
		zap.String("project", projectName),
		zap.Bool("global", global))
	return p, nil
}

// DeletePartition drops the physical partition and then the record and the
// dataset's indexed-file records. Deleting a missing partition succeeds.
func (m *Manager) DeletePartition(ctx context.Context, datasetID string) (err error) {
	ctx, end := m.startSpan(ctx, "delete_partition", attribute.String("dataset_id", datasetID))
	defer end(&err)

	p, err := m.store.GetPartitionByDataset(ctx, datasetID)
	switch {
	case err == nil:
		ctx = logging.WithPartition(ctx, p.Name)
		cctx, cancel := m.bounded(ctx)
		err := m.backend.DeletePartition(cctx, p.Name)
		cancel()
		if err != nil && !errors.Is(err, vectorstore.ErrPartitionNotFound) {
			return fmt.Errorf("%w: drop partition %s: %w", ErrBackend, p.Name, err)
		}
	case !errors.Is(err, metadata.ErrNotFound):
		return err
	}

	var files int64
	err = m.store.WithTx(ctx, func(tx *metadata.Tx) error {
		if err := tx.DeletePartitionByDataset(ctx, datasetID); err != nil {
			return err
		}
		var err error
		files, err = tx.DeleteIndexedFiles(ctx, datasetID)
		return err
	})
	if err != nil {
		return err
	}
	m.logger.Info(ctx, "partition deleted",
		zap.String("dataset_id", datasetID),
		zap.Int64("indexed_files", files))
	return nil
}

// DeleteDataset deletes the dataset's partition and then the dataset row.
func (m *Manager) DeleteDataset(ctx context.Context, datasetID string) error {
	if err := m.DeletePartition(ctx, datasetID); err != nil {
		return err
	}
	if err := m.store.DeleteDataset(ctx, datasetID); err != nil {
		return err
	}
	return nil
}
