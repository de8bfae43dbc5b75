package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/logging"
	"github.com/fyrsmithlabs/islandd/internal/metadata"
	"github.com/fyrsmithlabs/islandd/internal/scope"
)

// LegacyPartitions lists legacy path-hash partitions not yet bound to a
// dataset, whether or not they have a record.
func (m *Manager) LegacyPartitions(ctx context.Context) ([]string, error) {
	records, err := m.store.ListLegacyPartitions(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(records))
	for _, p := range records {
		seen[p.Name] = true
	}

	cctx, cancel := m.bounded(ctx)
	physical, err := m.backend.ListPartitions(cctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: list partitions: %w", ErrBackend, err)
	}
	for _, name := range physical {
		if !scope.IsLegacy(name) || seen[name] {
			continue
		}
		bound, err := m.store.GetPartitionByName(ctx, name)
		if err == nil && bound.DatasetID != "" {
			continue
		}
		seen[name] = true
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// MigrateLegacy binds a legacy path-hash partition to a dataset. Only the
// partition metadata is re-keyed; the vectors stay where they are and keep
// the legacy name. The migration cannot be undone, and it is refused when
// the dataset already has a partition.
func (m *Manager) MigrateLegacy(ctx context.Context, legacyName, projectName, datasetName string) (p *metadata.Partition, err error) {
	if !scope.IsLegacy(legacyName) {
		return nil, fmt.Errorf("%w: %s", ErrNotLegacy, legacyName)
	}
	if err := scope.Validate(projectName, datasetName, scope.Local); err != nil {
		return nil, err
	}
	datasetID := scope.DatasetID(projectName, datasetName).String()
	ctx = logging.WithPartition(logging.WithScope(ctx, projectName, datasetName), legacyName)

	ctx, end := m.startSpan(ctx, "migrate_legacy", attribute.String("partition", legacyName))
	defer end(&err)

	record, err := m.store.GetPartitionByName(ctx, legacyName)
	switch {
	case err == nil:
		if record.DatasetID != "" {
			return nil, fmt.Errorf("%w: %s belongs to dataset %s", ErrAlreadyMigrated, legacyName, record.DatasetID)
		}
	case errors.Is(err, metadata.ErrNotFound):
		record = nil
		cctx, cancel := m.bounded(ctx)
		exists, hasErr := m.backend.HasPartition(cctx, legacyName)
		cancel()
		if hasErr != nil {
			return nil, fmt.Errorf("%w: check partition %s: %w", ErrBackend, legacyName, hasErr)
		}
		if !exists {
			return nil, fmt.Errorf("legacy partition %s: %w", legacyName, metadata.ErrNotFound)
		}
	default:
		return nil, err
	}

	err = m.store.WithTx(ctx, func(tx *metadata.Tx) error {
		ds, err := tx.EnsureDataset(ctx, metadata.DatasetSpec{ProjectName: projectName, Name: datasetName})
		if err != nil {
			return err
		}
		if _, err := tx.GetPartitionByDataset(ctx, datasetID); err == nil {
			return fmt.Errorf("%w: %s/%s", ErrDatasetHasPartition, projectName, datasetName)
		} else if !errors.Is(err, metadata.ErrNotFound) {
			return err
		}

		if record == nil {
			return tx.InsertPartition(ctx, &metadata.Partition{
				ID:             uuid.NewString(),
				DatasetID:      datasetID,
				ProjectID:      ds.ProjectID,
				Name:           legacyName,
				Backend:        m.backend.Name(),
				DisplayProject: projectName,
				DisplayDataset: datasetName,
				Legacy:         true,
				CreatedAt:      m.now(),
			})
		}
		return tx.BindLegacyPartition(ctx, legacyName, ds.ProjectID, datasetID, projectName, datasetName)
	})
	if errors.Is(err, metadata.ErrDuplicate) {
		return nil, fmt.Errorf("%w: %s/%s", ErrDatasetHasPartition, projectName, datasetName)
	}
	if err != nil {
		return nil, err
	}

	p, err = m.store.GetPartitionByDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	m.logger.Info(ctx, "legacy partition migrated",
		zap.String("dataset_id", datasetID),
		zap.Bool("had_record", record != nil))
	return p, nil
}
