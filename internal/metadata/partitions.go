package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const partitionColumns = "id, dataset_id, project_id, name, backend, dimension, hybrid, point_count, " +
	"display_project, display_dataset, legacy, last_indexed_at, last_reconciled_at, created_at"

// InsertPartition records a partition. A second record for the same dataset
// fails with ErrDuplicate.
func (q *queries) InsertPartition(ctx context.Context, p *Partition) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = q.now()
	}
	var datasetID sql.NullString
	if p.DatasetID != "" {
		datasetID = sql.NullString{String: p.DatasetID, Valid: true}
	}

	_, err := q.q.ExecContext(ctx, "INSERT INTO partitions ("+partitionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		p.ID, datasetID, p.ProjectID, p.Name, p.Backend, p.Dimension, boolInt(p.Hybrid), p.PointCount,
		p.DisplayProject, p.DisplayDataset, boolInt(p.Legacy),
		nullTime(p.LastIndexedAt), nullTime(p.LastReconciledAt), p.CreatedAt)
	if err != nil {
		if q.d.isUniqueViolation(err) {
			return fmt.Errorf("partition for dataset %s: %w", p.DatasetID, ErrDuplicate)
		}
		return fmt.Errorf("insert partition %s: %w", p.Name, err)
	}
	return nil
}

// GetPartitionByDataset returns the partition record of a dataset.
func (q *queries) GetPartitionByDataset(ctx context.Context, datasetID string) (*Partition, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+partitionColumns+" FROM partitions WHERE dataset_id = ?", datasetID)
	p, err := scanPartition(row)
	if err != nil {
		return nil, fmt.Errorf("partition of dataset %s: %w", datasetID, err)
	}
	return p, nil
}

// GetPartitionByName returns a partition record by physical name.
func (q *queries) GetPartitionByName(ctx context.Context, name string) (*Partition, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+partitionColumns+" FROM partitions WHERE name = ?", name)
	p, err := scanPartition(row)
	if err != nil {
		return nil, fmt.Errorf("partition %s: %w", name, err)
	}
	return p, nil
}

// ListPartitions returns every partition record ordered by name.
func (q *queries) ListPartitions(ctx context.Context) ([]*Partition, error) {
	return q.listPartitions(ctx, "SELECT "+partitionColumns+" FROM partitions ORDER BY name")
}

// ListLegacyPartitions returns partitions in the legacy namespace that are
// not yet bound to a dataset.
func (q *queries) ListLegacyPartitions(ctx context.Context) ([]*Partition, error) {
	return q.listPartitions(ctx, "SELECT "+partitionColumns+" FROM partitions WHERE legacy = 1 AND dataset_id IS NULL ORDER BY name")
}

func (q *queries) listPartitions(ctx context.Context, query string, args ...any) ([]*Partition, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	var out []*Partition
	for rows.Next() {
		p, err := scanPartition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePartitionStats records the outcome of an indexing run.
func (q *queries) UpdatePartitionStats(ctx context.Context, datasetID string, pointCount int64, at time.Time) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE partitions SET point_count = ?, last_indexed_at = ?, last_reconciled_at = ? WHERE dataset_id = ?",
		pointCount, at.UTC(), at.UTC(), datasetID)
	if err != nil {
		return fmt.Errorf("update stats of %s: %w", datasetID, err)
	}
	return requireRow(res, "partition of dataset", datasetID)
}

// SetReconciledCount records a point count observed by reconciliation.
func (q *queries) SetReconciledCount(ctx context.Context, partitionID string, pointCount int64, at time.Time) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE partitions SET point_count = ?, last_reconciled_at = ? WHERE id = ?",
		pointCount, at.UTC(), partitionID)
	if err != nil {
		return fmt.Errorf("reconcile partition %s: %w", partitionID, err)
	}
	return requireRow(res, "partition", partitionID)
}

// SetPartitionDisplay updates the cached display names. The partition name
// never changes.
func (q *queries) SetPartitionDisplay(ctx context.Context, datasetID, project, dataset string) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE partitions SET display_project = ?, display_dataset = ? WHERE dataset_id = ?",
		project, dataset, datasetID)
	if err != nil {
		return fmt.Errorf("update display of %s: %w", datasetID, err)
	}
	return requireRow(res, "partition of dataset", datasetID)
}

// DeletePartitionByDataset removes a dataset's partition record. Deleting a
// missing record is not an error.
func (q *queries) DeletePartitionByDataset(ctx context.Context, datasetID string) error {
	if _, err := q.q.ExecContext(ctx, "DELETE FROM partitions WHERE dataset_id = ?", datasetID); err != nil {
		return fmt.Errorf("delete partition of %s: %w", datasetID, err)
	}
	return nil
}

// BindLegacyPartition re-keys an unbound legacy partition record to a
// dataset, together with the indexed-file records written into it.
func (q *queries) BindLegacyPartition(ctx context.Context, name, projectID, datasetID, displayProject, displayDataset string) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE partitions SET dataset_id = ?, project_id = ?, display_project = ?, display_dataset = ? "+
			"WHERE name = ? AND legacy = 1 AND dataset_id IS NULL",
		datasetID, projectID, displayProject, displayDataset, name)
	if err != nil {
		if q.d.isUniqueViolation(err) {
			return fmt.Errorf("dataset %s already has a partition: %w", datasetID, ErrDuplicate)
		}
		return fmt.Errorf("bind legacy partition %s: %w", name, err)
	}
	if err := requireRow(res, "legacy partition", name); err != nil {
		return err
	}
	if _, err := q.q.ExecContext(ctx,
		"UPDATE indexed_files SET project_id = ?, dataset_id = ? WHERE partition_name = ?",
		projectID, datasetID, name); err != nil {
		return fmt.Errorf("re-key indexed files of %s: %w", name, err)
	}
	return nil
}

func scanPartition(r rowScanner) (*Partition, error) {
	var (
		p          Partition
		datasetID  sql.NullString
		indexed    sql.NullTime
		reconciled sql.NullTime
	)
	if err := r.Scan(&p.ID, &datasetID, &p.ProjectID, &p.Name, &p.Backend, &p.Dimension, &p.Hybrid,
		&p.PointCount, &p.DisplayProject, &p.DisplayDataset, &p.Legacy, &indexed, &reconciled, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.DatasetID = datasetID.String
	p.LastIndexedAt = timePtr(indexed)
	p.LastReconciledAt = timePtr(reconciled)
	return &p, nil
}
