package metadata

import (
	"context"
	"fmt"
	"time"
)

const fileColumns = "project_id, dataset_id, path, content_hash, size_bytes, chunk_count, partition_name, indexed_at"

// ListIndexedFiles returns the indexed-file records of one dataset ordered
// by path.
func (q *queries) ListIndexedFiles(ctx context.Context, projectID, datasetID string) ([]IndexedFile, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+fileColumns+" FROM indexed_files WHERE project_id = ? AND dataset_id = ? ORDER BY path",
		projectID, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list indexed files: %w", err)
	}
	defer rows.Close()

	var out []IndexedFile
	for rows.Next() {
		var f IndexedFile
		if err := rows.Scan(&f.ProjectID, &f.DatasetID, &f.Path, &f.ContentHash, &f.SizeBytes,
			&f.ChunkCount, &f.PartitionName, &f.IndexedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertIndexedFile inserts or replaces the record for one file.
func (q *queries) UpsertIndexedFile(ctx context.Context, f IndexedFile) error {
	if f.IndexedAt.IsZero() {
		f.IndexedAt = q.now()
	}
	stmt := q.d.upsert("indexed_files",
		[]string{"project_id", "dataset_id", "path", "content_hash", "size_bytes", "chunk_count", "partition_name", "indexed_at"},
		[]string{"project_id", "dataset_id", "path"},
		[]string{"content_hash", "size_bytes", "chunk_count", "partition_name", "indexed_at"})
	if _, err := q.q.ExecContext(ctx, stmt,
		f.ProjectID, f.DatasetID, f.Path, f.ContentHash, f.SizeBytes, f.ChunkCount, f.PartitionName, f.IndexedAt.UTC()); err != nil {
		return fmt.Errorf("upsert indexed file %s: %w", f.Path, err)
	}
	return nil
}

// DeleteIndexedFile removes the record for one file. A missing record is
// not an error.
func (q *queries) DeleteIndexedFile(ctx context.Context, projectID, datasetID, path string) error {
	if _, err := q.q.ExecContext(ctx,
		"DELETE FROM indexed_files WHERE project_id = ? AND dataset_id = ? AND path = ?",
		projectID, datasetID, path); err != nil {
		return fmt.Errorf("delete indexed file %s: %w", path, err)
	}
	return nil
}

// DeleteIndexedFiles removes every record of a dataset and returns how many
// were removed.
func (q *queries) DeleteIndexedFiles(ctx context.Context, datasetID string) (int64, error) {
	res, err := q.q.ExecContext(ctx, "DELETE FROM indexed_files WHERE dataset_id = ?", datasetID)
	if err != nil {
		return 0, fmt.Errorf("delete indexed files of %s: %w", datasetID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MoveIndexedFile changes the path of a record without touching its hash or
// chunk count.
func (q *queries) MoveIndexedFile(ctx context.Context, projectID, datasetID, from, to string, at time.Time) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE indexed_files SET path = ?, indexed_at = ? WHERE project_id = ? AND dataset_id = ? AND path = ?",
		to, at.UTC(), projectID, datasetID, from)
	if err != nil {
		if q.d.isUniqueViolation(err) {
			return fmt.Errorf("move %s to %s: %w", from, to, ErrDuplicate)
		}
		return fmt.Errorf("move indexed file %s: %w", from, err)
	}
	return requireRow(res, "indexed file", from)
}

// SumChunks returns the total chunk count recorded for a dataset.
func (q *queries) SumChunks(ctx context.Context, datasetID string) (int64, error) {
	var n int64
	if err := q.q.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(chunk_count), 0) FROM indexed_files WHERE dataset_id = ?", datasetID).Scan(&n); err != nil {
		return 0, fmt.Errorf("sum chunks of %s: %w", datasetID, err)
	}
	return n, nil
}
