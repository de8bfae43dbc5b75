package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/islandd/internal/scope"
)

const datasetColumns = "id, project_id, name, display_name, status, is_global, source_kind, source_meta, created_at, updated_at"

// DatasetSpec describes a dataset to ensure.
type DatasetSpec struct {
	ProjectName string
	Name        string
	Global      bool
	SourceKind  SourceKind
	Source      SourceMeta
}

// EnsureDataset creates the project and dataset on first reference. An
// existing dataset keeps its status and visibility, but its source metadata
// is refreshed.
func (q *queries) EnsureDataset(ctx context.Context, spec DatasetSpec) (*Dataset, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: dataset name required", ErrInvalidConfig)
	}
	project, err := q.EnsureProject(ctx, spec.ProjectName, spec.ProjectName == SystemProject)
	if err != nil {
		return nil, err
	}

	kind := spec.SourceKind
	if kind == "" {
		kind = SourceLocal
	}
	id := scope.DatasetID(spec.ProjectName, spec.Name).String()
	now := q.now()

	stmt := q.d.upsert("datasets",
		[]string{"id", "project_id", "name", "display_name", "status", "is_global", "source_kind", "source_meta", "created_at", "updated_at"},
		[]string{"project_id", "name"},
		[]string{"source_kind", "source_meta", "updated_at"})
	if _, err := q.q.ExecContext(ctx, stmt,
		id, project.ID, spec.Name, spec.Name, string(StatusActive), boolInt(spec.Global || project.System),
		string(kind), spec.Source.encode(), now, now); err != nil {
		return nil, fmt.Errorf("ensure dataset %s/%s: %w", spec.ProjectName, spec.Name, err)
	}
	return q.GetDataset(ctx, id)
}

// GetDataset returns a dataset by id.
func (q *queries) GetDataset(ctx context.Context, id string) (*Dataset, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+datasetColumns+" FROM datasets WHERE id = ?", id)
	d, err := scanDataset(row)
	if err != nil {
		return nil, fmt.Errorf("get dataset %s: %w", id, err)
	}
	return d, nil
}

// GetDatasetByName returns a dataset by project and dataset name.
func (q *queries) GetDatasetByName(ctx context.Context, projectName, name string) (*Dataset, error) {
	return q.GetDataset(ctx, scope.DatasetID(projectName, name).String())
}

// ListDatasets returns a project's datasets ordered by name. An empty
// projectID lists every dataset.
func (q *queries) ListDatasets(ctx context.Context, projectID string) ([]*Dataset, error) {
	query := "SELECT " + datasetColumns + " FROM datasets"
	var args []any
	if projectID != "" {
		query += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY project_id, name"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var out []*Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SetDatasetStatus activates or deactivates a dataset. Inactive datasets
// are invisible to query resolution.
func (q *queries) SetDatasetStatus(ctx context.Context, id string, status DatasetStatus) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE datasets SET status = ?, updated_at = ? WHERE id = ?", string(status), q.now(), id)
	if err != nil {
		return fmt.Errorf("set dataset status %s: %w", id, err)
	}
	return requireRow(res, "dataset", id)
}

// SetDatasetGlobal flags a dataset as visible to every project.
func (q *queries) SetDatasetGlobal(ctx context.Context, id string, global bool) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE datasets SET is_global = ?, updated_at = ? WHERE id = ?", boolInt(global), q.now(), id)
	if err != nil {
		return fmt.Errorf("set dataset visibility %s: %w", id, err)
	}
	return requireRow(res, "dataset", id)
}

// SetDatasetDisplayName updates the human-readable dataset name.
func (q *queries) SetDatasetDisplayName(ctx context.Context, id, display string) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE datasets SET display_name = ?, updated_at = ? WHERE id = ?", display, q.now(), id)
	if err != nil {
		return fmt.Errorf("rename dataset %s: %w", id, err)
	}
	return requireRow(res, "dataset", id)
}

// DeleteDataset removes a dataset row together with its indexed-file
// records. The partition record and share grants cascade.
func (q *queries) DeleteDataset(ctx context.Context, id string) error {
	if _, err := q.q.ExecContext(ctx, "DELETE FROM indexed_files WHERE dataset_id = ?", id); err != nil {
		return fmt.Errorf("delete indexed files of %s: %w", id, err)
	}
	if _, err := q.q.ExecContext(ctx, "DELETE FROM sync_leases WHERE dataset_id = ?", id); err != nil {
		return fmt.Errorf("delete lease of %s: %w", id, err)
	}
	if _, err := q.q.ExecContext(ctx, "DELETE FROM datasets WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete dataset %s: %w", id, err)
	}
	return nil
}

func scanDataset(r rowScanner) (*Dataset, error) {
	var (
		d      Dataset
		status string
		kind   string
		meta   sql.NullString
	)
	if err := r.Scan(&d.ID, &d.ProjectID, &d.Name, &d.DisplayName, &status, &d.Global,
		&kind, &meta, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	d.Status = DatasetStatus(status)
	d.SourceKind = SourceKind(kind)
	d.Source = decodeSourceMeta(meta.String)
	return &d, nil
}
