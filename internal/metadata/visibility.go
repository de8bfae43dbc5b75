package metadata

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// VisibilityQuery selects the partitions a caller may search.
type VisibilityQuery struct {
	// DatasetID narrows resolution to one dataset's partition.
	DatasetID string
	// ProjectID selects the partitions of datasets the project owns. Empty
	// together with DatasetID selects every partition.
	ProjectID string
	// IncludeShared adds datasets shared with ProjectID through unexpired
	// grants, datasets flagged global and every dataset of a project
	// flagged global.
	IncludeShared bool
	// At is the instant grant expiry is evaluated against.
	At time.Time
}

// VisiblePartitions resolves a visibility query with a single statement
// joining datasets to their partitions.
func (q *queries) VisiblePartitions(ctx context.Context, vq VisibilityQuery) ([]PartitionRef, error) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString("SELECT p.name, p.project_id, COALESCE(p.dataset_id, '') FROM partitions p ")

	switch {
	case vq.DatasetID != "":
		b.WriteString("JOIN datasets d ON d.id = p.dataset_id WHERE d.status = ? AND d.id = ?")
		args = append(args, string(StatusActive), vq.DatasetID)

	case vq.ProjectID != "":
		b.WriteString("JOIN datasets d ON d.id = p.dataset_id WHERE d.status = ? AND (d.project_id = ?")
		args = append(args, string(StatusActive), vq.ProjectID)
		if vq.IncludeShared {
			at := vq.At
			if at.IsZero() {
				at = q.now()
			}
			b.WriteString(" OR d.is_global = 1" +
				" OR d.project_id IN (SELECT gp.id FROM projects gp WHERE gp.is_global = 1)" +
				" OR d.id IN (SELECT g.dataset_id FROM share_grants g " +
				"WHERE g.grantee_project_id = ? AND (g.expires_at IS NULL OR g.expires_at > ?))")
			args = append(args, vq.ProjectID, at.Unix())
		}
		b.WriteString(")")

	default:
		b.WriteString("LEFT JOIN datasets d ON d.id = p.dataset_id WHERE d.id IS NULL OR d.status = ?")
		args = append(args, string(StatusActive))
	}
	b.WriteString(" ORDER BY p.name")

	rows, err := q.q.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("resolve visible partitions: %w", err)
	}
	defer rows.Close()

	var out []PartitionRef
	for rows.Next() {
		var ref PartitionRef
		if err := rows.Scan(&ref.Name, &ref.ProjectID, &ref.DatasetID); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}
