package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GrantShare gives grantee access to a dataset. Granting again replaces the
// write flag and expiry.
func (q *queries) GrantShare(ctx context.Context, g ShareGrant) (*ShareGrant, error) {
	ds, err := q.GetDataset(ctx, g.DatasetID)
	if err != nil {
		return nil, err
	}
	if ds.ProjectID == g.GranteeProjectID {
		return nil, fmt.Errorf("%w: dataset already owned by grantee", ErrInvalidConfig)
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.OwnerProjectID = ds.ProjectID
	g.CreatedAt = q.now()

	stmt := q.d.upsert("share_grants",
		[]string{"id", "dataset_id", "owner_project_id", "grantee_project_id", "can_write", "expires_at", "created_at"},
		[]string{"dataset_id", "grantee_project_id"},
		[]string{"can_write", "expires_at"})
	if _, err := q.q.ExecContext(ctx, stmt,
		g.ID, g.DatasetID, g.OwnerProjectID, g.GranteeProjectID, boolInt(g.CanWrite), unixOrNull(g.ExpiresAt), g.CreatedAt); err != nil {
		return nil, fmt.Errorf("grant %s to %s: %w", g.DatasetID, g.GranteeProjectID, err)
	}
	return &g, nil
}

// RevokeShare removes a grant. Revoking a missing grant is not an error.
func (q *queries) RevokeShare(ctx context.Context, datasetID, granteeProjectID string) error {
	if _, err := q.q.ExecContext(ctx,
		"DELETE FROM share_grants WHERE dataset_id = ? AND grantee_project_id = ?",
		datasetID, granteeProjectID); err != nil {
		return fmt.Errorf("revoke %s from %s: %w", datasetID, granteeProjectID, err)
	}
	return nil
}

// ListShares returns grants received by a project, expired ones included.
func (q *queries) ListShares(ctx context.Context, granteeProjectID string) ([]ShareGrant, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT id, dataset_id, owner_project_id, grantee_project_id, can_write, expires_at, created_at "+
			"FROM share_grants WHERE grantee_project_id = ? ORDER BY created_at",
		granteeProjectID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	var out []ShareGrant
	for rows.Next() {
		var (
			g       ShareGrant
			expires sql.NullInt64
		)
		if err := rows.Scan(&g.ID, &g.DatasetID, &g.OwnerProjectID, &g.GranteeProjectID,
			&g.CanWrite, &expires, &g.CreatedAt); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := time.Unix(expires.Int64, 0).UTC()
			g.ExpiresAt = &t
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// unixOrNull stores expiries as unix seconds so both dialects compare them
// numerically.
func unixOrNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
