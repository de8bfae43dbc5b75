package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/islandd/internal/scope"
)

const projectColumns = "id, name, display_name, is_global, is_system, created_at, updated_at"

// EnsureProject creates the project on first reference and returns it.
// Existing projects are returned unchanged.
func (q *queries) EnsureProject(ctx context.Context, name string, system bool) (*Project, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: project name required", ErrInvalidConfig)
	}
	now := q.now()
	stmt := q.d.upsert("projects",
		[]string{"id", "name", "display_name", "is_global", "is_system", "created_at", "updated_at"},
		[]string{"name"}, nil)
	if _, err := q.q.ExecContext(ctx, stmt,
		scope.ProjectID(name).String(), name, name, boolInt(system), boolInt(system), now, now); err != nil {
		return nil, fmt.Errorf("ensure project %s: %w", name, err)
	}
	return q.GetProjectByName(ctx, name)
}

// GetProject returns a project by id.
func (q *queries) GetProject(ctx context.Context, id string) (*Project, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	p, err := scanProject(row)
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return p, nil
}

// GetProjectByName returns a project by name.
func (q *queries) GetProjectByName(ctx context.Context, name string) (*Project, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE name = ?", name)
	p, err := scanProject(row)
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", name, err)
	}
	return p, nil
}

// ListProjects returns every project ordered by name.
func (q *queries) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := q.q.QueryContext(ctx, "SELECT "+projectColumns+" FROM projects ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetProjectDisplayName updates the human-readable project name.
func (q *queries) SetProjectDisplayName(ctx context.Context, id, display string) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE projects SET display_name = ?, updated_at = ? WHERE id = ?", display, q.now(), id)
	if err != nil {
		return fmt.Errorf("rename project %s: %w", id, err)
	}
	return requireRow(res, "project", id)
}

// SetProjectGlobal flags a project as globally visible.
func (q *queries) SetProjectGlobal(ctx context.Context, id string, global bool) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE projects SET is_global = ?, updated_at = ? WHERE id = ?", boolInt(global), q.now(), id)
	if err != nil {
		return fmt.Errorf("update project %s: %w", id, err)
	}
	return requireRow(res, "project", id)
}

// DeleteProject removes a project that owns no datasets.
func (q *queries) DeleteProject(ctx context.Context, id string) error {
	p, err := q.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if p.System {
		return ErrSystemProject
	}

	var n int
	if err := q.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM datasets WHERE project_id = ?", id).Scan(&n); err != nil {
		return fmt.Errorf("count datasets of %s: %w", id, err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %s owns %d", ErrProjectInUse, p.Name, n)
	}

	if _, err := q.q.ExecContext(ctx, "DELETE FROM share_grants WHERE grantee_project_id = ?", id); err != nil {
		return fmt.Errorf("delete grants of %s: %w", id, err)
	}
	if _, err := q.q.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(r rowScanner) (*Project, error) {
	var p Project
	if err := r.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Global, &p.System, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
