package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"crewdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const projectColumns = `id,owner_id,name,COALESCE(description,'') AS description,status,progress,tasks_count,created_at,updated_at`

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Status, &p.Progress, &p.TasksCount, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,owner_id,name,description,status,progress,tasks_count,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.OwnerID, p.Name, nullable(p.Description), p.Status, p.Progress, p.TasksCount, p.CreatedAt, p.UpdatedAt)
	return err
}

// GetProject loads a project with its member list, the snapshot the
// capability engine evaluates.
func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	members, err := r.ListMembers(ctx, id)
	if err != nil {
		return p, err
	}
	p.Members = members
	return p, nil
}

func (r Repo) ListProjects(ctx context.Context, memberID string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY created_at DESC`
	var args []any
	if memberID != "" {
		query = `SELECT ` + projectColumns + ` FROM projects WHERE owner_id=? OR id IN (SELECT project_id FROM members WHERE user_id=?) ORDER BY created_at DESC`
		args = append(args, memberID, memberID)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Status, &p.Progress, &p.TasksCount, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProject patches name, description and status. Owner and derived
// fields are managed elsewhere.
func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, id string, name, status string, description *string, updatedAt string) error {
	fields := []string{"updated_at=?"}
	args := []any{updatedAt}
	if name != "" {
		fields = append(fields, "name=?")
		args = append(args, name)
	}
	if status != "" {
		fields = append(fields, "status=?")
		args = append(args, status)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetProgress writes the derived progress percentage back to the project.
func (r Repo) SetProgress(ctx context.Context, projectID string, progress int) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE projects SET progress=? WHERE id=?`, progress, projectID)
	return err
}

// AdjustTasksCount bumps the denormalized task counter atomically.
func (r Repo) AdjustTasksCount(ctx context.Context, tx *sql.Tx, projectID string, delta int) error {
	_, err := tx.ExecContext(ctx, `UPDATE projects SET tasks_count = MAX(tasks_count + ?, 0) WHERE id=?`, delta, projectID)
	return err
}

// CountTasks returns the number of tasks in a project, optionally filtered
// by status.
func (r Repo) CountTasks(ctx context.Context, projectID, status string) (int, error) {
	query := `SELECT count(*) FROM tasks WHERE project_id=?`
	args := []any{projectID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	var n int
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
