package repo

import (
	"context"
	"database/sql"

	"crewdesk/internal/domain"
)

func (r Repo) UpsertMember(ctx context.Context, tx *sql.Tx, projectID string, m domain.Member) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO members(project_id,user_id,name,avatar,role,joined_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(project_id,user_id) DO UPDATE SET name=excluded.name, avatar=excluded.avatar, role=excluded.role`,
		projectID, m.ID, m.Name, m.Avatar, m.Role, m.JoinedAt)
	return err
}

func (r Repo) SetMemberRole(ctx context.Context, tx *sql.Tx, projectID, userID, role string) error {
	res, err := tx.ExecContext(ctx, `UPDATE members SET role=? WHERE project_id=? AND user_id=?`, role, projectID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) RemoveMember(ctx context.Context, tx *sql.Tx, projectID, userID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM members WHERE project_id=? AND user_id=?`, projectID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListMembers(ctx context.Context, projectID string) ([]domain.Member, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id,name,avatar,role,joined_at FROM members WHERE project_id=? ORDER BY joined_at ASC, user_id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ID, &m.Name, &m.Avatar, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// MemberIDs returns the user ids of everyone on the project, owner included,
// for notification fan-out.
func (r Repo) MemberIDs(ctx context.Context, projectID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT owner_id FROM projects WHERE id=?
UNION
SELECT user_id FROM members WHERE project_id=?`, projectID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
