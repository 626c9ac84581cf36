package repo

import (
	"context"
	"database/sql"

	"crewdesk/internal/domain"
)

func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, userID, name, now string) error {
	if name == "" {
		name = userID
	}
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT OR IGNORE INTO users(id, name, created_at) VALUES (?,?,?)`, userID, name, now)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,avatar,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.Avatar, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) UpdateUser(ctx context.Context, id, name, avatar string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET name=?, avatar=? WHERE id=?`, name, avatar, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,avatar,created_at FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Avatar, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
