package repo

import (
	"context"
	"strings"
	"time"

	"crewdesk/internal/domain"
)

const notificationColumns = `id,user_id,type,title,message,COALESCE(sender,''),COALESCE(project_id,''),COALESCE(task_id,''),is_read,time`

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id,user_id,type,title,message,sender,project_id,task_id,is_read,time) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, nullable(n.Sender), nullable(n.ProjectID), nullable(n.TaskID), n.IsRead, n.Time)
	return err
}

type NotificationFilters struct {
	UserID     string
	UnreadOnly bool
	Limit      int
	CursorTime string
	CursorID   string
}

func (r Repo) ListNotifications(ctx context.Context, f NotificationFilters) ([]domain.Notification, error) {
	clauses := []string{"user_id=?"}
	args := []any{f.UserID}
	if f.UnreadOnly {
		clauses = append(clauses, "is_read=0")
	}
	if f.CursorTime != "" && f.CursorID != "" {
		clauses = append(clauses, "(time < ? OR (time = ? AND id < ?))")
		args = append(args, f.CursorTime, f.CursorTime, f.CursorID)
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY time DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Sender, &n.ProjectID, &n.TaskID, &n.IsRead, &n.Time); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM notifications WHERE user_id=? AND is_read=0`, userID).Scan(&n)
	return n, err
}

// MarkNotificationRead flips a single notification owned by userID. No-op
// when nothing matches.
func (r Repo) MarkNotificationRead(ctx context.Context, id, userID string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE id=? AND user_id=?`, id, userID)
	return err
}

func (r Repo) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE user_id=? AND is_read=0`, userID)
	return err
}

// DeleteReadNotificationsBefore removes notifications that are both read and
// older than the cutoff. Returns the number of rows removed.
func (r Repo) DeleteReadNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM notifications WHERE is_read=1 AND time < ?`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
