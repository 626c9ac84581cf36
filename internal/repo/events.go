package repo

import (
	"context"
	"strings"

	"crewdesk/internal/domain"
)

// AppendEvent inserts a single activity event. Events are append-only; no
// update or delete path exists here.
func (r Repo) AppendEvent(ctx context.Context, e domain.ActivityEvent) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO activity_events(type,message,user_id,user_name,user_avatar,project_id,task_id,metadata_json,time) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.Type, e.Message, nullable(e.User.ID), e.User.Name, e.User.Avatar, nullable(e.ProjectID), nullable(e.TaskID), nullable(e.Metadata), e.Time)
	return err
}

const eventColumns = `id,type,message,COALESCE(user_id,''),user_name,user_avatar,COALESCE(project_id,''),COALESCE(task_id,''),COALESCE(metadata_json,''),time`

func scanEvent(scan func(dest ...any) error) (domain.ActivityEvent, error) {
	var e domain.ActivityEvent
	err := scan(&e.ID, &e.Type, &e.Message, &e.User.ID, &e.User.Name, &e.User.Avatar, &e.ProjectID, &e.TaskID, &e.Metadata, &e.Time)
	return e, err
}

// LatestEvents returns the newest events first, filtered by project, user or
// type, paginated by id cursor.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, projectID, userID, evtType string) ([]domain.ActivityEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if userID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, userID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := `SELECT ` + eventColumns + ` FROM activity_events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityEvent
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with IDs greater than the cursor in ascending
// order, for webhook delivery.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.ActivityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := `SELECT ` + eventColumns + ` FROM activity_events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityEvent
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID, optionally scoped to a
// project.
func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM activity_events`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
