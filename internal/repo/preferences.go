package repo

import (
	"context"
	"database/sql"

	"crewdesk/internal/domain"
)

// DefaultPreferences is the all-true record applied when a user has never
// saved preferences. Applied exactly once, at load.
func DefaultPreferences(userID string) domain.NotificationPreference {
	return domain.NotificationPreference{
		UserID:             userID,
		EmailNotifications: true,
		PushNotifications:  true,
		WeeklyDigest:       true,
		ProjectUpdates:     true,
		TaskReminders:      true,
		TeamInvites:        true,
	}
}

// GetPreferences returns the stored record or the all-true defaults when
// none exists.
func (r Repo) GetPreferences(ctx context.Context, userID string) (domain.NotificationPreference, error) {
	var p domain.NotificationPreference
	err := r.DB.QueryRowContext(ctx, `
SELECT user_id,email_notifications,push_notifications,weekly_digest,project_updates,task_reminders,team_invites
FROM notification_prefs WHERE user_id=?`, userID).
		Scan(&p.UserID, &p.EmailNotifications, &p.PushNotifications, &p.WeeklyDigest, &p.ProjectUpdates, &p.TaskReminders, &p.TeamInvites)
	if err == sql.ErrNoRows {
		return DefaultPreferences(userID), nil
	}
	return p, err
}

func (r Repo) UpsertPreferences(ctx context.Context, p domain.NotificationPreference) error {
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO notification_prefs(user_id,email_notifications,push_notifications,weekly_digest,project_updates,task_reminders,team_invites)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET
  email_notifications=excluded.email_notifications,
  push_notifications=excluded.push_notifications,
  weekly_digest=excluded.weekly_digest,
  project_updates=excluded.project_updates,
  task_reminders=excluded.task_reminders,
  team_invites=excluded.team_invites`,
		p.UserID, p.EmailNotifications, p.PushNotifications, p.WeeklyDigest, p.ProjectUpdates, p.TaskReminders, p.TeamInvites)
	return err
}
