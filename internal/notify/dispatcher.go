// Package notify decides whether a notification is persisted for a
// recipient and fans events out to many recipients without letting one
// failure block the rest.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crewdesk/internal/audit"
	"crewdesk/internal/domain"
)

// Notification types recognized by the preference gate. Unknown types pass
// through ungated.
const (
	TypeComment       = "comment"
	TypeTaskAssigned  = "task_assigned"
	TypeProjectUpdate = "project_update"
	TypeTeamInvite    = "team_invite"
	TypeDeadline      = "deadline"
	TypeTaskCompleted = "task_completed"
)

// gates maps a notification type to the preference flag that allows it.
var gates = map[string]func(domain.NotificationPreference) bool{
	TypeComment:       func(p domain.NotificationPreference) bool { return p.ProjectUpdates },
	TypeTaskAssigned:  func(p domain.NotificationPreference) bool { return p.TaskReminders },
	TypeProjectUpdate: func(p domain.NotificationPreference) bool { return p.ProjectUpdates },
	TypeTeamInvite:    func(p domain.NotificationPreference) bool { return p.TeamInvites },
	TypeDeadline:      func(p domain.NotificationPreference) bool { return p.TaskReminders },
	TypeTaskCompleted: func(p domain.NotificationPreference) bool { return p.ProjectUpdates },
}

// Store persists notifications.
type Store interface {
	InsertNotification(ctx context.Context, n domain.Notification) error
	MarkNotificationRead(ctx context.Context, id, userID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
	DeleteReadNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PreferenceSource looks up a recipient's gating flags. Implementations
// return all-true defaults for users without a stored record.
type PreferenceSource interface {
	GetPreferences(ctx context.Context, userID string) (domain.NotificationPreference, error)
}

type Dispatcher struct {
	Store         Store
	Prefs         PreferenceSource
	Audit         audit.Log
	Logger        *zap.SugaredLogger
	RetentionDays int
	Now           func() time.Time
}

// Request describes one notification for one recipient.
type Request struct {
	UserID    string
	Type      string
	Title     string
	Message   string
	Sender    string
	ProjectID string
	TaskID    string
}

func (d Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Dispatcher) logger() *zap.SugaredLogger {
	if d.Logger != nil {
		return d.Logger
	}
	return zap.NewNop().Sugar()
}

// Send persists a notification for req.UserID unless the recipient's
// preference flag for the type's category is off, in which case it returns
// nil without persisting. Dropping on preference is policy, not failure.
func (d Dispatcher) Send(ctx context.Context, req Request) error {
	if req.UserID == "" {
		return fmt.Errorf("recipient required")
	}
	prefs, err := d.Prefs.GetPreferences(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("load preferences for %s: %w", req.UserID, err)
	}
	if gate, ok := gates[req.Type]; ok && !gate(prefs) {
		return nil
	}
	n := domain.Notification{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Sender:    req.Sender,
		ProjectID: req.ProjectID,
		TaskID:    req.TaskID,
		IsRead:    false,
		Time:      d.now().UTC().Format(time.RFC3339),
	}
	if err := d.Store.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("persist notification for %s: %w", req.UserID, err)
	}
	d.Audit.Record(ctx, audit.Entry{
		Type:      "notification",
		Message:   req.Title,
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		TaskID:    req.TaskID,
		Metadata:  map[string]any{"notification_type": req.Type},
	})
	return nil
}

// sendEach delivers one request per recipient sequentially. A failure for
// one recipient is logged and must not stop delivery to the rest.
func (d Dispatcher) sendEach(ctx context.Context, recipients []string, build func(userID string) Request) {
	for _, userID := range recipients {
		if err := d.Send(ctx, build(userID)); err != nil {
			d.logger().Warnw("notification delivery failed", "user_id", userID, "error", err)
		}
	}
}

// TaskAssigned notifies an assignee about a task they were given.
func (d Dispatcher) TaskAssigned(ctx context.Context, assigneeID, taskTitle, assignerName, projectID, taskID string) {
	d.sendEach(ctx, []string{assigneeID}, func(userID string) Request {
		return Request{
			UserID:    userID,
			Type:      TypeTaskAssigned,
			Title:     "New task assigned",
			Message:   fmt.Sprintf("%s assigned you the task %q", assignerName, taskTitle),
			Sender:    assignerName,
			ProjectID: projectID,
			TaskID:    taskID,
		}
	})
}

// ProjectUpdate notifies project members about a change to the project.
func (d Dispatcher) ProjectUpdate(ctx context.Context, recipients []string, projectName, detail, senderName, projectID string) {
	d.sendEach(ctx, recipients, func(userID string) Request {
		return Request{
			UserID:    userID,
			Type:      TypeProjectUpdate,
			Title:     fmt.Sprintf("Update in %s", projectName),
			Message:   detail,
			Sender:    senderName,
			ProjectID: projectID,
		}
	})
}

// TeamInvite notifies a user they were added to a project.
func (d Dispatcher) TeamInvite(ctx context.Context, userID, projectName, inviterName, projectID string) {
	d.sendEach(ctx, []string{userID}, func(userID string) Request {
		return Request{
			UserID:    userID,
			Type:      TypeTeamInvite,
			Title:     "Added to a project",
			Message:   fmt.Sprintf("%s added you to %q", inviterName, projectName),
			Sender:    inviterName,
			ProjectID: projectID,
		}
	})
}

// TaskDeadline reminds recipients about an approaching due date.
func (d Dispatcher) TaskDeadline(ctx context.Context, recipients []string, taskTitle, due, projectID, taskID string) {
	d.sendEach(ctx, recipients, func(userID string) Request {
		return Request{
			UserID:    userID,
			Type:      TypeDeadline,
			Title:     "Task deadline approaching",
			Message:   fmt.Sprintf("Task %q is due %s", taskTitle, due),
			ProjectID: projectID,
			TaskID:    taskID,
		}
	})
}

// TaskCompleted notifies project members that a task was finished.
func (d Dispatcher) TaskCompleted(ctx context.Context, recipients []string, taskTitle, completerName, projectID, taskID string) {
	d.sendEach(ctx, recipients, func(userID string) Request {
		return Request{
			UserID:    userID,
			Type:      TypeTaskCompleted,
			Title:     "Task completed",
			Message:   fmt.Sprintf("%s completed the task %q", completerName, taskTitle),
			Sender:    completerName,
			ProjectID: projectID,
			TaskID:    taskID,
		}
	})
}

// Comment notifies recipients about a new comment.
func (d Dispatcher) Comment(ctx context.Context, recipients []string, commenterName, subject, projectID, taskID string) {
	d.sendEach(ctx, recipients, func(userID string) Request {
		return Request{
			UserID:    userID,
			Type:      TypeComment,
			Title:     "New comment",
			Message:   fmt.Sprintf("%s commented on %q", commenterName, subject),
			Sender:    commenterName,
			ProjectID: projectID,
			TaskID:    taskID,
		}
	})
}

// MarkRead marks one notification read, scoped to its owner. No-op when
// nothing matches.
func (d Dispatcher) MarkRead(ctx context.Context, notificationID, userID string) error {
	return d.Store.MarkNotificationRead(ctx, notificationID, userID)
}

// MarkAllRead marks every unread notification for the user.
func (d Dispatcher) MarkAllRead(ctx context.Context, userID string) error {
	return d.Store.MarkAllNotificationsRead(ctx, userID)
}

// CleanupOld deletes notifications that are both read and older than the
// retention window. Retention policy, run out-of-band.
func (d Dispatcher) CleanupOld(ctx context.Context) (int64, error) {
	days := d.RetentionDays
	if days <= 0 {
		days = 30
	}
	cutoff := d.now().UTC().AddDate(0, 0, -days)
	return d.Store.DeleteReadNotificationsBefore(ctx, cutoff)
}
