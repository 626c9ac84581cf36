// Package audit appends best-effort activity events. Recording is a side
// effect of a mutation that already happened; a failure here is logged and
// swallowed, never returned to the caller.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"crewdesk/internal/domain"
)

// Store is the write-only event sink.
type Store interface {
	AppendEvent(ctx context.Context, e domain.ActivityEvent) error
}

// Directory resolves user ids to display identities.
type Directory interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
}

type Log struct {
	Store  Store
	Users  Directory
	Logger *zap.SugaredLogger
	Now    func() time.Time
}

// Entry describes one user action. Actor, when set, skips the directory
// lookup.
type Entry struct {
	Type      string
	Message   string
	UserID    string
	Actor     *domain.UserRef
	ProjectID string
	TaskID    string
	Metadata  map[string]any
}

func (l Log) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l Log) logger() *zap.SugaredLogger {
	if l.Logger != nil {
		return l.Logger
	}
	return zap.NewNop().Sugar()
}

// Record appends exactly one event. Identity resolution prefers the
// explicit actor, then the user directory, then a placeholder; none of
// those paths, nor the append itself, may fail the caller.
func (l Log) Record(ctx context.Context, e Entry) {
	evt := domain.ActivityEvent{
		Type:      e.Type,
		Message:   e.Message,
		User:      l.resolveIdentity(ctx, e),
		ProjectID: e.ProjectID,
		TaskID:    e.TaskID,
		Time:      l.now().UTC().Format(time.RFC3339),
	}
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			l.logger().Warnw("drop activity metadata", "type", e.Type, "error", err)
		} else {
			evt.Metadata = string(data)
		}
	}
	if err := l.Store.AppendEvent(ctx, evt); err != nil {
		l.logger().Warnw("append activity event failed", "type", e.Type, "error", err)
	}
}

func (l Log) resolveIdentity(ctx context.Context, e Entry) domain.UserRef {
	if e.Actor != nil && e.Actor.Name != "" {
		return *e.Actor
	}
	if e.UserID != "" && l.Users != nil {
		u, err := l.Users.GetUser(ctx, e.UserID)
		if err == nil {
			return domain.UserRef{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
		}
		l.logger().Debugw("resolve actor failed", "user_id", e.UserID, "error", err)
	}
	return domain.UserRef{ID: e.UserID, Name: "User"}
}

// Project records a project action, e.g. Project(ctx, "created", "Apollo", ...)
// -> `Created project "Apollo"`.
func (l Log) Project(ctx context.Context, verb, subject, userID, projectID string, meta map[string]any) {
	l.Record(ctx, Entry{
		Type:      "project",
		Message:   fmt.Sprintf("%s project %q", capitalize(verb), subject),
		UserID:    userID,
		ProjectID: projectID,
		Metadata:  meta,
	})
}

// Task records a task action, e.g. Task(ctx, "completed", "Design homepage", ...)
// -> `Completed task "Design homepage"`.
func (l Log) Task(ctx context.Context, verb, subject, userID, projectID, taskID string, meta map[string]any) {
	l.Record(ctx, Entry{
		Type:      "task",
		Message:   fmt.Sprintf("%s task %q", capitalize(verb), subject),
		UserID:    userID,
		ProjectID: projectID,
		TaskID:    taskID,
		Metadata:  meta,
	})
}

// Auth records an authentication action, e.g. Auth(ctx, "signed in", ...)
// -> `Signed in`.
func (l Log) Auth(ctx context.Context, verb, userID string, meta map[string]any) {
	l.Record(ctx, Entry{
		Type:     "auth",
		Message:  capitalize(verb),
		UserID:   userID,
		Metadata: meta,
	})
}

// General records an action that fits no other bucket.
func (l Log) General(ctx context.Context, message, userID string, meta map[string]any) {
	l.Record(ctx, Entry{
		Type:     "general",
		Message:  message,
		UserID:   userID,
		Metadata: meta,
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
