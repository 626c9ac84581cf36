// Package engine is the mutation pipeline every privileged action passes
// through: capability check first, then the domain mutation in a
// transaction, then best-effort progress recompute, notification fan-out
// and audit logging.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crewdesk/internal/audit"
	"crewdesk/internal/config"
	"crewdesk/internal/domain"
	"crewdesk/internal/engine/auth"
	"crewdesk/internal/notify"
	"crewdesk/internal/repo"
)

// ValidationError indicates a caller-supplied value is invalid.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

// TransientError indicates the backing store failed; the operation may
// succeed on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e TransientError) Unwrap() error { return e.Err }

var taskStatuses = map[string]bool{
	"todo":        true,
	"in-progress": true,
	"done":        true,
}

var projectStatuses = map[string]bool{
	"active":    true,
	"completed": true,
	"on-hold":   true,
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Notify notify.Dispatcher
	Audit  audit.Log
	Config *config.Config
	Logger *zap.SugaredLogger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, log *zap.SugaredLogger) Engine {
	r := repo.Repo{DB: db}
	auditLog := audit.Log{Store: r, Users: r, Logger: log, Now: time.Now}
	return Engine{
		DB:   db,
		Repo: r,
		Notify: notify.Dispatcher{
			Store:         r,
			Prefs:         r,
			Audit:         auditLog,
			Logger:        log,
			RetentionDays: cfg.RetentionDays(),
			Now:           time.Now,
		},
		Audit:  auditLog,
		Config: cfg,
		Logger: log,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *zap.SugaredLogger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop().Sugar()
}

// displayName resolves an actor's name for notification templates. Falls
// back to the raw id rather than failing.
func (e Engine) displayName(ctx context.Context, userID string) string {
	if u, err := e.Repo.GetUser(ctx, userID); err == nil && u.Name != "" {
		return u.Name
	}
	return userID
}

func recipientsExcept(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

// --- projects ---

type ProjectCreateOptions struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	OwnerName   string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if opts.Name == "" {
		return domain.Project{}, ValidationError{Msg: "name is required"}
	}
	if opts.OwnerID == "" {
		return domain.Project{}, ValidationError{Msg: "owner is required"}
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:          id,
		OwnerID:     opts.OwnerID,
		Name:        opts.Name,
		Description: opts.Description,
		Status:      "active",
		Progress:    0,
		TasksCount:  0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUser(ctx, tx, opts.OwnerID, opts.OwnerName, now); err != nil {
		return domain.Project{}, fmt.Errorf("ensure owner: %w", err)
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	e.Audit.Project(ctx, "created", p.Name, opts.OwnerID, p.ID, nil)
	return p, nil
}

type ProjectUpdateOptions struct {
	ProjectID   string
	ActorID     string
	Name        string
	Status      string
	Description *string
}

func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return p, err
	}
	if !auth.CanEditProject(p, opts.ActorID) {
		return p, auth.PermissionDeniedError{Capability: auth.CapEditProject}
	}
	if opts.Status != "" && !projectStatuses[opts.Status] {
		return p, ValidationError{Msg: fmt.Sprintf("invalid project status %q", opts.Status)}
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProject(ctx, tx, p.ID, opts.Name, opts.Status, opts.Description, now); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	updated, err := e.Repo.GetProject(ctx, p.ID)
	if err != nil {
		return p, err
	}
	recipients, err := e.Repo.MemberIDs(ctx, p.ID)
	if err != nil {
		e.logger().Warnw("load recipients failed", "project_id", p.ID, "error", err)
	} else {
		detail := fmt.Sprintf("%s updated the project", e.displayName(ctx, opts.ActorID))
		if opts.Status != "" && opts.Status != p.Status {
			detail = fmt.Sprintf("%s changed the project status to %s", e.displayName(ctx, opts.ActorID), opts.Status)
		}
		e.Notify.ProjectUpdate(ctx, recipientsExcept(recipients, opts.ActorID), updated.Name, detail, e.displayName(ctx, opts.ActorID), p.ID)
	}
	e.Audit.Project(ctx, "updated", updated.Name, opts.ActorID, p.ID, nil)
	return updated, nil
}

func (e Engine) DeleteProject(ctx context.Context, projectID, actorID string) error {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !auth.CanDeleteProject(p, actorID) {
		return auth.PermissionDeniedError{Capability: auth.CapDeleteProject}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProject(ctx, tx, projectID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Audit.Project(ctx, "deleted", p.Name, actorID, projectID, nil)
	return nil
}

// --- members ---

type MemberAddOptions struct {
	ProjectID string
	ActorID   string
	UserID    string
	UserName  string
	Avatar    string
	Role      string
}

func (e Engine) AddMember(ctx context.Context, opts MemberAddOptions) (domain.Member, error) {
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Member{}, err
	}
	if !auth.CanAddRemoveMembers(p, opts.ActorID) {
		return domain.Member{}, auth.PermissionDeniedError{Capability: auth.CapAddRemoveMembers}
	}
	if opts.UserID == "" {
		return domain.Member{}, ValidationError{Msg: "user is required"}
	}
	if opts.UserID == p.OwnerID {
		return domain.Member{}, ValidationError{Msg: "owner is already a leader"}
	}
	roleValue := opts.Role
	if roleValue == "" {
		roleValue = e.Config.DefaultRole()
	}
	role, err := auth.ParseRole(roleValue)
	if err != nil {
		return domain.Member{}, ValidationError{Msg: err.Error()}
	}
	now := e.now().UTC().Format(time.RFC3339)
	m := domain.Member{
		ID:       opts.UserID,
		Name:     opts.UserName,
		Avatar:   opts.Avatar,
		Role:     string(role),
		JoinedAt: now,
	}
	if m.Name == "" {
		m.Name = e.displayName(ctx, opts.UserID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Member{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUser(ctx, tx, opts.UserID, opts.UserName, now); err != nil {
		return domain.Member{}, fmt.Errorf("ensure user: %w", err)
	}
	if err := e.Repo.UpsertMember(ctx, tx, p.ID, m); err != nil {
		return domain.Member{}, fmt.Errorf("upsert member: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Member{}, err
	}
	e.Notify.TeamInvite(ctx, opts.UserID, p.Name, e.displayName(ctx, opts.ActorID), p.ID)
	e.Audit.Record(ctx, audit.Entry{
		Type:      "member",
		Message:   fmt.Sprintf("Added %s to project %q", m.Name, p.Name),
		UserID:    opts.ActorID,
		ProjectID: p.ID,
		Metadata:  map[string]any{"member_id": opts.UserID, "role": m.Role},
	})
	return m, nil
}

func (e Engine) RemoveMember(ctx context.Context, projectID, actorID, targetID string) error {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !auth.CanRemoveMember(p, actorID, targetID) {
		return auth.PermissionDeniedError{Capability: auth.CapAddRemoveMembers}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RemoveMember(ctx, tx, projectID, targetID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Audit.Record(ctx, audit.Entry{
		Type:      "member",
		Message:   fmt.Sprintf("Removed %s from project %q", e.displayName(ctx, targetID), p.Name),
		UserID:    actorID,
		ProjectID: projectID,
		Metadata:  map[string]any{"member_id": targetID},
	})
	return nil
}

func (e Engine) ChangeMemberRole(ctx context.Context, projectID, actorID, targetID, newRole string) (domain.Member, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Member{}, err
	}
	if !auth.CanChangeRole(p, actorID, targetID) {
		return domain.Member{}, auth.PermissionDeniedError{Capability: auth.CapAssignRoles}
	}
	role, err := auth.ParseRole(newRole)
	if err != nil {
		return domain.Member{}, ValidationError{Msg: err.Error()}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Member{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetMemberRole(ctx, tx, projectID, targetID, string(role)); err != nil {
		return domain.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Member{}, err
	}
	e.Audit.Record(ctx, audit.Entry{
		Type:      "member",
		Message:   fmt.Sprintf("Changed %s's role to %s in project %q", e.displayName(ctx, targetID), role, p.Name),
		UserID:    actorID,
		ProjectID: projectID,
		Metadata:  map[string]any{"member_id": targetID, "role": string(role)},
	})
	updated := domain.Member{ID: targetID, Role: string(role)}
	for _, m := range p.Members {
		if m.ID == targetID {
			updated.Name = m.Name
			updated.Avatar = m.Avatar
			updated.JoinedAt = m.JoinedAt
		}
	}
	return updated, nil
}

// --- tasks ---

type TaskCreateOptions struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	Status      string
	AssigneeID  string
	DueDate     string
	ActorID     string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, ValidationError{Msg: "title is required"}
	}
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if !auth.CanManageTasks(p, opts.ActorID) {
		return domain.Task{}, auth.PermissionDeniedError{Capability: auth.CapManageTasks}
	}
	status := opts.Status
	if status == "" {
		status = "todo"
	}
	if !taskStatuses[status] {
		return domain.Task{}, ValidationError{Msg: fmt.Sprintf("invalid task status %q", status)}
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:          id,
		ProjectID:   opts.ProjectID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      status,
		AssigneeID:  optionalString(opts.AssigneeID),
		DueDate:     optionalString(opts.DueDate),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Repo.AdjustTasksCount(ctx, tx, p.ID, 1); err != nil {
		return domain.Task{}, fmt.Errorf("bump tasks count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	if _, err := e.RecomputeProgress(ctx, p.ID); err != nil {
		e.logger().Warnw("progress recompute failed", "project_id", p.ID, "error", err)
	}
	if t.AssigneeID != nil && *t.AssigneeID != opts.ActorID {
		e.Notify.TaskAssigned(ctx, *t.AssigneeID, t.Title, e.displayName(ctx, opts.ActorID), p.ID, t.ID)
	}
	e.Audit.Task(ctx, "created", t.Title, opts.ActorID, p.ID, t.ID, nil)
	return t, nil
}

type TaskUpdateOptions struct {
	ID          string
	ActorID     string
	Title       string
	Description *string
	Status      string
	Assign      *string
	DueDate     *string
}

// UpdateTask applies the requested changes. No transition graph constrains
// status; any declared value may follow any other.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	p, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return t, err
	}
	if !auth.CanManageTasks(p, opts.ActorID) {
		return t, auth.PermissionDeniedError{Capability: auth.CapManageTasks}
	}
	if opts.Status != "" && !taskStatuses[opts.Status] {
		return t, ValidationError{Msg: fmt.Sprintf("invalid task status %q", opts.Status)}
	}
	oldStatus := t.Status
	var oldAssignee string
	if t.AssigneeID != nil {
		oldAssignee = *t.AssigneeID
	}
	if opts.Title != "" {
		t.Title = opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Status != "" {
		t.Status = opts.Status
	}
	if opts.Assign != nil {
		t.AssigneeID = optionalString(*opts.Assign)
	}
	if opts.DueDate != nil {
		t.DueDate = optionalString(*opts.DueDate)
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	if t.Status != oldStatus {
		if _, err := e.RecomputeProgress(ctx, p.ID); err != nil {
			e.logger().Warnw("progress recompute failed", "project_id", p.ID, "error", err)
		}
	}
	actorName := e.displayName(ctx, opts.ActorID)
	if t.AssigneeID != nil && *t.AssigneeID != oldAssignee && *t.AssigneeID != opts.ActorID {
		e.Notify.TaskAssigned(ctx, *t.AssigneeID, t.Title, actorName, p.ID, t.ID)
	}
	if t.Status == "done" && oldStatus != "done" {
		recipients, err := e.Repo.MemberIDs(ctx, p.ID)
		if err != nil {
			e.logger().Warnw("load recipients failed", "project_id", p.ID, "error", err)
		} else {
			e.Notify.TaskCompleted(ctx, recipientsExcept(recipients, opts.ActorID), t.Title, actorName, p.ID, t.ID)
		}
		e.Audit.Task(ctx, "completed", t.Title, opts.ActorID, p.ID, t.ID, nil)
	} else {
		e.Audit.Task(ctx, "updated", t.Title, opts.ActorID, p.ID, t.ID, map[string]any{
			"from_status": oldStatus,
			"to_status":   t.Status,
		})
	}
	return t, nil
}

func (e Engine) DeleteTask(ctx context.Context, taskID, actorID string) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	p, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return err
	}
	if !auth.CanManageTasks(p, actorID) {
		return auth.PermissionDeniedError{Capability: auth.CapManageTasks}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return err
	}
	if err := e.Repo.AdjustTasksCount(ctx, tx, p.ID, -1); err != nil {
		return fmt.Errorf("drop tasks count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if _, err := e.RecomputeProgress(ctx, p.ID); err != nil {
		e.logger().Warnw("progress recompute failed", "project_id", p.ID, "error", err)
	}
	e.Audit.Task(ctx, "deleted", t.Title, actorID, p.ID, t.ID, nil)
	return nil
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
