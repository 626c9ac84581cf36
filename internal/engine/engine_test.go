package engine_test

import (
	"context"
	"errors"
	"testing"

	"crewdesk/internal/config"
	"crewdesk/internal/db"
	"crewdesk/internal/domain"
	"crewdesk/internal/engine"
	"crewdesk/internal/engine/auth"
	"crewdesk/internal/migrate"
	"crewdesk/internal/repo"
)

type testEnv struct {
	eng  engine.Engine
	repo repo.Repo
	ctx  context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(), nil)
	return testEnv{eng: eng, repo: eng.Repo, ctx: context.Background()}
}

func (env testEnv) createProject(t *testing.T, owner string) domain.Project {
	t.Helper()
	p, err := env.eng.CreateProject(env.ctx, engine.ProjectCreateOptions{
		Name:      "Apollo",
		OwnerID:   owner,
		OwnerName: "Owner",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (env testEnv) addMember(t *testing.T, projectID, actor, user, role string) {
	t.Helper()
	_, err := env.eng.AddMember(env.ctx, engine.MemberAddOptions{
		ProjectID: projectID,
		ActorID:   actor,
		UserID:    user,
		UserName:  "Member " + user,
		Role:      role,
	})
	if err != nil {
		t.Fatalf("add member %s: %v", user, err)
	}
}

func (env testEnv) createTask(t *testing.T, projectID, actor, title, status string) domain.Task {
	t.Helper()
	task, err := env.eng.CreateTask(env.ctx, engine.TaskCreateOptions{
		ProjectID: projectID,
		Title:     title,
		Status:    status,
		ActorID:   actor,
	})
	if err != nil {
		t.Fatalf("create task %s: %v", title, err)
	}
	return task
}

func (env testEnv) progress(t *testing.T, projectID string) int {
	t.Helper()
	p, err := env.repo.GetProject(env.ctx, projectID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	return p.Progress
}

func TestProgressNoTasksIsZero(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "u1")
	got, err := env.eng.RecomputeProgress(env.ctx, p.ID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if got != 0 {
		t.Fatalf("progress = %d, want 0", got)
	}
}

func TestProgressRounding(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "u1")

	// 3 of 4 done -> 75
	env.createTask(t, p.ID, "u1", "a", "done")
	env.createTask(t, p.ID, "u1", "b", "done")
	env.createTask(t, p.ID, "u1", "c", "done")
	env.createTask(t, p.ID, "u1", "d", "todo")
	if got := env.progress(t, p.ID); got != 75 {
		t.Fatalf("progress = %d, want 75", got)
	}

	// 1 of 3 done -> round(33.33) = 33
	env2 := newTestEnv(t)
	p2 := env2.createProject(t, "u1")
	env2.createTask(t, p2.ID, "u1", "a", "done")
	env2.createTask(t, p2.ID, "u1", "b", "todo")
	env2.createTask(t, p2.ID, "u1", "c", "in-progress")
	if got := env2.progress(t, p2.ID); got != 33 {
		t.Fatalf("progress = %d, want 33", got)
	}
}

func TestTasksCountFollowsCreateDelete(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "u1")
	a := env.createTask(t, p.ID, "u1", "a", "todo")
	env.createTask(t, p.ID, "u1", "b", "todo")

	got, err := env.repo.GetProject(env.ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.TasksCount != 2 {
		t.Fatalf("tasks count = %d, want 2", got.TasksCount)
	}

	if err := env.eng.DeleteTask(env.ctx, a.ID, "u1"); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	got, err = env.repo.GetProject(env.ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.TasksCount != 1 {
		t.Fatalf("tasks count = %d, want 1", got.TasksCount)
	}
}

func TestStatusChangeRecomputesProgress(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "u1")
	task := env.createTask(t, p.ID, "u1", "a", "todo")
	env.createTask(t, p.ID, "u1", "b", "todo")
	if got := env.progress(t, p.ID); got != 0 {
		t.Fatalf("progress = %d, want 0", got)
	}
	if _, err := env.eng.UpdateTask(env.ctx, engine.TaskUpdateOptions{
		ID:      task.ID,
		ActorID: "u1",
		Status:  "done",
	}); err != nil {
		t.Fatalf("update task: %v", err)
	}
	if got := env.progress(t, p.ID); got != 50 {
		t.Fatalf("progress = %d, want 50", got)
	}
}

func TestMemberCannotManage(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "u1")
	env.addMember(t, p.ID, "u1", "u2", "member")
	env.addMember(t, p.ID, "u1", "u3", "member")

	var denied auth.PermissionDeniedError
	if err := env.eng.RemoveMember(env.ctx, p.ID, "u2", "u3"); !errors.As(err, &denied) {
		t.Fatalf("member removing another member: err = %v, want permission denied", err)
	}
	if _, err := env.eng.CreateTask(env.ctx, engine.TaskCreateOptions{
		ProjectID: p.ID, Title: "nope", ActorID: "u2",
	}); !errors.As(err, &denied) {
		t.Fatalf("member creating task: err = %v, want permission denied", err)
	}
}

func TestPromotionGrantsTaskButNotMemberManagement(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "u1")
	env.addMember(t, p.ID, "u1", "u2", "member")
	env.addMember(t, p.ID, "u1", "u3", "member")

	if _, err := env.eng.ChangeMemberRole(env.ctx, p.ID, "u1", "u2", "co-leader"); err != nil {
		t.Fatalf("promote u2: %v", err)
	}

	if _, err := env.eng.CreateTask(env.ctx, engine.TaskCreateOptions{
		ProjectID: p.ID, Title: "now allowed", ActorID: "u2",
	}); err != nil {
		t.Fatalf("co-leader create task: %v", err)
	}

	var denied auth.PermissionDeniedError
	if _, err := env.eng.ChangeMemberRole(env.ctx, p.ID, "u2", "u3", "co-leader"); !errors.As(err, &denied) {
		t.Fatalf("co-leader assigning roles: err = %v, want permission denied", err)
	}
}

func TestOwnerRoleIsImmutable(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "u1")
	var denied auth.PermissionDeniedError
	if _, err := env.eng.ChangeMemberRole(env.ctx, p.ID, "u1", "u1", "member"); !errors.As(err, &denied) {
		t.Fatalf("changing owner role: err = %v, want permission denied", err)
	}
	if err := env.eng.RemoveMember(env.ctx, p.ID, "u1", "u1"); !errors.As(err, &denied) {
		t.Fatalf("removing owner: err = %v, want permission denied", err)
	}
}

func TestSelfRemovalAllowed(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "u1")
	env.addMember(t, p.ID, "u1", "u2", "member")
	if err := env.eng.RemoveMember(env.ctx, p.ID, "u2", "u2"); err != nil {
		t.Fatalf("self removal: %v", err)
	}
	got, err := env.repo.GetProject(env.ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if len(got.Members) != 0 {
		t.Fatalf("members = %d, want 0", len(got.Members))
	}
}

func TestInvalidStatusRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "u1")
	var verr engine.ValidationError
	if _, err := env.eng.CreateTask(env.ctx, engine.TaskCreateOptions{
		ProjectID: p.ID, Title: "x", Status: "blocked", ActorID: "u1",
	}); !errors.As(err, &verr) {
		t.Fatalf("invalid task status: err = %v, want validation error", err)
	}
	if _, err := env.eng.UpdateProject(env.ctx, engine.ProjectUpdateOptions{
		ProjectID: p.ID, ActorID: "u1", Status: "archived",
	}); !errors.As(err, &verr) {
		t.Fatalf("invalid project status: err = %v, want validation error", err)
	}
}

func TestAnyStatusTransitionAllowed(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "u1")
	task := env.createTask(t, p.ID, "u1", "a", "done")
	// done back to todo is legal; only enum membership is checked
	if _, err := env.eng.UpdateTask(env.ctx, engine.TaskUpdateOptions{
		ID: task.ID, ActorID: "u1", Status: "todo",
	}); err != nil {
		t.Fatalf("done -> todo: %v", err)
	}
	if got := env.progress(t, p.ID); got != 0 {
		t.Fatalf("progress = %d, want 0", got)
	}
}

func TestTaskAssignmentNotifies(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "u1")
	env.addMember(t, p.ID, "u1", "u2", "member")
	if _, err := env.eng.CreateTask(env.ctx, engine.TaskCreateOptions{
		ProjectID:  p.ID,
		Title:      "review docs",
		ActorID:    "u1",
		AssigneeID: "u2",
	}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	list, err := env.repo.ListNotifications(env.ctx, repo.NotificationFilters{UserID: "u2"})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	var assigned int
	for _, n := range list {
		if n.Type == "task_assigned" {
			assigned++
			if n.IsRead {
				t.Fatalf("new notification must start unread")
			}
		}
	}
	if assigned != 1 {
		t.Fatalf("task_assigned notifications = %d, want 1", assigned)
	}
}

func TestMutationsLeaveAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "u1")
	task := env.createTask(t, p.ID, "u1", "a", "todo")
	if _, err := env.eng.UpdateTask(env.ctx, engine.TaskUpdateOptions{
		ID: task.ID, ActorID: "u1", Status: "done",
	}); err != nil {
		t.Fatalf("update task: %v", err)
	}
	events, err := env.repo.LatestEvents(env.ctx, 50, 0, p.ID, "", "")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	types := map[string]int{}
	for _, e := range events {
		types[e.Type]++
	}
	if types["project"] == 0 {
		t.Fatalf("no project events recorded")
	}
	if types["task"] < 2 {
		t.Fatalf("task events = %d, want >= 2", types["task"])
	}
}

func TestGetMissingProjectIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	if err := env.eng.DeleteProject(env.ctx, "no-such", "u1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("delete missing project: err = %v, want not found", err)
	}
}
