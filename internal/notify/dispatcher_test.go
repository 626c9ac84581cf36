package notify_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"crewdesk/internal/db"
	"crewdesk/internal/domain"
	"crewdesk/internal/migrate"
	"crewdesk/internal/notify"
	"crewdesk/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func newDispatcher(r repo.Repo) notify.Dispatcher {
	return notify.Dispatcher{Store: r, Prefs: r}
}

func savePrefs(t *testing.T, r repo.Repo, p domain.NotificationPreference) {
	t.Helper()
	if err := r.UpsertPreferences(context.Background(), p); err != nil {
		t.Fatalf("save prefs: %v", err)
	}
}

func listFor(t *testing.T, r repo.Repo, userID string) []domain.Notification {
	t.Helper()
	list, err := r.ListNotifications(context.Background(), repo.NotificationFilters{UserID: userID})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return list
}

func TestSendPersistsUnread(t *testing.T) {
	r := newTestRepo(t)
	d := newDispatcher(r)
	err := d.Send(context.Background(), notify.Request{
		UserID:  "u1",
		Type:    notify.TypeTaskAssigned,
		Title:   "New task assigned",
		Message: "Ana assigned you the task \"ship it\"",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	list := listFor(t, r, "u1")
	if len(list) != 1 {
		t.Fatalf("notifications = %d, want 1", len(list))
	}
	if list[0].IsRead {
		t.Fatalf("notification must start unread")
	}
}

func TestPreferenceGateDropsSilently(t *testing.T) {
	r := newTestRepo(t)
	d := newDispatcher(r)
	prefs := repo.DefaultPreferences("u1")
	prefs.TaskReminders = false
	savePrefs(t, r, prefs)

	err := d.Send(context.Background(), notify.Request{
		UserID: "u1",
		Type:   notify.TypeTaskAssigned,
		Title:  "New task assigned",
	})
	if err != nil {
		t.Fatalf("gated send must not error: %v", err)
	}
	if got := listFor(t, r, "u1"); len(got) != 0 {
		t.Fatalf("notifications = %d, want 0", len(got))
	}
}

func TestMissingPreferencesDefaultToAllOn(t *testing.T) {
	r := newTestRepo(t)
	d := newDispatcher(r)
	// no stored prefs row for u9
	for _, typ := range []string{notify.TypeComment, notify.TypeTeamInvite, notify.TypeDeadline} {
		if err := d.Send(context.Background(), notify.Request{UserID: "u9", Type: typ, Title: typ}); err != nil {
			t.Fatalf("send %s: %v", typ, err)
		}
	}
	if got := listFor(t, r, "u9"); len(got) != 3 {
		t.Fatalf("notifications = %d, want 3", len(got))
	}
}

func TestUnknownTypePassesGate(t *testing.T) {
	r := newTestRepo(t)
	d := newDispatcher(r)
	prefs := repo.DefaultPreferences("u1")
	prefs.ProjectUpdates = false
	prefs.TaskReminders = false
	prefs.TeamInvites = false
	savePrefs(t, r, prefs)

	if err := d.Send(context.Background(), notify.Request{UserID: "u1", Type: "announcement", Title: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := listFor(t, r, "u1"); len(got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got))
	}
}

// failingPrefs errors for one user and falls through to the repo for the rest.
type failingPrefs struct {
	repo   repo.Repo
	broken string
}

func (f failingPrefs) GetPreferences(ctx context.Context, userID string) (domain.NotificationPreference, error) {
	if userID == f.broken {
		return domain.NotificationPreference{}, fmt.Errorf("prefs store down")
	}
	return f.repo.GetPreferences(ctx, userID)
}

func TestFanOutIsolatesFailures(t *testing.T) {
	r := newTestRepo(t)
	d := notify.Dispatcher{Store: r, Prefs: failingPrefs{repo: r, broken: "u2"}}

	d.TaskCompleted(context.Background(), []string{"u1", "u2", "u3"}, "ship it", "Ana", "p1", "t1")

	if got := listFor(t, r, "u1"); len(got) != 1 {
		t.Fatalf("u1 notifications = %d, want 1", len(got))
	}
	if got := listFor(t, r, "u2"); len(got) != 0 {
		t.Fatalf("u2 notifications = %d, want 0", len(got))
	}
	if got := listFor(t, r, "u3"); len(got) != 1 {
		t.Fatalf("u3 notifications = %d, want 1", len(got))
	}
}

func TestMarkReadScopedToOwner(t *testing.T) {
	r := newTestRepo(t)
	d := newDispatcher(r)
	ctx := context.Background()
	if err := d.Send(ctx, notify.Request{UserID: "u1", Type: notify.TypeComment, Title: "c"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	id := listFor(t, r, "u1")[0].ID

	// someone else's id: silent no-op
	if err := d.MarkRead(ctx, id, "u2"); err != nil {
		t.Fatalf("mark read foreign: %v", err)
	}
	if listFor(t, r, "u1")[0].IsRead {
		t.Fatalf("foreign mark must not flip the flag")
	}

	if err := d.MarkRead(ctx, id, "u1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !listFor(t, r, "u1")[0].IsRead {
		t.Fatalf("notification not marked read")
	}
}

func TestMarkAllRead(t *testing.T) {
	r := newTestRepo(t)
	d := newDispatcher(r)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := d.Send(ctx, notify.Request{UserID: "u1", Type: notify.TypeComment, Title: "c"}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if err := d.MarkAllRead(ctx, "u1"); err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	unread, err := r.CountUnreadNotifications(ctx, "u1")
	if err != nil {
		t.Fatalf("count unread: %v", err)
	}
	if unread != 0 {
		t.Fatalf("unread = %d, want 0", unread)
	}
}

func TestCleanupRemovesOnlyOldReadRows(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := notify.Dispatcher{Store: r, Prefs: r, RetentionDays: 30, Now: func() time.Time { return now }}

	insert := func(id string, read bool, age time.Duration) {
		err := r.InsertNotification(ctx, domain.Notification{
			ID: id, UserID: "u1", Type: notify.TypeComment, Title: "c", Message: "m",
			IsRead: read, Time: now.Add(-age).Format(time.RFC3339),
		})
		if err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	insert("old-read", true, 45*24*time.Hour)
	insert("old-unread", false, 45*24*time.Hour)
	insert("fresh-read", true, 2*24*time.Hour)

	deleted, err := d.CleanupOld(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	left := listFor(t, r, "u1")
	if len(left) != 2 {
		t.Fatalf("remaining = %d, want 2", len(left))
	}
	for _, n := range left {
		if n.ID == "old-read" {
			t.Fatalf("old read row survived cleanup")
		}
	}
}

func TestSendRequiresRecipient(t *testing.T) {
	r := newTestRepo(t)
	d := newDispatcher(r)
	if err := d.Send(context.Background(), notify.Request{Type: notify.TypeComment}); err == nil {
		t.Fatalf("send without recipient must error")
	}
}
