package audit_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"crewdesk/internal/audit"
	"crewdesk/internal/domain"
)

type memStore struct {
	events []domain.ActivityEvent
	fail   bool
}

func (s *memStore) AppendEvent(ctx context.Context, e domain.ActivityEvent) error {
	if s.fail {
		return fmt.Errorf("events table gone")
	}
	s.events = append(s.events, e)
	return nil
}

type memDirectory struct {
	users map[string]domain.User
	fail  bool
}

func (d memDirectory) GetUser(ctx context.Context, id string) (domain.User, error) {
	if d.fail {
		return domain.User{}, fmt.Errorf("directory down")
	}
	u, ok := d.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("no such user")
	}
	return u, nil
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
}

func TestRecordAppendsExactlyOneEvent(t *testing.T) {
	store := &memStore{}
	l := audit.Log{
		Store: store,
		Users: memDirectory{users: map[string]domain.User{"u1": {ID: "u1", Name: "Ana"}}},
		Now:   fixedNow,
	}
	l.Task(context.Background(), "completed", "ship it", "u1", "p1", "t1", nil)

	if len(store.events) != 1 {
		t.Fatalf("events = %d, want 1", len(store.events))
	}
	e := store.events[0]
	if e.Message != `Completed task "ship it"` {
		t.Errorf("message = %q", e.Message)
	}
	if e.User.Name != "Ana" {
		t.Errorf("user name = %q, want Ana", e.User.Name)
	}
	if e.Time != "2026-08-01T09:00:00Z" {
		t.Errorf("time = %q", e.Time)
	}
}

func TestExplicitActorSkipsDirectory(t *testing.T) {
	store := &memStore{}
	l := audit.Log{
		Store: store,
		Users: memDirectory{fail: true},
		Now:   fixedNow,
	}
	l.Record(context.Background(), audit.Entry{
		Type:    "general",
		Message: "imported workspace",
		UserID:  "u1",
		Actor:   &domain.UserRef{ID: "u1", Name: "Ana"},
	})
	if store.events[0].User.Name != "Ana" {
		t.Fatalf("user name = %q, want Ana", store.events[0].User.Name)
	}
}

func TestDirectoryFailureFallsBackToPlaceholder(t *testing.T) {
	store := &memStore{}
	l := audit.Log{Store: store, Users: memDirectory{fail: true}, Now: fixedNow}
	l.Project(context.Background(), "created", "Apollo", "u1", "p1", nil)

	if len(store.events) != 1 {
		t.Fatalf("events = %d, want 1", len(store.events))
	}
	e := store.events[0]
	if e.User.ID != "u1" || e.User.Name != "User" {
		t.Fatalf("identity = %+v, want id u1 name User", e.User)
	}
}

func TestAppendFailureIsSwallowed(t *testing.T) {
	store := &memStore{fail: true}
	l := audit.Log{Store: store, Now: fixedNow}
	// must not panic or surface anything
	l.Auth(context.Background(), "signed in", "u1", nil)
	if len(store.events) != 0 {
		t.Fatalf("events = %d, want 0", len(store.events))
	}
}

func TestMetadataMarshalled(t *testing.T) {
	store := &memStore{}
	l := audit.Log{Store: store, Now: fixedNow}
	l.Record(context.Background(), audit.Entry{
		Type:     "member",
		Message:  "Added Ana",
		UserID:   "u1",
		Metadata: map[string]any{"role": "member"},
	})
	if store.events[0].Metadata != `{"role":"member"}` {
		t.Fatalf("metadata = %q", store.events[0].Metadata)
	}
}
