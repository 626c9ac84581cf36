package auth_test

import (
	"testing"

	"crewdesk/internal/domain"
	"crewdesk/internal/engine/auth"
)

func project() domain.Project {
	return domain.Project{
		ID:      "proj-1",
		OwnerID: "u-owner",
		Members: []domain.Member{
			{ID: "u-lead", Role: "leader"},
			{ID: "u-colead", Role: "co-leader"},
			{ID: "u-member", Role: "member"},
		},
	}
}

func TestEffectiveRole(t *testing.T) {
	p := project()
	cases := []struct {
		userID string
		want   auth.Role
	}{
		{"u-owner", auth.RoleLeader},
		{"u-lead", auth.RoleLeader},
		{"u-colead", auth.RoleCoLeader},
		{"u-member", auth.RoleMember},
		{"u-stranger", auth.RoleNone},
		{"", auth.RoleNone},
	}
	for _, c := range cases {
		if got := auth.EffectiveRole(p, c.userID); got != c.want {
			t.Errorf("EffectiveRole(%q) = %v, want %v", c.userID, got, c.want)
		}
	}
}

func TestOwnerRoleWinsOverStoredRole(t *testing.T) {
	p := project()
	// owner demoted in the members table must still resolve to leader
	p.Members = append(p.Members, domain.Member{ID: "u-owner", Role: "member"})
	if got := auth.EffectiveRole(p, "u-owner"); got != auth.RoleLeader {
		t.Fatalf("owner role = %v, want leader", got)
	}
	if !auth.CanDeleteProject(p, "u-owner") {
		t.Fatalf("owner must keep leader capabilities")
	}
}

func TestCapabilityTable(t *testing.T) {
	p := project()
	cases := []struct {
		name   string
		pred   func(domain.Project, string) bool
		leader bool
		colead bool
		member bool
	}{
		{"view", auth.CanViewProject, true, true, true},
		{"edit", auth.CanEditProject, true, true, false},
		{"manage_tasks", auth.CanManageTasks, true, true, false},
		{"add_remove_members", auth.CanAddRemoveMembers, true, true, false},
		{"assign_roles", auth.CanAssignRoles, true, false, false},
		{"manage_members", auth.CanManageMembers, true, false, false},
		{"delete_project", auth.CanDeleteProject, true, false, false},
	}
	for _, c := range cases {
		if got := c.pred(p, "u-lead"); got != c.leader {
			t.Errorf("%s leader = %v, want %v", c.name, got, c.leader)
		}
		if got := c.pred(p, "u-colead"); got != c.colead {
			t.Errorf("%s co-leader = %v, want %v", c.name, got, c.colead)
		}
		if got := c.pred(p, "u-member"); got != c.member {
			t.Errorf("%s member = %v, want %v", c.name, got, c.member)
		}
		if c.pred(p, "u-stranger") {
			t.Errorf("%s must deny non-members", c.name)
		}
	}
}

func TestOwnerCannotBeTargeted(t *testing.T) {
	p := project()
	for _, actor := range []string{"u-owner", "u-lead", "u-colead", "u-member", "u-stranger"} {
		if auth.CanRemoveMember(p, actor, "u-owner") {
			t.Errorf("actor %s removed the owner", actor)
		}
		if auth.CanChangeRole(p, actor, "u-owner") {
			t.Errorf("actor %s changed the owner's role", actor)
		}
	}
}

func TestCoLeaderRemovalRules(t *testing.T) {
	p := project()
	if auth.CanRemoveMember(p, "u-colead", "u-lead") {
		t.Fatalf("co-leader removed a leader")
	}
	p.Members = append(p.Members, domain.Member{ID: "u-colead2", Role: "co-leader"})
	if auth.CanRemoveMember(p, "u-colead", "u-colead2") {
		t.Fatalf("co-leader removed another co-leader")
	}
	if !auth.CanRemoveMember(p, "u-colead", "u-colead") {
		t.Fatalf("co-leader self-removal must be allowed")
	}
	if !auth.CanRemoveMember(p, "u-colead", "u-member") {
		t.Fatalf("co-leader must remove plain members")
	}
}

func TestSelfRemoval(t *testing.T) {
	p := project()
	if !auth.CanRemoveMember(p, "u-member", "u-member") {
		t.Fatalf("member self-removal must be allowed")
	}
	if auth.CanRemoveMember(p, "u-member", "u-colead") {
		t.Fatalf("member removed someone else")
	}
	if auth.CanRemoveMember(p, "u-stranger", "u-stranger") {
		t.Fatalf("non-member self-removal must be denied")
	}
}

func TestParseRole(t *testing.T) {
	for _, ok := range []string{"leader", "co-leader", "member"} {
		if _, err := auth.ParseRole(ok); err != nil {
			t.Errorf("ParseRole(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"owner", "none", "admin", ""} {
		if _, err := auth.ParseRole(bad); err == nil {
			t.Errorf("ParseRole(%q) accepted", bad)
		}
	}
}
