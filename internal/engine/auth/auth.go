package auth

import (
	"fmt"

	"crewdesk/internal/domain"
)

// Role is a member's position in a project's hierarchy. The project owner
// is always an implicit leader, whatever the members table says.
type Role string

const (
	RoleLeader   Role = "leader"
	RoleCoLeader Role = "co-leader"
	RoleMember   Role = "member"
	RoleNone     Role = "none"
)

// ParseRole validates a role string supplied by a caller. RoleNone is not
// assignable.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleLeader, RoleCoLeader, RoleMember:
		return Role(s), nil
	}
	return RoleNone, fmt.Errorf("invalid role %q", s)
}

// Capability is a named yes/no permission derived from role.
type Capability string

const (
	CapViewProject      Capability = "project.view"
	CapEditProject      Capability = "project.edit"
	CapManageTasks      Capability = "tasks.manage"
	CapAddRemoveMembers Capability = "members.add_remove"
	CapAssignRoles      Capability = "members.assign_roles"
	CapManageMembers    Capability = "members.manage"
	CapDeleteProject    Capability = "project.delete"
)

// grants is the single capability table every call site consults.
var grants = map[Capability]map[Role]bool{
	CapViewProject:      {RoleLeader: true, RoleCoLeader: true, RoleMember: true},
	CapEditProject:      {RoleLeader: true, RoleCoLeader: true},
	CapManageTasks:      {RoleLeader: true, RoleCoLeader: true},
	CapAddRemoveMembers: {RoleLeader: true, RoleCoLeader: true},
	CapAssignRoles:      {RoleLeader: true},
	CapManageMembers:    {RoleLeader: true},
	CapDeleteProject:    {RoleLeader: true},
}

// PermissionDeniedError indicates a capability check failed.
type PermissionDeniedError struct {
	Capability Capability
}

func (e PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission %s required", e.Capability)
}

// EffectiveRole resolves a user's role on a project snapshot. Owner status
// wins over any stored member role; non-members resolve to RoleNone.
func EffectiveRole(p domain.Project, userID string) Role {
	if userID == "" {
		return RoleNone
	}
	if userID == p.OwnerID {
		return RoleLeader
	}
	for _, m := range p.Members {
		if m.ID == userID {
			if r, err := ParseRole(m.Role); err == nil {
				return r
			}
			return RoleNone
		}
	}
	return RoleNone
}

// Can answers a capability question from the table. Pure function of the
// snapshot and user id; never errors.
func Can(p domain.Project, userID string, c Capability) bool {
	return grants[c][EffectiveRole(p, userID)]
}

func CanViewProject(p domain.Project, userID string) bool {
	return Can(p, userID, CapViewProject)
}

func CanEditProject(p domain.Project, userID string) bool {
	return Can(p, userID, CapEditProject)
}

func CanManageTasks(p domain.Project, userID string) bool {
	return Can(p, userID, CapManageTasks)
}

func CanAddRemoveMembers(p domain.Project, userID string) bool {
	return Can(p, userID, CapAddRemoveMembers)
}

func CanAssignRoles(p domain.Project, userID string) bool {
	return Can(p, userID, CapAssignRoles)
}

func CanManageMembers(p domain.Project, userID string) bool {
	return Can(p, userID, CapManageMembers)
}

func CanDeleteProject(p domain.Project, userID string) bool {
	return Can(p, userID, CapDeleteProject)
}

// CanRemoveMember layers the member-removal rules on top of the table:
// the owner can never be removed; self-removal is always allowed for
// co-leaders and members; a co-leader may not remove a leader or another
// co-leader.
func CanRemoveMember(p domain.Project, actorID, targetID string) bool {
	if targetID == p.OwnerID {
		return false
	}
	actor := EffectiveRole(p, actorID)
	if actorID == targetID {
		return actor != RoleNone
	}
	if !Can(p, actorID, CapAddRemoveMembers) {
		return false
	}
	if actor == RoleCoLeader {
		target := EffectiveRole(p, targetID)
		if target == RoleLeader || target == RoleCoLeader {
			return false
		}
	}
	return true
}

// CanChangeRole layers the role-change rules on top of the table: the
// owner's role is immutable for every caller, themselves included.
func CanChangeRole(p domain.Project, actorID, targetID string) bool {
	if targetID == p.OwnerID {
		return false
	}
	return Can(p, actorID, CapAssignRoles)
}
