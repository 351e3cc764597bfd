// Package witness mints the unforgeable authorization tokens described in
// spec.md §4.1. A Witness is never constructed outside this package: every
// mutating operation in internal/project, internal/group, internal/library,
// internal/servicehost, and internal/social takes a witness value as proof
// that the Minter already checked the caller's rights for that specific
// resource, mirroring the teacher's permission.Resolver/Store split
// (internal/permission/resolver.go) but collapsed into a single derive-once
// call per spec.md §9 ("Derive-once witnesses").
package witness

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/user"
)

// ErrForbidden is returned by every Mint* method when the session does not
// qualify for the requested witness.
var ErrForbidden = errors.New("forbidden")

// sealed is embedded in every witness type so that only this package can
// construct a value that satisfies the Witness interface.
type sealed struct{}

func (sealed) isWitness() {}

// Witness is implemented only by the types in this file.
type Witness interface {
	isWitness()
}

// Session is the authenticated identity a witness is derived from. It is
// built by internal/auth from a validated session token plus a user lookup.
type Session struct {
	UserID   uuid.UUID
	Username string
	Role     user.Role
	GroupID  *uuid.UUID
}

func (s Session) isAdmin() bool { return s.Role == user.RoleAdmin }

// EditUser proves the caller may mutate the target user's account.
type EditUser struct {
	sealed
	Target uuid.UUID
}

// EditProject proves the caller may mutate a project's metadata, roles, or
// collaborators.
type EditProject struct {
	sealed
	ProjectID uuid.UUID
}

// ViewProject proves the caller may read a project's metadata and role data.
// Every EditProject also satisfies ViewProject's requirements, but the two
// are minted independently so a handler can't accidentally use a narrower
// witness to authorize a wider action.
type ViewProject struct {
	sealed
	ProjectID uuid.UUID
}

// EditGroup proves the caller may mutate a group.
type EditGroup struct {
	sealed
	GroupID uuid.UUID
}

// EditLibrary proves the caller may create/update/delete their own library
// entries.
type EditLibrary struct {
	sealed
	Owner string
}

// ModerateLibrary proves the caller may approve or reject community
// libraries.
type ModerateLibrary struct {
	sealed
}

// ManageServiceHost proves the caller may rotate a service host's secret or
// edit its settings.
type ManageServiceHost struct {
	sealed
	HostID uuid.UUID
}

// IsAdmin proves the caller is a server administrator.
type IsAdmin struct {
	sealed
}

// AppLevel proves a service host presented a valid shared secret, per
// spec.md §4.7. It grants resolve_address/send_message/read_user_identity
// and CRUD on that host's own service_settings entries.
type AppLevel struct {
	sealed
	HostID uuid.UUID
}

// ProjectInfo is the minimal view of a project the Minter needs to decide
// EditProject/ViewProject, satisfied by internal/project.Repository without
// creating an import cycle between project and witness.
type ProjectInfo struct {
	Owner         string
	Collaborators []string
	Public        bool
}

// ProjectLookup resolves a project's authorization-relevant fields.
type ProjectLookup interface {
	ProjectInfo(ctx context.Context, projectID uuid.UUID) (*ProjectInfo, error)
}

// GroupLookup resolves a group's owner for EditGroup decisions.
type GroupLookup interface {
	GroupOwner(ctx context.Context, groupID uuid.UUID) (string, error)
}

// UserLookup resolves a target user's group, for the
// "owner of a group containing u" EditUser clause.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// ServiceHostLookup resolves a service host's stored shared-secret hash.
type ServiceHostLookup interface {
	ServiceHostSecretHash(ctx context.Context, hostID uuid.UUID) (string, error)
}

// Minter is the only type in this module allowed to construct a Witness.
// It is constructed once at startup and injected into every handler that
// needs to authorize a mutation.
type Minter struct {
	projects ProjectLookup
	groups   GroupLookup
	users    UserLookup
	log      zerolog.Logger
}

// NewMinter builds a Minter over the given lookups.
func NewMinter(projects ProjectLookup, groups GroupLookup, users UserLookup, log zerolog.Logger) *Minter {
	return &Minter{projects: projects, groups: groups, users: users, log: log.With().Str("component", "witness").Logger()}
}

// MintIsAdmin succeeds iff the session belongs to a server administrator.
func (m *Minter) MintIsAdmin(s Session) (IsAdmin, error) {
	if s.isAdmin() {
		return IsAdmin{}, nil
	}
	return IsAdmin{}, ErrForbidden
}

// MintEditUser succeeds iff the session user is target, an admin, or the
// owner of a group containing target.
func (m *Minter) MintEditUser(ctx context.Context, s Session, target uuid.UUID) (EditUser, error) {
	if s.UserID == target || s.isAdmin() {
		return EditUser{Target: target}, nil
	}
	targetUser, err := m.users.GetByID(ctx, target)
	if err != nil {
		return EditUser{}, fmt.Errorf("lookup target user: %w", err)
	}
	if targetUser.GroupID != nil {
		owner, err := m.groups.GroupOwner(ctx, *targetUser.GroupID)
		if err != nil {
			return EditUser{}, fmt.Errorf("lookup group owner: %w", err)
		}
		if owner == s.Username {
			return EditUser{Target: target}, nil
		}
	}
	return EditUser{}, ErrForbidden
}

// MintEditProject succeeds iff the session user is the project owner, a
// collaborator, or an admin.
func (m *Minter) MintEditProject(ctx context.Context, s Session, projectID uuid.UUID) (EditProject, error) {
	info, err := m.projects.ProjectInfo(ctx, projectID)
	if err != nil {
		return EditProject{}, fmt.Errorf("lookup project: %w", err)
	}
	if s.isAdmin() || info.Owner == s.Username || contains(info.Collaborators, s.Username) {
		return EditProject{ProjectID: projectID}, nil
	}
	return EditProject{}, ErrForbidden
}

// MintViewProject succeeds iff the project is public, or the session
// satisfies EditProject. A nil session (unauthenticated caller) may still
// view a public project.
func (m *Minter) MintViewProject(ctx context.Context, s *Session, projectID uuid.UUID) (ViewProject, error) {
	info, err := m.projects.ProjectInfo(ctx, projectID)
	if err != nil {
		return ViewProject{}, fmt.Errorf("lookup project: %w", err)
	}
	if info.Public {
		return ViewProject{ProjectID: projectID}, nil
	}
	if s == nil {
		return ViewProject{}, ErrForbidden
	}
	if s.isAdmin() || info.Owner == s.Username || contains(info.Collaborators, s.Username) {
		return ViewProject{ProjectID: projectID}, nil
	}
	return ViewProject{}, ErrForbidden
}

// MintEditGroup succeeds iff the session user owns the group or is an admin.
func (m *Minter) MintEditGroup(ctx context.Context, s Session, groupID uuid.UUID) (EditGroup, error) {
	if s.isAdmin() {
		return EditGroup{GroupID: groupID}, nil
	}
	owner, err := m.groups.GroupOwner(ctx, groupID)
	if err != nil {
		return EditGroup{}, fmt.Errorf("lookup group: %w", err)
	}
	if owner == s.Username {
		return EditGroup{GroupID: groupID}, nil
	}
	return EditGroup{}, ErrForbidden
}

// MintEditLibrary succeeds iff the session user owns the library namespace or is an admin.
func (m *Minter) MintEditLibrary(s Session, owner string) (EditLibrary, error) {
	if s.isAdmin() || s.Username == owner {
		return EditLibrary{Owner: owner}, nil
	}
	return EditLibrary{}, ErrForbidden
}

// MintModerateLibrary succeeds iff the session user is a moderator or admin.
func (m *Minter) MintModerateLibrary(s Session) (ModerateLibrary, error) {
	if s.Role == user.RoleModerator || s.isAdmin() {
		return ModerateLibrary{}, nil
	}
	return ModerateLibrary{}, ErrForbidden
}

// MintManageServiceHost succeeds iff the session user is an admin. Service
// hosts are server-wide resources; only administrators register or rotate
// them.
func (m *Minter) MintManageServiceHost(s Session, hostID uuid.UUID) (ManageServiceHost, error) {
	if s.isAdmin() {
		return ManageServiceHost{HostID: hostID}, nil
	}
	return ManageServiceHost{}, ErrForbidden
}

// MintAppLevel succeeds iff match is true. Comparing the presented secret
// against the host's stored hash is the caller's job (see
// internal/servicehost.Manager.Authenticate).
func (m *Minter) MintAppLevel(hostID uuid.UUID, match bool) (AppLevel, error) {
	if match {
		return AppLevel{HostID: hostID}, nil
	}
	return AppLevel{}, ErrForbidden
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
