package group

import (
	"context"
	"errors"

	"github.com/netsbox/control-plane/internal/user"
)

// Access answers the group-membership and admin questions spec.md §4.3's
// address-resolver access check and spec.md §4.5's router tracing need. It
// is the concrete type wired as resolver.AccessLookup and router.GroupLookup
// in cmd/netsbox, built on top of the user repository rather than the group
// one since group set membership is a property of the user row
// (users.group_id), not of the groups table itself.
type Access struct {
	users user.Repository
}

// NewAccess builds an Access.
func NewAccess(users user.Repository) *Access {
	return &Access{users: users}
}

// GroupSetFor returns a's group's string identifier, or the empty string if
// a belongs to no group. Satisfies router.GroupLookup.
func (a *Access) GroupSetFor(ctx context.Context, username string) (string, error) {
	u, err := a.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if u.GroupID == nil {
		return "", nil
	}
	return u.GroupID.String(), nil
}

// SameGroup reports whether userA and userB share a non-empty group.
// Satisfies resolver.AccessLookup.
func (a *Access) SameGroup(ctx context.Context, userA, userB string) (bool, error) {
	setA, err := a.GroupSetFor(ctx, userA)
	if err != nil {
		return false, err
	}
	if setA == "" {
		return false, nil
	}
	setB, err := a.GroupSetFor(ctx, userB)
	if err != nil {
		return false, err
	}
	return setA == setB, nil
}

// IsAdmin reports whether username holds the Admin role. Satisfies
// resolver.AccessLookup.
func (a *Access) IsAdmin(ctx context.Context, username string) (bool, error) {
	u, err := a.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return u.IsAdmin(), nil
}
