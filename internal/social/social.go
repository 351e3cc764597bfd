// Package social implements the social graph named in spec.md §4.6 (C8):
// symmetric friend/block edges and three invitation kinds (friend,
// collaboration, occupant), grounded on the teacher's deleted
// internal/invite repository's TTL-bearing row shape, generalized to the
// three invite kinds this domain needs plus the friend/block edge table
// the teacher had no analog for.
package social

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrBlocked is returned when a friend invite is attempted across a
	// block edge, in either direction. Block supersedes friend per
	// spec.md §4.6.
	ErrBlocked = errors.New("social: recipient has blocked sender or is blocked by them")
	// ErrInviteExists is returned when a duplicate invite would violate
	// the relevant uniqueness constraint (ordered pair for friend
	// invites, (project, recipient) for collaboration invites).
	ErrInviteExists = errors.New("social: invite already exists")
	// ErrInviteNotFound is returned when responding to or fetching an
	// invite that does not exist.
	ErrInviteNotFound = errors.New("social: invite not found")
	// ErrNotFriends is returned when removing a friend edge that is not
	// a friend edge (absent, or a block edge).
	ErrNotFriends = errors.New("social: not friends")
	// ErrNotBlocked is returned by Unblock when no block edge exists
	// between the given pair.
	ErrNotBlocked = errors.New("social: not blocked")
)

// EdgeKind discriminates the two kinds of FriendEdge row.
type EdgeKind string

const (
	KindFriends EdgeKind = "friends"
	KindBlocked EdgeKind = "blocked"
)

// FriendEdge is an undirected relationship between two usernames, stored
// canonically with UserA < UserB so deleting either account touches a
// single indexed key regardless of which side initiated the relationship.
type FriendEdge struct {
	UserA string
	UserB string
	Kind  EdgeKind
	Since time.Time
}

// Other returns the username on the edge that isn't username.
func (e FriendEdge) Other(username string) string {
	if e.UserA == username {
		return e.UserB
	}
	return e.UserA
}

// FriendInvite is a pending friend request, unique on the ordered
// (sender, recipient) pair.
type FriendInvite struct {
	ID        uuid.UUID
	Sender    string
	Recipient string
	CreatedAt time.Time
}

// CollaborationInvite is a pending invite to collaborate on a project,
// unique on (project_id, recipient). Accepting it adds recipient to the
// project's collaborator set and deletes the invite atomically.
type CollaborationInvite struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Sender    string
	Recipient string
	CreatedAt time.Time
}

// OccupantInvite is a short-TTL invite to occupy a specific role in a
// project, sent by an existing occupant. Acceptance is best-effort: it
// succeeds as long as the recipient still holds the invite, regardless of
// whether the inviting occupant is still connected.
type OccupantInvite struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	RoleID    uuid.UUID
	Sender    string
	Recipient string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the invite's TTL has elapsed as of now.
func (o OccupantInvite) Expired(now time.Time) bool { return !now.Before(o.ExpiresAt) }

// Repository defines the data-access contract for the social graph.
type Repository interface {
	// SendFriendInvite creates a pending friend invite from sender to
	// recipient, per spec.md §4.6. If recipient already has a pending
	// invite to sender, the two auto-accept into a friends edge instead
	// and autoAccepted reports true with a nil invite. Returns
	// ErrBlocked if a block edge exists between the pair in either
	// direction, and ErrInviteExists on a duplicate pending invite.
	SendFriendInvite(ctx context.Context, sender, recipient string) (invite *FriendInvite, autoAccepted bool, err error)
	// RespondFriendInvite accepts or rejects the pending invite from
	// sender to recipient. Accepting creates a friends edge and deletes
	// the invite; rejecting only deletes the invite.
	RespondFriendInvite(ctx context.Context, sender, recipient string, accept bool) error
	// RemoveFriend deletes the friends edge between a and b, if any.
	RemoveFriend(ctx context.Context, a, b string) error
	// Block creates or upgrades the edge between blocker and blocked to
	// a block edge, superseding any existing friends edge, and deletes
	// any pending friend invites between the two in either direction.
	Block(ctx context.Context, blocker, blocked string) error
	// Unblock removes a block edge between a and b.
	Unblock(ctx context.Context, a, b string) error
	// Friends lists the usernames username has a friends edge with.
	Friends(ctx context.Context, username string) ([]string, error)
	// IsBlocked reports whether a block edge exists between a and b in
	// either direction.
	IsBlocked(ctx context.Context, a, b string) (bool, error)
	// PendingFriendInvites lists invites addressed to recipient.
	PendingFriendInvites(ctx context.Context, recipient string) ([]FriendInvite, error)

	// SendCollaborationInvite creates a pending collaboration invite.
	// Returns ErrInviteExists on a duplicate (project, recipient) pair.
	SendCollaborationInvite(ctx context.Context, projectID uuid.UUID, sender, recipient string) (*CollaborationInvite, error)
	// AcceptCollaborationInvite adds recipient to the project's
	// collaborator set and deletes the invite in one transaction.
	AcceptCollaborationInvite(ctx context.Context, projectID uuid.UUID, recipient string) error
	// RejectCollaborationInvite deletes a pending collaboration invite
	// without granting access.
	RejectCollaborationInvite(ctx context.Context, projectID uuid.UUID, recipient string) error
	// ListCollaborationInvites lists invites addressed to recipient.
	ListCollaborationInvites(ctx context.Context, recipient string) ([]CollaborationInvite, error)

	// SendOccupantInvite creates a short-TTL invite to occupy roleID in
	// projectID, closing any other pending occupant invites already
	// addressed to recipient for the same project (spec.md §4.6: "closes
	// sibling invites for the same recipient+project").
	SendOccupantInvite(ctx context.Context, projectID, roleID uuid.UUID, sender, recipient string, ttl time.Duration) (*OccupantInvite, error)
	// AcceptOccupantInvite consumes a pending, unexpired occupant invite
	// and returns it so the caller can open the role for recipient.
	AcceptOccupantInvite(ctx context.Context, inviteID uuid.UUID, recipient string) (*OccupantInvite, error)
	// ListOccupantInvites lists unexpired invites addressed to recipient.
	ListOccupantInvites(ctx context.Context, recipient string) ([]OccupantInvite, error)
	// DeleteExpiredOccupantInvites removes expired occupant invites,
	// returning the count deleted. Called by internal/worker's sweep.
	DeleteExpiredOccupantInvites(ctx context.Context, now time.Time) (int64, error)

	// RemoveAccount deletes every friend edge, friend invite,
	// collaboration invite, and occupant invite touching username, in a
	// single transaction, per spec.md §4.6's "single query" deletion
	// guarantee.
	RemoveAccount(ctx context.Context, username string) error
}

func canonicalPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
