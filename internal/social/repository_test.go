package social

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

func newTestRepo(t *testing.T) *PGRepository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres-backed social repository test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)
	return NewPGRepository(pool, zerolog.Nop())
}

func uniqueUser(t *testing.T, tag string) string {
	t.Helper()
	return fmt.Sprintf("%s%d", tag, time.Now().UnixNano())
}

func TestSendFriendInviteThenAccept(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alice := uniqueUser(t, "alice")
	bob := uniqueUser(t, "bob")

	invite, auto, err := repo.SendFriendInvite(ctx, alice, bob)
	if err != nil {
		t.Fatalf("SendFriendInvite: %v", err)
	}
	if auto {
		t.Fatal("expected no auto-accept on first invite")
	}
	if invite.Sender != alice || invite.Recipient != bob {
		t.Fatalf("invite = %+v", invite)
	}

	if err := repo.RespondFriendInvite(ctx, alice, bob, true); err != nil {
		t.Fatalf("RespondFriendInvite: %v", err)
	}

	friends, err := repo.Friends(ctx, alice)
	if err != nil {
		t.Fatalf("Friends: %v", err)
	}
	if len(friends) != 1 || friends[0] != bob {
		t.Fatalf("Friends(alice) = %v, want [%s]", friends, bob)
	}
}

func TestSendFriendInviteAutoAcceptsReverse(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alice := uniqueUser(t, "alice")
	bob := uniqueUser(t, "bob")

	if _, _, err := repo.SendFriendInvite(ctx, bob, alice); err != nil {
		t.Fatalf("SendFriendInvite bob->alice: %v", err)
	}

	invite, auto, err := repo.SendFriendInvite(ctx, alice, bob)
	if err != nil {
		t.Fatalf("SendFriendInvite alice->bob: %v", err)
	}
	if !auto {
		t.Fatal("expected auto-accept when reverse invite exists")
	}
	if invite != nil {
		t.Fatalf("expected nil invite on auto-accept, got %+v", invite)
	}

	aliceFriends, err := repo.Friends(ctx, alice)
	if err != nil {
		t.Fatalf("Friends(alice): %v", err)
	}
	if len(aliceFriends) != 1 || aliceFriends[0] != bob {
		t.Fatalf("Friends(alice) = %v", aliceFriends)
	}

	pending, err := repo.PendingFriendInvites(ctx, alice)
	if err != nil {
		t.Fatalf("PendingFriendInvites: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending invites left, got %v", pending)
	}
}

func TestBlockSupersedesFriendAndRejectsInvite(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alice := uniqueUser(t, "alice")
	bob := uniqueUser(t, "bob")

	if err := repo.Block(ctx, alice, bob); err != nil {
		t.Fatalf("Block: %v", err)
	}

	if _, _, err := repo.SendFriendInvite(ctx, bob, alice); err != ErrBlocked {
		t.Fatalf("SendFriendInvite after block: err = %v, want ErrBlocked", err)
	}

	if err := repo.Unblock(ctx, alice, bob); err != nil {
		t.Fatalf("Unblock: %v", err)
	}

	if _, _, err := repo.SendFriendInvite(ctx, bob, alice); err != nil {
		t.Fatalf("SendFriendInvite after unblock: %v", err)
	}
}

func TestBlockDeletesExistingInvites(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alice := uniqueUser(t, "alice")
	bob := uniqueUser(t, "bob")

	if _, _, err := repo.SendFriendInvite(ctx, bob, alice); err != nil {
		t.Fatalf("SendFriendInvite: %v", err)
	}
	if err := repo.Block(ctx, alice, bob); err != nil {
		t.Fatalf("Block: %v", err)
	}

	pending, err := repo.PendingFriendInvites(ctx, alice)
	if err != nil {
		t.Fatalf("PendingFriendInvites: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected invite deleted on block, got %v", pending)
	}
}

func TestCollaborationInviteAcceptAddsCollaboratorAndDeletesInvite(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alice := uniqueUser(t, "alice")
	bob := uniqueUser(t, "bob")

	pool, err := pgxpool.New(ctx, os.Getenv("TEST_DATABASE_URL"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	var projectID uuid.UUID
	err = pool.QueryRow(ctx,
		`INSERT INTO projects (owner, name) VALUES ($1, $2) RETURNING id`,
		alice, "game",
	).Scan(&projectID)
	if err != nil {
		t.Fatalf("insert project: %v", err)
	}

	if _, err := repo.SendCollaborationInvite(ctx, projectID, alice, bob); err != nil {
		t.Fatalf("SendCollaborationInvite: %v", err)
	}
	if _, err := repo.SendCollaborationInvite(ctx, projectID, alice, bob); err != ErrInviteExists {
		t.Fatalf("duplicate invite: err = %v, want ErrInviteExists", err)
	}

	if err := repo.AcceptCollaborationInvite(ctx, projectID, bob); err != nil {
		t.Fatalf("AcceptCollaborationInvite: %v", err)
	}

	var collaborators []string
	if err := pool.QueryRow(ctx, `SELECT collaborators FROM projects WHERE id = $1`, projectID).Scan(&collaborators); err != nil {
		t.Fatalf("read collaborators: %v", err)
	}
	if len(collaborators) != 1 || collaborators[0] != bob {
		t.Fatalf("collaborators = %v, want [%s]", collaborators, bob)
	}

	if err := repo.AcceptCollaborationInvite(ctx, projectID, bob); err != ErrInviteNotFound {
		t.Fatalf("re-accept: err = %v, want ErrInviteNotFound", err)
	}
}

func TestOccupantInviteSiblingsClosedAndAccept(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alice := uniqueUser(t, "alice")
	bob := uniqueUser(t, "bob")

	pool, err := pgxpool.New(ctx, os.Getenv("TEST_DATABASE_URL"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	var projectID uuid.UUID
	if err := pool.QueryRow(ctx, `INSERT INTO projects (owner, name) VALUES ($1, $2) RETURNING id`, alice, "game").Scan(&projectID); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	roleA, roleB := uuid.New(), uuid.New()

	first, err := repo.SendOccupantInvite(ctx, projectID, roleA, alice, bob, time.Hour)
	if err != nil {
		t.Fatalf("SendOccupantInvite first: %v", err)
	}
	if _, err := repo.SendOccupantInvite(ctx, projectID, roleB, alice, bob, time.Hour); err != nil {
		t.Fatalf("SendOccupantInvite second: %v", err)
	}

	if _, err := repo.AcceptOccupantInvite(ctx, first.ID, bob); err != ErrInviteNotFound {
		t.Fatalf("accepting closed sibling invite: err = %v, want ErrInviteNotFound", err)
	}

	invites, err := repo.ListOccupantInvites(ctx, bob)
	if err != nil {
		t.Fatalf("ListOccupantInvites: %v", err)
	}
	if len(invites) != 1 || invites[0].RoleID != roleB {
		t.Fatalf("invites = %+v, want single invite for roleB", invites)
	}

	accepted, err := repo.AcceptOccupantInvite(ctx, invites[0].ID, bob)
	if err != nil {
		t.Fatalf("AcceptOccupantInvite: %v", err)
	}
	if accepted.RoleID != roleB {
		t.Fatalf("accepted.RoleID = %v, want %v", accepted.RoleID, roleB)
	}
}

func TestDeleteExpiredOccupantInvites(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alice := uniqueUser(t, "alice")
	bob := uniqueUser(t, "bob")

	pool, err := pgxpool.New(ctx, os.Getenv("TEST_DATABASE_URL"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	var projectID uuid.UUID
	if err := pool.QueryRow(ctx, `INSERT INTO projects (owner, name) VALUES ($1, $2) RETURNING id`, alice, "game").Scan(&projectID); err != nil {
		t.Fatalf("insert project: %v", err)
	}

	if _, err := repo.SendOccupantInvite(ctx, projectID, uuid.New(), alice, bob, -time.Minute); err != nil {
		t.Fatalf("SendOccupantInvite: %v", err)
	}

	n, err := repo.DeleteExpiredOccupantInvites(ctx, time.Now())
	if err != nil {
		t.Fatalf("DeleteExpiredOccupantInvites: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}
}

func TestRemoveAccountDeletesAllEdgesAndInvites(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alice := uniqueUser(t, "alice")
	bob := uniqueUser(t, "bob")
	carol := uniqueUser(t, "carol")

	if _, _, err := repo.SendFriendInvite(ctx, alice, bob); err != nil {
		t.Fatalf("SendFriendInvite: %v", err)
	}
	if err := repo.RespondFriendInvite(ctx, alice, bob, true); err != nil {
		t.Fatalf("RespondFriendInvite: %v", err)
	}
	if err := repo.Block(ctx, alice, carol); err != nil {
		t.Fatalf("Block: %v", err)
	}

	if err := repo.RemoveAccount(ctx, alice); err != nil {
		t.Fatalf("RemoveAccount: %v", err)
	}

	bobFriends, err := repo.Friends(ctx, bob)
	if err != nil {
		t.Fatalf("Friends(bob): %v", err)
	}
	if len(bobFriends) != 0 {
		t.Fatalf("Friends(bob) = %v, want none after alice removed", bobFriends)
	}

	blocked, err := repo.IsBlocked(ctx, alice, carol)
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if blocked {
		t.Fatal("expected block edge removed after account removal")
	}
}
