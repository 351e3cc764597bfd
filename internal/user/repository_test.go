package user

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// newTestRepo connects to a real Postgres instance for integration coverage. It is skipped when TEST_DATABASE_URL is
// unset, matching the teacher's own env-gated database tests rather than pulling in a container-management
// dependency the example pack does not otherwise use.
func newTestRepo(t *testing.T) *PGRepository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres-backed user repository test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)
	return NewPGRepository(pool, nil, zerolog.Nop())
}

func uniqueName(t *testing.T) string {
	return fmt.Sprintf("u%d", time.Now().UnixNano())
}

func TestPGRepository_CreateAndFetch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	name := uniqueName(t)
	created, err := repo.Create(ctx, CreateParams{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "hash",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Role != RoleUser {
		t.Errorf("new user role = %q, want %q", created.Role, RoleUser)
	}

	byID, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if byID.Username != name {
		t.Errorf("Username = %q, want %q", byID.Username, name)
	}

	byName, err := repo.GetByUsername(ctx, name)
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if byName.ID != created.ID {
		t.Errorf("GetByUsername returned a different user")
	}
}

func TestPGRepository_CreateDuplicateUsername(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	name := uniqueName(t)
	if _, err := repo.Create(ctx, CreateParams{Username: name, Email: name + "@example.com", PasswordHash: "h"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := repo.Create(ctx, CreateParams{Username: name, Email: name + "2@example.com", PasswordHash: "h"})
	if err != ErrUsernameTaken {
		t.Fatalf("Create duplicate username err = %v, want ErrUsernameTaken", err)
	}
}

func TestPGRepository_BanTombstonesIdentity(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	name := uniqueName(t)
	u, err := repo.Create(ctx, CreateParams{Username: name, Email: name + "@example.com", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.Ban(ctx, u.ID, u.ID); err != nil {
		t.Fatalf("Ban: %v", err)
	}

	tombstoned, err := repo.IsTombstoned(ctx, name, name+"@example.com")
	if err != nil {
		t.Fatalf("IsTombstoned: %v", err)
	}
	if !tombstoned {
		t.Error("expected identity to be tombstoned after ban")
	}

	_, err = repo.Create(ctx, CreateParams{Username: name + "-reborn", Email: name + "@example.com", PasswordHash: "h"})
	if err != ErrAccountTombstoned {
		t.Fatalf("re-registering a tombstoned email err = %v, want ErrAccountTombstoned", err)
	}
}

func TestPGRepository_LinkAndUnlinkAccount(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	name := uniqueName(t)
	u, err := repo.Create(ctx, CreateParams{Username: name, Email: name + "@example.com", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	acct := LinkedAccount{Strategy: "snap", ID: "ext-1"}
	if err := repo.LinkAccount(ctx, u.ID, acct); err != nil {
		t.Fatalf("LinkAccount: %v", err)
	}
	if err := repo.LinkAccount(ctx, u.ID, acct); err != ErrLinkedAccountUsed {
		t.Fatalf("duplicate LinkAccount err = %v, want ErrLinkedAccountUsed", err)
	}

	got, err := repo.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(got.LinkedAccounts) != 1 || got.LinkedAccounts[0] != acct {
		t.Fatalf("LinkedAccounts = %v, want [%v]", got.LinkedAccounts, acct)
	}

	if err := repo.UnlinkAccount(ctx, u.ID, acct.Strategy, acct.ID); err != nil {
		t.Fatalf("UnlinkAccount: %v", err)
	}
	got, err = repo.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(got.LinkedAccounts) != 0 {
		t.Fatalf("LinkedAccounts after unlink = %v, want empty", got.LinkedAccounts)
	}
}
