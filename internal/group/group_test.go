package group

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

func newTestRepo(t *testing.T) *PGRepository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres-backed group repository test")
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

func uniqueOwner(t *testing.T) string {
	return fmt.Sprintf("owner%d", time.Now().UnixNano())
}

func TestPGRepository_CreateGetRename(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	owner := uniqueOwner(t)

	g, err := repo.Create(ctx, owner, "Period 1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Period 1" {
		t.Errorf("Name = %q, want %q", got.Name, "Period 1")
	}

	if err := repo.Rename(ctx, g.ID, "Period 2"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	got, err = repo.Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("Get after rename: %v", err)
	}
	if got.Name != "Period 2" {
		t.Errorf("Name after rename = %q, want %q", got.Name, "Period 2")
	}
}

func TestPGRepository_CreateDuplicateNameRejected(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	owner := uniqueOwner(t)

	if _, err := repo.Create(ctx, owner, "Section A"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := repo.Create(ctx, owner, "Section A")
	if err != ErrNameTaken {
		t.Fatalf("duplicate Create err = %v, want ErrNameTaken", err)
	}
}

func TestPGRepository_ListByOwner(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	owner := uniqueOwner(t)

	if _, err := repo.Create(ctx, owner, "A"); err != nil {
		t.Fatalf("Create A: %v", err)
	}
	if _, err := repo.Create(ctx, owner, "B"); err != nil {
		t.Fatalf("Create B: %v", err)
	}

	groups, err := repo.ListByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("ListByOwner returned %d groups, want 2", len(groups))
	}
}

func TestPGRepository_DeleteNotFound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	g, err := repo.Create(ctx, uniqueOwner(t), "Temp")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Delete(ctx, g.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, g.ID); err != ErrNotFound {
		t.Fatalf("second Delete err = %v, want ErrNotFound", err)
	}
}
