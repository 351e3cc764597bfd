package library

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
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres-backed library repository test")
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
	t.Helper()
	return fmt.Sprintf("owner%d", time.Now().UnixNano())
}

func TestPGRepositoryUpsertAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	owner := uniqueOwner(t)

	lib, err := repo.Upsert(ctx, Library{Owner: owner, Name: "shapes", BlobKey: "k1", Notes: "n1"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if lib.Approved || lib.NeedsReview {
		t.Fatalf("unexpected flags on fresh insert: %+v", lib)
	}

	got, err := repo.Get(ctx, owner, "shapes")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.BlobKey != "k1" {
		t.Fatalf("BlobKey = %q, want k1", got.BlobKey)
	}

	updated, err := repo.Upsert(ctx, Library{Owner: owner, Name: "shapes", BlobKey: "k2", Notes: "n2", NeedsReview: true})
	if err != nil {
		t.Fatalf("Upsert update: %v", err)
	}
	if updated.BlobKey != "k2" || !updated.NeedsReview {
		t.Fatalf("updated = %+v", updated)
	}
}

func TestPGRepositoryApprovalListing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	owner := uniqueOwner(t)

	if _, err := repo.Upsert(ctx, Library{Owner: owner, Name: "a", BlobKey: "k", NeedsReview: true}); err != nil {
		t.Fatalf("Upsert a: %v", err)
	}
	if _, err := repo.Upsert(ctx, Library{Owner: owner, Name: "b", BlobKey: "k"}); err != nil {
		t.Fatalf("Upsert b: %v", err)
	}

	needsReview, err := repo.ListNeedsReview(ctx)
	if err != nil {
		t.Fatalf("ListNeedsReview: %v", err)
	}
	found := false
	for _, lib := range needsReview {
		if lib.Owner == owner && lib.Name == "a" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected library a in needs-review listing")
	}

	if err := repo.SetApproval(ctx, owner, "b", true, false); err != nil {
		t.Fatalf("SetApproval: %v", err)
	}
	approved, err := repo.ListApproved(ctx)
	if err != nil {
		t.Fatalf("ListApproved: %v", err)
	}
	found = false
	for _, lib := range approved {
		if lib.Owner == owner && lib.Name == "b" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected library b in approved listing")
	}
}

func TestPGRepositoryDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	owner := uniqueOwner(t)

	if _, err := repo.Upsert(ctx, Library{Owner: owner, Name: "gone", BlobKey: "k"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := repo.Delete(ctx, owner, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, owner, "gone"); err != ErrNotFound {
		t.Fatalf("Get after delete: err = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, owner, "gone"); err != ErrNotFound {
		t.Fatalf("double delete: err = %v, want ErrNotFound", err)
	}
}
