package bootstrap

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/config"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres-backed bootstrap test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestRunFirstInitSeedsAdminAndIsNotFirstRunAfter(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	first, err := IsFirstRun(ctx, pool)
	if err != nil {
		t.Fatalf("IsFirstRun: %v", err)
	}
	if !first {
		t.Skip("database already initialized; skipping to avoid clobbering existing data")
	}

	cfg := &config.Config{
		ServerName:        "Test Server",
		InitOwnerEmail:    "owner@example.com",
		InitOwnerPassword: "supersecretpassword",
		Argon2Memory:      19456,
		Argon2Iterations:  2,
		Argon2Parallelism: 1,
		Argon2SaltLength:  16,
		Argon2KeyLength:   32,
	}

	if err := RunFirstInit(ctx, pool, cfg, zerolog.Nop()); err != nil {
		t.Fatalf("RunFirstInit: %v", err)
	}

	first, err = IsFirstRun(ctx, pool)
	if err != nil {
		t.Fatalf("IsFirstRun after init: %v", err)
	}
	if first {
		t.Error("expected IsFirstRun to report false after RunFirstInit")
	}

	var role string
	if err := pool.QueryRow(ctx, `SELECT role FROM users WHERE email_lower = $1`, "owner@example.com").Scan(&role); err != nil {
		t.Fatalf("query seeded admin: %v", err)
	}
	if role != "Admin" {
		t.Errorf("seeded owner role = %q, want Admin", role)
	}
}

func TestRunFirstInitRequiresOwnerCredentials(t *testing.T) {
	pool := newTestPool(t)
	cfg := &config.Config{ServerName: "Test Server"}
	if err := RunFirstInit(context.Background(), pool, cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected RunFirstInit to fail without owner credentials")
	}
}
