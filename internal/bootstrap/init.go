// Package bootstrap seeds a freshly migrated database with a single
// administrator account on first run, grounded on the teacher's
// IsFirstRun/RunFirstInit transaction-seeding pattern but dropping the
// chat-specific @everyone-role/channel/onboarding-config seeding this
// domain has no use for.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/auth"
	"github.com/netsbox/control-plane/internal/config"
)

var sanitizeUsername = regexp.MustCompile(`[^a-zA-Z0-9_.]`)

// IsFirstRun returns true when the system_config table has no row.
func IsFirstRun(ctx context.Context, db *pgxpool.Pool) (bool, error) {
	var count int
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM system_config").Scan(&count); err != nil {
		return false, fmt.Errorf("check first run: %w", err)
	}
	return count == 0, nil
}

// RunFirstInit seeds the administrator account and the system_config row
// inside a single transaction.
func RunFirstInit(ctx context.Context, db *pgxpool.Pool, cfg *config.Config, log zerolog.Logger) error {
	if cfg.InitOwnerEmail == "" || cfg.InitOwnerPassword == "" {
		return fmt.Errorf("INIT_OWNER_EMAIL and INIT_OWNER_PASSWORD must be set for first-run initialization")
	}

	ownerEmail, _, err := auth.ValidateEmail(cfg.InitOwnerEmail)
	if err != nil {
		return fmt.Errorf("invalid INIT_OWNER_EMAIL: %w", err)
	}

	hash, err := auth.HashPassword(cfg.InitOwnerPassword, auth.PasswordParams{
		Memory:      cfg.Argon2Memory,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
		SaltLength:  cfg.Argon2SaltLength,
		KeyLength:   cfg.Argon2KeyLength,
	})
	if err != nil {
		return fmt.Errorf("hash owner password: %w", err)
	}

	username := ownerEmail
	if idx := strings.Index(username, "@"); idx > 0 {
		username = username[:idx]
	}
	username = sanitizeUsername.ReplaceAllString(username, "")
	if err := auth.ValidateUsername(username); err != nil {
		return fmt.Errorf("derived owner username %q from email is invalid: %w", username, err)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin init transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			log.Warn().Err(err).Msg("first-run init tx rollback failed")
		}
	}()

	var ownerID uuid.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO users (username, username_lower, email, email_lower, password_hash, role, linked_accounts)
		 VALUES ($1, $2, $3, $4, $5, 'Admin', '[]'::jsonb)
		 RETURNING id`,
		username, strings.ToLower(username), ownerEmail, ownerEmail, hash,
	).Scan(&ownerID)
	if err != nil {
		return fmt.Errorf("insert owner user: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO system_config (server_name, owner_id) VALUES ($1, $2)`,
		cfg.ServerName, ownerID,
	)
	if err != nil {
		return fmt.Errorf("insert system_config: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit init transaction: %w", err)
	}

	log.Info().Str("username", username).Str("email", ownerEmail).Msg("seeded first-run administrator account")
	return nil
}
