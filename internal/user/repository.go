package user

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/postgres"
)

const selectColumns = `id, username, username_lower, email, email_lower, password_hash, role, group_id, linked_accounts, banned, mfa_secret_encrypted, email_verified, created_at`

// Repository defines the data-access contract for user operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	SetGroup(ctx context.Context, id uuid.UUID, groupID *uuid.UUID) error
	LinkAccount(ctx context.Context, id uuid.UUID, acct LinkedAccount) error
	UnlinkAccount(ctx context.Context, id uuid.UUID, strategy, externalID string) error
	Ban(ctx context.Context, id uuid.UUID, bannedBy uuid.UUID) error
	Unban(ctx context.Context, id uuid.UUID) error
	IsTombstoned(ctx context.Context, usernameLower, emailLower string) (bool, error)
	SetMFASecret(ctx context.Context, id uuid.UUID, encryptedSecret string) error
	ClearMFASecret(ctx context.Context, id uuid.UUID) error
	VerifyEmail(ctx context.Context, id uuid.UUID) error
}

// PGRepository is a Postgres-backed implementation of Repository. When
// hashIdentifier is non-nil, the usernames and emails copied into
// banned_accounts are run through it (the caller wires in
// internal/auth.HMACIdentifier) before being stored or compared, rather than
// kept as plaintext lowercase strings — the tombstone table only ever needs
// equality checks, never to display or email the identifiers back, so
// hashing them at rest costs nothing functionally. A nil hashIdentifier
// preserves the plaintext-lowercase behavior, matching deployments that
// haven't provisioned IDENTIFIER_HMAC_KEY yet. The function lives outside
// this package to avoid an import cycle (internal/auth already imports
// internal/user for its Repository/User types).
type PGRepository struct {
	db             *pgxpool.Pool
	hashIdentifier func(string) string
	log            zerolog.Logger
}

// NewPGRepository creates a PGRepository backed by db. hashIdentifier may be
// nil, in which case tombstoned identifiers are stored and compared as
// plaintext lowercase strings.
func NewPGRepository(db *pgxpool.Pool, hashIdentifier func(string) string, log zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, hashIdentifier: hashIdentifier, log: log.With().Str("component", "user").Logger()}
}

// tombstoneIdentifier returns the form of a lowercased username or email
// that is actually stored in / compared against banned_accounts.
func (r *PGRepository) tombstoneIdentifier(lowered string) string {
	if r.hashIdentifier == nil {
		return lowered
	}
	return r.hashIdentifier(lowered)
}

func scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	var usernameLower, emailLower string
	var linkedRaw []byte
	err := row.Scan(
		&u.ID, &u.Username, &usernameLower, &u.Email, &emailLower,
		&u.PasswordHash, &u.Role, &u.GroupID, &linkedRaw, &u.Banned, &u.MFASecretEncrypted, &u.EmailVerified, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(linkedRaw) > 0 {
		if err := json.Unmarshal(linkedRaw, &u.LinkedAccounts); err != nil {
			return nil, fmt.Errorf("decode linked_accounts: %w", err)
		}
	}
	return u, nil
}

// Create inserts a new user after checking the tombstone table inside the same transaction, so a banned username or
// email cannot be reused even under concurrent registration attempts.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*User, error) {
	usernameLower := strings.ToLower(params.Username)
	emailLower := strings.ToLower(params.Email)

	var created *User
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var tombstoned bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM banned_accounts WHERE username_lower = $1 OR email_lower = $2)`,
			r.tombstoneIdentifier(usernameLower), r.tombstoneIdentifier(emailLower),
		).Scan(&tombstoned)
		if err != nil {
			return fmt.Errorf("check tombstone: %w", err)
		}
		if tombstoned {
			return ErrAccountTombstoned
		}

		row := tx.QueryRow(ctx,
			fmt.Sprintf(`INSERT INTO users (username, username_lower, email, email_lower, password_hash, linked_accounts)
			 VALUES ($1, $2, $3, $4, $5, '[]'::jsonb)
			 RETURNING %s`, selectColumns),
			params.Username, usernameLower, params.Email, emailLower, params.PasswordHash,
		)
		u, err := scanUser(row)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrUsernameTaken
			}
			return fmt.Errorf("insert user: %w", err)
		}
		created = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetByID fetches a user by ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, selectColumns), id)
	u, err := scanUser(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// GetByUsername fetches a user by case-folded username.
func (r *PGRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM users WHERE username_lower = $1`, selectColumns), strings.ToLower(username))
	u, err := scanUser(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

// GetByEmail fetches a non-banned user by case-folded email.
func (r *PGRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM users WHERE email_lower = $1 AND NOT banned`, selectColumns), strings.ToLower(email))
	u, err := scanUser(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// UpdatePasswordHash replaces a user's password hash, e.g. after a reset or an argon2id parameter rehash.
func (r *PGRepository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, id)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetGroup assigns or clears a user's group membership. A user belongs to at most one group as a member.
func (r *PGRepository) SetGroup(ctx context.Context, id uuid.UUID, groupID *uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET group_id = $1 WHERE id = $2`, groupID, id)
	if err != nil {
		return fmt.Errorf("set group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkAccount appends a linked external-strategy account to the user's linked_accounts set, refusing duplicates.
func (r *PGRepository) LinkAccount(ctx context.Context, id uuid.UUID, acct LinkedAccount) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT linked_accounts FROM users WHERE id = $1 FOR UPDATE`, id)
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			if err == pgx.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("read linked_accounts: %w", err)
		}
		var accounts []LinkedAccount
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &accounts); err != nil {
				return fmt.Errorf("decode linked_accounts: %w", err)
			}
		}
		for _, a := range accounts {
			if a.Strategy == acct.Strategy && a.ID == acct.ID {
				return ErrLinkedAccountUsed
			}
		}
		accounts = append(accounts, acct)
		encoded, err := json.Marshal(accounts)
		if err != nil {
			return fmt.Errorf("encode linked_accounts: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET linked_accounts = $1 WHERE id = $2`, encoded, id); err != nil {
			return fmt.Errorf("update linked_accounts: %w", err)
		}
		return nil
	})
}

// UnlinkAccount removes a linked account by (strategy, id).
func (r *PGRepository) UnlinkAccount(ctx context.Context, id uuid.UUID, strategy, externalID string) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT linked_accounts FROM users WHERE id = $1 FOR UPDATE`, id)
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			if err == pgx.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("read linked_accounts: %w", err)
		}
		var accounts []LinkedAccount
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &accounts); err != nil {
				return fmt.Errorf("decode linked_accounts: %w", err)
			}
		}
		filtered := accounts[:0]
		for _, a := range accounts {
			if a.Strategy == strategy && a.ID == externalID {
				continue
			}
			filtered = append(filtered, a)
		}
		encoded, err := json.Marshal(filtered)
		if err != nil {
			return fmt.Errorf("encode linked_accounts: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET linked_accounts = $1 WHERE id = $2`, encoded, id); err != nil {
			return fmt.Errorf("update linked_accounts: %w", err)
		}
		return nil
	})
}

// Ban marks a user banned and copies its identity into banned_accounts so the username/email cannot be reused.
func (r *PGRepository) Ban(ctx context.Context, id uuid.UUID, bannedBy uuid.UUID) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var usernameLower, emailLower string
		err := tx.QueryRow(ctx, `SELECT username_lower, email_lower FROM users WHERE id = $1 FOR UPDATE`, id).
			Scan(&usernameLower, &emailLower)
		if err != nil {
			if err == pgx.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("read user for ban: %w", err)
		}

		if _, err := tx.Exec(ctx, `UPDATE users SET banned = true WHERE id = $1`, id); err != nil {
			return fmt.Errorf("mark banned: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO banned_accounts (username_lower, email_lower, banned_by) VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			r.tombstoneIdentifier(usernameLower), r.tombstoneIdentifier(emailLower), bannedBy,
		)
		if err != nil {
			return fmt.Errorf("insert tombstone: %w", err)
		}
		return nil
	})
}

// Unban clears the banned flag. The tombstone row is intentionally left in place — un-banning a live account does not
// free its username/email for reuse by a different account.
func (r *PGRepository) Unban(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET banned = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("unban: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsTombstoned reports whether a username or email was previously used by a banned account.
func (r *PGRepository) IsTombstoned(ctx context.Context, usernameLower, emailLower string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM banned_accounts WHERE username_lower = $1 OR email_lower = $2)`,
		r.tombstoneIdentifier(usernameLower), r.tombstoneIdentifier(emailLower),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check tombstone: %w", err)
	}
	return exists, nil
}

// SetMFASecret stores the AES-256-GCM-encrypted TOTP secret that completes an account's MFA enrollment.
func (r *PGRepository) SetMFASecret(ctx context.Context, id uuid.UUID, encryptedSecret string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET mfa_secret_encrypted = $1 WHERE id = $2`, encryptedSecret, id)
	if err != nil {
		return fmt.Errorf("set mfa secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearMFASecret disables MFA on an account by wiping its stored secret.
func (r *PGRepository) ClearMFASecret(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET mfa_secret_encrypted = '' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear mfa secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// VerifyEmail marks a user's email address as confirmed once they've followed the link from the verification email.
func (r *PGRepository) VerifyEmail(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET email_verified = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
