package servicehost

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PGRepository is a Postgres-backed implementation of Repository.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a PGRepository backed by db.
func NewPGRepository(db *pgxpool.Pool, log zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: log.With().Str("component", "servicehost").Logger()}
}

const hostColumns = `id, url, categories, secret_hash, totp_secret, recovery_code_hashes, created_at`

func scanHost(row pgx.Row) (*Host, error) {
	h := &Host{}
	var totp *string
	if err := row.Scan(&h.ID, &h.URL, &h.Categories, &h.SecretHash, &totp, &h.RecoveryCodeHashes, &h.CreatedAt); err != nil {
		return nil, err
	}
	if totp != nil {
		h.TOTPSecret = *totp
	}
	return h, nil
}

// RegisterHost implements Repository.
func (r *PGRepository) RegisterHost(ctx context.Context, url string, categories []string, secretHash string) (*Host, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO service_hosts (url, categories, secret_hash) VALUES ($1, $2, $3) RETURNING %s`, hostColumns),
		url, categories, secretHash,
	)
	h, err := scanHost(row)
	if err != nil {
		return nil, fmt.Errorf("register service host: %w", err)
	}
	return h, nil
}

// GetHost implements Repository.
func (r *PGRepository) GetHost(ctx context.Context, id uuid.UUID) (*Host, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM service_hosts WHERE id = $1`, hostColumns), id)
	h, err := scanHost(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get service host: %w", err)
	}
	return h, nil
}

// ListHosts implements Repository.
func (r *PGRepository) ListHosts(ctx context.Context) ([]Host, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM service_hosts ORDER BY created_at`, hostColumns))
	if err != nil {
		return nil, fmt.Errorf("list service hosts: %w", err)
	}
	defer rows.Close()

	var out []Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service host: %w", err)
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// RotateSecret implements Repository.
func (r *PGRepository) RotateSecret(ctx context.Context, id uuid.UUID, newHash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE service_hosts SET secret_hash = $1 WHERE id = $2`, newHash, id)
	if err != nil {
		return fmt.Errorf("rotate secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTOTPSecret implements Repository.
func (r *PGRepository) SetTOTPSecret(ctx context.Context, id uuid.UUID, encryptedSecret string) error {
	tag, err := r.db.Exec(ctx, `UPDATE service_hosts SET totp_secret = $1 WHERE id = $2`, encryptedSecret, id)
	if err != nil {
		return fmt.Errorf("set totp secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRecoveryCodes implements Repository.
func (r *PGRepository) SetRecoveryCodes(ctx context.Context, id uuid.UUID, hashes []string) error {
	tag, err := r.db.Exec(ctx, `UPDATE service_hosts SET recovery_code_hashes = $1 WHERE id = $2`, hashes, id)
	if err != nil {
		return fmt.Errorf("set recovery codes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteHost implements Repository. Settings cascade via the service_settings
// foreign key's ON DELETE CASCADE.
func (r *PGRepository) DeleteHost(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM service_hosts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete service host: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSetting implements Repository.
func (r *PGRepository) GetSetting(ctx context.Context, hostID uuid.UUID, kind OwnerKind, ownerID string) (*Setting, error) {
	row := r.db.QueryRow(ctx,
		`SELECT host_id, owner_kind, owner_id, settings, updated_at FROM service_settings
		 WHERE host_id = $1 AND owner_kind = $2 AND owner_id = $3`,
		hostID, string(kind), ownerID,
	)
	s := &Setting{}
	var kindStr string
	if err := row.Scan(&s.HostID, &kindStr, &s.OwnerID, &s.Settings, &s.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSettingNotFound
		}
		return nil, fmt.Errorf("get service setting: %w", err)
	}
	s.OwnerKind = OwnerKind(kindStr)
	return s, nil
}

// SetSetting implements Repository.
func (r *PGRepository) SetSetting(ctx context.Context, hostID uuid.UUID, kind OwnerKind, ownerID string, settings json.RawMessage) (*Setting, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO service_settings (host_id, owner_kind, owner_id, settings) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (host_id, owner_kind, owner_id) DO UPDATE SET settings = excluded.settings, updated_at = now()
		 RETURNING host_id, owner_kind, owner_id, settings, updated_at`,
		hostID, string(kind), ownerID, settings,
	)
	s := &Setting{}
	var kindStr string
	if err := row.Scan(&s.HostID, &kindStr, &s.OwnerID, &s.Settings, &s.UpdatedAt); err != nil {
		return nil, fmt.Errorf("set service setting: %w", err)
	}
	s.OwnerKind = OwnerKind(kindStr)
	return s, nil
}

// DeleteSetting implements Repository.
func (r *PGRepository) DeleteSetting(ctx context.Context, hostID uuid.UUID, kind OwnerKind, ownerID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM service_settings WHERE host_id = $1 AND owner_kind = $2 AND owner_id = $3`,
		hostID, string(kind), ownerID,
	)
	if err != nil {
		return fmt.Errorf("delete service setting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSettingNotFound
	}
	return nil
}

// ListSettingsByOwner implements Repository.
func (r *PGRepository) ListSettingsByOwner(ctx context.Context, kind OwnerKind, ownerID string) ([]Setting, error) {
	rows, err := r.db.Query(ctx,
		`SELECT host_id, owner_kind, owner_id, settings, updated_at FROM service_settings
		 WHERE owner_kind = $1 AND owner_id = $2 ORDER BY host_id`,
		string(kind), ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list service settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var s Setting
		var kindStr string
		if err := rows.Scan(&s.HostID, &kindStr, &s.OwnerID, &s.Settings, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan service setting: %w", err)
		}
		s.OwnerKind = OwnerKind(kindStr)
		out = append(out, s)
	}
	return out, rows.Err()
}
