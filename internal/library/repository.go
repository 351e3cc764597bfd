package library

import (
	"context"
	"fmt"

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
	return &PGRepository{db: db, log: log.With().Str("component", "library").Logger()}
}

const selectColumns = `owner, name, blob_key, notes, approved, needs_review, updated_at`

func scanLibrary(row pgx.Row) (Library, error) {
	var l Library
	if err := row.Scan(&l.Owner, &l.Name, &l.BlobKey, &l.Notes, &l.Approved, &l.NeedsReview, &l.UpdatedAt); err != nil {
		return Library{}, err
	}
	return l, nil
}

// Upsert implements Repository. It writes lib's approval flags as given on
// both insert and update; Manager.Publish always passes Approved false, so a
// republish through it reverts the library to unapproved.
func (r *PGRepository) Upsert(ctx context.Context, lib Library) (Library, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO libraries (owner, name, blob_key, notes, approved, needs_review)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (owner, name) DO UPDATE SET
		   blob_key = excluded.blob_key, notes = excluded.notes,
		   approved = excluded.approved, needs_review = excluded.needs_review,
		   updated_at = now()
		 RETURNING %s`, selectColumns),
		lib.Owner, lib.Name, lib.BlobKey, lib.Notes, lib.Approved, lib.NeedsReview,
	)
	out, err := scanLibrary(row)
	if err != nil {
		return Library{}, fmt.Errorf("upsert library: %w", err)
	}
	return out, nil
}

// Get implements Repository.
func (r *PGRepository) Get(ctx context.Context, owner, name string) (Library, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM libraries WHERE owner = $1 AND name = $2`, selectColumns), owner, name)
	lib, err := scanLibrary(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Library{}, ErrNotFound
		}
		return Library{}, fmt.Errorf("get library: %w", err)
	}
	return lib, nil
}

// ListByOwner implements Repository.
func (r *PGRepository) ListByOwner(ctx context.Context, owner string) ([]Library, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM libraries WHERE owner = $1 ORDER BY name`, selectColumns), owner)
	if err != nil {
		return nil, fmt.Errorf("list libraries by owner: %w", err)
	}
	defer rows.Close()
	return scanLibraries(rows)
}

// ListApproved implements Repository.
func (r *PGRepository) ListApproved(ctx context.Context) ([]Library, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM libraries WHERE approved ORDER BY owner, name`, selectColumns))
	if err != nil {
		return nil, fmt.Errorf("list approved libraries: %w", err)
	}
	defer rows.Close()
	return scanLibraries(rows)
}

// ListNeedsReview implements Repository.
func (r *PGRepository) ListNeedsReview(ctx context.Context) ([]Library, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM libraries WHERE needs_review ORDER BY updated_at`, selectColumns))
	if err != nil {
		return nil, fmt.Errorf("list libraries needing review: %w", err)
	}
	defer rows.Close()
	return scanLibraries(rows)
}

func scanLibraries(rows pgx.Rows) ([]Library, error) {
	var out []Library
	for rows.Next() {
		lib, err := scanLibrary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan library: %w", err)
		}
		out = append(out, lib)
	}
	return out, rows.Err()
}

// SetApproval implements Repository.
func (r *PGRepository) SetApproval(ctx context.Context, owner, name string, approved, needsReview bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE libraries SET approved = $1, needs_review = $2, updated_at = now() WHERE owner = $3 AND name = $4`,
		approved, needsReview, owner, name,
	)
	if err != nil {
		return fmt.Errorf("set library approval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete implements Repository.
func (r *PGRepository) Delete(ctx context.Context, owner, name string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM libraries WHERE owner = $1 AND name = $2`, owner, name)
	if err != nil {
		return fmt.Errorf("delete library: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
