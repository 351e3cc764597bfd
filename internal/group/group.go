// Package group implements the Group document collection (spec.md §3): a
// named collection of member users owned by a single user, carrying
// per-service-host settings. Deleting a group nulls its members' group_id
// and deletes its group-owned service-host authorizations.
package group

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/postgres"
)

var (
	ErrNotFound  = errors.New("group not found")
	ErrNameTaken = errors.New("a group with this name already exists for this owner")
)

// Group is the row shape of the groups table.
type Group struct {
	ID              uuid.UUID
	OwnerUsername   string
	Name            string
	ServiceSettings map[string][]byte
}

// Repository defines the data-access contract for group operations.
type Repository interface {
	Create(ctx context.Context, owner, name string) (*Group, error)
	Get(ctx context.Context, id uuid.UUID) (*Group, error)
	ListByOwner(ctx context.Context, owner string) ([]Group, error)
	Rename(ctx context.Context, id uuid.UUID, name string) error
	Delete(ctx context.Context, id uuid.UUID) error
	Members(ctx context.Context, id uuid.UUID) ([]string, error)
}

// PGRepository is a Postgres-backed implementation of Repository.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a PGRepository backed by db.
func NewPGRepository(db *pgxpool.Pool, log zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: log.With().Str("component", "group").Logger()}
}

const selectColumns = `id, owner_username, name`

func scanGroup(row pgx.Row) (*Group, error) {
	g := &Group{}
	if err := row.Scan(&g.ID, &g.OwnerUsername, &g.Name); err != nil {
		return nil, err
	}
	return g, nil
}

// Create inserts a new group, rejecting a duplicate (owner, name) pair.
func (r *PGRepository) Create(ctx context.Context, owner, name string) (*Group, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO groups (owner_username, name) VALUES ($1, $2) RETURNING %s`, selectColumns),
		owner, name,
	)
	g, err := scanGroup(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("insert group: %w", err)
	}
	return g, nil
}

// Get fetches a group by ID.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (*Group, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM groups WHERE id = $1`, selectColumns), id)
	g, err := scanGroup(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

// ListByOwner lists every group owned by owner.
func (r *PGRepository) ListByOwner(ctx context.Context, owner string) ([]Group, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM groups WHERE owner_username = $1 ORDER BY name`, selectColumns), owner)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

// Rename changes a group's name, rejecting a collision with another group of the same owner.
func (r *PGRepository) Rename(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := r.db.Exec(ctx, `UPDATE groups SET name = $1 WHERE id = $2`, name, id)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrNameTaken
		}
		return fmt.Errorf("rename group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a group and, in the same transaction, its group-owned service-host settings rows. Member cleanup
// (nulling group_id) is handled by the ON DELETE SET NULL foreign key.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM service_settings WHERE owner_kind = 'group' AND owner_id = $1`, id.String()); err != nil {
			return fmt.Errorf("delete group service settings: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete group: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GroupOwner returns the owner username of a group, satisfying
// witness.GroupLookup.
func (r *PGRepository) GroupOwner(ctx context.Context, id uuid.UUID) (string, error) {
	g, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return g.OwnerUsername, nil
}

// Members lists the usernames of users currently assigned to this group.
func (r *PGRepository) Members(ctx context.Context, id uuid.UUID) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT username FROM users WHERE group_id = $1 ORDER BY username`, id)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, username)
	}
	return members, rows.Err()
}
