package project

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/postgres"
	"github.com/netsbox/control-plane/internal/witness"
)

// Repository defines the data-access contract for project/role operations.
type Repository interface {
	Create(ctx context.Context, owner, name string) (*Project, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Project, error)
	GetByOwnerName(ctx context.Context, owner, name string) (*Project, error)
	ListByOwner(ctx context.Context, owner string) ([]Project, error)
	ListSharedWith(ctx context.Context, username string) ([]Project, error)
	ListPublic(ctx context.Context) ([]Project, error)
	ListTransientBefore(ctx context.Context, cutoff time.Time) ([]Project, error)
	Rename(ctx context.Context, id uuid.UUID, name string) (string, error)
	SetState(ctx context.Context, id uuid.UUID, state State) error
	SetTransientSince(ctx context.Context, id uuid.UUID, at *time.Time) error
	SetPublic(ctx context.Context, id uuid.UUID, public bool) error
	AddCollaborator(ctx context.Context, id uuid.UUID, username string) error
	RemoveCollaborator(ctx context.Context, id uuid.UUID, username string) error
	Delete(ctx context.Context, id uuid.UUID) error
	UpsertRole(ctx context.Context, projectID uuid.UUID, role RoleMetadata) (RoleMetadata, error)
	DeleteRole(ctx context.Context, projectID, roleID uuid.UUID) error
	SetThumbnailKey(ctx context.Context, projectID, roleID uuid.UUID, thumbnailKey string) error
}

// PGRepository is a Postgres-backed implementation of Repository.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a PGRepository backed by db.
func NewPGRepository(db *pgxpool.Pool, log zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: log.With().Str("component", "project").Logger()}
}

const projectColumns = `id, owner, name, collaborators, state, save_state, public, origin_time, updated, transient_since`

func scanProject(row pgx.Row) (*Project, error) {
	p := &Project{}
	err := row.Scan(
		&p.ID, &p.Owner, &p.Name, &p.Collaborators, &p.State, &p.SaveState,
		&p.Public, &p.OriginTime, &p.Updated, &p.TransientSince,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PGRepository) loadRoles(ctx context.Context, p *Project) error {
	rows, err := r.db.Query(ctx, `SELECT id, name, code_key, media_key, thumbnail_key, updated FROM roles WHERE project_id = $1`, p.ID)
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	p.Roles = make(map[uuid.UUID]RoleMetadata)
	for rows.Next() {
		var role RoleMetadata
		if err := rows.Scan(&role.ID, &role.Name, &role.CodeKey, &role.MediaKey, &role.ThumbnailKey, &role.Updated); err != nil {
			return fmt.Errorf("scan role: %w", err)
		}
		p.Roles[role.ID] = role
	}
	return rows.Err()
}

// renameSuffix matches a trailing " (k)" collision suffix.
var renameSuffix = regexp.MustCompile(`^(.*) \((\d+)\)$`)

// uniqueName resolves spec.md §4.4's rename-collision policy: if (owner,
// base) already names another project, returns "base (k)" for the smallest
// positive k that is free.
func (r *PGRepository) uniqueName(ctx context.Context, tx pgx.Tx, owner, base string, excludeID uuid.UUID) (string, error) {
	root := base
	if m := renameSuffix.FindStringSubmatch(base); m != nil {
		root = m[1]
	}

	rows, err := tx.Query(ctx,
		`SELECT name FROM projects WHERE owner = $1 AND id != $2 AND lower(name) = lower($3)
		 OR (owner = $1 AND id != $2 AND lower(name) LIKE lower($3) || ' (%)')`,
		owner, excludeID, root,
	)
	if err != nil {
		return "", fmt.Errorf("query existing names: %w", err)
	}
	defer rows.Close()

	taken := map[string]struct{}{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", fmt.Errorf("scan existing name: %w", err)
		}
		taken[strings.ToLower(name)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	if _, collides := taken[strings.ToLower(root)]; !collides {
		return root, nil
	}
	for k := 1; ; k++ {
		candidate := fmt.Sprintf("%s (%d)", root, k)
		if _, collides := taken[strings.ToLower(candidate)]; !collides {
			return candidate, nil
		}
	}
}

// Create inserts a new Created project, resolving any (owner, name)
// collision per spec.md §4.4's "POST project" transition.
func (r *PGRepository) Create(ctx context.Context, owner, name string) (*Project, error) {
	var created *Project
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		resolved, err := r.uniqueName(ctx, tx, owner, name, uuid.Nil)
		if err != nil {
			return err
		}
		row := tx.QueryRow(ctx,
			fmt.Sprintf(`INSERT INTO projects (owner, name) VALUES ($1, $2) RETURNING %s`, projectColumns),
			owner, resolved,
		)
		p, err := scanProject(row)
		if err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		p.Roles = map[uuid.UUID]RoleMetadata{}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetByID fetches a project with its roles.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Project, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM projects WHERE id = $1`, projectColumns), id)
	p, err := scanProject(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	if err := r.loadRoles(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetByOwnerName fetches a project by its (owner, name) pair, case-insensitive on name.
func (r *PGRepository) GetByOwnerName(ctx context.Context, owner, name string) (*Project, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projects WHERE owner = $1 AND lower(name) = lower($2)`, projectColumns),
		owner, name,
	)
	p, err := scanProject(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get project by owner/name: %w", err)
	}
	if err := r.loadRoles(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListByOwner lists every project owned by owner, without roles loaded (callers needing role
// data should follow up with GetByID).
func (r *PGRepository) ListByOwner(ctx context.Context, owner string) ([]Project, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM projects WHERE owner = $1 ORDER BY updated DESC`, projectColumns), owner)
	if err != nil {
		return nil, fmt.Errorf("list projects by owner: %w", err)
	}
	defer rows.Close()
	return scanProjectRows(rows)
}

// ListSharedWith lists every project on which username is listed as a
// collaborator, for GET /projects/shared/{user}.
func (r *PGRepository) ListSharedWith(ctx context.Context, username string) ([]Project, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM projects WHERE $1 = ANY(collaborators) ORDER BY updated DESC`, projectColumns),
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("list shared projects: %w", err)
	}
	defer rows.Close()
	return scanProjectRows(rows)
}

// ListPublic lists every public, Saved project.
func (r *PGRepository) ListPublic(ctx context.Context) ([]Project, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM projects WHERE public AND state = 'Saved' ORDER BY updated DESC`, projectColumns))
	if err != nil {
		return nil, fmt.Errorf("list public projects: %w", err)
	}
	defer rows.Close()
	return scanProjectRows(rows)
}

// ListTransientBefore lists Transient projects whose inactivity timer started before cutoff,
// for the inactivity sweeper (spec.md §4.9).
func (r *PGRepository) ListTransientBefore(ctx context.Context, cutoff time.Time) ([]Project, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM projects WHERE state = 'Transient' AND transient_since < $1`, projectColumns),
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list transient projects: %w", err)
	}
	defer rows.Close()
	return scanProjectRows(rows)
}

func scanProjectRows(rows pgx.Rows) ([]Project, error) {
	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// Rename changes a project's name, resolving collisions per spec.md §4.4, and returns the name
// actually stored.
func (r *PGRepository) Rename(ctx context.Context, id uuid.UUID, name string) (string, error) {
	var resolved string
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var owner string
		if err := tx.QueryRow(ctx, `SELECT owner FROM projects WHERE id = $1 FOR UPDATE`, id).Scan(&owner); err != nil {
			if err == pgx.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("read project owner: %w", err)
		}
		n, err := r.uniqueName(ctx, tx, owner, name, id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE projects SET name = $1, updated = now() WHERE id = $2`, n, id); err != nil {
			return fmt.Errorf("rename project: %w", err)
		}
		resolved = n
		return nil
	})
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// SetState transitions a project's lifecycle state, per the table in spec.md §4.4.
func (r *PGRepository) SetState(ctx context.Context, id uuid.UUID, state State) error {
	tag, err := r.db.Exec(ctx, `UPDATE projects SET state = $1, updated = now() WHERE id = $2`, state, id)
	if err != nil {
		return fmt.Errorf("set project state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTransientSince records (or clears, if at is nil) when a project's inactivity timer started.
func (r *PGRepository) SetTransientSince(ctx context.Context, id uuid.UUID, at *time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE projects SET transient_since = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("set transient_since: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPublic toggles a project's visibility.
func (r *PGRepository) SetPublic(ctx context.Context, id uuid.UUID, public bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE projects SET public = $1, updated = now() WHERE id = $2`, public, id)
	if err != nil {
		return fmt.Errorf("set public: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddCollaborator appends username to a project's collaborator set, if not already present.
func (r *PGRepository) AddCollaborator(ctx context.Context, id uuid.UUID, username string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE projects SET collaborators = array_append(collaborators, $1), updated = now()
		 WHERE id = $2 AND NOT ($1 = ANY(collaborators))`,
		username, id,
	)
	if err != nil {
		return fmt.Errorf("add collaborator: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		// project exists; collaborator was already present (idempotent)
	}
	return nil
}

// RemoveCollaborator removes username from a project's collaborator set.
func (r *PGRepository) RemoveCollaborator(ctx context.Context, id uuid.UUID, username string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE projects SET collaborators = array_remove(collaborators, $1), updated = now() WHERE id = $2`,
		username, id,
	)
	if err != nil {
		return fmt.Errorf("remove collaborator: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a project and its roles (roles cascade via foreign key).
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertRole inserts a role (role.ID == uuid.Nil) or updates an existing one's blob keys and
// name. A (project, name) collision is not resolved with a suffix: the write fails with the
// roles table's unique-index violation.
func (r *PGRepository) UpsertRole(ctx context.Context, projectID uuid.UUID, role RoleMetadata) (RoleMetadata, error) {
	if role.ID == uuid.Nil {
		row := r.db.QueryRow(ctx,
			`INSERT INTO roles (project_id, name, code_key, media_key) VALUES ($1, $2, $3, $4)
			 RETURNING id, name, code_key, media_key, thumbnail_key, updated`,
			projectID, role.Name, role.CodeKey, role.MediaKey,
		)
		var out RoleMetadata
		if err := row.Scan(&out.ID, &out.Name, &out.CodeKey, &out.MediaKey, &out.ThumbnailKey, &out.Updated); err != nil {
			return RoleMetadata{}, fmt.Errorf("insert role: %w", err)
		}
		return out, nil
	}

	// A role save replaces the media blob, so any previously generated
	// thumbnail no longer matches it; clear thumbnail_key here rather than
	// leaving a stale preview until the next async regeneration completes.
	row := r.db.QueryRow(ctx,
		`UPDATE roles SET name = $1, code_key = $2, media_key = $3, thumbnail_key = '', updated = now()
		 WHERE id = $4 AND project_id = $5
		 RETURNING id, name, code_key, media_key, thumbnail_key, updated`,
		role.Name, role.CodeKey, role.MediaKey, role.ID, projectID,
	)
	var out RoleMetadata
	if err := row.Scan(&out.ID, &out.Name, &out.CodeKey, &out.MediaKey, &out.ThumbnailKey, &out.Updated); err != nil {
		if err == pgx.ErrNoRows {
			return RoleMetadata{}, ErrRoleNotFound
		}
		return RoleMetadata{}, fmt.Errorf("update role: %w", err)
	}
	return out, nil
}

// SetThumbnailKey records the storage key of a role's generated media
// preview, written asynchronously by internal/media's thumbnail worker once
// it finishes processing the role's current media_key.
func (r *PGRepository) SetThumbnailKey(ctx context.Context, projectID, roleID uuid.UUID, thumbnailKey string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE roles SET thumbnail_key = $1 WHERE id = $2 AND project_id = $3`,
		thumbnailKey, roleID, projectID,
	)
	if err != nil {
		return fmt.Errorf("set thumbnail key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// DeleteRole removes a single role from a project.
func (r *PGRepository) DeleteRole(ctx context.Context, projectID, roleID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM roles WHERE id = $1 AND project_id = $2`, roleID, projectID)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// ProjectInfo implements witness.ProjectLookup, letting internal/witness's
// Minter authorize EditProject/ViewProject without importing this package
// (witness.ProjectInfo is its own small struct for exactly this reason).
func (r *PGRepository) ProjectInfo(ctx context.Context, id uuid.UUID) (*witness.ProjectInfo, error) {
	p, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &witness.ProjectInfo{Owner: p.Owner, Collaborators: p.Collaborators, Public: p.Public}, nil
}

// ListAllRoleKeys returns every blob key (code, media and any thumbnail) referenced by any
// role across every project, for internal/worker's blob reconciler to diff
// against the storage provider's actual listing. Not part of Repository: a
// narrow interface declared in internal/worker is satisfied structurally,
// so test fakes elsewhere don't need to implement it.
func (r *PGRepository) ListAllRoleKeys(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT code_key, media_key, thumbnail_key FROM roles`)
	if err != nil {
		return nil, fmt.Errorf("list role keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var codeKey, mediaKey, thumbnailKey string
		if err := rows.Scan(&codeKey, &mediaKey, &thumbnailKey); err != nil {
			return nil, fmt.Errorf("scan role keys: %w", err)
		}
		keys = append(keys, codeKey, mediaKey)
		if thumbnailKey != "" {
			keys = append(keys, thumbnailKey)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role keys: %w", err)
	}
	return keys, nil
}
