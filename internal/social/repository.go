package social

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/postgres"
)

// PGRepository is a Postgres-backed implementation of Repository.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a PGRepository backed by db.
func NewPGRepository(db *pgxpool.Pool, log zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: log.With().Str("component", "social").Logger()}
}

func (r *PGRepository) blockedBetween(ctx context.Context, tx pgx.Tx, a, b string) (bool, error) {
	ua, ub := canonicalPair(a, b)
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM friend_edges WHERE user_a = $1 AND user_b = $2 AND kind = 'blocked')`,
		ua, ub,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check block edge: %w", err)
	}
	return exists, nil
}

// SendFriendInvite implements Repository.
func (r *PGRepository) SendFriendInvite(ctx context.Context, sender, recipient string) (*FriendInvite, bool, error) {
	var invite *FriendInvite
	var autoAccepted bool
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		blocked, err := r.blockedBetween(ctx, tx, sender, recipient)
		if err != nil {
			return err
		}
		if blocked {
			return ErrBlocked
		}

		var reverseID uuid.UUID
		err = tx.QueryRow(ctx,
			`SELECT id FROM friend_invites WHERE sender = $1 AND recipient = $2`,
			recipient, sender,
		).Scan(&reverseID)
		switch {
		case err == nil:
			if _, err := tx.Exec(ctx, `DELETE FROM friend_invites WHERE id = $1`, reverseID); err != nil {
				return fmt.Errorf("delete reverse invite: %w", err)
			}
			if err := upsertFriendEdge(ctx, tx, sender, recipient, KindFriends); err != nil {
				return err
			}
			autoAccepted = true
			return nil
		case errors.Is(err, pgx.ErrNoRows):
			// fall through to create a new pending invite
		default:
			return fmt.Errorf("check reverse invite: %w", err)
		}

		row := tx.QueryRow(ctx,
			`INSERT INTO friend_invites (sender, recipient) VALUES ($1, $2) RETURNING id, sender, recipient, created_at`,
			sender, recipient,
		)
		var inv FriendInvite
		if err := row.Scan(&inv.ID, &inv.Sender, &inv.Recipient, &inv.CreatedAt); err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrInviteExists
			}
			return fmt.Errorf("insert friend invite: %w", err)
		}
		invite = &inv
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return invite, autoAccepted, nil
}

func upsertFriendEdge(ctx context.Context, tx pgx.Tx, a, b string, kind EdgeKind) error {
	ua, ub := canonicalPair(a, b)
	_, err := tx.Exec(ctx,
		`INSERT INTO friend_edges (user_a, user_b, kind) VALUES ($1, $2, $3)
		 ON CONFLICT (user_a, user_b) DO UPDATE SET kind = excluded.kind, since = now()`,
		ua, ub, string(kind),
	)
	if err != nil {
		return fmt.Errorf("upsert friend edge: %w", err)
	}
	return nil
}

// RespondFriendInvite implements Repository.
func (r *PGRepository) RespondFriendInvite(ctx context.Context, sender, recipient string, accept bool) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM friend_invites WHERE sender = $1 AND recipient = $2`, sender, recipient)
		if err != nil {
			return fmt.Errorf("delete friend invite: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrInviteNotFound
		}
		if !accept {
			return nil
		}
		return upsertFriendEdge(ctx, tx, sender, recipient, KindFriends)
	})
}

// RemoveFriend implements Repository.
func (r *PGRepository) RemoveFriend(ctx context.Context, a, b string) error {
	ua, ub := canonicalPair(a, b)
	tag, err := r.db.Exec(ctx,
		`DELETE FROM friend_edges WHERE user_a = $1 AND user_b = $2 AND kind = 'friends'`,
		ua, ub,
	)
	if err != nil {
		return fmt.Errorf("remove friend: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFriends
	}
	return nil
}

// Block implements Repository.
func (r *PGRepository) Block(ctx context.Context, blocker, blocked string) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := upsertFriendEdge(ctx, tx, blocker, blocked, KindBlocked); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`DELETE FROM friend_invites WHERE (sender = $1 AND recipient = $2) OR (sender = $2 AND recipient = $1)`,
			blocker, blocked,
		)
		if err != nil {
			return fmt.Errorf("delete invites on block: %w", err)
		}
		return nil
	})
}

// Unblock implements Repository.
func (r *PGRepository) Unblock(ctx context.Context, a, b string) error {
	ua, ub := canonicalPair(a, b)
	tag, err := r.db.Exec(ctx,
		`DELETE FROM friend_edges WHERE user_a = $1 AND user_b = $2 AND kind = 'blocked'`,
		ua, ub,
	)
	if err != nil {
		return fmt.Errorf("unblock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotBlocked
	}
	return nil
}

// Friends implements Repository.
func (r *PGRepository) Friends(ctx context.Context, username string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_a, user_b FROM friend_edges WHERE (user_a = $1 OR user_b = $1) AND kind = 'friends' ORDER BY user_a, user_b`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return nil, fmt.Errorf("scan friend edge: %w", err)
		}
		if a == username {
			out = append(out, b)
		} else {
			out = append(out, a)
		}
	}
	return out, rows.Err()
}

// IsBlocked implements Repository.
func (r *PGRepository) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	ua, ub := canonicalPair(a, b)
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM friend_edges WHERE user_a = $1 AND user_b = $2 AND kind = 'blocked')`,
		ua, ub,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check block: %w", err)
	}
	return exists, nil
}

// PendingFriendInvites implements Repository.
func (r *PGRepository) PendingFriendInvites(ctx context.Context, recipient string) ([]FriendInvite, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, sender, recipient, created_at FROM friend_invites WHERE recipient = $1 ORDER BY created_at`,
		recipient,
	)
	if err != nil {
		return nil, fmt.Errorf("list friend invites: %w", err)
	}
	defer rows.Close()

	var out []FriendInvite
	for rows.Next() {
		var inv FriendInvite
		if err := rows.Scan(&inv.ID, &inv.Sender, &inv.Recipient, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan friend invite: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// SendCollaborationInvite implements Repository.
func (r *PGRepository) SendCollaborationInvite(ctx context.Context, projectID uuid.UUID, sender, recipient string) (*CollaborationInvite, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO collaboration_invites (project_id, sender, recipient) VALUES ($1, $2, $3)
		 RETURNING id, project_id, sender, recipient, created_at`,
		projectID, sender, recipient,
	)
	var inv CollaborationInvite
	if err := row.Scan(&inv.ID, &inv.ProjectID, &inv.Sender, &inv.Recipient, &inv.CreatedAt); err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrInviteExists
		}
		if postgres.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("social: project %s not found", projectID)
		}
		return nil, fmt.Errorf("insert collaboration invite: %w", err)
	}
	return &inv, nil
}

// AcceptCollaborationInvite implements Repository. It adds recipient to the
// project's collaborator set and deletes the invite in one transaction,
// mirroring spec.md §4.6's "single document update with a conditional
// array-insert" by inlining the same array_append the project package's own
// AddCollaborator uses, rather than calling across packages mid-transaction.
func (r *PGRepository) AcceptCollaborationInvite(ctx context.Context, projectID uuid.UUID, recipient string) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM collaboration_invites WHERE project_id = $1 AND recipient = $2`,
			projectID, recipient,
		)
		if err != nil {
			return fmt.Errorf("delete collaboration invite: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrInviteNotFound
		}
		_, err = tx.Exec(ctx,
			`UPDATE projects SET collaborators = array_append(collaborators, $1), updated = now()
			 WHERE id = $2 AND NOT ($1 = ANY(collaborators))`,
			recipient, projectID,
		)
		if err != nil {
			return fmt.Errorf("add collaborator: %w", err)
		}
		return nil
	})
}

// RejectCollaborationInvite implements Repository.
func (r *PGRepository) RejectCollaborationInvite(ctx context.Context, projectID uuid.UUID, recipient string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM collaboration_invites WHERE project_id = $1 AND recipient = $2`,
		projectID, recipient,
	)
	if err != nil {
		return fmt.Errorf("reject collaboration invite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInviteNotFound
	}
	return nil
}

// ListCollaborationInvites implements Repository.
func (r *PGRepository) ListCollaborationInvites(ctx context.Context, recipient string) ([]CollaborationInvite, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, project_id, sender, recipient, created_at FROM collaboration_invites WHERE recipient = $1 ORDER BY created_at`,
		recipient,
	)
	if err != nil {
		return nil, fmt.Errorf("list collaboration invites: %w", err)
	}
	defer rows.Close()

	var out []CollaborationInvite
	for rows.Next() {
		var inv CollaborationInvite
		if err := rows.Scan(&inv.ID, &inv.ProjectID, &inv.Sender, &inv.Recipient, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan collaboration invite: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// SendOccupantInvite implements Repository. It closes sibling invites
// already addressed to recipient for the same project before inserting the
// new one, per spec.md §4.6.
func (r *PGRepository) SendOccupantInvite(ctx context.Context, projectID, roleID uuid.UUID, sender, recipient string, ttl time.Duration) (*OccupantInvite, error) {
	var out *OccupantInvite
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM occupant_invites WHERE project_id = $1 AND recipient = $2`,
			projectID, recipient,
		); err != nil {
			return fmt.Errorf("close sibling occupant invites: %w", err)
		}

		expiresAt := time.Now().Add(ttl)
		row := tx.QueryRow(ctx,
			`INSERT INTO occupant_invites (project_id, role_id, sender, recipient, expires_at)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, project_id, role_id, sender, recipient, created_at, expires_at`,
			projectID, roleID, sender, recipient, expiresAt,
		)
		var inv OccupantInvite
		if err := row.Scan(&inv.ID, &inv.ProjectID, &inv.RoleID, &inv.Sender, &inv.Recipient, &inv.CreatedAt, &inv.ExpiresAt); err != nil {
			if postgres.IsForeignKeyViolation(err) {
				return fmt.Errorf("social: project %s not found", projectID)
			}
			return fmt.Errorf("insert occupant invite: %w", err)
		}
		out = &inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AcceptOccupantInvite implements Repository. Acceptance is best-effort per
// spec.md §4.6: it succeeds as long as the invite still exists and hasn't
// expired, regardless of the sender's current connection state.
func (r *PGRepository) AcceptOccupantInvite(ctx context.Context, inviteID uuid.UUID, recipient string) (*OccupantInvite, error) {
	var out *OccupantInvite
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT id, project_id, role_id, sender, recipient, created_at, expires_at
			 FROM occupant_invites WHERE id = $1 AND recipient = $2`,
			inviteID, recipient,
		)
		var inv OccupantInvite
		if err := row.Scan(&inv.ID, &inv.ProjectID, &inv.RoleID, &inv.Sender, &inv.Recipient, &inv.CreatedAt, &inv.ExpiresAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInviteNotFound
			}
			return fmt.Errorf("read occupant invite: %w", err)
		}
		if inv.Expired(time.Now()) {
			return ErrInviteNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM occupant_invites WHERE id = $1`, inviteID); err != nil {
			return fmt.Errorf("delete occupant invite: %w", err)
		}
		out = &inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListOccupantInvites implements Repository.
func (r *PGRepository) ListOccupantInvites(ctx context.Context, recipient string) ([]OccupantInvite, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, project_id, role_id, sender, recipient, created_at, expires_at
		 FROM occupant_invites WHERE recipient = $1 AND expires_at > now() ORDER BY created_at`,
		recipient,
	)
	if err != nil {
		return nil, fmt.Errorf("list occupant invites: %w", err)
	}
	defer rows.Close()

	var out []OccupantInvite
	for rows.Next() {
		var inv OccupantInvite
		if err := rows.Scan(&inv.ID, &inv.ProjectID, &inv.RoleID, &inv.Sender, &inv.Recipient, &inv.CreatedAt, &inv.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan occupant invite: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// DeleteExpiredOccupantInvites implements Repository.
func (r *PGRepository) DeleteExpiredOccupantInvites(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM occupant_invites WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired occupant invites: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RemoveAccount implements Repository.
func (r *PGRepository) RemoveAccount(ctx context.Context, username string) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM friend_edges WHERE user_a = $1 OR user_b = $1`, username); err != nil {
			return fmt.Errorf("delete friend edges: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM friend_invites WHERE sender = $1 OR recipient = $1`, username); err != nil {
			return fmt.Errorf("delete friend invites: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM collaboration_invites WHERE sender = $1 OR recipient = $1`, username); err != nil {
			return fmt.Errorf("delete collaboration invites: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM occupant_invites WHERE sender = $1 OR recipient = $1`, username); err != nil {
			return fmt.Errorf("delete occupant invites: %w", err)
		}
		return nil
	})
}
