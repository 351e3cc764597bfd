package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrTraceNotFound is returned when a trace ID has no matching row, or has
// already been deleted.
var ErrTraceNotFound = errors.New("router: trace not found")

// Trace is a time-bounded recording of overlay messages flowing through a
// project, per spec.md §4.5/§9's glossary entry. A project has at most one
// active (Ended == nil) trace at a time.
type Trace struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Started   time.Time
	Ended     *time.Time
}

// Active reports whether the trace is still recording.
func (t Trace) Active() bool { return t.Ended == nil }

// RecordedMessage is one routed overlay message captured while its owning
// project had an active trace. Seq is monotonic and prefix-free per trace
// (spec.md §8): a crash or restart never replays or skips a sequence
// number, since it is assigned by the database under the same transaction
// that inserts the row.
type RecordedMessage struct {
	ProjectID     uuid.UUID
	TraceID       uuid.UUID
	Seq           int64
	Time          time.Time
	SourceAddress string
	TargetAddress string
	Type          string
	Content       []byte
	ExpiresAt     time.Time
}

// TraceStore persists traces and the messages recorded while they are
// active, and enforces the per-record TTL named in spec.md §4.9.
type TraceStore interface {
	// StartTrace opens a new active trace for projectID. Returns
	// ErrConflict if one is already active.
	StartTrace(ctx context.Context, projectID uuid.UUID) (Trace, error)
	// EndTrace closes traceID, stopping further message capture.
	EndTrace(ctx context.Context, traceID uuid.UUID) error
	// ActiveTrace returns the currently active trace for projectID, if any.
	ActiveTrace(ctx context.Context, projectID uuid.UUID) (Trace, bool, error)
	// Append records msg under the next sequence number for its trace.
	// msg.Seq and msg.ExpiresAt are assigned by the store and ignored on
	// input.
	Append(ctx context.Context, msg RecordedMessage) error
	// ListMessages returns every recorded message for traceID, ordered by
	// seq.
	ListMessages(ctx context.Context, traceID uuid.UUID) ([]RecordedMessage, error)
	// DeleteTrace removes a trace and its recorded messages.
	DeleteTrace(ctx context.Context, traceID uuid.UUID) error
	// DeleteExpired removes recorded messages whose TTL has elapsed,
	// returning the count deleted. Called by internal/worker's trace sweep.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ErrConflict is returned by StartTrace when a trace is already active.
var ErrConflict = errors.New("router: trace already active")

// recordedMessageTTL is how long a recorded message survives before the
// worker's trace sweep reclaims it, per spec.md §4.9.
const recordedMessageTTL = 24 * time.Hour

// PGTraceStore is a Postgres-backed TraceStore, using the same
// column-list-and-scan idiom as internal/project.PGRepository.
type PGTraceStore struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGTraceStore builds a PGTraceStore over pool.
func NewPGTraceStore(pool *pgxpool.Pool, log zerolog.Logger) *PGTraceStore {
	return &PGTraceStore{db: pool, log: log.With().Str("component", "trace_store").Logger()}
}

const traceColumns = "id, project_id, started_at, ended_at"

func scanTrace(row pgx.Row) (Trace, error) {
	var t Trace
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Started, &t.Ended); err != nil {
		return Trace{}, err
	}
	return t, nil
}

func (s *PGTraceStore) StartTrace(ctx context.Context, projectID uuid.UUID) (Trace, error) {
	row := s.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM network_traces WHERE project_id = $1 AND ended_at IS NULL", traceColumns),
		projectID,
	)
	if _, err := scanTrace(row); err == nil {
		return Trace{}, ErrConflict
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return Trace{}, fmt.Errorf("check existing trace: %w", err)
	}

	t := Trace{ID: uuid.New(), ProjectID: projectID, Started: time.Now()}
	_, err := s.db.Exec(ctx,
		"INSERT INTO network_traces (id, project_id, started_at) VALUES ($1, $2, $3)",
		t.ID, t.ProjectID, t.Started,
	)
	if err != nil {
		return Trace{}, fmt.Errorf("insert trace: %w", err)
	}
	return t, nil
}

func (s *PGTraceStore) EndTrace(ctx context.Context, traceID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, "UPDATE network_traces SET ended_at = now() WHERE id = $1 AND ended_at IS NULL", traceID)
	if err != nil {
		return fmt.Errorf("end trace: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTraceNotFound
	}
	return nil
}

func (s *PGTraceStore) ActiveTrace(ctx context.Context, projectID uuid.UUID) (Trace, bool, error) {
	row := s.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM network_traces WHERE project_id = $1 AND ended_at IS NULL", traceColumns),
		projectID,
	)
	t, err := scanTrace(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Trace{}, false, nil
	}
	if err != nil {
		return Trace{}, false, fmt.Errorf("query active trace: %w", err)
	}
	return t, true, nil
}

func (s *PGTraceStore) Append(ctx context.Context, msg RecordedMessage) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO recorded_messages
			(trace_id, seq, project_id, time, source_address, target_address, type, content, expires_at)
		 VALUES ($1,
			coalesce((SELECT max(seq) FROM recorded_messages WHERE trace_id = $1), 0) + 1,
			$2, $3, $4, $5, $6, $7, $8)`,
		msg.TraceID, msg.ProjectID, time.Now(), msg.SourceAddress, msg.TargetAddress, msg.Type, msg.Content, time.Now().Add(recordedMessageTTL),
	)
	if err != nil {
		return fmt.Errorf("append recorded message: %w", err)
	}
	return nil
}

func (s *PGTraceStore) ListMessages(ctx context.Context, traceID uuid.UUID) ([]RecordedMessage, error) {
	rows, err := s.db.Query(ctx,
		`SELECT project_id, trace_id, seq, time, source_address, target_address, type, content, expires_at
		 FROM recorded_messages WHERE trace_id = $1 ORDER BY seq ASC`,
		traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query recorded messages: %w", err)
	}
	defer rows.Close()

	var out []RecordedMessage
	for rows.Next() {
		var m RecordedMessage
		if err := rows.Scan(&m.ProjectID, &m.TraceID, &m.Seq, &m.Time, &m.SourceAddress, &m.TargetAddress, &m.Type, &m.Content, &m.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan recorded message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGTraceStore) DeleteTrace(ctx context.Context, traceID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM network_traces WHERE id = $1", traceID)
	if err != nil {
		return fmt.Errorf("delete trace: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTraceNotFound
	}
	return nil
}

func (s *PGTraceStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, "DELETE FROM recorded_messages WHERE expires_at <= $1", now)
	if err != nil {
		return 0, fmt.Errorf("delete expired recorded messages: %w", err)
	}
	return tag.RowsAffected(), nil
}
