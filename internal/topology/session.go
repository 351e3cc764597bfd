package topology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned by SessionStore.Load when a client ID has no
// saved session, or the saved session expired.
var ErrSessionNotFound = errors.New("topology: session not found or expired")

// sessionData is the JSON structure persisted in Valkey for a disconnected
// external client.
type sessionData struct {
	Username string        `json:"username"`
	External ExternalState `json:"external"`
	LastSeq  int64         `json:"last_seq"`
}

// SessionStore persists disconnected KindExternal clients' addressing state
// and a bounded replay buffer of the frames they missed, so a mobile runtime
// or services-gateway client that drops its websocket briefly can resume
// under the same client ID instead of re-bootstrapping and losing queued
// overlay traffic. Grounded on the teacher's gateway.SessionStore; Topology
// only ever calls it for KindExternal clients since browser clients re-derive
// their state from a fresh GET /configuration + set-client-state handshake
// on reconnect.
type SessionStore struct {
	rdb       *redis.Client
	ttl       time.Duration
	maxReplay int
}

// NewSessionStore creates a session store backed by the given Valkey client.
// maxReplay bounds how many frames are retained per disconnected client.
func NewSessionStore(rdb *redis.Client, ttl time.Duration, maxReplay int) *SessionStore {
	return &SessionStore{rdb: rdb, ttl: ttl, maxReplay: maxReplay}
}

func sessionKey(clientID string) string { return "topology:session:" + clientID }
func replayKey(clientID string) string  { return "topology:replay:" + clientID }

// Save persists clientID's external state and last-sent sequence number when
// it disconnects. The session and its replay buffer share a TTL so they
// expire together.
func (s *SessionStore) Save(ctx context.Context, clientID, username string, ext ExternalState, lastSeq int64) error {
	data, err := json.Marshal(sessionData{Username: username, External: ext, LastSeq: lastSeq})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, sessionKey(clientID), data, s.ttl)
	pipe.Expire(ctx, replayKey(clientID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadedSession is the restored state for a resumed client.
type LoadedSession struct {
	Username string
	External ExternalState
	LastSeq  int64
}

// Load retrieves a saved session. Returns ErrSessionNotFound if clientID has
// no session, or it expired.
func (s *SessionStore) Load(ctx context.Context, clientID string) (*LoadedSession, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(clientID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sd sessionData
	if err := json.Unmarshal(raw, &sd); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &LoadedSession{Username: sd.Username, External: sd.External, LastSeq: sd.LastSeq}, nil
}

// Delete removes a session and its replay buffer, called after a successful
// resume so a later reconnect under the same ID starts fresh.
func (s *SessionStore) Delete(ctx context.Context, clientID string) error {
	if err := s.rdb.Del(ctx, sessionKey(clientID), replayKey(clientID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// replayEntry stores a serialised frame alongside its sequence number so
// Replay can filter without re-sending frames the client already saw.
type replayEntry struct {
	Seq     int64           `json:"s"`
	Payload json.RawMessage `json:"p"`
}

// AppendReplay adds a serialised frame to clientID's replay buffer. The
// buffer is capped at maxReplay entries via LTRIM and its TTL is refreshed on
// every append, mirroring the append pattern in the teacher's
// gateway.SessionStore.
func (s *SessionStore) AppendReplay(ctx context.Context, clientID string, seq int64, payload json.RawMessage) error {
	entry, err := json.Marshal(replayEntry{Seq: seq, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal replay entry: %w", err)
	}
	key := replayKey(clientID)
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, key, entry)
	pipe.LTrim(ctx, key, int64(-s.maxReplay), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append replay: %w", err)
	}
	return nil
}

// Replay returns every buffered frame with a sequence number strictly
// greater than afterSeq, in the order they were originally sent.
func (s *SessionStore) Replay(ctx context.Context, clientID string, afterSeq int64) ([]json.RawMessage, error) {
	raw, err := s.rdb.LRange(ctx, replayKey(clientID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read replay buffer: %w", err)
	}
	var result []json.RawMessage
	for _, item := range raw {
		var entry replayEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		if entry.Seq > afterSeq {
			result = append(result, entry.Payload)
		}
	}
	return result, nil
}
