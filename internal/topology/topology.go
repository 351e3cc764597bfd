package topology

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/wire"
)

// DisconnectReason classifies why a client left, driving project lifecycle
// transitions per spec.md I3 / §4.2.
type DisconnectReason int

const (
	// DisconnectNormal is a clean client-initiated close.
	DisconnectNormal DisconnectReason = iota
	// DisconnectAway means the socket closed without an explicit save; a
	// Created project with no remaining occupants becomes Transient.
	DisconnectAway
	// DisconnectBroken means the server observed an abnormal close; a
	// Created or Transient project becomes Broken.
	DisconnectBroken
)

// RoomObserver is notified of occupancy transitions that may affect project
// lifecycle state (internal/project implements this), keeping this package
// free of any dependency on the project/store layer.
type RoomObserver interface {
	// OnRoomEmptied fires when a room's last occupant leaves.
	OnRoomEmptied(ctx context.Context, projectID string, reason DisconnectReason)
	// OnRoomOccupied fires when a previously-empty room gains its first
	// occupant (e.g. a Transient project reopening cancels its sweep
	// timer).
	OnRoomOccupied(ctx context.Context, projectID string)
}

// nopObserver is used when Topology is constructed without one, so callers
// that only need the realtime overlay (e.g. tests) don't need a fake.
type nopObserver struct{}

func (nopObserver) OnRoomEmptied(context.Context, string, DisconnectReason) {}
func (nopObserver) OnRoomOccupied(context.Context, string)                  {}

// Topology is the process-wide registry of live clients and rooms described
// by spec.md §4.2. There is no global lock across rooms: mutations take a
// room- or client-scoped lock, with Topology's own mutex guarding only the
// top-level maps.
type Topology struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	rooms    map[string]*room
	observer RoomObserver
	sessions *SessionStore
	log      zerolog.Logger
}

// New builds an empty Topology. observer may be nil.
func New(observer RoomObserver, log zerolog.Logger) *Topology {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Topology{
		clients:  make(map[string]*Client),
		rooms:    make(map[string]*room),
		observer: observer,
		log:      log.With().Str("component", "topology").Logger(),
	}
}

// SetSessionStore enables session resume for external clients. Without one
// (the default), Disconnect never persists state and Resume always reports
// no resumable session, matching Topology's existing nil-observer pattern.
func (t *Topology) SetSessionStore(s *SessionStore) {
	t.sessions = s
}

// Connect registers a new client with a freshly minted client ID and starts
// its write pump. The caller owns reading from the underlying transport and
// calling SetState/Disconnect as frames arrive.
func (t *Topology) Connect(username string, sink Sink) *Client {
	return t.ConnectWithID(uuid.NewString(), username, sink)
}

// ConnectWithID registers a new client under a caller-supplied ID, used by
// the websocket handler for the id a prior GET /configuration call already
// handed the client (spec.md §6's "client bootstrap: ... client ID"). If id
// is already connected, the stale entry is evicted first: a reconnect under
// the same ID displaces rather than rejects, mirroring Topology's existing
// "evil" reconnect-displacement behavior for duplicate usernames.
func (t *Topology) ConnectWithID(id, username string, sink Sink) *Client {
	t.mu.Lock()
	if existing, ok := t.clients[id]; ok {
		delete(t.clients, id)
		t.mu.Unlock()
		existing.closeSend()
	} else {
		t.mu.Unlock()
	}

	c := newClient(id, username, sink)
	t.mu.Lock()
	t.clients[c.ID] = c
	t.mu.Unlock()
	go c.writePump()
	t.log.Debug().Str("client_id", c.ID).Str("username", username).Msg("client connected")
	return c
}

// Client looks up a connected client by ID.
func (t *Topology) Client(clientID string) (*Client, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.clients[clientID]
	return c, ok
}

// ensureRoom returns the room for projectID, creating it if this is its
// first occupant. name/owner seed the cached RoomState; later renames call
// RenameRoom.
func (t *Topology) ensureRoom(projectID, name, owner string) *room {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[projectID]
	if !ok {
		r = newRoom(projectID, name, owner)
		t.rooms[projectID] = r
	}
	return r
}

func (t *Topology) roomOrNil(projectID string) *room {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rooms[projectID]
}

func (t *Topology) deleteRoomIfEmpty(projectID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.rooms[projectID]; ok && r.isEmpty() {
		delete(t.rooms, projectID)
	}
}

// SetState transitions clientID into a new Browser or External state,
// updating room occupancy and emitting RoomStateChanged as needed.
func (t *Topology) SetState(ctx context.Context, clientID string, projectName, projectOwner string, newState State) error {
	c, ok := t.Client(clientID)
	if !ok {
		return ErrClientNotFound
	}

	old := c.State()
	c.setState(newState)

	oldProject, oldHasProject := projectOf(old)
	newProject, newHasProject := projectOf(newState)

	if oldHasProject && (!newHasProject || oldProject != newProject || old.Browser.RoleID != newState.Browser.RoleID) {
		if r := t.roomOrNil(oldProject); r != nil {
			r.removeOccupant(old.Browser.RoleID, clientID)
			empty := r.isEmpty()
			t.emitRoomState(ctx, r)
			if empty {
				t.deleteRoomIfEmpty(oldProject)
				t.observer.OnRoomEmptied(ctx, oldProject, DisconnectNormal)
			}
		}
	}

	if newHasProject {
		r := t.ensureRoom(newProject, projectName, projectOwner)
		wasEmpty := r.isEmpty()
		r.addOccupant(newState.Browser.RoleID, clientID)
		if wasEmpty {
			t.observer.OnRoomOccupied(ctx, newProject)
		}
		t.emitRoomState(ctx, r)
	}

	return nil
}

func projectOf(s State) (string, bool) {
	if s.Kind == KindBrowser && s.Browser.ProjectID != "" {
		return s.Browser.ProjectID, true
	}
	return "", false
}

// Disconnect removes clientID from the registry and from any room it
// occupied, notifying the RoomObserver per spec.md's disconnect contract.
func (t *Topology) Disconnect(ctx context.Context, clientID string, reason DisconnectReason) {
	t.mu.Lock()
	c, ok := t.clients[clientID]
	if ok {
		delete(t.clients, clientID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	c.closeSend()

	state := c.State()
	if t.sessions != nil && state.Kind == KindExternal && reason != DisconnectNormal {
		if err := t.sessions.Save(ctx, clientID, c.Username, state.External, c.currentSeq()); err != nil {
			t.log.Warn().Err(err).Str("client_id", clientID).Msg("failed to save resumable session")
		}
	}

	projectID, hasProject := projectOf(state)
	if !hasProject {
		return
	}

	r := t.roomOrNil(projectID)
	if r == nil {
		return
	}
	r.removeClientEverywhere(clientID)
	empty := r.isEmpty()
	t.emitRoomState(ctx, r)
	if empty {
		t.deleteRoomIfEmpty(projectID)
		t.observer.OnRoomEmptied(ctx, projectID, reason)
	}
}

// Send enqueues frame on clientID's outbound queue. A missing client is not
// an error: the caller has already lost the race with a disconnect. When
// session resume is enabled and the client is external, the frame is also
// buffered so a brief disconnection doesn't lose it.
func (t *Topology) Send(clientID string, frame *wire.Frame) error {
	c, ok := t.Client(clientID)
	if !ok {
		return nil
	}
	if t.sessions != nil && c.State().Kind == KindExternal {
		seq := c.nextSeq()
		if data, err := frame.MarshalJSON(); err == nil {
			if err := t.sessions.AppendReplay(context.Background(), clientID, seq, data); err != nil {
				t.log.Warn().Err(err).Str("client_id", clientID).Msg("failed to buffer frame for resume")
			}
		}
	}
	return c.sendFrame(frame)
}

// Resume restores a previously-saved external client's addressing state and
// replays every frame buffered for it since afterSeq, used when a client
// reconnects under the same client ID shortly after an abnormal disconnect.
// Reports false if session resume isn't enabled or clientID has no
// resumable session; the caller proceeds with a cold connect in that case.
func (t *Topology) Resume(ctx context.Context, clientID string, afterSeq int64) bool {
	if t.sessions == nil {
		return false
	}
	loaded, err := t.sessions.Load(ctx, clientID)
	if err != nil {
		return false
	}
	c, ok := t.Client(clientID)
	if !ok {
		return false
	}

	c.setState(State{Kind: KindExternal, External: loaded.External})
	c.setSeq(loaded.LastSeq)

	frames, err := t.sessions.Replay(ctx, clientID, afterSeq)
	if err != nil {
		t.log.Warn().Err(err).Str("client_id", clientID).Msg("failed to read replay buffer")
	}
	for _, payload := range frames {
		c.enqueue(payload)
	}

	if err := t.sessions.Delete(ctx, clientID); err != nil {
		t.log.Warn().Err(err).Str("client_id", clientID).Msg("failed to clear resumed session")
	}
	t.log.Debug().Str("client_id", clientID).Int("replayed", len(frames)).Msg("client resumed")
	return true
}

// BroadcastRoom sends frame to every occupant of projectID.
func (t *Topology) BroadcastRoom(projectID string, frame *wire.Frame) {
	r := t.roomOrNil(projectID)
	if r == nil {
		return
	}
	for _, id := range r.allOccupantIDs() {
		_ = t.Send(id, frame)
	}
}

// RoomState returns the current cached room state for projectID.
func (t *Topology) RoomState(projectID string) (wire.RoomState, bool) {
	r := t.roomOrNil(projectID)
	if r == nil {
		return wire.RoomState{}, false
	}
	return t.buildRoomState(r), true
}

// RenameRoom updates the cached project name for a live room, called by
// internal/project after a successful rename.
func (t *Topology) RenameRoom(ctx context.Context, projectID, name string) {
	r := t.roomOrNil(projectID)
	if r == nil {
		return
	}
	r.rename(name)
	t.emitRoomState(ctx, r)
}

func (t *Topology) buildRoomState(r *room) wire.RoomState {
	r.mu.RLock()
	projectID, name, owner := r.projectID, r.name, r.owner
	r.mu.RUnlock()

	occupants := r.occupantIDs()
	roles := make(map[string][]string, len(occupants))
	for roleID, ids := range occupants {
		usernames := make([]string, 0, len(ids))
		for _, id := range ids {
			if c, ok := t.Client(id); ok && c.Username != "" {
				usernames = append(usernames, c.Username)
			}
		}
		roles[roleID] = usernames
	}

	return wire.RoomState{
		ProjectID: projectID,
		Name:      name,
		Owner:     owner,
		Roles:     roles,
		Seq:       r.nextSeq(),
	}
}

func (t *Topology) emitRoomState(ctx context.Context, r *room) {
	state := t.buildRoomState(r)
	frame, err := wire.NewFrame(wire.TypeRoomState, state)
	if err != nil {
		t.log.Error().Err(err).Str("project_id", r.projectID).Msg("failed to build room-state frame")
		return
	}
	for _, id := range r.allOccupantIDs() {
		_ = t.Send(id, &frame)
	}
	_ = ctx // reserved: future revisions may thread deadlines into per-client sends
}

// Evict sends an eviction frame to clientID and then forcibly disconnects
// it, per spec.md §4.2's evict contract.
func (t *Topology) Evict(ctx context.Context, clientID string, code wire.CloseCode, reason string) {
	c, ok := t.Client(clientID)
	if !ok {
		return
	}
	frame, err := wire.NewFrame(wire.TypeEvict, wire.Evict{Reason: reason})
	if err == nil {
		_ = c.sendFrame(&frame)
	}
	_ = code // surfaced to the transport layer via the subsequent websocket close, not the frame body
	t.Disconnect(ctx, clientID, DisconnectNormal)
}

// EvictUser evicts every live client belonging to username, used when a user
// is banned (spec.md §9 open question (a)).
func (t *Topology) EvictUser(ctx context.Context, username string, code wire.CloseCode, reason string) {
	t.mu.RLock()
	var targets []string
	for id, c := range t.clients {
		if c.Username == username {
			targets = append(targets, id)
		}
	}
	t.mu.RUnlock()
	for _, id := range targets {
		t.Evict(ctx, id, code, reason)
	}
}

// IsOnline reports whether username has at least one live client, used by
// GET /friends/{user}/online.
func (t *Topology) IsOnline(username string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.clients {
		if c.Username == username {
			return true
		}
	}
	return false
}

// BumpRoomSeq advances projectID's room sequence number without an
// occupancy change, used by internal/project to invalidate cached
// resolutions on events the occupancy graph itself doesn't observe (rename,
// publicity toggle, collaborator add/remove, role save). A no-op if the
// room has no current occupant.
func (t *Topology) BumpRoomSeq(projectID string) {
	r := t.roomOrNil(projectID)
	if r == nil {
		return
	}
	r.nextSeq()
}

// RoomSeq returns projectID's current per-room sequence number without
// advancing it, and whether the room exists (has any occupant).
func (t *Topology) RoomSeq(projectID string) (int64, bool) {
	r := t.roomOrNil(projectID)
	if r == nil {
		return 0, false
	}
	return r.currentSeq(), true
}

// RoleOccupants returns the client IDs currently holding roleID in
// projectID.
func (t *Topology) RoleOccupants(projectID, roleID string) []string {
	r := t.roomOrNil(projectID)
	if r == nil {
		return nil
	}
	ids := r.occupantIDs()[roleID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// AllOccupants returns every client ID occupying any role of projectID.
func (t *Topology) AllOccupants(projectID string) []string {
	r := t.roomOrNil(projectID)
	if r == nil {
		return nil
	}
	return r.allOccupantIDs()
}

// ExternalClients returns every connected client currently in KindExternal
// state, used by internal/resolver to search non-NetsBlox addresses.
func (t *Topology) ExternalClients() []*Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Client, 0)
	for _, c := range t.clients {
		if c.State().Kind == KindExternal {
			out = append(out, c)
		}
	}
	return out
}

// ClientCount returns the number of currently connected clients.
func (t *Topology) ClientCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}
