package project

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/blob"
	"github.com/netsbox/control-plane/internal/eventbus"
	"github.com/netsbox/control-plane/internal/media"
	"github.com/netsbox/control-plane/internal/resolver"
	"github.com/netsbox/control-plane/internal/topology"
)

// ThumbnailEnqueuer hands a generated-thumbnail job off to an async worker.
// Satisfied by *media.StreamEnqueuer. Left unset, SaveRole simply never
// requests a thumbnail — matching SetEventBus's "unset means no-op" shape so
// tests and single-process setups don't need one.
type ThumbnailEnqueuer interface {
	Enqueue(ctx context.Context, job media.ThumbnailJob) error
}

// Lifecycle applies spec.md §4.4's state machine on top of Repository,
// reacting to topology occupancy changes (implementing
// topology.RoomObserver) and driving commit-then-delete blob writes.
// Resolved here rather than with an in-process timer per project: the
// open-ended "start inactivity timer" language of spec.md §4.4 is
// implemented as a crash-safe transient_since column checked by the
// periodic inactivity sweeper (internal/worker), not a goroutine timer —
// an in-memory timer would not survive a server restart, which would
// silently orphan Transient projects after every deploy.
type Lifecycle struct {
	repo       Repository
	topo       *topology.Topology
	storage    blob.StorageProvider
	bus        *eventbus.Bus
	thumbnails ThumbnailEnqueuer
	log        zerolog.Logger
}

// NewLifecycle builds a Lifecycle over repo, reacting to topo's occupancy
// events and writing role source through storage.
func NewLifecycle(repo Repository, topo *topology.Topology, storage blob.StorageProvider, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{repo: repo, topo: topo, storage: storage, log: log.With().Str("component", "project").Logger()}
}

// SetEventBus attaches bus so lifecycle transitions publish domain events
// for external subscribers (SPEC_FULL.md's C9 webhooks, netsboxctl's
// "network watch"). Left unset, publishing is a no-op — tests and
// single-process deployments that never construct a Bus don't pay for it.
func (l *Lifecycle) SetEventBus(bus *eventbus.Bus) { l.bus = bus }

// SetThumbnailEnqueuer attaches e so SaveRole requests an async thumbnail
// for eligible media uploads. Left unset, SaveRole never enqueues one.
func (l *Lifecycle) SetThumbnailEnqueuer(e ThumbnailEnqueuer) { l.thumbnails = e }

func (l *Lifecycle) publishRoomState(ctx context.Context, id uuid.UUID, state State) {
	if l.bus == nil {
		return
	}
	l.bus.PublishRoomStateChanged(ctx, eventbus.RoomStateChanged{ProjectID: id, State: string(state), At: time.Now()})
}

// OnRoomEmptied implements topology.RoomObserver. A Created project whose
// last occupant leaves Away becomes Transient; a Broken close (from Created
// or Transient) becomes Broken. A Saved project is never affected.
func (l *Lifecycle) OnRoomEmptied(ctx context.Context, projectID string, reason topology.DisconnectReason) {
	id, err := uuid.Parse(projectID)
	if err != nil {
		return
	}
	p, err := l.repo.GetByID(ctx, id)
	if err != nil {
		l.log.Warn().Err(err).Str("project_id", projectID).Msg("room emptied for unknown project")
		return
	}

	switch reason {
	case topology.DisconnectBroken:
		if p.State == StateCreated || p.State == StateTransient {
			if err := l.repo.SetState(ctx, id, StateBroken); err != nil {
				l.log.Warn().Err(err).Str("project_id", projectID).Msg("failed to mark project broken")
			} else {
				l.publishRoomState(ctx, id, StateBroken)
			}
		}
	default:
		if p.State == StateCreated {
			now := time.Now()
			if err := l.repo.SetTransientSince(ctx, id, &now); err != nil {
				l.log.Warn().Err(err).Str("project_id", projectID).Msg("failed to start transient window")
				return
			}
			if err := l.repo.SetState(ctx, id, StateTransient); err != nil {
				l.log.Warn().Err(err).Str("project_id", projectID).Msg("failed to mark project transient")
			} else {
				l.publishRoomState(ctx, id, StateTransient)
			}
		}
	}
}

// OnRoomOccupied implements topology.RoomObserver. A Transient project that
// gains an occupant reverts to Created and its inactivity window is
// cancelled.
func (l *Lifecycle) OnRoomOccupied(ctx context.Context, projectID string) {
	id, err := uuid.Parse(projectID)
	if err != nil {
		return
	}
	p, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return
	}
	if p.State != StateTransient {
		return
	}
	if err := l.repo.SetTransientSince(ctx, id, nil); err != nil {
		l.log.Warn().Err(err).Str("project_id", projectID).Msg("failed to clear transient window")
		return
	}
	if err := l.repo.SetState(ctx, id, StateCreated); err != nil {
		l.log.Warn().Err(err).Str("project_id", projectID).Msg("failed to revert project to Created")
		return
	}
	l.publishRoomState(ctx, id, StateCreated)
}

// Topology returns the topology.Topology this Lifecycle reacts to, for
// callers that need to drive a live role-data fetch alongside lifecycle
// operations (internal/api's project handlers).
func (l *Lifecycle) Topology() *topology.Topology { return l.topo }

// Storage returns the blob.StorageProvider backing role saves, for callers
// that need to fall back to the last saved blob when no occupant answers a
// live role-data fetch.
func (l *Lifecycle) Storage() blob.StorageProvider { return l.storage }

// CreateProject creates a new Created project, resolving a (owner, name)
// collision per spec.md §4.4.
func (l *Lifecycle) CreateProject(ctx context.Context, owner, name string) (*Project, error) {
	return l.repo.Create(ctx, owner, name)
}

// RenameProject applies spec.md §4.4's rename-collision policy and keeps any
// live room's cached name, and the resolver cache, in sync.
func (l *Lifecycle) RenameProject(ctx context.Context, id uuid.UUID, name string) (string, error) {
	p, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	oldName := p.Name
	resolved, err := l.repo.Rename(ctx, id, name)
	if err != nil {
		return "", err
	}
	l.topo.RenameRoom(ctx, id.String(), resolved)
	if l.bus != nil {
		l.bus.PublishProjectRenamed(ctx, eventbus.ProjectRenamed{ProjectID: id, Owner: p.Owner, OldName: oldName, NewName: resolved, At: time.Now()})
	}
	return resolved, nil
}

// MarkSaved transitions a project to Saved. Idempotent per spec.md §4.4.
func (l *Lifecycle) MarkSaved(ctx context.Context, id uuid.UUID) error {
	if err := l.repo.SetState(ctx, id, StateSaved); err != nil {
		return err
	}
	l.publishRoomState(ctx, id, StateSaved)
	return nil
}

// SetPublic toggles a project's visibility and invalidates any cached
// resolutions against it (publicity affects the access check in spec.md
// §4.3).
func (l *Lifecycle) SetPublic(ctx context.Context, id uuid.UUID, public bool) error {
	if err := l.repo.SetPublic(ctx, id, public); err != nil {
		return err
	}
	l.topo.BumpRoomSeq(id.String())
	return nil
}

// AddCollaborator adds username as a project collaborator and invalidates
// any cached resolutions, per spec.md §4.3's "invalidated ... on
// collaborator add/remove" rule.
func (l *Lifecycle) AddCollaborator(ctx context.Context, id uuid.UUID, username string) error {
	if err := l.repo.AddCollaborator(ctx, id, username); err != nil {
		return err
	}
	l.topo.BumpRoomSeq(id.String())
	return nil
}

// RemoveCollaborator removes username from a project's collaborator set.
func (l *Lifecycle) RemoveCollaborator(ctx context.Context, id uuid.UUID, username string) error {
	if err := l.repo.RemoveCollaborator(ctx, id, username); err != nil {
		return err
	}
	l.topo.BumpRoomSeq(id.String())
	return nil
}

// DeleteProject removes a project's metadata and blobs. Blobs are deleted
// best-effort after the metadata commit succeeds, matching the
// commit-then-delete ordering used for role saves.
func (l *Lifecycle) DeleteProject(ctx context.Context, id uuid.UUID) error {
	p, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := l.repo.Delete(ctx, id); err != nil {
		return err
	}
	for _, role := range p.Roles {
		_ = l.storage.Delete(ctx, role.CodeKey)
		_ = l.storage.Delete(ctx, role.MediaKey)
		if role.ThumbnailKey != "" {
			_ = l.storage.Delete(ctx, role.ThumbnailKey)
		}
	}
	if l.bus != nil {
		l.bus.PublishProjectDeleted(ctx, eventbus.ProjectDeleted{ProjectID: id, Owner: p.Owner, Name: p.Name, At: time.Now()})
	}
	return nil
}

// SaveRole writes a role's code and media blobs using the commit-then-delete
// protocol (spec.md I5) and then commits the new keys to metadata. A media
// blob whose sniffed content type is thumbnailable gets an async thumbnail
// job enqueued (SPEC_FULL.md's thumbnailing supplement); any thumbnail the
// replaced media had is now orphaned and deleted immediately, since nothing
// in metadata references it past the UpsertRole commit below.
func (l *Lifecycle) SaveRole(ctx context.Context, projectID uuid.UUID, roleID uuid.UUID, name string, code, mediaSrc io.Reader) (RoleMetadata, error) {
	var existing RoleMetadata
	if roleID != uuid.Nil {
		p, err := l.repo.GetByID(ctx, projectID)
		if err != nil {
			return RoleMetadata{}, err
		}
		existing = p.Roles[roleID]
	}

	codeKey := blobKey(projectID, roleID, "code")
	mediaKey := blobKey(projectID, roleID, "media")

	if err := blob.CommitThenDelete(ctx, l.storage, codeKey, code, existing.CodeKey); err != nil {
		return RoleMetadata{}, fmt.Errorf("commit code blob: %w", err)
	}

	mediaBytes, err := io.ReadAll(mediaSrc)
	if err != nil {
		return RoleMetadata{}, fmt.Errorf("read media blob: %w", err)
	}
	if err := blob.CommitThenDelete(ctx, l.storage, mediaKey, bytes.NewReader(mediaBytes), existing.MediaKey); err != nil {
		return RoleMetadata{}, fmt.Errorf("commit media blob: %w", err)
	}

	out, err := l.repo.UpsertRole(ctx, projectID, RoleMetadata{ID: roleID, Name: name, CodeKey: codeKey, MediaKey: mediaKey})
	if err != nil {
		return RoleMetadata{}, err
	}
	l.topo.BumpRoomSeq(projectID.String())

	if existing.ThumbnailKey != "" {
		_ = l.storage.Delete(ctx, existing.ThumbnailKey)
	}
	if l.thumbnails != nil && len(mediaBytes) > 0 {
		contentType := http.DetectContentType(mediaBytes)
		if media.IsImageContentType(contentType) {
			job := media.ThumbnailJob{ProjectID: projectID.String(), RoleID: out.ID.String(), MediaKey: mediaKey}
			if err := l.thumbnails.Enqueue(ctx, job); err != nil {
				l.log.Warn().Err(err).Str("project_id", projectID.String()).Str("role_id", out.ID.String()).Msg("failed to enqueue thumbnail job")
			}
		}
	}
	return out, nil
}

func blobKey(projectID, roleID uuid.UUID, kind string) string {
	return fmt.Sprintf("projects/%s/roles/%s/%s-%s", projectID, roleID, kind, uuid.NewString())
}

// GetByID implements resolver.ProjectLookup.
func (l *Lifecycle) GetByID(ctx context.Context, id string) (resolver.ProjectInfo, bool, error) {
	pid, err := uuid.Parse(id)
	if err != nil {
		return resolver.ProjectInfo{}, false, nil
	}
	p, err := l.repo.GetByID(ctx, pid)
	if err != nil {
		if err == ErrNotFound {
			return resolver.ProjectInfo{}, false, nil
		}
		return resolver.ProjectInfo{}, false, err
	}
	return toProjectInfo(p), true, nil
}

// GetByOwnerName implements resolver.ProjectLookup.
func (l *Lifecycle) GetByOwnerName(ctx context.Context, owner, name string) (resolver.ProjectInfo, bool, error) {
	p, err := l.repo.GetByOwnerName(ctx, owner, name)
	if err != nil {
		if err == ErrNotFound {
			return resolver.ProjectInfo{}, false, nil
		}
		return resolver.ProjectInfo{}, false, err
	}
	return toProjectInfo(p), true, nil
}

func toProjectInfo(p *Project) resolver.ProjectInfo {
	roles := make(map[string]string, len(p.Roles))
	for id, role := range p.Roles {
		roles[id.String()] = role.Name
	}
	return resolver.ProjectInfo{
		ID:     p.ID.String(),
		Owner:  p.Owner,
		Name:   p.Name,
		Public: p.Public,
		Roles:  roles,
	}
}
