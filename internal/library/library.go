// Package library implements the community library collection named in
// spec.md §4.7 (C9): owner-published block-library blobs with moderation
// state, grounded on the teacher's deleted internal/role (owner/moderator
// gating shape) and internal/attachment (externally-facing uploaded
// resource) packages.
package library

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/netsbox/control-plane/internal/blob"
)

var (
	ErrNotFound   = errors.New("library: not found")
	ErrNameExists = errors.New("library: a library with this name already exists for this owner")
)

// Library is the row shape of the libraries collection. Content itself
// lives in blob storage at BlobKey; Notes is a short free-text field
// stored inline since it's always read alongside the metadata.
type Library struct {
	Owner       string
	Name        string
	BlobKey     string
	Notes       string
	Approved    bool
	NeedsReview bool
	UpdatedAt   time.Time
}

// Repository defines the data-access contract for library metadata.
// Content blob I/O is layered on top by Manager, the same split
// internal/project uses between Repository and Lifecycle.
type Repository interface {
	Upsert(ctx context.Context, lib Library) (Library, error)
	Get(ctx context.Context, owner, name string) (Library, error)
	ListByOwner(ctx context.Context, owner string) ([]Library, error)
	ListApproved(ctx context.Context) ([]Library, error)
	ListNeedsReview(ctx context.Context) ([]Library, error)
	SetApproval(ctx context.Context, owner, name string, approved, needsReview bool) error
	Delete(ctx context.Context, owner, name string) error
}

// scanner flags library content for moderator review. It combines an HTML
// sanitization pass over the notes (notes that bluemonday's strict policy
// would change carry disallowed markup, not prose; the content itself is
// block XML and is not sanitized) with a denylist word scan over the raw
// content and notes, following the teacher's onboarding.LoadDocuments
// use of bluemonday.StrictPolicy for exactly this "is this safe to publish
// unescaped" question.
type scanner struct {
	policy   *bluemonday.Policy
	denylist []string
}

func newScanner() *scanner {
	return &scanner{
		policy:   bluemonday.StrictPolicy(),
		denylist: defaultDenylist,
	}
}

// defaultDenylist is a small, conservative set of terms that force
// moderator review rather than an attempt at an exhaustive filter — the
// moderation queue is the backstop, not this list.
var defaultDenylist = []string{"damn", "hell", "bastard", "slur"}

// needsReview reports whether a publish should be queued for moderator
// review: the notes carry markup the strict policy would strip, or the
// content or notes contain a denylisted word.
func (s *scanner) needsReview(notes string, content []byte) bool {
	sanitizedNotes := s.policy.Sanitize(notes)
	if sanitizedNotes != notes {
		return true
	}
	lower := strings.ToLower(string(content) + " " + notes)
	for _, word := range s.denylist {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// Manager layers blob-backed content storage and moderation scanning on
// top of Repository, mirroring internal/project's Repository/Lifecycle
// split.
type Manager struct {
	repo    Repository
	storage blob.StorageProvider
	scan    *scanner
}

// NewManager builds a Manager over repo and storage.
func NewManager(repo Repository, storage blob.StorageProvider) *Manager {
	return &Manager{repo: repo, storage: storage, scan: newScanner()}
}

// Publish creates or replaces owner's library named name, writing content
// via the commit-then-delete blob protocol and re-running the moderation
// scan on every publish (spec.md §4.7: "the content is scanned by a
// profanity predicate on publish"). A previously approved library that is
// republished reverts to unapproved until it clears the scan and a
// moderator re-approves it, since the new content was never reviewed.
func (m *Manager) Publish(ctx context.Context, owner, name, notes string, content io.Reader) (Library, error) {
	existing, err := m.repo.Get(ctx, owner, name)
	hadExisting := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Library{}, err
	}

	raw, err := io.ReadAll(content)
	if err != nil {
		return Library{}, err
	}

	key := blobKey(owner, name)
	oldKey := ""
	if hadExisting {
		oldKey = existing.BlobKey
	}
	if err := blob.CommitThenDelete(ctx, m.storage, key, strings.NewReader(string(raw)), oldKey); err != nil {
		return Library{}, err
	}

	flagged := m.scan.needsReview(notes, raw)
	lib := Library{
		Owner:       owner,
		Name:        name,
		BlobKey:     key,
		Notes:       notes,
		Approved:    false,
		NeedsReview: flagged,
	}
	return m.repo.Upsert(ctx, lib)
}

func blobKey(owner, name string) string {
	return "libraries/" + owner + "/" + name
}

// Content opens the stored blob for owner/name.
func (m *Manager) Content(ctx context.Context, owner, name string) (io.ReadCloser, error) {
	lib, err := m.repo.Get(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	return m.storage.Get(ctx, lib.BlobKey)
}

// Approve marks a library reviewed and approved, clearing needs_review.
// Callers must already hold a witness.ModerateLibrary for this operation.
func (m *Manager) Approve(ctx context.Context, owner, name string) error {
	return m.repo.SetApproval(ctx, owner, name, true, false)
}

// Reject clears approval and needs_review without deleting the library,
// leaving it visible only to its owner.
func (m *Manager) Reject(ctx context.Context, owner, name string) error {
	return m.repo.SetApproval(ctx, owner, name, false, false)
}

// Delete removes a library's metadata and its content blob.
func (m *Manager) Delete(ctx context.Context, owner, name string) error {
	lib, err := m.repo.Get(ctx, owner, name)
	if err != nil {
		return err
	}
	if err := m.repo.Delete(ctx, owner, name); err != nil {
		return err
	}
	_ = m.storage.Delete(ctx, lib.BlobKey)
	return nil
}
