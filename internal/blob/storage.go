// Package blob stores project and role XML snapshots. The same
// StorageProvider interface backs both a local-disk implementation (dev)
// and an S3-compatible implementation (production), grounded on the
// teacher's deleted media/storage.go + media/local.go, generalized from
// chat attachments to role source blobs and adopting a commit-then-delete
// write protocol (spec.md I5: metadata only ever references blob keys that
// exist, except during the brief window between a metadata commit and
// garbage-collecting the blob it superseded).
package blob

import (
	"context"
	"errors"
	"io"
)

// Sentinel errors for storage operations.
var ErrKeyNotFound = errors.New("storage key not found")

// StorageProvider abstracts blob storage so role XML snapshots can move
// between local disk and S3-compatible backends without touching
// internal/project's commit logic.
type StorageProvider interface {
	// Put writes the contents of r to key, creating parent paths as needed.
	Put(ctx context.Context, key string, r io.Reader) error
	// Get opens key for reading. Returns ErrKeyNotFound if it does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
	// URL returns a public or pre-signed URL for key.
	URL(key string) string
}

// Lister is implemented by storage providers that can enumerate their own
// keys, satisfied by both LocalStorage and S3Storage. internal/worker's blob
// reconciler type-asserts for it rather than requiring every StorageProvider
// to support listing — a hand-rolled fake used only in unit tests need not.
type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}

// CommitThenDelete writes newContent to newKey, and only once that succeeds
// deletes oldKey (if non-empty). This is the write protocol every caller in
// internal/project uses when replacing a role's saved XML: a crash between
// the two steps leaves both the old and new blob present (safe, garbage
// collected later) rather than leaving metadata referencing a deleted blob.
func CommitThenDelete(ctx context.Context, s StorageProvider, newKey string, newContent io.Reader, oldKey string) error {
	if err := s.Put(ctx, newKey, newContent); err != nil {
		return err
	}
	if oldKey == "" || oldKey == newKey {
		return nil
	}
	return s.Delete(ctx, oldKey)
}
