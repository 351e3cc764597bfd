// Package project implements the project/role lifecycle state machine
// (spec.md §3-4.4, C6): ProjectMetadata, RoleMetadata, rename-collision
// resolution, and the Created -> Transient -> Broken/Saved state machine
// tying websocket occupancy to persistence decisions.
package project

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// State is a project's lifecycle state, per spec.md §3 invariant I3.
type State string

const (
	StateCreated   State = "Created"
	StateTransient State = "Transient"
	StateBroken    State = "Broken"
	StateSaved     State = "Saved"
)

// DefaultInactivityWindow is how long a Transient project survives with no
// reconnect before the inactivity sweeper deletes it, per spec.md §4.4.
const DefaultInactivityWindow = 15 * time.Minute

// RoleMetadata describes one role's blob pointers. Per spec.md §3, role
// source is content-immutable under a given key: a save allocates a new
// key and the prior one is garbage collected after the metadata commit.
type RoleMetadata struct {
	ID       uuid.UUID
	Name     string
	CodeKey  string
	MediaKey string
	// ThumbnailKey is the blob key of a generated preview of MediaKey, set
	// asynchronously by internal/media's thumbnail worker once it has run.
	// Empty until then, and left empty permanently for non-image media.
	ThumbnailKey string
	Updated      time.Time
}

// Project is the row shape of ProjectMetadata (spec.md §3).
type Project struct {
	ID            uuid.UUID
	Owner         string
	Name          string
	Roles         map[uuid.UUID]RoleMetadata
	Collaborators []string
	State         State
	SaveState     string
	Public        bool
	OriginTime    time.Time
	Updated       time.Time
	// TransientSince is non-nil only in StateTransient, marking when the
	// inactivity timer started.
	TransientSince *time.Time
}

// HasCollaborator reports whether username is listed as a collaborator.
func (p *Project) HasCollaborator(username string) bool {
	for _, c := range p.Collaborators {
		if c == username {
			return true
		}
	}
	return false
}

// Sentinel errors for the project package.
var (
	ErrNotFound           = errors.New("project not found")
	ErrRoleNotFound       = errors.New("role not found")
	ErrNotTransient       = errors.New("project is not in the Transient state")
	ErrRoleFetchTimeout   = errors.New("role data fetch timed out")
	ErrNoRoleOccupant     = errors.New("role has no connected occupant to answer the fetch")
	ErrConcurrentUpdate   = errors.New("project was concurrently modified")
)
