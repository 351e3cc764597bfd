package project

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netsbox/control-plane/internal/topology"
	"github.com/netsbox/control-plane/internal/wire"
)

// DefaultRoleFetchTimeout is how long RoleFetcher.Fetch waits for a
// project-response before surfacing ErrRoleFetchTimeout, per spec.md §4.4.
const DefaultRoleFetchTimeout = 5 * time.Second

// RoleFetcher correlates outbound get-role-data requests with their
// project-response replies, per spec.md §4.4's "pending-response keyed by a
// fresh request_id" mechanism. One RoleFetcher is shared by every
// connection, keyed by request ID rather than by connection, since the
// requester and the answering occupant are different clients.
type RoleFetcher struct {
	mu      sync.Mutex
	pending map[string]chan json.RawMessage
}

// NewRoleFetcher builds an empty RoleFetcher.
func NewRoleFetcher() *RoleFetcher {
	return &RoleFetcher{pending: make(map[string]chan json.RawMessage)}
}

// Fetch sends a get-role-data frame to one connected occupant of roleID and
// waits up to timeout for a matching project-response.
func (f *RoleFetcher) Fetch(ctx context.Context, topo *topology.Topology, projectID, roleID uuid.UUID, timeout time.Duration) (json.RawMessage, error) {
	occupants := topo.RoleOccupants(projectID.String(), roleID.String())
	if len(occupants) == 0 {
		return nil, ErrNoRoleOccupant
	}
	clientID := occupants[0]

	requestID := uuid.NewString()
	ch := make(chan json.RawMessage, 1)
	f.mu.Lock()
	f.pending[requestID] = ch
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.pending, requestID)
		f.mu.Unlock()
	}()

	frame, err := wire.NewFrame(wire.TypeGetRoleData, wire.GetRoleData{RequestID: requestID, RoleID: roleID.String()})
	if err != nil {
		return nil, err
	}
	if err := topo.Send(clientID, &frame); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-ch:
		return data, nil
	case <-timer.C:
		return nil, ErrRoleFetchTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve delivers an inbound project-response to its waiting Fetch call,
// reporting whether a pending request matched requestID.
func (f *RoleFetcher) Resolve(requestID string, data json.RawMessage) bool {
	f.mu.Lock()
	ch, ok := f.pending[requestID]
	f.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- data:
	default:
	}
	return true
}
