// Package router implements spec.md §4.5's overlay fan-out: reverse address
// resolution for an inbound frame's sender, C5 address resolution for its
// targets, best-effort delivery via internal/topology, and recorded-message
// trace capture, grounded on the teacher's deleted
// gateway.Hub.handlePubSubEvent channel-scoped fan-out.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/project"
	"github.com/netsbox/control-plane/internal/resolver"
	"github.com/netsbox/control-plane/internal/topology"
	"github.com/netsbox/control-plane/internal/wire"
)

// ErrSourceAddressMismatch is returned when a frame's self-declared
// source_address does not match the sender's server-asserted address, per
// spec.md §4.5 step 1.
var ErrSourceAddressMismatch = errors.New("router: source address does not match sender")

// GroupLookup answers the group-membership question the resolver's access
// check needs, built from the sender's username.
type GroupLookup interface {
	GroupSetFor(ctx context.Context, username string) (string, error)
}

// Router fans out overlay messages and correlates get-role-data replies.
type Router struct {
	topo     *topology.Topology
	resolver *resolver.Resolver
	projects resolver.ProjectLookup
	groups   GroupLookup
	fetcher  *project.RoleFetcher
	traces   TraceStore
	log      zerolog.Logger
}

// New builds a Router. traces may be nil to disable trace capture (e.g. in
// tests or deployments that never open a trace).
func New(topo *topology.Topology, res *resolver.Resolver, projects resolver.ProjectLookup, groups GroupLookup, fetcher *project.RoleFetcher, traces TraceStore, log zerolog.Logger) *Router {
	return &Router{
		topo:     topo,
		resolver: res,
		projects: projects,
		groups:   groups,
		fetcher:  fetcher,
		traces:   traces,
		log:      log.With().Str("component", "router").Logger(),
	}
}

// reverseResolve derives clientID's authoritative address string and, for a
// Browser client, the project ID it resolves against, per spec.md §4.5 step
// 1: a Browser client is addressed by its current role/project/owner; an
// External client is addressed by whatever literal address it declared at
// connect time (and has no owning project for trace capture purposes).
func (r *Router) reverseResolve(ctx context.Context, clientID string) (address string, projectID string, err error) {
	c, ok := r.topo.Client(clientID)
	if !ok {
		return "", "", topology.ErrClientNotFound
	}
	state := c.State()

	switch state.Kind {
	case topology.KindExternal:
		return state.External.Address, "", nil
	case topology.KindBrowser:
		info, ok, err := r.projects.GetByID(ctx, state.Browser.ProjectID)
		if err != nil {
			return "", "", fmt.Errorf("lookup sender project: %w", err)
		}
		if !ok {
			return "", "", fmt.Errorf("sender project %s not found", state.Browser.ProjectID)
		}
		roleName := state.Browser.RoleID
		for id, name := range info.Roles {
			if id == state.Browser.RoleID {
				roleName = name
				break
			}
		}
		addr := fmt.Sprintf("%s@%s@%s#%s", roleName, info.Name, info.Owner, resolver.DefaultApp)
		return addr, state.Browser.ProjectID, nil
	default:
		return "", "", fmt.Errorf("sender %s has no addressable state", clientID)
	}
}

func (r *Router) groupSet(ctx context.Context, username string) string {
	if r.groups == nil || username == "" {
		return ""
	}
	set, err := r.groups.GroupSetFor(ctx, username)
	if err != nil {
		r.log.Warn().Err(err).Str("username", username).Msg("failed to resolve sender group set")
		return ""
	}
	return set
}

// Route delivers an overlay message or client-message frame per spec.md
// §4.5. declaredSource is the frame's own source_address field, if any; it
// is validated against the server-asserted address rather than trusted.
func (r *Router) Route(ctx context.Context, senderClientID string, declaredSource string, targetAddresses []string, msgType string, content []byte) error {
	authoritative, senderProjectID, err := r.reverseResolve(ctx, senderClientID)
	if err != nil {
		return fmt.Errorf("reverse resolve sender: %w", err)
	}
	if declaredSource != "" && declaredSource != authoritative {
		return ErrSourceAddressMismatch
	}

	sender := resolver.Sender{ClientID: senderClientID, Username: r.usernameOf(senderClientID)}
	groupSet := r.groupSet(ctx, sender.Username)

	for _, raw := range targetAddresses {
		targets, err := r.resolver.Resolve(ctx, raw, sender, groupSet)
		if err != nil {
			r.log.Warn().Err(err).Str("address", raw).Msg("address resolution failed")
			continue
		}
		for _, target := range targets {
			frame, err := wire.NewFrame(wire.TypeMessage, wire.Message{
				SourceAddress:   authoritative,
				TargetAddresses: []string{raw},
				MessageType:     msgType,
				Content:         content,
			})
			if err != nil {
				return fmt.Errorf("build message frame: %w", err)
			}
			_ = r.topo.Send(target.ClientID, &frame)
		}
		r.recordIfTraced(ctx, senderProjectID, authoritative, raw, msgType, content)
	}
	return nil
}

// recordIfTraced appends a RecordedMessage when the sender's owning project
// has an active trace, per spec.md §4.5 step 4. Failures are logged rather
// than propagated: trace capture is best-effort observability, not part of
// delivery's correctness. senderProjectID is empty for an External sender,
// which has no owning project to trace.
func (r *Router) recordIfTraced(ctx context.Context, senderProjectID, source, target, msgType string, content []byte) {
	if r.traces == nil || senderProjectID == "" {
		return
	}
	projectID, err := uuid.Parse(senderProjectID)
	if err != nil {
		return
	}
	trace, active, err := r.traces.ActiveTrace(ctx, projectID)
	if err != nil {
		r.log.Warn().Err(err).Str("project_id", projectID.String()).Msg("failed to check active trace")
		return
	}
	if !active {
		return
	}
	if err := r.traces.Append(ctx, RecordedMessage{
		ProjectID:     projectID,
		TraceID:       trace.ID,
		SourceAddress: source,
		TargetAddress: target,
		Type:          msgType,
		Content:       content,
	}); err != nil {
		r.log.Warn().Err(err).Str("trace_id", trace.ID.String()).Msg("failed to append recorded message")
	}
}

func (r *Router) usernameOf(clientID string) string {
	c, ok := r.topo.Client(clientID)
	if !ok {
		return ""
	}
	return c.Username
}

// RelayUserAction forwards a collaborative-edit action to every other
// occupant of the sender's current role, per spec.md's "relayed, not
// persisted" contract for user-action frames.
func (r *Router) RelayUserAction(senderClientID string, action wire.UserAction) {
	c, ok := r.topo.Client(senderClientID)
	if !ok {
		return
	}
	state := c.State()
	if state.Kind != topology.KindBrowser {
		return
	}
	frame, err := wire.NewFrame(wire.TypeUserAction, action)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to build user-action frame")
		return
	}
	for _, occupantID := range r.topo.RoleOccupants(state.Browser.ProjectID, action.RoleID) {
		if occupantID == senderClientID {
			continue
		}
		_ = r.topo.Send(occupantID, &frame)
	}
}

// RelayRequestActions forwards a request-actions frame to every other
// occupant of the sender's role, asking one of them to supply the actions
// recorded since req.Seq. The server keeps no action log of its own (user
// actions are never persisted), so this is a pure relay, per spec.md §6's
// "(currently: relay)" note.
func (r *Router) RelayRequestActions(senderClientID string, req wire.RequestActions) {
	c, ok := r.topo.Client(senderClientID)
	if !ok {
		return
	}
	state := c.State()
	if state.Kind != topology.KindBrowser {
		return
	}
	frame, err := wire.NewFrame(wire.TypeRequestActions, req)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to build request-actions frame")
		return
	}
	for _, occupantID := range r.topo.RoleOccupants(state.Browser.ProjectID, req.RoleID) {
		if occupantID == senderClientID {
			continue
		}
		_ = r.topo.Send(occupantID, &frame)
	}
}

// HandleProjectResponse delivers an inbound project-response frame to the
// RoleFetcher request it answers.
func (r *Router) HandleProjectResponse(resp wire.ProjectResponse) bool {
	if r.fetcher == nil {
		return false
	}
	return r.fetcher.Resolve(resp.RequestID, resp.Data)
}
