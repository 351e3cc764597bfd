package resolver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/cache"
	"github.com/netsbox/control-plane/internal/topology"
)

// ProjectInfo is the subset of project metadata the resolver needs:
// identity, ownership, publicity, and a role-name index.
type ProjectInfo struct {
	ID     string
	Owner  string
	Name   string
	Public bool
	// Roles maps role ID to role name, for translating address role_tags
	// (names) into the role IDs topology's occupancy graph is keyed by.
	Roles map[string]string
}

// RoleIDByName returns the role ID whose name matches (case-insensitive),
// and whether one was found.
func (p ProjectInfo) RoleIDByName(name string) (string, bool) {
	for id, n := range p.Roles {
		if strings.EqualFold(n, name) {
			return id, true
		}
	}
	return "", false
}

// ProjectLookup resolves project identity for the resolver, implemented by
// internal/project.
type ProjectLookup interface {
	GetByID(ctx context.Context, id string) (ProjectInfo, bool, error)
	GetByOwnerName(ctx context.Context, owner, name string) (ProjectInfo, bool, error)
}

// AccessLookup answers the group/admin membership questions spec.md §4.3's
// access check needs, implemented by internal/group and internal/user.
type AccessLookup interface {
	SameGroup(ctx context.Context, userA, userB string) (bool, error)
	IsAdmin(ctx context.Context, username string) (bool, error)
}

// Target is one resolved recipient: a live client and the app family it was
// addressed under.
type Target struct {
	ClientID string `json:"client_id"`
	AppID    string `json:"app_id"`
}

// Sender describes the client issuing a resolution request, used for the
// "others in room" exclusion and the access check.
type Sender struct {
	ClientID string
	Username string // "" if anonymous
}

// Resolver implements spec.md §4.3's address resolution and its
// sequence-number-gated cache.
type Resolver struct {
	topo     *topology.Topology
	projects ProjectLookup
	access   AccessLookup
	cache    *cache.Cache
	log      zerolog.Logger
}

// New builds a Resolver. cache may be nil to disable memoization (e.g. in
// tests).
func New(topo *topology.Topology, projects ProjectLookup, access AccessLookup, c *cache.Cache, log zerolog.Logger) *Resolver {
	return &Resolver{
		topo:     topo,
		projects: projects,
		access:   access,
		cache:    c,
		log:      log.With().Str("component", "resolver").Logger(),
	}
}

// cacheKey bundles the address string and a sorted snapshot of the sender's
// group membership, matching spec.md §4.3's "(address-string,
// sender-group-set)" cache key.
func cacheKey(raw string, senderGroupSet string) string {
	return "resolve:" + raw + ":" + senderGroupSet
}

type cachedResolution struct {
	Targets    []Target `json:"targets"`
	ProjectIDs []string `json:"project_ids"`
}

// Resolve expands raw into the set of live (client_id, app_id) targets
// authorized to receive a message from sender.
func (r *Resolver) Resolve(ctx context.Context, raw string, sender Sender, senderGroupSet string) ([]Target, error) {
	addr, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	if addr.IsExternal() {
		return r.resolveExternal(addr), nil
	}

	key := cacheKey(raw, senderGroupSet)
	if r.cache != nil {
		if entry, ok := r.cache.Get(ctx, key); ok {
			var cached cachedResolution
			if err := json.Unmarshal(entry.Payload, &cached); err == nil && r.cacheStillValid(cached, entry.Seq) {
				return cached.Targets, nil
			}
		}
	}

	project, ok, err := r.findProject(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	candidates := r.expandRoleTag(addr, project, sender)

	targets := make([]Target, 0, len(candidates))
	for _, clientID := range candidates {
		c, ok := r.topo.Client(clientID)
		if !ok {
			continue
		}
		allowed, err := r.checkAccess(ctx, sender, c.Username, project)
		if err != nil {
			r.log.Warn().Err(err).Msg("access check failed during resolution")
			continue
		}
		if !allowed {
			continue
		}
		targets = append(targets, Target{ClientID: clientID, AppID: addr.App})
	}

	if r.cache != nil {
		seq, _ := r.topo.RoomSeq(project.ID)
		_ = r.cache.Set(ctx, key, seq, cachedResolution{Targets: targets, ProjectIDs: []string{project.ID}})
	}

	return targets, nil
}

// cacheStillValid re-checks the project's current topology sequence number
// against the one the cache entry was stamped with, per spec.md §4.3's
// "discarded if that sequence advances" rule.
func (r *Resolver) cacheStillValid(cached cachedResolution, stampedSeq int64) bool {
	for _, projectID := range cached.ProjectIDs {
		seq, ok := r.topo.RoomSeq(projectID)
		if !ok {
			continue // room no longer exists; nothing to compare, treat as unaffected
		}
		if seq != stampedSeq {
			return false
		}
	}
	return true
}

func (r *Resolver) findProject(ctx context.Context, addr Address) (ProjectInfo, bool, error) {
	if looksLikeID(addr.ProjectTag) {
		return r.projects.GetByID(ctx, addr.ProjectTag)
	}
	if addr.Owner == "" {
		return ProjectInfo{}, false, nil
	}
	return r.projects.GetByOwnerName(ctx, addr.Owner, addr.ProjectTag)
}

// looksLikeID is a cheap heuristic: opaque project IDs in this system are
// UUIDs, which never collide with a project display name containing a
// space or starting with a letter sequence a UUID can't produce once
// hyphen-structure is checked.
func looksLikeID(tag string) bool {
	return len(tag) == 36 && strings.Count(tag, "-") == 4
}

func (r *Resolver) expandRoleTag(addr Address, project ProjectInfo, sender Sender) []string {
	if addr.IsExpansionRole() {
		all := r.topo.AllOccupants(project.ID)
		if strings.EqualFold(addr.RoleTag, RoleOthersInRoom) {
			filtered := all[:0:0]
			for _, id := range all {
				if id != sender.ClientID {
					filtered = append(filtered, id)
				}
			}
			return filtered
		}
		return all
	}

	roleID, ok := project.RoleIDByName(addr.RoleTag)
	if !ok {
		return nil
	}
	return r.topo.RoleOccupants(project.ID, roleID)
}

func (r *Resolver) checkAccess(ctx context.Context, sender Sender, recipientUsername string, project ProjectInfo) (bool, error) {
	if project.Public && sender.Username != "" {
		return true, nil
	}
	if sender.Username == "" || recipientUsername == "" {
		return project.Public, nil
	}
	if sender.Username == recipientUsername {
		return true, nil
	}
	if admin, err := r.access.IsAdmin(ctx, sender.Username); err != nil {
		return false, err
	} else if admin {
		return true, nil
	}
	if admin, err := r.access.IsAdmin(ctx, recipientUsername); err != nil {
		return false, err
	} else if admin {
		return true, nil
	}
	return r.access.SameGroup(ctx, sender.Username, recipientUsername)
}

// resolveExternal matches addr literally against connected external
// clients: case-insensitive on role/project, case-sensitive on owner, per
// spec.md §4.3 step 2.
func (r *Resolver) resolveExternal(addr Address) []Target {
	var targets []Target
	for _, c := range r.topo.ExternalClients() {
		state := c.State().External
		candidate, err := Parse(state.Address)
		if err != nil {
			continue
		}
		if !strings.EqualFold(candidate.RoleTag, addr.RoleTag) {
			continue
		}
		if !strings.EqualFold(candidate.ProjectTag, addr.ProjectTag) {
			continue
		}
		if addr.Owner != "" && candidate.Owner != addr.Owner {
			continue
		}
		if state.AppID != addr.App {
			continue
		}
		targets = append(targets, Target{ClientID: c.ID, AppID: addr.App})
	}
	return targets
}
