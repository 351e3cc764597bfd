package api

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/auth"
	"github.com/netsbox/control-plane/internal/social"
	"github.com/netsbox/control-plane/internal/topology"
)

// fakeSocialRepo is an in-memory social.Repository covering the
// friend/block graph FriendHandler exercises, plus SendCollaborationInvite
// and SendOccupantInvite for internal/api/projects_test.go and
// internal/api/network_test.go. The remaining invite-acceptance/listing
// methods are left unimplemented (panic) since nothing in internal/api
// calls them.
type fakeSocialRepo struct {
	mu      sync.Mutex
	friends map[string]map[string]bool
	blocked map[string]map[string]bool
	invites map[string]*social.FriendInvite // key: sender+"->"+recipient
}

func newFakeSocialRepo() *fakeSocialRepo {
	return &fakeSocialRepo{
		friends: make(map[string]map[string]bool),
		blocked: make(map[string]map[string]bool),
		invites: make(map[string]*social.FriendInvite),
	}
}

func (r *fakeSocialRepo) addFriendEdge(a, b string) {
	if r.friends[a] == nil {
		r.friends[a] = make(map[string]bool)
	}
	if r.friends[b] == nil {
		r.friends[b] = make(map[string]bool)
	}
	r.friends[a][b] = true
	r.friends[b][a] = true
}

func (r *fakeSocialRepo) isBlockedLocked(a, b string) bool {
	return r.blocked[a][b] || r.blocked[b][a]
}

func (r *fakeSocialRepo) SendFriendInvite(_ context.Context, sender, recipient string) (*social.FriendInvite, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isBlockedLocked(sender, recipient) {
		return nil, false, social.ErrBlocked
	}
	if _, ok := r.invites[sender+"->"+recipient]; ok {
		return nil, false, social.ErrInviteExists
	}
	if _, ok := r.invites[recipient+"->"+sender]; ok {
		delete(r.invites, recipient+"->"+sender)
		r.addFriendEdge(sender, recipient)
		return nil, true, nil
	}
	inv := &social.FriendInvite{ID: uuid.New(), Sender: sender, Recipient: recipient, CreatedAt: time.Now()}
	r.invites[sender+"->"+recipient] = inv
	return inv, false, nil
}

func (r *fakeSocialRepo) RespondFriendInvite(_ context.Context, sender, recipient string, accept bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := sender + "->" + recipient
	if _, ok := r.invites[key]; !ok {
		return social.ErrInviteNotFound
	}
	delete(r.invites, key)
	if accept {
		r.addFriendEdge(sender, recipient)
	}
	return nil
}

func (r *fakeSocialRepo) RemoveFriend(_ context.Context, a, b string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.friends[a][b] {
		return social.ErrNotFriends
	}
	delete(r.friends[a], b)
	delete(r.friends[b], a)
	return nil
}

func (r *fakeSocialRepo) Block(_ context.Context, blocker, blocked string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blocked[blocker] == nil {
		r.blocked[blocker] = make(map[string]bool)
	}
	r.blocked[blocker][blocked] = true
	delete(r.friends[blocker], blocked)
	delete(r.friends[blocked], blocker)
	return nil
}

func (r *fakeSocialRepo) Unblock(_ context.Context, a, b string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.blocked[a][b] {
		return social.ErrNotBlocked
	}
	delete(r.blocked[a], b)
	return nil
}

func (r *fakeSocialRepo) Friends(_ context.Context, username string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.friends[username]))
	for f := range r.friends[username] {
		out = append(out, f)
	}
	return out, nil
}

func (r *fakeSocialRepo) IsBlocked(_ context.Context, a, b string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isBlockedLocked(a, b), nil
}

func (r *fakeSocialRepo) PendingFriendInvites(context.Context, string) ([]social.FriendInvite, error) {
	panic("not implemented")
}
// SendCollaborationInvite is exercised by internal/api/projects_test.go's
// InviteCollaborator coverage; nothing here checks duplicate invites since
// no test needs that path.
func (r *fakeSocialRepo) SendCollaborationInvite(_ context.Context, projectID uuid.UUID, sender, recipient string) (*social.CollaborationInvite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isBlockedLocked(sender, recipient) {
		return nil, social.ErrBlocked
	}
	return &social.CollaborationInvite{ID: uuid.New(), ProjectID: projectID, Sender: sender, Recipient: recipient, CreatedAt: time.Now()}, nil
}
func (r *fakeSocialRepo) AcceptCollaborationInvite(context.Context, uuid.UUID, string) error {
	panic("not implemented")
}
func (r *fakeSocialRepo) RejectCollaborationInvite(context.Context, uuid.UUID, string) error {
	panic("not implemented")
}
func (r *fakeSocialRepo) ListCollaborationInvites(context.Context, string) ([]social.CollaborationInvite, error) {
	panic("not implemented")
}
// SendOccupantInvite is exercised by internal/api/network_test.go's
// InviteOccupant coverage.
func (r *fakeSocialRepo) SendOccupantInvite(_ context.Context, projectID, roleID uuid.UUID, sender, recipient string, ttl time.Duration) (*social.OccupantInvite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isBlockedLocked(sender, recipient) {
		return nil, social.ErrBlocked
	}
	now := time.Now()
	return &social.OccupantInvite{ID: uuid.New(), ProjectID: projectID, RoleID: roleID, Sender: sender, Recipient: recipient, CreatedAt: now, ExpiresAt: now.Add(ttl)}, nil
}
func (r *fakeSocialRepo) AcceptOccupantInvite(context.Context, uuid.UUID, string) (*social.OccupantInvite, error) {
	panic("not implemented")
}
func (r *fakeSocialRepo) ListOccupantInvites(context.Context, string) ([]social.OccupantInvite, error) {
	panic("not implemented")
}
func (r *fakeSocialRepo) DeleteExpiredOccupantInvites(context.Context, time.Time) (int64, error) {
	panic("not implemented")
}
func (r *fakeSocialRepo) RemoveAccount(context.Context, string) error { panic("not implemented") }

// testFriendsApp wires a fiber app over FriendHandler. Every request is
// attributed to username via Locals, mirroring the other handlers' test
// harnesses but parameterized by a plain username since every friends
// endpoint is scoped to requireSelf rather than a role check.
func testFriendsApp(t *testing.T, username string) (*fiber.App, *fakeSocialRepo) {
	t.Helper()
	repo := newFakeSocialRepo()
	topo := topology.New(nil, zerolog.Nop())
	handler := NewFriendHandler(repo, topo, zerolog.Nop())

	app := fiber.New()
	app.Use(func(c fiber.Ctx) error {
		c.Locals(auth.SessionLocalsKey, *userSession(username))
		return c.Next()
	})
	app.Post("/friends/:user/invite/:other", handler.Invite)
	app.Post("/friends/:user/respond/:inviter", handler.Respond)
	app.Delete("/friends/:user/:other", handler.Remove)
	app.Post("/friends/:user/block/:other", handler.Block)
	app.Get("/friends/:user", handler.List)
	app.Get("/friends/:user/online", handler.Online)

	return app, repo
}

func TestFriendInviteCreatesPendingInvite(t *testing.T) {
	t.Parallel()
	app, _ := testFriendsApp(t, "alice")

	resp := doReq(t, app, jsonReq(http.MethodPost, "/friends/alice/invite/bob", ""))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("invite status = %d, want %d; body = %s", resp.StatusCode, fiber.StatusCreated, string(body))
	}
}

func TestFriendInviteRejectsOtherUser(t *testing.T) {
	t.Parallel()
	app, _ := testFriendsApp(t, "alice")

	resp := doReq(t, app, jsonReq(http.MethodPost, "/friends/bob/invite/carol", ""))
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusForbidden)
	}
}

func TestFriendAutoAcceptOnMutualInvite(t *testing.T) {
	t.Parallel()
	repo := newFakeSocialRepo()
	topo := topology.New(nil, zerolog.Nop())
	handler := NewFriendHandler(repo, topo, zerolog.Nop())
	app := fiber.New()
	var currentUser string
	app.Use(func(c fiber.Ctx) error {
		c.Locals(auth.SessionLocalsKey, *userSession(currentUser))
		return c.Next()
	})
	app.Post("/friends/:user/invite/:other", handler.Invite)

	currentUser = "alice"
	first := doReq(t, app, jsonReq(http.MethodPost, "/friends/alice/invite/bob", ""))
	if first.StatusCode != fiber.StatusCreated {
		t.Fatalf("first invite status = %d", first.StatusCode)
	}

	currentUser = "bob"
	second := doReq(t, app, jsonReq(http.MethodPost, "/friends/bob/invite/alice", ""))
	body := readBody(t, second)
	if second.StatusCode != fiber.StatusOK {
		t.Fatalf("second invite status = %d, want %d; body = %s", second.StatusCode, fiber.StatusOK, string(body))
	}

	friends, err := repo.Friends(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Friends: %v", err)
	}
	if len(friends) != 1 || friends[0] != "bob" {
		t.Errorf("alice's friends = %v, want [bob]", friends)
	}
}

func TestFriendRemoveNotFriends(t *testing.T) {
	t.Parallel()
	app, _ := testFriendsApp(t, "alice")

	resp := doReq(t, app, jsonReq(http.MethodDelete, "/friends/alice/bob", ""))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, fiber.StatusConflict, string(body))
	}
}

func TestFriendBlockThenInviteBlocked(t *testing.T) {
	t.Parallel()
	repo := newFakeSocialRepo()
	topo := topology.New(nil, zerolog.Nop())
	handler := NewFriendHandler(repo, topo, zerolog.Nop())
	app := fiber.New()
	var currentUser string
	app.Use(func(c fiber.Ctx) error {
		c.Locals(auth.SessionLocalsKey, *userSession(currentUser))
		return c.Next()
	})
	app.Post("/friends/:user/block/:other", handler.Block)
	app.Post("/friends/:user/invite/:other", handler.Invite)

	currentUser = "alice"
	blockResp := doReq(t, app, jsonReq(http.MethodPost, "/friends/alice/block/bob", ""))
	if blockResp.StatusCode != fiber.StatusOK {
		t.Fatalf("block status = %d", blockResp.StatusCode)
	}

	currentUser = "bob"
	inviteResp := doReq(t, app, jsonReq(http.MethodPost, "/friends/bob/invite/alice", ""))
	body := readBody(t, inviteResp)
	if inviteResp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want %d; body = %s", inviteResp.StatusCode, fiber.StatusForbidden, string(body))
	}
}

func TestFriendsOnlineFiltersOfflineFriends(t *testing.T) {
	t.Parallel()
	repo := newFakeSocialRepo()
	repo.addFriendEdge("alice", "bob")
	topo := topology.New(nil, zerolog.Nop())
	handler := NewFriendHandler(repo, topo, zerolog.Nop())
	app := fiber.New()
	app.Use(func(c fiber.Ctx) error {
		c.Locals(auth.SessionLocalsKey, *userSession("alice"))
		return c.Next()
	})
	app.Get("/friends/:user/online", handler.Online)

	resp := doReq(t, app, jsonReq(http.MethodGet, "/friends/alice/online", ""))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, fiber.StatusOK, string(body))
	}
	env := parseSuccess(t, body)
	if string(env.Data) != "[]" {
		t.Errorf("online friends = %s, want an empty list (no live connection in this test)", env.Data)
	}
}
