package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/auth"
	"github.com/netsbox/control-plane/internal/blob"
	"github.com/netsbox/control-plane/internal/project"
	"github.com/netsbox/control-plane/internal/topology"
	"github.com/netsbox/control-plane/internal/witness"
)

// fakeProjectRepo is an in-memory project.Repository that also implements
// ProjectInfo, satisfying witness.ProjectLookup the same way
// project.PGRepository does, so a single fake backs both the handler and
// the Minter built over it.
type fakeProjectRepo struct {
	mu       sync.Mutex
	projects map[uuid.UUID]*project.Project
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{projects: make(map[uuid.UUID]*project.Project)}
}

func (r *fakeProjectRepo) nameTaken(owner, name string, exclude uuid.UUID) bool {
	for _, p := range r.projects {
		if p.ID != exclude && p.Owner == owner && p.Name == name {
			return true
		}
	}
	return false
}

func (r *fakeProjectRepo) Create(_ context.Context, owner, name string) (*project.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resolved := name
	for k := 1; r.nameTaken(owner, resolved, uuid.Nil); k++ {
		resolved = fmt.Sprintf("%s (%d)", name, k)
	}
	p := &project.Project{
		ID:         uuid.New(),
		Owner:      owner,
		Name:       resolved,
		Roles:      map[uuid.UUID]project.RoleMetadata{},
		State:      project.StateCreated,
		OriginTime: time.Now(),
		Updated:    time.Now(),
	}
	r.projects[p.ID] = p
	return p, nil
}

func (r *fakeProjectRepo) clone(p *project.Project) *project.Project {
	cp := *p
	cp.Roles = make(map[uuid.UUID]project.RoleMetadata, len(p.Roles))
	for k, v := range p.Roles {
		cp.Roles[k] = v
	}
	cp.Collaborators = append([]string(nil), p.Collaborators...)
	return &cp
}

func (r *fakeProjectRepo) GetByID(_ context.Context, id uuid.UUID) (*project.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, project.ErrNotFound
	}
	return r.clone(p), nil
}

func (r *fakeProjectRepo) GetByOwnerName(_ context.Context, owner, name string) (*project.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.projects {
		if p.Owner == owner && p.Name == name {
			return r.clone(p), nil
		}
	}
	return nil, project.ErrNotFound
}

func (r *fakeProjectRepo) ListByOwner(_ context.Context, owner string) ([]project.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []project.Project
	for _, p := range r.projects {
		if p.Owner == owner {
			out = append(out, *r.clone(p))
		}
	}
	return out, nil
}

func (r *fakeProjectRepo) ListSharedWith(_ context.Context, username string) ([]project.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []project.Project
	for _, p := range r.projects {
		if p.HasCollaborator(username) {
			out = append(out, *r.clone(p))
		}
	}
	return out, nil
}

func (r *fakeProjectRepo) ListPublic(context.Context) ([]project.Project, error) { return nil, nil }
func (r *fakeProjectRepo) ListTransientBefore(context.Context, time.Time) ([]project.Project, error) {
	return nil, nil
}

func (r *fakeProjectRepo) Rename(_ context.Context, id uuid.UUID, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return "", project.ErrNotFound
	}
	resolved := name
	for k := 1; r.nameTaken(p.Owner, resolved, id); k++ {
		resolved = fmt.Sprintf("%s (%d)", name, k)
	}
	p.Name = resolved
	return resolved, nil
}

func (r *fakeProjectRepo) SetState(_ context.Context, id uuid.UUID, state project.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return project.ErrNotFound
	}
	p.State = state
	return nil
}

func (r *fakeProjectRepo) SetTransientSince(_ context.Context, id uuid.UUID, at *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return project.ErrNotFound
	}
	p.TransientSince = at
	return nil
}

func (r *fakeProjectRepo) SetPublic(_ context.Context, id uuid.UUID, public bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return project.ErrNotFound
	}
	p.Public = public
	return nil
}

func (r *fakeProjectRepo) AddCollaborator(_ context.Context, id uuid.UUID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return project.ErrNotFound
	}
	if !p.HasCollaborator(username) {
		p.Collaborators = append(p.Collaborators, username)
	}
	return nil
}

func (r *fakeProjectRepo) RemoveCollaborator(_ context.Context, id uuid.UUID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return project.ErrNotFound
	}
	filtered := p.Collaborators[:0]
	for _, c := range p.Collaborators {
		if c != username {
			filtered = append(filtered, c)
		}
	}
	p.Collaborators = filtered
	return nil
}

func (r *fakeProjectRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[id]; !ok {
		return project.ErrNotFound
	}
	delete(r.projects, id)
	return nil
}

func (r *fakeProjectRepo) UpsertRole(_ context.Context, projectID uuid.UUID, role project.RoleMetadata) (project.RoleMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[projectID]
	if !ok {
		return project.RoleMetadata{}, project.ErrNotFound
	}
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	role.Updated = time.Now()
	p.Roles[role.ID] = role
	return role, nil
}

func (r *fakeProjectRepo) DeleteRole(_ context.Context, projectID, roleID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[projectID]
	if !ok {
		return project.ErrNotFound
	}
	if _, ok := p.Roles[roleID]; !ok {
		return project.ErrRoleNotFound
	}
	delete(p.Roles, roleID)
	return nil
}

func (r *fakeProjectRepo) SetThumbnailKey(_ context.Context, projectID, roleID uuid.UUID, thumbnailKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[projectID]
	if !ok {
		return project.ErrNotFound
	}
	role, ok := p.Roles[roleID]
	if !ok {
		return project.ErrRoleNotFound
	}
	role.ThumbnailKey = thumbnailKey
	p.Roles[roleID] = role
	return nil
}

// ProjectInfo implements witness.ProjectLookup.
func (r *fakeProjectRepo) ProjectInfo(ctx context.Context, id uuid.UUID) (*witness.ProjectInfo, error) {
	p, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &witness.ProjectInfo{Owner: p.Owner, Collaborators: p.Collaborators, Public: p.Public}, nil
}

// testProjectsApp wires a fiber app over ProjectHandler, backed by a
// real project.Lifecycle/topology.Topology/project.RoleFetcher and a
// LocalStorage rooted at t.TempDir(), so SaveRole/fetchRoleLatest exercise
// the genuine commit-then-delete and live-fetch-fallback paths rather than
// fakes of their own.
func testProjectsApp(t *testing.T, session *witness.Session) (*fiber.App, *fakeProjectRepo, *project.Lifecycle) {
	t.Helper()
	repo := newFakeProjectRepo()
	topo := topology.New(nil, zerolog.Nop())
	storage := blob.NewLocalStorage(t.TempDir(), "http://blobs.test")
	lifecycle := project.NewLifecycle(repo, topo, storage, zerolog.Nop())
	fetcher := project.NewRoleFetcher()
	social := newFakeSocialRepo()
	minter := witness.NewMinter(repo, nil, nil, zerolog.Nop())
	handler := NewProjectHandler(lifecycle, repo, fetcher, social, minter, zerolog.Nop())

	app := fiber.New()
	app.Use(func(c fiber.Ctx) error {
		if session != nil {
			c.Locals(auth.SessionLocalsKey, *session)
		}
		return c.Next()
	})
	app.Post("/projects", handler.Create)
	app.Get("/projects/id/:id", handler.GetByID)
	app.Get("/projects/user/:owner", handler.ListByOwner)
	app.Get("/projects/shared/:user", handler.ListShared)
	app.Patch("/projects/id/:id", handler.Update)
	app.Delete("/projects/id/:id", handler.Delete)
	app.Get("/projects/id/:id/latest", handler.Latest)
	app.Get("/projects/id/:id/:role_id/latest", handler.RoleLatest)
	app.Post("/projects/id/:id/collaborators/invite/:user", handler.InviteCollaborator)
	app.Get("/projects/id/:id/collaborators", handler.Collaborators)
	app.Delete("/projects/id/:id/collaborators/:user", handler.RemoveCollaborator)

	return app, repo, lifecycle
}

func TestCreateProject(t *testing.T) {
	t.Parallel()
	app, _, _ := testProjectsApp(t, userSession("alice"))

	resp := doReq(t, app, jsonReq(http.MethodPost, "/projects", `{"name":"my project"}`))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, fiber.StatusCreated, string(body))
	}
}

func TestGetByIDPrivateProjectRejectsStranger(t *testing.T) {
	t.Parallel()
	app, repo, _ := testProjectsApp(t, userSession("mallory"))
	p, err := repo.Create(t.Context(), "alice", "private-project")
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodGet, "/projects/id/"+p.ID.String(), ""))
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusForbidden)
	}
}

func TestGetByIDPublicProjectAllowsAnonymous(t *testing.T) {
	t.Parallel()
	app, repo, _ := testProjectsApp(t, nil)
	p, err := repo.Create(t.Context(), "alice", "public-project")
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if err := repo.SetPublic(t.Context(), p.ID, true); err != nil {
		t.Fatalf("SetPublic: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodGet, "/projects/id/"+p.ID.String(), ""))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, fiber.StatusOK, string(body))
	}
}

func TestGetByIDOwnerAllowed(t *testing.T) {
	t.Parallel()
	app, repo, _ := testProjectsApp(t, userSession("alice"))
	p, err := repo.Create(t.Context(), "alice", "my-project")
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodGet, "/projects/id/"+p.ID.String(), ""))
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
}

func TestListByOwnerFiltersUnviewable(t *testing.T) {
	t.Parallel()
	app, repo, _ := testProjectsApp(t, userSession("mallory"))
	if _, err := repo.Create(t.Context(), "alice", "private-one"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	pub, err := repo.Create(t.Context(), "alice", "public-one")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repo.SetPublic(t.Context(), pub.ID, true); err != nil {
		t.Fatalf("SetPublic: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodGet, "/projects/user/alice", ""))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, fiber.StatusOK, string(body))
	}
	env := parseSuccess(t, body)
	if !strings.Contains(string(env.Data), "public-one") {
		t.Errorf("expected the public project in the listing, got %s", env.Data)
	}
	if strings.Contains(string(env.Data), "private-one") {
		t.Errorf("expected the private project to be filtered out, got %s", env.Data)
	}
}

func TestListSharedRejectsOtherUser(t *testing.T) {
	t.Parallel()
	app, _, _ := testProjectsApp(t, userSession("mallory"))

	resp := doReq(t, app, jsonReq(http.MethodGet, "/projects/shared/alice", ""))
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusForbidden)
	}
}

func TestListSharedAllowsAdmin(t *testing.T) {
	t.Parallel()
	app, repo, _ := testProjectsApp(t, adminSession())
	p, err := repo.Create(t.Context(), "alice", "shared-project")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repo.AddCollaborator(t.Context(), p.ID, "bob"); err != nil {
		t.Fatalf("AddCollaborator: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodGet, "/projects/shared/bob", ""))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, fiber.StatusOK, string(body))
	}
}

func TestUpdateProjectRename(t *testing.T) {
	t.Parallel()
	app, repo, _ := testProjectsApp(t, userSession("alice"))
	p, err := repo.Create(t.Context(), "alice", "old-name")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodPatch, "/projects/id/"+p.ID.String(), `{"name":"new-name"}`))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, fiber.StatusOK, string(body))
	}
	renamed, err := repo.GetByID(t.Context(), p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if renamed.Name != "new-name" {
		t.Errorf("name = %q, want %q", renamed.Name, "new-name")
	}
}

func TestUpdateProjectRejectsNonCollaborator(t *testing.T) {
	t.Parallel()
	app, repo, _ := testProjectsApp(t, userSession("mallory"))
	p, err := repo.Create(t.Context(), "alice", "old-name")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodPatch, "/projects/id/"+p.ID.String(), `{"name":"new-name"}`))
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusForbidden)
	}
}

func TestUpdateProjectSetPublicAndSaved(t *testing.T) {
	t.Parallel()
	app, repo, _ := testProjectsApp(t, userSession("alice"))
	p, err := repo.Create(t.Context(), "alice", "proj")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodPatch, "/projects/id/"+p.ID.String(), `{"public":true,"saved":true}`))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	updated, err := repo.GetByID(t.Context(), p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !updated.Public {
		t.Error("expected project to be public")
	}
	if updated.State != project.StateSaved {
		t.Errorf("state = %q, want %q", updated.State, project.StateSaved)
	}
}

func TestDeleteProjectAsCollaborator(t *testing.T) {
	t.Parallel()
	app, repo, _ := testProjectsApp(t, userSession("bob"))
	p, err := repo.Create(t.Context(), "alice", "proj")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repo.AddCollaborator(t.Context(), p.ID, "bob"); err != nil {
		t.Fatalf("AddCollaborator: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodDelete, "/projects/id/"+p.ID.String(), ""))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, err := repo.GetByID(t.Context(), p.ID); err != project.ErrNotFound {
		t.Errorf("expected project deleted, got err = %v", err)
	}
}

func TestLatestFallsBackToStoredBlobWhenNoOccupant(t *testing.T) {
	t.Parallel()
	app, repo, lifecycle := testProjectsApp(t, userSession("alice"))
	p, err := repo.Create(t.Context(), "alice", "proj")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	role, err := lifecycle.SaveRole(t.Context(), p.ID, uuid.Nil, "myRole",
		bytes.NewReader([]byte("script pixels go here")), bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("SaveRole: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodGet, "/projects/id/"+p.ID.String()+"/"+role.ID.String()+"/latest", ""))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, fiber.StatusOK, string(body))
	}
	env := parseSuccess(t, body)
	if !strings.Contains(string(env.Data), `"live":false`) {
		t.Errorf("expected a non-live fallback response, got %s", env.Data)
	}
}

func TestLatestAllRoles(t *testing.T) {
	t.Parallel()
	app, repo, lifecycle := testProjectsApp(t, userSession("alice"))
	p, err := repo.Create(t.Context(), "alice", "proj")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := lifecycle.SaveRole(t.Context(), p.ID, uuid.Nil, "roleOne", bytes.NewReader([]byte("one")), bytes.NewReader(nil)); err != nil {
		t.Fatalf("SaveRole: %v", err)
	}
	if _, err := lifecycle.SaveRole(t.Context(), p.ID, uuid.Nil, "roleTwo", bytes.NewReader([]byte("two")), bytes.NewReader(nil)); err != nil {
		t.Fatalf("SaveRole: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodGet, "/projects/id/"+p.ID.String()+"/latest", ""))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, fiber.StatusOK, string(body))
	}
	env := parseSuccess(t, body)
	if !strings.Contains(string(env.Data), "roleOne") || !strings.Contains(string(env.Data), "roleTwo") {
		t.Errorf("expected both roles in the response, got %s", env.Data)
	}
}

func TestRoleLatestUnknownRole(t *testing.T) {
	t.Parallel()
	app, repo, _ := testProjectsApp(t, userSession("alice"))
	p, err := repo.Create(t.Context(), "alice", "proj")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodGet, "/projects/id/"+p.ID.String()+"/"+uuid.New().String()+"/latest", ""))
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusNotFound)
	}
}

func TestInviteCollaborator(t *testing.T) {
	t.Parallel()
	app, repo, _ := testProjectsApp(t, userSession("alice"))
	p, err := repo.Create(t.Context(), "alice", "proj")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodPost, "/projects/id/"+p.ID.String()+"/collaborators/invite/bob", ""))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, fiber.StatusCreated, string(body))
	}
}

func TestInviteCollaboratorRejectsNonEditor(t *testing.T) {
	t.Parallel()
	app, repo, _ := testProjectsApp(t, userSession("mallory"))
	p, err := repo.Create(t.Context(), "alice", "proj")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodPost, "/projects/id/"+p.ID.String()+"/collaborators/invite/bob", ""))
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusForbidden)
	}
}

func TestCollaboratorsListAndRemove(t *testing.T) {
	t.Parallel()
	app, repo, _ := testProjectsApp(t, userSession("alice"))
	p, err := repo.Create(t.Context(), "alice", "proj")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repo.AddCollaborator(t.Context(), p.ID, "bob"); err != nil {
		t.Fatalf("AddCollaborator: %v", err)
	}

	listResp := doReq(t, app, jsonReq(http.MethodGet, "/projects/id/"+p.ID.String()+"/collaborators", ""))
	listBody := readBody(t, listResp)
	if listResp.StatusCode != fiber.StatusOK {
		t.Fatalf("list status = %d, want %d; body = %s", listResp.StatusCode, fiber.StatusOK, string(listBody))
	}
	if !strings.Contains(string(listBody), "bob") {
		t.Errorf("expected bob in collaborators, got %s", listBody)
	}

	removeResp := doReq(t, app, jsonReq(http.MethodDelete, "/projects/id/"+p.ID.String()+"/collaborators/bob", ""))
	if removeResp.StatusCode != fiber.StatusOK {
		t.Fatalf("remove status = %d", removeResp.StatusCode)
	}
	updated, err := repo.GetByID(t.Context(), p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.HasCollaborator("bob") {
		t.Error("expected bob to be removed from collaborators")
	}
}
