package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/auth"
	"github.com/netsbox/control-plane/internal/blob"
	"github.com/netsbox/control-plane/internal/library"
	"github.com/netsbox/control-plane/internal/witness"
)

// fakeLibraryRepo is an in-memory library.Repository, the same shape as
// internal/library's own memRepo test fixture.
type fakeLibraryRepo struct {
	libs map[string]library.Library
}

func newFakeLibraryRepo() *fakeLibraryRepo {
	return &fakeLibraryRepo{libs: make(map[string]library.Library)}
}

func libraryKey(owner, name string) string { return owner + "/" + name }

func (r *fakeLibraryRepo) Upsert(_ context.Context, lib library.Library) (library.Library, error) {
	r.libs[libraryKey(lib.Owner, lib.Name)] = lib
	return lib, nil
}

func (r *fakeLibraryRepo) Get(_ context.Context, owner, name string) (library.Library, error) {
	lib, ok := r.libs[libraryKey(owner, name)]
	if !ok {
		return library.Library{}, library.ErrNotFound
	}
	return lib, nil
}

func (r *fakeLibraryRepo) ListByOwner(_ context.Context, owner string) ([]library.Library, error) {
	var out []library.Library
	for _, lib := range r.libs {
		if lib.Owner == owner {
			out = append(out, lib)
		}
	}
	return out, nil
}

func (r *fakeLibraryRepo) ListApproved(_ context.Context) ([]library.Library, error) {
	var out []library.Library
	for _, lib := range r.libs {
		if lib.Approved {
			out = append(out, lib)
		}
	}
	return out, nil
}

func (r *fakeLibraryRepo) ListNeedsReview(_ context.Context) ([]library.Library, error) {
	var out []library.Library
	for _, lib := range r.libs {
		if lib.NeedsReview {
			out = append(out, lib)
		}
	}
	return out, nil
}

func (r *fakeLibraryRepo) SetApproval(_ context.Context, owner, name string, approved, needsReview bool) error {
	k := libraryKey(owner, name)
	lib, ok := r.libs[k]
	if !ok {
		return library.ErrNotFound
	}
	lib.Approved = approved
	lib.NeedsReview = needsReview
	r.libs[k] = lib
	return nil
}

func (r *fakeLibraryRepo) Delete(_ context.Context, owner, name string) error {
	k := libraryKey(owner, name)
	if _, ok := r.libs[k]; !ok {
		return library.ErrNotFound
	}
	delete(r.libs, k)
	return nil
}

func testLibrariesApp(t *testing.T, session *witness.Session) (*fiber.App, *fakeLibraryRepo) {
	t.Helper()
	repo := newFakeLibraryRepo()
	storage := blob.NewLocalStorage(t.TempDir(), "http://blobs.test")
	manager := library.NewManager(repo, storage)
	minter := witness.NewMinter(nil, nil, nil, zerolog.Nop())
	handler := NewLibraryHandler(manager, repo, minter, zerolog.Nop())

	app := fiber.New()
	app.Use(func(c fiber.Ctx) error {
		if session != nil {
			c.Locals(auth.SessionLocalsKey, *session)
		}
		return c.Next()
	})
	app.Get("/libraries/community", handler.Community)
	app.Get("/libraries/user/:user", handler.ListByOwner)
	app.Post("/libraries/user/:user/:name", handler.Publish)
	app.Delete("/libraries/user/:user/:name", handler.Delete)
	app.Post("/libraries/user/:user/:name/publish", handler.Resubmit)
	app.Post("/libraries/community/:owner/:name/approve", handler.Approve)

	return app, repo
}

func publishBody(notes, content string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	return `{"notes":"` + notes + `","content":"` + encoded + `"}`
}

func TestPublishLibraryAsOwner(t *testing.T) {
	t.Parallel()
	app, repo := testLibrariesApp(t, userSession("alice"))

	resp := doReq(t, app, jsonReq(http.MethodPost, "/libraries/user/alice/my-blocks", publishBody("handy helpers", "<block>content</block>")))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, fiber.StatusCreated, string(body))
	}
	lib, err := repo.Get(t.Context(), "alice", "my-blocks")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if lib.Approved {
		t.Error("a freshly published library should not start approved")
	}
}

func TestPublishLibraryRejectsOtherUser(t *testing.T) {
	t.Parallel()
	app, _ := testLibrariesApp(t, userSession("mallory"))

	resp := doReq(t, app, jsonReq(http.MethodPost, "/libraries/user/alice/my-blocks", publishBody("", "content")))
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusForbidden)
	}
}

func TestPublishLibraryRejectsMalformedContent(t *testing.T) {
	t.Parallel()
	app, _ := testLibrariesApp(t, userSession("alice"))

	resp := doReq(t, app, jsonReq(http.MethodPost, "/libraries/user/alice/my-blocks", `{"notes":"x","content":"not-valid-base64!!"}`))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}
}

func TestPublishFlagsDenylistedContentForReview(t *testing.T) {
	t.Parallel()
	app, repo := testLibrariesApp(t, userSession("alice"))

	resp := doReq(t, app, jsonReq(http.MethodPost, "/libraries/user/alice/my-blocks", publishBody("", "this project uses a slur in a comment")))
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	lib, err := repo.Get(t.Context(), "alice", "my-blocks")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !lib.NeedsReview {
		t.Error("expected denylisted content to be flagged for review")
	}
}

func TestCommunityListsOnlyApproved(t *testing.T) {
	t.Parallel()
	app, repo := testLibrariesApp(t, nil)
	if _, err := repo.Upsert(t.Context(), library.Library{Owner: "alice", Name: "approved-lib", Approved: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := repo.Upsert(t.Context(), library.Library{Owner: "alice", Name: "pending-lib", Approved: false}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodGet, "/libraries/community", ""))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, fiber.StatusOK, string(body))
	}
	env := parseSuccess(t, body)
	if got := string(env.Data); !strings.Contains(got, "approved-lib") || strings.Contains(got, "pending-lib") {
		t.Errorf("expected only the approved library, got %s", got)
	}
}

func TestDeleteLibraryAsOwner(t *testing.T) {
	t.Parallel()
	app, repo := testLibrariesApp(t, userSession("alice"))
	if _, err := repo.Upsert(t.Context(), library.Library{Owner: "alice", Name: "my-blocks"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodDelete, "/libraries/user/alice/my-blocks", ""))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, err := repo.Get(t.Context(), "alice", "my-blocks"); err != library.ErrNotFound {
		t.Errorf("expected library deleted, got err = %v", err)
	}
}

func TestResubmitRerunsModerationScan(t *testing.T) {
	t.Parallel()
	app, repo := testLibrariesApp(t, userSession("alice"))
	publishResp := doReq(t, app, jsonReq(http.MethodPost, "/libraries/user/alice/my-blocks", publishBody("clean notes", "clean content")))
	if publishResp.StatusCode != fiber.StatusCreated {
		t.Fatalf("publish status = %d", publishResp.StatusCode)
	}
	if err := repo.SetApproval(t.Context(), "alice", "my-blocks", true, false); err != nil {
		t.Fatalf("SetApproval: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodPost, "/libraries/user/alice/my-blocks/publish", ""))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, fiber.StatusOK, string(body))
	}
	lib, err := repo.Get(t.Context(), "alice", "my-blocks")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if lib.Approved {
		t.Error("resubmitting should reset approval until a moderator re-approves")
	}
}

func TestApproveRequiresModerator(t *testing.T) {
	t.Parallel()
	app, repo := testLibrariesApp(t, userSession("alice"))
	if _, err := repo.Upsert(t.Context(), library.Library{Owner: "bob", Name: "their-blocks", NeedsReview: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodPost, "/libraries/community/bob/their-blocks/approve", ""))
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusForbidden)
	}
}

func TestApproveAsAdmin(t *testing.T) {
	t.Parallel()
	app, repo := testLibrariesApp(t, adminSession())
	if _, err := repo.Upsert(t.Context(), library.Library{Owner: "bob", Name: "their-blocks", NeedsReview: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := doReq(t, app, jsonReq(http.MethodPost, "/libraries/community/bob/their-blocks/approve", ""))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	lib, err := repo.Get(t.Context(), "bob", "their-blocks")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !lib.Approved {
		t.Error("expected library to be approved")
	}
}
