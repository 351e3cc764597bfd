package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/apierrors"
	"github.com/netsbox/control-plane/internal/httputil"
	"github.com/netsbox/control-plane/internal/library"
	"github.com/netsbox/control-plane/internal/witness"
)

// LibraryHandler serves the community library endpoints of spec.md §6 and
// §4.7.
type LibraryHandler struct {
	manager *library.Manager
	repo    library.Repository
	minter  *witness.Minter
	log     zerolog.Logger
}

// NewLibraryHandler builds a LibraryHandler.
func NewLibraryHandler(manager *library.Manager, repo library.Repository, minter *witness.Minter, log zerolog.Logger) *LibraryHandler {
	return &LibraryHandler{manager: manager, repo: repo, minter: minter, log: log.With().Str("component", "api.libraries").Logger()}
}

type libraryView struct {
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Notes       string `json:"notes"`
	Approved    bool   `json:"approved"`
	NeedsReview bool   `json:"needs_review"`
}

func toLibraryView(l library.Library) libraryView {
	return libraryView{Owner: l.Owner, Name: l.Name, Notes: l.Notes, Approved: l.Approved, NeedsReview: l.NeedsReview}
}

// Community handles GET /libraries/community, listing approved libraries.
func (h *LibraryHandler) Community(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	libs, err := h.repo.ListApproved(ctx)
	if err != nil {
		return respondErr(c, mapLibraryErr(err))
	}
	views := make([]libraryView, 0, len(libs))
	for _, l := range libs {
		views = append(views, toLibraryView(l))
	}
	return httputil.Success(c, views)
}

// ListByOwner handles GET /libraries/user/{user}.
func (h *LibraryHandler) ListByOwner(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	libs, err := h.repo.ListByOwner(ctx, c.Params("user"))
	if err != nil {
		return respondErr(c, mapLibraryErr(err))
	}
	views := make([]libraryView, 0, len(libs))
	for _, l := range libs {
		views = append(views, toLibraryView(l))
	}
	return httputil.Success(c, views)
}

type publishLibraryBody struct {
	Notes   string `json:"notes"`
	Content string `json:"content"` // base64-encoded block XML
}

// Publish handles POST /libraries/user/{user}/{name}: upload or replace a
// library's content, resetting its approval per spec.md §4.7.
func (h *LibraryHandler) Publish(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	owner := c.Params("user")
	if session.Username != owner {
		if _, err := h.minter.MintEditLibrary(session, owner); err != nil {
			return respondErr(c, err)
		}
	}

	var body publishLibraryBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}
	raw, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "content must be base64-encoded")
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	lib, err := h.manager.Publish(ctx, owner, c.Params("name"), body.Notes, bytes.NewReader(raw))
	if err != nil {
		return respondErr(c, mapLibraryErr(err))
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, toLibraryView(lib))
}

// Delete handles DELETE /libraries/user/{user}/{name}.
func (h *LibraryHandler) Delete(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	owner := c.Params("user")
	if session.Username != owner {
		if _, err := h.minter.MintEditLibrary(session, owner); err != nil {
			return respondErr(c, err)
		}
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if err := h.manager.Delete(ctx, owner, c.Params("name")); err != nil {
		return respondErr(c, mapLibraryErr(err))
	}
	return httputil.Success(c, fiber.Map{"deleted": true})
}

// Resubmit handles POST /libraries/user/{user}/{name}/publish: re-runs the
// moderation scan against the already-uploaded content, for an owner who
// wants another review pass without re-uploading (e.g. after editing notes
// through a future endpoint, or after a denylist update).
func (h *LibraryHandler) Resubmit(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	owner := c.Params("user")
	if session.Username != owner {
		if _, err := h.minter.MintEditLibrary(session, owner); err != nil {
			return respondErr(c, err)
		}
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	name := c.Params("name")
	existing, err := h.repo.Get(ctx, owner, name)
	if err != nil {
		return respondErr(c, mapLibraryErr(err))
	}
	content, err := h.manager.Content(ctx, owner, name)
	if err != nil {
		return respondErr(c, mapLibraryErr(err))
	}
	defer content.Close()
	raw, err := io.ReadAll(content)
	if err != nil {
		return respondErr(c, err)
	}

	lib, err := h.manager.Publish(ctx, owner, name, existing.Notes, bytes.NewReader(raw))
	if err != nil {
		return respondErr(c, mapLibraryErr(err))
	}
	return httputil.Success(c, toLibraryView(lib))
}

// Approve handles POST /libraries/community/{owner}/{name}/approve.
func (h *LibraryHandler) Approve(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	if _, err := h.minter.MintModerateLibrary(session); err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if err := h.manager.Approve(ctx, c.Params("owner"), c.Params("name")); err != nil {
		return respondErr(c, mapLibraryErr(err))
	}
	return httputil.Success(c, fiber.Map{"approved": true})
}

func mapLibraryErr(err error) error {
	switch {
	case errors.Is(err, library.ErrNotFound):
		return apierrors.Wrap(apierrors.NotFound, "library not found", err)
	case errors.Is(err, library.ErrNameExists):
		return apierrors.Wrap(apierrors.Conflict, err.Error(), err)
	default:
		return err
	}
}
