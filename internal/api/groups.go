package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/apierrors"
	"github.com/netsbox/control-plane/internal/group"
	"github.com/netsbox/control-plane/internal/httputil"
	"github.com/netsbox/control-plane/internal/witness"
)

// GroupHandler serves the group CRUD endpoints of spec.md §6.
type GroupHandler struct {
	groups group.Repository
	minter *witness.Minter
	log    zerolog.Logger
}

// NewGroupHandler builds a GroupHandler.
func NewGroupHandler(groups group.Repository, minter *witness.Minter, log zerolog.Logger) *GroupHandler {
	return &GroupHandler{groups: groups, minter: minter, log: log.With().Str("component", "api.groups").Logger()}
}

type groupView struct {
	ID    uuid.UUID `json:"id"`
	Owner string    `json:"owner"`
	Name  string    `json:"name"`
}

func toGroupView(g *group.Group) groupView {
	return groupView{ID: g.ID, Owner: g.OwnerUsername, Name: g.Name}
}

type createGroupBody struct {
	Name string `json:"name"`
}

// Create handles POST /groups.
func (h *GroupHandler) Create(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}

	var body createGroupBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	g, err := h.groups.Create(ctx, session.Username, body.Name)
	if err != nil {
		return respondErr(c, mapGroupErr(err))
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, toGroupView(g))
}

// List handles GET /groups, listing the caller's own groups.
func (h *GroupHandler) List(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	groups, err := h.groups.ListByOwner(ctx, session.Username)
	if err != nil {
		return respondErr(c, mapGroupErr(err))
	}
	views := make([]groupView, 0, len(groups))
	for i := range groups {
		views = append(views, toGroupView(&groups[i]))
	}
	return httputil.Success(c, views)
}

// Get handles GET /groups/{id}.
func (h *GroupHandler) Get(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintEditGroup(ctx, session, id); err != nil {
		return respondErr(c, err)
	}
	g, err := h.groups.Get(ctx, id)
	if err != nil {
		return respondErr(c, mapGroupErr(err))
	}
	return httputil.Success(c, toGroupView(g))
}

type renameGroupBody struct {
	Name string `json:"name"`
}

// Update handles PATCH /groups/{id}.
func (h *GroupHandler) Update(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}

	var body renameGroupBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintEditGroup(ctx, session, id); err != nil {
		return respondErr(c, err)
	}
	if err := h.groups.Rename(ctx, id, body.Name); err != nil {
		return respondErr(c, mapGroupErr(err))
	}
	return httputil.Success(c, fiber.Map{"renamed": true})
}

// Delete handles DELETE /groups/{id}.
func (h *GroupHandler) Delete(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintEditGroup(ctx, session, id); err != nil {
		return respondErr(c, err)
	}
	if err := h.groups.Delete(ctx, id); err != nil {
		return respondErr(c, mapGroupErr(err))
	}
	return httputil.Success(c, fiber.Map{"deleted": true})
}

// Members handles GET /groups/{id}/members.
func (h *GroupHandler) Members(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintEditGroup(ctx, session, id); err != nil {
		return respondErr(c, err)
	}
	members, err := h.groups.Members(ctx, id)
	if err != nil {
		return respondErr(c, mapGroupErr(err))
	}
	return httputil.Success(c, members)
}

func mapGroupErr(err error) error {
	switch {
	case errors.Is(err, group.ErrNotFound):
		return apierrors.Wrap(apierrors.NotFound, "group not found", err)
	case errors.Is(err, group.ErrNameTaken):
		return apierrors.Wrap(apierrors.Conflict, err.Error(), err)
	default:
		return err
	}
}
