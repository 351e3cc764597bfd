package api

import (
	"context"
	"encoding/base64"
	"errors"
	"io"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/apierrors"
	"github.com/netsbox/control-plane/internal/httputil"
	"github.com/netsbox/control-plane/internal/project"
	"github.com/netsbox/control-plane/internal/social"
	"github.com/netsbox/control-plane/internal/witness"
)

// ProjectHandler serves the project and role endpoints of spec.md §6,
// bridging HTTP requests onto project.Lifecycle and project.RoleFetcher.
type ProjectHandler struct {
	lifecycle *project.Lifecycle
	repo      project.Repository
	fetcher   *project.RoleFetcher
	social    social.Repository
	minter    *witness.Minter
	log       zerolog.Logger
}

// NewProjectHandler builds a ProjectHandler.
func NewProjectHandler(lifecycle *project.Lifecycle, repo project.Repository, fetcher *project.RoleFetcher, socialRepo social.Repository, minter *witness.Minter, log zerolog.Logger) *ProjectHandler {
	return &ProjectHandler{lifecycle: lifecycle, repo: repo, fetcher: fetcher, social: socialRepo, minter: minter, log: log.With().Str("component", "api.projects").Logger()}
}

type roleView struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Updated string    `json:"updated"`
}

type projectView struct {
	ID            uuid.UUID  `json:"id"`
	Owner         string     `json:"owner"`
	Name          string     `json:"name"`
	State         string     `json:"state"`
	Public        bool       `json:"public"`
	Collaborators []string   `json:"collaborators"`
	Roles         []roleView `json:"roles"`
}

func toProjectView(p *project.Project) projectView {
	roles := make([]roleView, 0, len(p.Roles))
	for _, r := range p.Roles {
		roles = append(roles, roleView{ID: r.ID, Name: r.Name, Updated: r.Updated.Format("2006-01-02T15:04:05Z07:00")})
	}
	return projectView{
		ID:            p.ID,
		Owner:         p.Owner,
		Name:          p.Name,
		State:         string(p.State),
		Public:        p.Public,
		Collaborators: p.Collaborators,
		Roles:         roles,
	}
}

type createProjectBody struct {
	Name string `json:"name"`
}

// Create handles POST /projects.
func (h *ProjectHandler) Create(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	var body createProjectBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	p, err := h.lifecycle.CreateProject(ctx, session.Username, body.Name)
	if err != nil {
		return respondErr(c, mapProjectErr(err))
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, toProjectView(p))
}

// GetByID handles GET /projects/id/{id}.
func (h *ProjectHandler) GetByID(c fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintViewProject(ctx, optionalSession(c), id); err != nil {
		return respondErr(c, err)
	}
	p, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return respondErr(c, mapProjectErr(err))
	}
	return httputil.Success(c, toProjectView(p))
}

// ListByOwner handles GET /projects/user/{owner}, returning every project of
// owner's the caller is permitted to view.
func (h *ProjectHandler) ListByOwner(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	projects, err := h.repo.ListByOwner(ctx, c.Params("owner"))
	if err != nil {
		return respondErr(c, mapProjectErr(err))
	}
	session := optionalSession(c)
	views := make([]projectView, 0, len(projects))
	for i := range projects {
		if _, err := h.minter.MintViewProject(ctx, session, projects[i].ID); err != nil {
			continue
		}
		views = append(views, toProjectView(&projects[i]))
	}
	return httputil.Success(c, views)
}

// ListShared handles GET /projects/shared/{user}, listing projects on which
// user is a collaborator. Restricted to the user themself or an admin,
// since collaborator lists are not otherwise public.
func (h *ProjectHandler) ListShared(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	target := c.Params("user")
	if session.Username != target {
		if _, err := h.minter.MintIsAdmin(session); err != nil {
			return respondErr(c, err)
		}
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	projects, err := h.repo.ListSharedWith(ctx, target)
	if err != nil {
		return respondErr(c, mapProjectErr(err))
	}
	views := make([]projectView, 0, len(projects))
	for i := range projects {
		views = append(views, toProjectView(&projects[i]))
	}
	return httputil.Success(c, views)
}

type updateProjectBody struct {
	Name   *string `json:"name"`
	Public *bool   `json:"public"`
	Saved  *bool   `json:"saved"`
}

// Update handles PATCH /projects/id/{id}: rename, publish/unpublish, and
// mark-saved, applied in that order when multiple fields are present.
func (h *ProjectHandler) Update(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}

	var body updateProjectBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintEditProject(ctx, session, id); err != nil {
		return respondErr(c, err)
	}

	var renamed string
	if body.Name != nil {
		renamed, err = h.lifecycle.RenameProject(ctx, id, *body.Name)
		if err != nil {
			return respondErr(c, mapProjectErr(err))
		}
	}
	if body.Public != nil {
		if err := h.lifecycle.SetPublic(ctx, id, *body.Public); err != nil {
			return respondErr(c, mapProjectErr(err))
		}
	}
	if body.Saved != nil && *body.Saved {
		if err := h.lifecycle.MarkSaved(ctx, id); err != nil {
			return respondErr(c, mapProjectErr(err))
		}
	}

	resp := fiber.Map{"updated": true}
	if renamed != "" {
		resp["name"] = renamed
	}
	return httputil.Success(c, resp)
}

// Delete handles DELETE /projects/id/{id}.
func (h *ProjectHandler) Delete(c fiber.Ctx) error {
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

	if _, err := h.minter.MintEditProject(ctx, session, id); err != nil {
		return respondErr(c, err)
	}
	if err := h.lifecycle.DeleteProject(ctx, id); err != nil {
		return respondErr(c, mapProjectErr(err))
	}
	return httputil.Success(c, fiber.Map{"deleted": true})
}

type roleContent struct {
	RoleID  uuid.UUID `json:"role_id"`
	Name    string    `json:"name"`
	Content string    `json:"content"`
	Live    bool      `json:"live"`
}

// Latest handles GET /projects/id/{id}/latest: every role's current source,
// preferring a live fetch from a connected occupant over the last saved
// blob, per spec.md §4.4's role-data fetch protocol.
func (h *ProjectHandler) Latest(c fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintViewProject(ctx, optionalSession(c), id); err != nil {
		return respondErr(c, err)
	}
	p, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return respondErr(c, mapProjectErr(err))
	}

	contents := make([]roleContent, 0, len(p.Roles))
	for roleID, role := range p.Roles {
		rc, err := h.fetchRoleLatest(ctx, id, roleID, role)
		if err != nil {
			return respondErr(c, mapProjectErr(err))
		}
		contents = append(contents, rc)
	}
	return httputil.Success(c, contents)
}

// RoleLatest handles GET /projects/id/{id}/{role_id}/latest.
func (h *ProjectHandler) RoleLatest(c fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}
	roleID, err := parseUUID(c.Params("role_id"))
	if err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintViewProject(ctx, optionalSession(c), id); err != nil {
		return respondErr(c, err)
	}
	p, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return respondErr(c, mapProjectErr(err))
	}
	role, ok := p.Roles[roleID]
	if !ok {
		return respondErr(c, apierrors.New(apierrors.NotFound, "role not found"))
	}
	rc, err := h.fetchRoleLatest(ctx, id, roleID, role)
	if err != nil {
		return respondErr(c, mapProjectErr(err))
	}
	return httputil.Success(c, rc)
}

func (h *ProjectHandler) fetchRoleLatest(ctx context.Context, projectID, roleID uuid.UUID, role project.RoleMetadata) (roleContent, error) {
	data, err := h.fetcher.Fetch(ctx, h.lifecycle.Topology(), projectID, roleID, project.DefaultRoleFetchTimeout)
	if err == nil {
		return roleContent{RoleID: roleID, Name: role.Name, Content: string(data), Live: true}, nil
	}
	if !errors.Is(err, project.ErrNoRoleOccupant) && !errors.Is(err, project.ErrRoleFetchTimeout) {
		return roleContent{}, err
	}

	rc, err := h.lifecycle.Storage().Get(ctx, role.CodeKey)
	if err != nil {
		return roleContent{}, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return roleContent{}, err
	}
	return roleContent{RoleID: roleID, Name: role.Name, Content: base64.StdEncoding.EncodeToString(raw), Live: false}, nil
}

// InviteCollaborator handles POST /projects/id/{id}/collaborators/invite/{user}.
func (h *ProjectHandler) InviteCollaborator(c fiber.Ctx) error {
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

	if _, err := h.minter.MintEditProject(ctx, session, id); err != nil {
		return respondErr(c, err)
	}
	invite, err := h.social.SendCollaborationInvite(ctx, id, session.Username, c.Params("user"))
	if err != nil {
		return respondErr(c, mapSocialErr(err))
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, fiber.Map{"invite_id": invite.ID})
}

// Collaborators handles GET /projects/id/{id}/collaborators.
func (h *ProjectHandler) Collaborators(c fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintViewProject(ctx, optionalSession(c), id); err != nil {
		return respondErr(c, err)
	}
	p, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return respondErr(c, mapProjectErr(err))
	}
	return httputil.Success(c, p.Collaborators)
}

// RemoveCollaborator handles DELETE /projects/id/{id}/collaborators/{user}.
func (h *ProjectHandler) RemoveCollaborator(c fiber.Ctx) error {
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

	if _, err := h.minter.MintEditProject(ctx, session, id); err != nil {
		return respondErr(c, err)
	}
	if err := h.lifecycle.RemoveCollaborator(ctx, id, c.Params("user")); err != nil {
		return respondErr(c, mapProjectErr(err))
	}
	return httputil.Success(c, fiber.Map{"removed": true})
}

func mapProjectErr(err error) error {
	switch {
	case errors.Is(err, project.ErrNotFound):
		return apierrors.Wrap(apierrors.NotFound, "project not found", err)
	case errors.Is(err, project.ErrRoleNotFound):
		return apierrors.Wrap(apierrors.NotFound, "role not found", err)
	case errors.Is(err, project.ErrNoRoleOccupant), errors.Is(err, project.ErrRoleFetchTimeout):
		return apierrors.Wrap(apierrors.RoleFetchTimeout, err.Error(), err)
	case errors.Is(err, project.ErrConcurrentUpdate):
		return apierrors.Wrap(apierrors.Conflict, err.Error(), err)
	default:
		return err
	}
}

func mapSocialErr(err error) error {
	switch {
	case errors.Is(err, social.ErrInviteExists):
		return apierrors.Wrap(apierrors.Conflict, err.Error(), err)
	case errors.Is(err, social.ErrInviteNotFound):
		return apierrors.Wrap(apierrors.NotFound, err.Error(), err)
	case errors.Is(err, social.ErrBlocked):
		return apierrors.Wrap(apierrors.Forbidden, err.Error(), err)
	case errors.Is(err, social.ErrNotFriends):
		return apierrors.Wrap(apierrors.Conflict, err.Error(), err)
	case errors.Is(err, social.ErrNotBlocked):
		return apierrors.Wrap(apierrors.Conflict, err.Error(), err)
	default:
		return err
	}
}
