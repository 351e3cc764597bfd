package api

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/apierrors"
	"github.com/netsbox/control-plane/internal/httputil"
	"github.com/netsbox/control-plane/internal/social"
	"github.com/netsbox/control-plane/internal/topology"
)

// FriendHandler serves the friend/block graph endpoints of spec.md §6.
type FriendHandler struct {
	social social.Repository
	topo   *topology.Topology
	log    zerolog.Logger
}

// NewFriendHandler builds a FriendHandler.
func NewFriendHandler(socialRepo social.Repository, topo *topology.Topology, log zerolog.Logger) *FriendHandler {
	return &FriendHandler{social: socialRepo, topo: topo, log: log.With().Str("component", "api.friends").Logger()}
}

// requireSelf rejects the request unless the caller is acting as pathUser,
// since every friend-graph mutation is scoped to the authenticated user's
// own edges.
func requireSelf(c fiber.Ctx, pathUser string) error {
	session, err := requireSession(c)
	if err != nil {
		return err
	}
	if session.Username != pathUser {
		return apierrors.New(apierrors.Forbidden, "cannot act on another user's social graph")
	}
	return nil
}

// Invite handles POST /friends/{user}/invite/{other}.
func (h *FriendHandler) Invite(c fiber.Ctx) error {
	if err := requireSelf(c, c.Params("user")); err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	invite, autoAccepted, err := h.social.SendFriendInvite(ctx, c.Params("user"), c.Params("other"))
	if err != nil {
		return respondErr(c, mapSocialErr(err))
	}
	if autoAccepted {
		return httputil.Success(c, fiber.Map{"auto_accepted": true})
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, fiber.Map{"invite_id": invite.ID})
}

// Respond handles POST /friends/{user}/respond/{inviter}?action=accept|reject.
func (h *FriendHandler) Respond(c fiber.Ctx) error {
	if err := requireSelf(c, c.Params("user")); err != nil {
		return respondErr(c, err)
	}
	action := c.Query("action")
	if action != "accept" && action != "reject" {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "action must be accept or reject")
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if err := h.social.RespondFriendInvite(ctx, c.Params("inviter"), c.Params("user"), action == "accept"); err != nil {
		return respondErr(c, mapSocialErr(err))
	}
	return httputil.Success(c, fiber.Map{"accepted": action == "accept"})
}

// Remove handles DELETE /friends/{user}/{other}.
func (h *FriendHandler) Remove(c fiber.Ctx) error {
	if err := requireSelf(c, c.Params("user")); err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if err := h.social.RemoveFriend(ctx, c.Params("user"), c.Params("other")); err != nil {
		return respondErr(c, mapSocialErr(err))
	}
	return httputil.Success(c, fiber.Map{"removed": true})
}

// Block handles POST /friends/{user}/block/{other}.
func (h *FriendHandler) Block(c fiber.Ctx) error {
	if err := requireSelf(c, c.Params("user")); err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if err := h.social.Block(ctx, c.Params("user"), c.Params("other")); err != nil {
		return respondErr(c, mapSocialErr(err))
	}
	return httputil.Success(c, fiber.Map{"blocked": true})
}

// List handles GET /friends/{user}.
func (h *FriendHandler) List(c fiber.Ctx) error {
	if err := requireSelf(c, c.Params("user")); err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	friends, err := h.social.Friends(ctx, c.Params("user"))
	if err != nil {
		return respondErr(c, mapSocialErr(err))
	}
	return httputil.Success(c, friends)
}

// Online handles GET /friends/{user}/online, listing which of user's
// friends currently hold a live websocket connection.
func (h *FriendHandler) Online(c fiber.Ctx) error {
	if err := requireSelf(c, c.Params("user")); err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	friends, err := h.social.Friends(ctx, c.Params("user"))
	if err != nil {
		return respondErr(c, mapSocialErr(err))
	}
	online := make([]string, 0, len(friends))
	for _, f := range friends {
		if h.topo.IsOnline(f) {
			online = append(online, f)
		}
	}
	return httputil.Success(c, online)
}
