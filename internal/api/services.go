package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/apierrors"
	"github.com/netsbox/control-plane/internal/httputil"
	"github.com/netsbox/control-plane/internal/servicehost"
	"github.com/netsbox/control-plane/internal/witness"
)

// ServiceHostHandler serves the per-user/per-group service-host settings
// endpoints of spec.md §6 and §4.7, plus the admin-only host registry
// endpoints layered over servicehost.Manager.
type ServiceHostHandler struct {
	repo   servicehost.Repository
	mgr    *servicehost.Manager
	minter *witness.Minter
	log    zerolog.Logger
}

// NewServiceHostHandler builds a ServiceHostHandler.
func NewServiceHostHandler(repo servicehost.Repository, mgr *servicehost.Manager, minter *witness.Minter, log zerolog.Logger) *ServiceHostHandler {
	return &ServiceHostHandler{repo: repo, mgr: mgr, minter: minter, log: log.With().Str("component", "api.services").Logger()}
}

type settingView struct {
	HostID   string          `json:"host_id"`
	Settings json.RawMessage `json:"settings"`
}

func toSettingView(s servicehost.Setting) settingView {
	return settingView{HostID: s.HostID.String(), Settings: s.Settings}
}

// ListForUser handles GET /services/hosts/user/{user}.
func (h *ServiceHostHandler) ListForUser(c fiber.Ctx) error {
	if err := requireSelf(c, c.Params("user")); err != nil {
		return respondErr(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	settings, err := h.repo.ListSettingsByOwner(ctx, servicehost.OwnerUser, c.Params("user"))
	if err != nil {
		return respondErr(c, mapServiceHostErr(err))
	}
	views := make([]settingView, 0, len(settings))
	for _, s := range settings {
		views = append(views, toSettingView(s))
	}
	return httputil.Success(c, views)
}

type setHostSettingBody struct {
	HostID   string          `json:"host_id"`
	Settings json.RawMessage `json:"settings"`
}

// SetForUser handles POST /services/hosts/user/{user}.
func (h *ServiceHostHandler) SetForUser(c fiber.Ctx) error {
	if err := requireSelf(c, c.Params("user")); err != nil {
		return respondErr(c, err)
	}
	var body setHostSettingBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}
	hostID, err := parseUUID(body.HostID)
	if err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	setting, err := h.repo.SetSetting(ctx, hostID, servicehost.OwnerUser, c.Params("user"), body.Settings)
	if err != nil {
		return respondErr(c, mapServiceHostErr(err))
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, toSettingView(*setting))
}

// DeleteForUser handles DELETE /services/hosts/user/{user}?host_id=....
func (h *ServiceHostHandler) DeleteForUser(c fiber.Ctx) error {
	if err := requireSelf(c, c.Params("user")); err != nil {
		return respondErr(c, err)
	}
	hostID, err := parseUUID(c.Query("host_id"))
	if err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if err := h.repo.DeleteSetting(ctx, hostID, servicehost.OwnerUser, c.Params("user")); err != nil {
		return respondErr(c, mapServiceHostErr(err))
	}
	return httputil.Success(c, fiber.Map{"deleted": true})
}

// ListForGroup handles GET /services/hosts/group/{id}.
func (h *ServiceHostHandler) ListForGroup(c fiber.Ctx) error {
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
	settings, err := h.repo.ListSettingsByOwner(ctx, servicehost.OwnerGroup, id.String())
	if err != nil {
		return respondErr(c, mapServiceHostErr(err))
	}
	views := make([]settingView, 0, len(settings))
	for _, s := range settings {
		views = append(views, toSettingView(s))
	}
	return httputil.Success(c, views)
}

// SetForGroup handles POST /services/hosts/group/{id}.
func (h *ServiceHostHandler) SetForGroup(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}
	var body setHostSettingBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}
	hostID, err := parseUUID(body.HostID)
	if err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintEditGroup(ctx, session, id); err != nil {
		return respondErr(c, err)
	}
	setting, err := h.repo.SetSetting(ctx, hostID, servicehost.OwnerGroup, id.String(), body.Settings)
	if err != nil {
		return respondErr(c, mapServiceHostErr(err))
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, toSettingView(*setting))
}

// DeleteForGroup handles DELETE /services/hosts/group/{id}?host_id=....
func (h *ServiceHostHandler) DeleteForGroup(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}
	hostID, err := parseUUID(c.Query("host_id"))
	if err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintEditGroup(ctx, session, id); err != nil {
		return respondErr(c, err)
	}
	if err := h.repo.DeleteSetting(ctx, hostID, servicehost.OwnerGroup, id.String()); err != nil {
		return respondErr(c, mapServiceHostErr(err))
	}
	return httputil.Success(c, fiber.Map{"deleted": true})
}

type hostView struct {
	ID         string   `json:"id"`
	URL        string   `json:"url"`
	Categories []string `json:"categories"`
	CreatedAt  string   `json:"created_at"`
}

func toHostView(h servicehost.Host) hostView {
	return hostView{
		ID:         h.ID.String(),
		URL:        h.URL,
		Categories: h.Categories,
		CreatedAt:  h.CreatedAt.Format(time.RFC3339),
	}
}

// ListHosts handles GET /services/hosts: the server-wide registry, admin
// only per spec.md §4.7's "service hosts are registered by operators, not
// tenants."
func (h *ServiceHostHandler) ListHosts(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	if _, err := h.minter.MintIsAdmin(session); err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	hosts, err := h.repo.ListHosts(ctx)
	if err != nil {
		return respondErr(c, mapServiceHostErr(err))
	}
	views := make([]hostView, 0, len(hosts))
	for _, hst := range hosts {
		views = append(views, toHostView(hst))
	}
	return httputil.Success(c, views)
}

type registerHostBody struct {
	URL        string   `json:"url"`
	Categories []string `json:"categories"`
	Secret     string   `json:"secret"`
}

// RegisterHost handles POST /services/hosts: mint a new service host and
// its shared secret. Admin-gated via MintIsAdmin since no host exists yet
// for MintManageServiceHost to check against.
func (h *ServiceHostHandler) RegisterHost(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	if _, err := h.minter.MintIsAdmin(session); err != nil {
		return respondErr(c, err)
	}
	var body registerHostBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}
	if body.URL == "" || body.Secret == "" {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "url and secret are required")
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	host, err := h.mgr.Register(ctx, body.URL, body.Categories, body.Secret)
	if err != nil {
		return respondErr(c, mapServiceHostErr(err))
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, toHostView(*host))
}

type rotateSecretBody struct {
	Secret string `json:"secret"`
	// Code is a TOTP code, required only once the host has enrolled MFA via
	// EnrollMFA. servicehost.Manager.RotateSecretWithMFA ignores it
	// otherwise.
	Code string `json:"code"`
}

// RotateSecret handles POST /services/hosts/{id}/rotate-secret. Gated by a
// TOTP code whenever the target host has enrolled MFA (see EnrollMFA).
func (h *ServiceHostHandler) RotateSecret(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}
	if _, err := h.minter.MintManageServiceHost(session, id); err != nil {
		return respondErr(c, err)
	}
	var body rotateSecretBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}
	if body.Secret == "" {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "secret is required")
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if err := h.mgr.RotateSecretWithMFA(ctx, id, body.Code, body.Secret); err != nil {
		return respondErr(c, mapServiceHostErr(err))
	}
	return httputil.Success(c, fiber.Map{"rotated": true})
}

// EnrollMFA handles POST /services/hosts/{id}/mfa/enroll: mint and store a
// fresh TOTP secret for the host, returning its base32 form plus a batch of
// one-time recovery codes once so an operator can add the secret to an
// authenticator app and file the codes away as a break-glass fallback.
// Every RotateSecret call against this host requires a valid TOTP code, or
// one of these codes, from here on.
func (h *ServiceHostHandler) EnrollMFA(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}
	if _, err := h.minter.MintManageServiceHost(session, id); err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	secret, recoveryCodes, err := h.mgr.EnrollMFA(ctx, id, "netsbox", id.String())
	if err != nil {
		if errors.Is(err, servicehost.ErrMFANotConfigured) {
			return httputil.Fail(c, apierrors.PreconditionFailed.HTTPStatus(), apierrors.PreconditionFailed, "MFA is not configured on this server")
		}
		return respondErr(c, mapServiceHostErr(err))
	}
	return httputil.Success(c, fiber.Map{"secret": secret, "recovery_codes": recoveryCodes})
}

// DeleteHost handles DELETE /services/hosts/{id}.
func (h *ServiceHostHandler) DeleteHost(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}
	if _, err := h.minter.MintManageServiceHost(session, id); err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if err := h.repo.DeleteHost(ctx, id); err != nil {
		return respondErr(c, mapServiceHostErr(err))
	}
	return httputil.Success(c, fiber.Map{"deleted": true})
}

type settingsBody struct {
	Settings json.RawMessage `json:"settings"`
}

// SetSingle handles POST /services/settings/user/{user}/{host}: set a single
// named host's settings directly, without repeating it in the body.
func (h *ServiceHostHandler) SetSingle(c fiber.Ctx) error {
	if err := requireSelf(c, c.Params("user")); err != nil {
		return respondErr(c, err)
	}
	hostID, err := parseUUID(c.Params("host"))
	if err != nil {
		return respondErr(c, err)
	}
	var body settingsBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	setting, err := h.repo.SetSetting(ctx, hostID, servicehost.OwnerUser, c.Params("user"), body.Settings)
	if err != nil {
		return respondErr(c, mapServiceHostErr(err))
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, toSettingView(*setting))
}

func mapServiceHostErr(err error) error {
	switch {
	case errors.Is(err, servicehost.ErrNotFound):
		return apierrors.Wrap(apierrors.NotFound, "service host not found", err)
	case errors.Is(err, servicehost.ErrSettingNotFound):
		return apierrors.Wrap(apierrors.NotFound, "setting not found", err)
	case errors.Is(err, servicehost.ErrMFAInvalidCode):
		return apierrors.Wrap(apierrors.BadRequest, "invalid or missing totp code", err)
	case errors.Is(err, servicehost.ErrMFANotConfigured):
		return apierrors.Wrap(apierrors.PreconditionFailed, "MFA is not configured on this server", err)
	default:
		return err
	}
}
