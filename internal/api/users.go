package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/apierrors"
	"github.com/netsbox/control-plane/internal/auth"
	"github.com/netsbox/control-plane/internal/httputil"
	"github.com/netsbox/control-plane/internal/topology"
	"github.com/netsbox/control-plane/internal/user"
	"github.com/netsbox/control-plane/internal/wire"
	"github.com/netsbox/control-plane/internal/witness"
)

// UserHandler serves the account endpoints of spec.md §6: registration,
// login/logout, profile lookup, password reset, ban/unban, and linked
// account management.
type UserHandler struct {
	users   user.Repository
	authSvc *auth.Service
	minter  *witness.Minter
	topo    *topology.Topology
	log     zerolog.Logger
}

// NewUserHandler builds a UserHandler.
func NewUserHandler(users user.Repository, authSvc *auth.Service, minter *witness.Minter, topo *topology.Topology, log zerolog.Logger) *UserHandler {
	return &UserHandler{users: users, authSvc: authSvc, minter: minter, topo: topo, log: log.With().Str("component", "api.users").Logger()}
}

type userView struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func toUserView(u *user.User) userView {
	return userView{Username: u.Username, Role: string(u.Role)}
}

type registerBody struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Create handles POST /users/create.
func (h *UserHandler) Create(c fiber.Ctx) error {
	var body registerBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	created, token, err := h.authSvc.Register(ctx, auth.RegisterParams{Username: body.Username, Email: body.Email, Password: body.Password})
	if err != nil {
		return respondErr(c, mapAuthErr(err))
	}

	setSessionCookie(c, token)
	return httputil.SuccessStatus(c, fiber.StatusCreated, toUserView(created))
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /users/login.
func (h *UserHandler) Login(c fiber.Ctx) error {
	var body loginBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	u, token, mfaTicket, err := h.authSvc.Login(ctx, body.Email, body.Password)
	if err != nil {
		return respondErr(c, mapAuthErr(err))
	}
	if mfaTicket != "" {
		return httputil.Success(c, fiber.Map{"mfa_required": true, "mfa_ticket": mfaTicket})
	}

	setSessionCookie(c, token)
	return httputil.Success(c, toUserView(u))
}

type mfaVerifyBody struct {
	Ticket string `json:"mfa_ticket"`
	Code   string `json:"code"`
}

// VerifyMFALogin handles POST /users/login/mfa: redeems the ticket a prior
// Login call returned for an MFA-enrolled account and, given a valid TOTP
// code, completes the session the password step withheld.
func (h *UserHandler) VerifyMFALogin(c fiber.Ctx) error {
	var body mfaVerifyBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	u, token, err := h.authSvc.VerifyMFALogin(ctx, body.Ticket, body.Code)
	if err != nil {
		return respondErr(c, mapAuthErr(err))
	}

	setSessionCookie(c, token)
	return httputil.Success(c, toUserView(u))
}

// BeginMFAEnrollment handles POST /users/{name}/mfa/enroll.
func (h *UserHandler) BeginMFAEnrollment(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	target, err := h.users.GetByUsername(ctx, c.Params("name"))
	if err != nil {
		return respondErr(c, mapUserErr(err))
	}
	if _, err := h.minter.MintEditUser(ctx, session, target.ID); err != nil {
		return respondErr(c, err)
	}

	secret, err := h.authSvc.BeginMFAEnrollment(ctx, target.ID, target.Username)
	if err != nil {
		return respondErr(c, mapAuthMFAErr(err))
	}
	return httputil.Success(c, fiber.Map{"secret": secret})
}

type mfaConfirmBody struct {
	Code string `json:"code"`
}

// ConfirmMFAEnrollment handles POST /users/{name}/mfa/confirm.
func (h *UserHandler) ConfirmMFAEnrollment(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	target, err := h.users.GetByUsername(ctx, c.Params("name"))
	if err != nil {
		return respondErr(c, mapUserErr(err))
	}
	if _, err := h.minter.MintEditUser(ctx, session, target.ID); err != nil {
		return respondErr(c, err)
	}

	var body mfaConfirmBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}
	if err := h.authSvc.ConfirmMFAEnrollment(ctx, target.ID, body.Code); err != nil {
		return respondErr(c, mapAuthMFAErr(err))
	}
	return httputil.Success(c, fiber.Map{"mfa_enabled": true})
}

// DisableMFA handles POST /users/{name}/mfa/disable.
func (h *UserHandler) DisableMFA(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	target, err := h.users.GetByUsername(ctx, c.Params("name"))
	if err != nil {
		return respondErr(c, mapUserErr(err))
	}
	if _, err := h.minter.MintEditUser(ctx, session, target.ID); err != nil {
		return respondErr(c, err)
	}

	if err := h.authSvc.DisableMFA(ctx, target.ID); err != nil {
		return respondErr(c, mapAuthMFAErr(err))
	}
	return httputil.Success(c, fiber.Map{"mfa_enabled": false})
}

func mapAuthMFAErr(err error) error {
	switch {
	case errors.Is(err, auth.ErrMFANotConfigured):
		return apierrors.Wrap(apierrors.PreconditionFailed, "MFA is not configured on this server", err)
	case errors.Is(err, auth.ErrMFAAlreadyEnabled):
		return apierrors.Wrap(apierrors.Conflict, err.Error(), err)
	case errors.Is(err, auth.ErrMFANotEnabled):
		return apierrors.Wrap(apierrors.Conflict, err.Error(), err)
	case errors.Is(err, auth.ErrInvalidMFACode), errors.Is(err, auth.ErrInvalidToken):
		return apierrors.Wrap(apierrors.BadRequest, err.Error(), err)
	default:
		return mapUserErr(err)
	}
}

// Logout handles POST /users/logout.
func (h *UserHandler) Logout(c fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return httputil.Success(c, fiber.Map{"logged_out": true})
}

func setSessionCookie(c fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     auth.SessionCookieName,
		Value:    token,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// Get handles GET /users/{name}.
func (h *UserHandler) Get(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	u, err := h.users.GetByUsername(ctx, c.Params("name"))
	if err != nil {
		return respondErr(c, mapUserErr(err))
	}
	return httputil.Success(c, toUserView(u))
}

type resetPasswordBody struct {
	NewPassword string `json:"new_password"`
}

// ResetPassword handles POST /users/{name}/password.
func (h *UserHandler) ResetPassword(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	target, err := h.users.GetByUsername(ctx, c.Params("name"))
	if err != nil {
		return respondErr(c, mapUserErr(err))
	}
	if _, err := h.minter.MintEditUser(ctx, session, target.ID); err != nil {
		return respondErr(c, err)
	}

	var body resetPasswordBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}
	if err := h.authSvc.ResetPassword(ctx, target.ID, body.NewPassword); err != nil {
		return respondErr(c, mapAuthErr(err))
	}
	return httputil.Success(c, fiber.Map{"updated": true})
}

type forgotPasswordBody struct {
	Email string `json:"email"`
}

// RequestPasswordReset handles POST /users/password/forgot: mails a one-time reset link to the account registered
// under the given email, if one exists. The response is identical whether or not the address is registered.
func (h *UserHandler) RequestPasswordReset(c fiber.Ctx) error {
	var body forgotPasswordBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if err := h.authSvc.RequestPasswordReset(ctx, body.Email); err != nil {
		return respondErr(c, mapAuthMFAErr(err))
	}
	return httputil.Success(c, fiber.Map{"requested": true})
}

type resetPasswordWithTokenBody struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ResetPasswordWithToken handles POST /users/password/reset: redeems the out-of-band token a forgot-password email
// carried and sets a new password, with no session required.
func (h *UserHandler) ResetPasswordWithToken(c fiber.Ctx) error {
	var body resetPasswordWithTokenBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if err := h.authSvc.ResetPasswordWithToken(ctx, body.Token, body.NewPassword); err != nil {
		return respondErr(c, mapAuthMFAErr(err))
	}
	return httputil.Success(c, fiber.Map{"updated": true})
}

type verifyEmailBody struct {
	Token string `json:"token"`
}

// VerifyEmail handles POST /users/verify-email: redeems the verification token Register mailed and marks the
// account's email address confirmed.
func (h *UserHandler) VerifyEmail(c fiber.Ctx) error {
	var body verifyEmailBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if err := h.authSvc.VerifyEmail(ctx, body.Token); err != nil {
		return respondErr(c, mapAuthMFAErr(err))
	}
	return httputil.Success(c, fiber.Map{"verified": true})
}

// Ban handles POST /users/{name}/ban. Per spec.md §9 open question (a),
// banning also evicts every live connection the user holds.
func (h *UserHandler) Ban(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintIsAdmin(session); err != nil {
		return respondErr(c, err)
	}
	target, err := h.users.GetByUsername(ctx, c.Params("name"))
	if err != nil {
		return respondErr(c, mapUserErr(err))
	}
	if err := h.users.Ban(ctx, target.ID, session.UserID); err != nil {
		return respondErr(c, mapUserErr(err))
	}
	h.topo.EvictUser(ctx, target.Username, wire.CloseEvicted, "account banned")
	return httputil.Success(c, fiber.Map{"banned": true})
}

// Unban handles POST /users/{name}/unban.
func (h *UserHandler) Unban(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintIsAdmin(session); err != nil {
		return respondErr(c, err)
	}
	target, err := h.users.GetByUsername(ctx, c.Params("name"))
	if err != nil {
		return respondErr(c, mapUserErr(err))
	}
	if err := h.users.Unban(ctx, target.ID); err != nil {
		return respondErr(c, mapUserErr(err))
	}
	return httputil.Success(c, fiber.Map{"banned": false})
}

type linkBody struct {
	Strategy string `json:"strategy"`
	ID       string `json:"id"`
}

// Link handles POST /users/{name}/link.
func (h *UserHandler) Link(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	target, err := h.users.GetByUsername(ctx, c.Params("name"))
	if err != nil {
		return respondErr(c, mapUserErr(err))
	}
	if _, err := h.minter.MintEditUser(ctx, session, target.ID); err != nil {
		return respondErr(c, err)
	}

	var body linkBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}
	if err := h.users.LinkAccount(ctx, target.ID, user.LinkedAccount{Strategy: body.Strategy, ID: body.ID}); err != nil {
		return respondErr(c, mapUserErr(err))
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, fiber.Map{"linked": true})
}

// Unlink handles DELETE /users/{name}/link/{strategy}/{id}.
func (h *UserHandler) Unlink(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	target, err := h.users.GetByUsername(ctx, c.Params("name"))
	if err != nil {
		return respondErr(c, mapUserErr(err))
	}
	if _, err := h.minter.MintEditUser(ctx, session, target.ID); err != nil {
		return respondErr(c, err)
	}
	if err := h.users.UnlinkAccount(ctx, target.ID, c.Params("strategy"), c.Params("id")); err != nil {
		return respondErr(c, mapUserErr(err))
	}
	return httputil.Success(c, fiber.Map{"linked": false})
}

func mapUserErr(err error) error {
	switch {
	case errors.Is(err, user.ErrNotFound):
		return apierrors.Wrap(apierrors.NotFound, "user not found", err)
	case errors.Is(err, user.ErrUsernameTaken), errors.Is(err, user.ErrEmailTaken), errors.Is(err, user.ErrLinkedAccountUsed):
		return apierrors.Wrap(apierrors.Conflict, err.Error(), err)
	case errors.Is(err, user.ErrAccountTombstoned):
		return apierrors.Wrap(apierrors.Conflict, err.Error(), err)
	default:
		return err
	}
}

func mapAuthErr(err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return apierrors.Wrap(apierrors.Unauthorized, err.Error(), err)
	case errors.Is(err, auth.ErrBanned):
		return apierrors.Wrap(apierrors.Forbidden, err.Error(), err)
	case errors.Is(err, auth.ErrEmailAlreadyTaken), errors.Is(err, auth.ErrAccountTombstoned):
		return apierrors.Wrap(apierrors.Conflict, err.Error(), err)
	case errors.Is(err, auth.ErrDisposableEmail),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrUsernameLength),
		errors.Is(err, auth.ErrUsernameInvalidChars),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordTooLong):
		return apierrors.Wrap(apierrors.BadRequest, err.Error(), err)
	default:
		return err
	}
}
