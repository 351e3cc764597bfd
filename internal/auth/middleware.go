package auth

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/netsbox/control-plane/internal/apierrors"
	"github.com/netsbox/control-plane/internal/httputil"
	"github.com/netsbox/control-plane/internal/user"
	"github.com/netsbox/control-plane/internal/witness"
)

// SessionLocalsKey is the fiber.Ctx Locals key a validated witness.Session
// is stored under.
const SessionLocalsKey = "session"

// SessionCookieName is the cookie the login/logout handlers in internal/api
// set and clear, and that Middleware reads on every authenticated request.
const SessionCookieName = "netsbox_session"

const sessionCookieName = SessionCookieName

// SessionFromCtx retrieves the witness.Session an earlier middleware stage
// attached to c, if any.
func SessionFromCtx(c fiber.Ctx) (witness.Session, bool) {
	s, ok := c.Locals(SessionLocalsKey).(witness.Session)
	return s, ok
}

// Middleware validates the session token carried in either the session
// cookie or an Authorization: Bearer header, looks up the user, and attaches
// a witness.Session to the request context. It mirrors the teacher's
// deleted middleware.go's cookie-then-header fallback.
type Middleware struct {
	secret string
	issuer string
	users  user.Repository
}

// NewMiddleware builds a Middleware.
func NewMiddleware(secret, issuer string, users user.Repository) *Middleware {
	return &Middleware{secret: secret, issuer: issuer, users: users}
}

func (m *Middleware) tokenFromRequest(c fiber.Ctx) string {
	if tok := c.Cookies(sessionCookieName); tok != "" {
		return tok
	}
	header := c.Get(fiber.HeaderAuthorization)
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}

// Required rejects requests without a valid session.
func (m *Middleware) Required(c fiber.Ctx) error {
	session, err := m.resolve(c)
	if err != nil {
		return httputil.Fail(c, apierrors.Unauthorized.HTTPStatus(), apierrors.Unauthorized, "authentication required")
	}
	c.Locals(SessionLocalsKey, session)
	return c.Next()
}

// Optional attaches a witness.Session when a valid token is present but
// does not reject the request otherwise, for endpoints that behave
// differently for authenticated vs. anonymous callers (e.g. viewing a
// public project).
func (m *Middleware) Optional(c fiber.Ctx) error {
	session, err := m.resolve(c)
	if err == nil {
		c.Locals(SessionLocalsKey, session)
	}
	return c.Next()
}

func (m *Middleware) resolve(c fiber.Ctx) (witness.Session, error) {
	tok := m.tokenFromRequest(c)
	if tok == "" {
		return witness.Session{}, ErrInvalidToken
	}
	claims, err := ValidateAccessToken(tok, m.secret, m.issuer)
	if err != nil {
		return witness.Session{}, ErrInvalidToken
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return witness.Session{}, ErrInvalidToken
	}
	// The claims carry a snapshot of username/role/group from mint time
	// (SessionClaims), but a ban, role change, or group move must take
	// effect before the token's TTL expires, so every request re-reads
	// the live record rather than trusting that snapshot.
	u, err := m.users.GetByID(c, userID)
	if err != nil {
		return witness.Session{}, ErrInvalidToken
	}
	if u.Banned {
		return witness.Session{}, ErrBanned
	}
	return witness.Session{
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.Role,
		GroupID:  u.GroupID,
	}, nil
}
