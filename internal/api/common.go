// Package api implements the HTTP and WebSocket surface of spec.md §6,
// grounded on the teacher's internal/api package layout: one file per
// resource group, NewXHandler(deps...) *XHandler constructors, handler
// methods that take fiber.Ctx and answer through internal/httputil.
package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/netsbox/control-plane/internal/apierrors"
	"github.com/netsbox/control-plane/internal/auth"
	"github.com/netsbox/control-plane/internal/httputil"
	"github.com/netsbox/control-plane/internal/witness"
)

// requestTimeout bounds every handler's database/blob work, per spec.md
// §5's "HTTP handler default 30s (configurable)." Configurable in
// principle via Config.HTTPHandlerTTL; handlers use this constant directly
// since threading the config value through every constructor for a single
// timeout duration would add more ceremony than it buys.
const requestTimeout = 30 * time.Second

// requireSession extracts the witness.Session a Middleware stage already
// attached to c, failing the request with Unauthorized if absent. Handlers
// mounted behind auth.Middleware.Required can assume this never fails, but
// checking keeps a handler safe if it is ever wired behind Optional.
func requireSession(c fiber.Ctx) (witness.Session, error) {
	session, ok := auth.SessionFromCtx(c)
	if !ok {
		return witness.Session{}, apierrors.New(apierrors.Unauthorized, "authentication required")
	}
	return session, nil
}

// optionalSession extracts a witness.Session if one is present, returning
// nil for an anonymous caller rather than failing the request.
func optionalSession(c fiber.Ctx) *witness.Session {
	session, ok := auth.SessionFromCtx(c)
	if !ok {
		return nil
	}
	return &session
}

// parseUUID parses a path parameter as a UUID, returning a BadRequest
// *apierrors.Error on failure so callers can return it directly.
func parseUUID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apierrors.New(apierrors.BadRequest, "invalid id: "+raw)
	}
	return id, nil
}

// respondErr writes err to c, unwrapping an *apierrors.Error to its proper
// code/status and falling back to Internal for anything else, mirroring
// the teacher's ErrorHandler fallback but applied per-handler since this
// module's handlers return structured errors rather than relying solely on
// a global Fiber ErrorHandler.
func respondErr(c fiber.Ctx, err error) error {
	var apiErr *apierrors.Error
	if errors.As(err, &apiErr) {
		return httputil.FailErr(c, apiErr)
	}
	if errors.Is(err, witness.ErrForbidden) {
		return httputil.Fail(c, apierrors.Forbidden.HTTPStatus(), apierrors.Forbidden, "forbidden")
	}
	return httputil.Fail(c, apierrors.Internal.HTTPStatus(), apierrors.Internal, "an internal error occurred")
}
