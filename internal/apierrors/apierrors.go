// Package apierrors defines the error taxonomy surfaced to HTTP and WebSocket
// clients. It is deliberately small and dependency-free so every package in
// this module can return a *Error without import cycles.
package apierrors

import "fmt"

// Code is the machine-readable error discriminator returned alongside every
// non-2xx HTTP response and every WebSocket-level failure.
type Code string

const (
	BadRequest         Code = "BAD_REQUEST"
	Unauthorized       Code = "UNAUTHORIZED"
	Forbidden          Code = "FORBIDDEN"
	NotFound           Code = "NOT_FOUND"
	Conflict           Code = "CONFLICT"
	PreconditionFailed Code = "PRECONDITION_FAILED"
	RateLimited        Code = "RATE_LIMITED"
	Internal           Code = "INTERNAL"
	ClientGone         Code = "CLIENT_GONE"
	RoleFetchTimeout   Code = "ROLE_FETCH_TIMEOUT"
)

// httpStatus maps each Code to its default HTTP status. Handlers may still
// answer with a different status by passing it to httputil.Fail directly.
var httpStatus = map[Code]int{
	BadRequest:         400,
	Unauthorized:       401,
	Forbidden:          403,
	NotFound:           404,
	Conflict:           409,
	PreconditionFailed: 412,
	RateLimited:        429,
	Internal:           500,
	ClientGone:         410,
	RoleFetchTimeout:   504,
}

// HTTPStatus returns the default HTTP status code for c, or 500 if c is not
// one of the known codes.
func (c Code) HTTPStatus() int {
	if s, ok := httpStatus[c]; ok {
		return s
	}
	return 500
}

// Error is a structured error carrying a Code and a human-readable message.
// It wraps an optional underlying cause that is logged but never sent to the
// client.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an *Error with the given code and message, chaining cause so
// errors.Is/As still sees the original failure while the client only ever
// observes code+message.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// As extracts an *Error from err, returning (nil, false) when err is not
// itself an *Error. Only err itself is checked; an *Error wrapped inside
// another error is not found.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Error); ok {
		return e, true
	}
	_ = apiErr
	return nil, false
}
