package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/netsbox/control-plane/internal/apierrors"
	"github.com/netsbox/control-plane/internal/httputil"
)

// TestUnknownRouteReturns404 reproduces the catch-all registered at the end
// of registerRoutes: Fiber v3 treats app.Use() middleware as a route match,
// so without that catch-all an unmatched path returns 200 with an empty
// body instead of a 404.
func TestUnknownRouteReturns404(t *testing.T) {
	t.Parallel()

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			apiCode := apierrors.Internal
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
				message = fe.Message
				apiCode = fiberStatusToAPICode(fe.Code)
			}
			return httputil.Fail(c, status, apiCode, message)
		},
	})

	app.Use(func(c fiber.Ctx) error {
		return c.Next()
	})

	app.Get("/known", func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown path", "/no-such-route", fiber.StatusNotFound},
		{"favicon", "/favicon.ico", fiber.StatusNotFound},
		{"known path", "/known", fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}

			if tt.want == fiber.StatusNotFound {
				body, err := io.ReadAll(resp.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				var env struct {
					Error struct {
						Code string `json:"code"`
					} `json:"error"`
				}
				if err := json.Unmarshal(body, &env); err != nil {
					t.Fatalf("unmarshal error response: %v", err)
				}
				if env.Error.Code != string(apierrors.NotFound) {
					t.Errorf("error code = %q, want %q", env.Error.Code, apierrors.NotFound)
				}
			}
		})
	}
}

func TestFiberStatusToAPICode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		want   apierrors.Code
	}{
		{"not found", fiber.StatusNotFound, apierrors.NotFound},
		{"too many requests", fiber.StatusTooManyRequests, apierrors.RateLimited},
		{"generic 4xx falls back to bad request", fiber.StatusConflict, apierrors.BadRequest},
		{"another 4xx", fiber.StatusGone, apierrors.BadRequest},
		{"5xx falls back to internal error", fiber.StatusInternalServerError, apierrors.Internal},
		{"502 falls back to internal error", fiber.StatusBadGateway, apierrors.Internal},
		{"unknown status falls back to internal error", 600, apierrors.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := fiberStatusToAPICode(tt.status)
			if got != tt.want {
				t.Errorf("fiberStatusToAPICode(%d) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}
