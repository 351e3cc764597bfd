package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientDoDecodesSuccessEnvelope(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok123")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"username":"alice"}}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL, "tok123", 0)
	var out struct {
		Username string `json:"username"`
	}
	if err := c.get(context.Background(), "/users/alice", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Username != "alice" {
		t.Errorf("username = %q, want %q", out.Username, "alice")
	}
}

func TestClientDoMapsErrorBodyToExitCode(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"FORBIDDEN","message":"not your project"}}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL, "", 0)
	err := c.get(context.Background(), "/projects/id/x", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	ce, ok := err.(*cliError)
	if !ok {
		t.Fatalf("error type = %T, want *cliError", err)
	}
	if ce.code != exitUnauthorized {
		t.Errorf("exit code = %d, want %d", ce.code, exitUnauthorized)
	}
	if ce.msg != "not your project" {
		t.Errorf("message = %q, want %q", ce.msg, "not your project")
	}
}

func TestClientDoFallsBackToUserErrorOnUnparseableErrorBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`not json at all`))
	}))
	defer srv.Close()

	c := newClient(srv.URL, "", 0)
	err := c.get(context.Background(), "/anything", nil)
	ce, ok := err.(*cliError)
	if !ok {
		t.Fatalf("error type = %T, want *cliError", err)
	}
	if ce.code != exitUserError {
		t.Errorf("exit code = %d, want %d", ce.code, exitUserError)
	}
}

func TestClientDoNetworkErrorUsesExitNetworkError(t *testing.T) {
	t.Parallel()
	// An address nothing listens on triggers a connection error rather
	// than a non-2xx response.
	c := newClient("http://127.0.0.1:1", "", 0)
	err := c.get(context.Background(), "/health", nil)
	ce, ok := err.(*cliError)
	if !ok {
		t.Fatalf("error type = %T, want *cliError", err)
	}
	if ce.code != exitNetworkError {
		t.Errorf("exit code = %d, want %d", ce.code, exitNetworkError)
	}
}

func TestClientDoPostEncodesBody(t *testing.T) {
	t.Parallel()
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL, "", 0)
	if err := c.post(context.Background(), "/groups", map[string]string{"name": "class-1"}, nil); err != nil {
		t.Fatalf("post: %v", err)
	}
	if gotBody["name"] != "class-1" {
		t.Errorf("posted body = %+v, want name=class-1", gotBody)
	}
}

func TestCodeExitStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code string
		want int
	}{
		{"UNAUTHORIZED", exitUnauthorized},
		{"FORBIDDEN", exitUnauthorized},
		{"NOT_FOUND", exitNotFound},
		{"CONFLICT", exitUserError},
		{"INTERNAL", exitUserError},
	}
	for _, tt := range tests {
		if got := codeExitStatus(tt.code); got != tt.want {
			t.Errorf("codeExitStatus(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
