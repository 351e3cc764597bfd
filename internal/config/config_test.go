package config

import (
	"os"
	"testing"
	"time"
)

// TestLoadDefaults is not t.Parallel because it mutates process-wide environment variables.
func TestLoadDefaults(t *testing.T) {
	keys := []string{
		"SERVER_NAME", "SERVER_URL", "SERVER_PORT", "SERVER_ENV",
		"DATABASE_URL", "DATABASE_MAX_CONNS", "DATABASE_MIN_CONNS",
		"VALKEY_URL",
		"ARGON2_MEMORY", "ARGON2_ITERATIONS", "ARGON2_PARALLELISM", "ARGON2_SALT_LENGTH", "ARGON2_KEY_LENGTH",
		"SESSION_SECRET", "SESSION_MAX_AGE",
		"INIT_OWNER_EMAIL", "INIT_OWNER_PASSWORD",
		"MAX_UPLOAD_SIZE_MB",
		"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS", "SMTP_FROM",
		"NETWORK_INACTIVITY_TIMEOUT", "NETWORK_ROLE_FETCH_TIMEOUT", "NETWORK_OUTBOUND_QUEUE",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}

	t.Setenv("SESSION_SECRET", "test-secret-for-defaults-minimum-32-chars")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.ServerName != "NetsBox Community" {
		t.Errorf("ServerName = %q, want %q", cfg.ServerName, "NetsBox Community")
	}
	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want 8080", cfg.ServerPort)
	}
	if cfg.ServerEnv != "production" {
		t.Errorf("ServerEnv = %q, want %q", cfg.ServerEnv, "production")
	}
	if cfg.DatabaseMaxConn != 25 {
		t.Errorf("DatabaseMaxConn = %d, want 25", cfg.DatabaseMaxConn)
	}
	if cfg.InactivityTimeout != 15*time.Minute {
		t.Errorf("InactivityTimeout = %v, want 15m", cfg.InactivityTimeout)
	}
	if cfg.RoleFetchTimeout != 5*time.Second {
		t.Errorf("RoleFetchTimeout = %v, want 5s", cfg.RoleFetchTimeout)
	}
	if cfg.OutboundQueueSize != 256 {
		t.Errorf("OutboundQueueSize = %d, want 256", cfg.OutboundQueueSize)
	}
	if len(cfg.CORSAllowOrigins) != 1 || cfg.CORSAllowOrigins[0] != "*" {
		t.Errorf("CORSAllowOrigins = %v, want [*]", cfg.CORSAllowOrigins)
	}
}

func TestLoadMissingSessionSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error when SESSION_SECRET is unset")
	}
}

func TestLoadInvalidInt(t *testing.T) {
	t.Setenv("SESSION_SECRET", "test-secret-for-defaults-minimum-32-chars")
	t.Setenv("SERVER_PORT", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for invalid SERVER_PORT")
	}
}

func TestLoadFromTOMLFile(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("SERVER_PORT", "")

	dir := t.TempDir()
	path := dir + "/config.toml"
	contents := "[server]\nname = \"Test Server\"\nport = 9000\n\n[session]\nsecret = \"file-provided-secret-of-at-least-32-chars\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.ServerName != "Test Server" {
		t.Errorf("ServerName = %q, want %q", cfg.ServerName, "Test Server")
	}
	if cfg.ServerPort != 9000 {
		t.Errorf("ServerPort = %d, want 9000", cfg.ServerPort)
	}
	if cfg.SessionSecret != "file-provided-secret-of-at-least-32-chars" {
		t.Errorf("SessionSecret = %q, want file-provided value", cfg.SessionSecret)
	}
}

func TestEnvOverridesTOMLFile(t *testing.T) {
	t.Setenv("SESSION_SECRET", "test-secret-for-defaults-minimum-32-chars")

	dir := t.TempDir()
	path := dir + "/config.toml"
	contents := "[server]\nname = \"From File\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("SERVER_NAME", "From Env")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.ServerName != "From Env" {
		t.Errorf("ServerName = %q, want env var to win over file value", cfg.ServerName)
	}
}
