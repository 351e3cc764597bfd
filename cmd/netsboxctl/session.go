package main

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/netsbox/control-plane/internal/auth"
)

// sessionFile holds the last-used server URL and bearer token, so a login
// in one invocation carries over to the next without re-authenticating
// every command. Grounded on the same "persist what the server handed
// back to a session cookie" idea as the browser client, minus the browser.
type sessionFile struct {
	Server string `json:"server"`
	Token  string `json:"token"`
}

func sessionPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "netsboxctl", "session.json"), nil
}

func loadSession() sessionFile {
	path, err := sessionPath()
	if err != nil {
		return sessionFile{}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return sessionFile{}
	}
	var s sessionFile
	_ = json.Unmarshal(raw, &s)
	return s
}

func saveSession(s sessionFile) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func clearSession() error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// tokenFromResponse extracts the session token the server set via
// auth.SessionCookieName. setSessionCookie (internal/api/users.go) puts the
// raw token directly in the cookie's Value, so no further decoding is
// needed here.
func tokenFromResponse(resp *http.Response) (string, bool) {
	if resp == nil {
		return "", false
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == auth.SessionCookieName {
			return ck.Value, ck.Value != ""
		}
	}
	return "", false
}
