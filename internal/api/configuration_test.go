package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/servicehost"
)

// fakeHostRepo is an in-memory servicehost.Repository covering only
// ListHosts, since that's all ConfigurationHandler.Get calls.
type fakeHostRepo struct {
	hosts []servicehost.Host
	err   error
}

func (r *fakeHostRepo) RegisterHost(context.Context, string, []string, string) (*servicehost.Host, error) {
	panic("not used by configuration_test.go")
}
func (r *fakeHostRepo) GetHost(context.Context, uuid.UUID) (*servicehost.Host, error) {
	panic("not used by configuration_test.go")
}
func (r *fakeHostRepo) ListHosts(_ context.Context) ([]servicehost.Host, error) {
	return r.hosts, r.err
}
func (r *fakeHostRepo) RotateSecret(context.Context, uuid.UUID, string) error {
	panic("not used by configuration_test.go")
}
func (r *fakeHostRepo) DeleteHost(context.Context, uuid.UUID) error {
	panic("not used by configuration_test.go")
}
func (r *fakeHostRepo) SetTOTPSecret(context.Context, uuid.UUID, string) error {
	panic("not used by configuration_test.go")
}
func (r *fakeHostRepo) SetRecoveryCodes(context.Context, uuid.UUID, []string) error {
	panic("not used by configuration_test.go")
}
func (r *fakeHostRepo) GetSetting(context.Context, uuid.UUID, servicehost.OwnerKind, string) (*servicehost.Setting, error) {
	panic("not used by configuration_test.go")
}
func (r *fakeHostRepo) SetSetting(context.Context, uuid.UUID, servicehost.OwnerKind, string, json.RawMessage) (*servicehost.Setting, error) {
	panic("not used by configuration_test.go")
}
func (r *fakeHostRepo) DeleteSetting(context.Context, uuid.UUID, servicehost.OwnerKind, string) error {
	panic("not used by configuration_test.go")
}
func (r *fakeHostRepo) ListSettingsByOwner(context.Context, servicehost.OwnerKind, string) ([]servicehost.Setting, error) {
	panic("not used by configuration_test.go")
}

func testConfigurationApp(t *testing.T, hosts *fakeHostRepo) *fiber.App {
	t.Helper()
	handler := NewConfigurationHandler(hosts, zerolog.Nop())
	app := fiber.New()
	app.Get("/configuration", handler.Get)
	return app
}

func TestConfigurationListsRegisteredHosts(t *testing.T) {
	t.Parallel()
	hostID := uuid.New()
	app := testConfigurationApp(t, &fakeHostRepo{hosts: []servicehost.Host{
		{ID: hostID, URL: "https://translate.example.com", Categories: []string{"translation"}},
	}})

	resp := doReq(t, app, jsonReq(http.MethodGet, "/configuration", ""))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, fiber.StatusOK, string(body))
	}
	env := parseSuccess(t, body)
	var data struct {
		ClientID     string `json:"client_id"`
		ServiceHosts []struct {
			ID         uuid.UUID `json:"id"`
			URL        string    `json:"url"`
			Categories []string  `json:"categories"`
		} `json:"service_hosts"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data.ClientID == "" {
		t.Error("expected a freshly minted client_id")
	}
	if _, err := uuid.Parse(data.ClientID); err != nil {
		t.Errorf("client_id %q is not a valid uuid: %v", data.ClientID, err)
	}
	if len(data.ServiceHosts) != 1 || data.ServiceHosts[0].ID != hostID || data.ServiceHosts[0].URL != "https://translate.example.com" {
		t.Errorf("unexpected service_hosts: %+v", data.ServiceHosts)
	}
}

func TestConfigurationEmptyHostList(t *testing.T) {
	t.Parallel()
	app := testConfigurationApp(t, &fakeHostRepo{hosts: nil})

	resp := doReq(t, app, jsonReq(http.MethodGet, "/configuration", ""))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, fiber.StatusOK, string(body))
	}
	env := parseSuccess(t, body)
	var data struct {
		ServiceHosts []json.RawMessage `json:"service_hosts"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(data.ServiceHosts) != 0 {
		t.Errorf("expected empty service_hosts, got %d entries", len(data.ServiceHosts))
	}
}
