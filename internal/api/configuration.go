package api

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/httputil"
	"github.com/netsbox/control-plane/internal/servicehost"
)

// ConfigurationHandler serves the client bootstrap endpoint named in
// spec.md §6: the freshly minted client ID a browser must present when it
// opens /network/{client_id}/connect, plus the registered service hosts it
// may offer the user.
type ConfigurationHandler struct {
	hosts servicehost.Repository
	log   zerolog.Logger
}

// NewConfigurationHandler builds a ConfigurationHandler.
func NewConfigurationHandler(hosts servicehost.Repository, log zerolog.Logger) *ConfigurationHandler {
	return &ConfigurationHandler{hosts: hosts, log: log.With().Str("component", "api.configuration").Logger()}
}

type hostSummary struct {
	ID         uuid.UUID `json:"id"`
	URL        string    `json:"url"`
	Categories []string  `json:"categories"`
}

// Get handles GET /configuration.
func (h *ConfigurationHandler) Get(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	hosts, err := h.hosts.ListHosts(ctx)
	if err != nil {
		return respondErr(c, err)
	}
	summaries := make([]hostSummary, 0, len(hosts))
	for _, host := range hosts {
		summaries = append(summaries, hostSummary{ID: host.ID, URL: host.URL, Categories: host.Categories})
	}

	return httputil.Success(c, fiber.Map{
		"client_id":     uuid.NewString(),
		"service_hosts": summaries,
	})
}
