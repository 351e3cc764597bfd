package servicehost

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/eventbus"
)

// webhookCategory is the Host.Categories value that opts a registered host
// into domain-event delivery. A host with no "webhooks" category is left
// alone even though it is still reachable via Caller for other purposes
// (e.g. app-level identity lookups).
const webhookCategory = "webhooks"

// WebhookDispatcher relays the domain events internal/eventbus publishes to
// every registered host that opted in, fulfilling spec.md §4.7's "read
// identity on a caller's behalf" integrations' need to learn about project
// lifecycle changes without polling. Grounded on internal/worker's
// cron-driven sweep style for the "one long-lived loop per background
// concern" shape, generalized here from a cron schedule to an event-driven
// fan-out loop since webhooks fire on occurrence, not on a timer.
type WebhookDispatcher struct {
	repo   Repository
	caller *Caller
	log    zerolog.Logger
}

// NewWebhookDispatcher builds a WebhookDispatcher.
func NewWebhookDispatcher(repo Repository, caller *Caller, log zerolog.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{repo: repo, caller: caller, log: log.With().Str("component", "servicehost_webhook").Logger()}
}

// Run subscribes to every domain-event topic and fans each event out to
// webhook-category hosts until ctx is cancelled, matching the
// runWithBackoff(ctx, name, fn) contract: a nil return on cancellation
// means "stop cleanly, don't restart."
func (d *WebhookDispatcher) Run(ctx context.Context, bus *eventbus.Bus) error {
	renamed, err := bus.SubscribeProjectRenamed(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to project renamed events: %w", err)
	}
	deleted, err := bus.SubscribeProjectDeleted(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to project deleted events: %w", err)
	}
	roomChanged, err := bus.SubscribeRoomStateChanged(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to room state events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-renamed:
			if !ok {
				return nil
			}
			d.dispatch(ctx, "project.renamed", ev)
		case ev, ok := <-deleted:
			if !ok {
				return nil
			}
			d.dispatch(ctx, "project.deleted", ev)
		case ev, ok := <-roomChanged:
			if !ok {
				return nil
			}
			d.dispatch(ctx, "room.state_changed", ev)
		}
	}
}

type webhookPayload struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// dispatch delivers one event to every webhook-opted-in host concurrently.
// A delivery failure is logged and otherwise ignored: per
// internal/eventbus's own doc comment, a dropped domain event never blocks
// anything downstream, and the same non-goal (no strong cross-partition
// delivery) applies to webhooks fired from it.
func (d *WebhookDispatcher) dispatch(ctx context.Context, eventType string, data any) {
	hosts, err := d.repo.ListHosts(ctx)
	if err != nil {
		d.log.Warn().Err(err).Msg("failed to list service hosts for webhook dispatch")
		return
	}
	body, err := json.Marshal(webhookPayload{Type: eventType, Data: data})
	if err != nil {
		d.log.Error().Err(err).Str("event", eventType).Msg("failed to marshal webhook payload")
		return
	}
	for _, host := range hosts {
		if !hasCategory(host.Categories, webhookCategory) {
			continue
		}
		go func(host Host) {
			if _, err := d.caller.Call(ctx, host, "/webhooks/netsbox", body); err != nil {
				d.log.Warn().Err(err).Str("host_id", host.ID.String()).Str("event", eventType).Msg("webhook delivery failed")
			}
		}(host)
	}
}

func hasCategory(categories []string, want string) bool {
	for _, c := range categories {
		if c == want {
			return true
		}
	}
	return false
}
