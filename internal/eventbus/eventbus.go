// Package eventbus publishes the domain events named in SPEC_FULL.md's
// supplemented-features section (project.renamed, project.deleted,
// room.state_changed) for external subscribers: C9 service-host webhooks
// and netsboxctl's "network watch" verb. Grounded on
// jycamier-retrotro/backend/internal/bus's WatermillBus, generalized from
// that package's cross-pod websocket relay (our overlay fan-out already
// goes through internal/topology's Valkey pub/sub) down to a one-way
// outbound publisher plus a subscriber for anything that wants to listen.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Topic names domain events are published under. Each is a distinct
// Watermill topic, rather than one topic with a type discriminator, so a
// subscriber that only cares about one kind (netsboxctl's "network watch
// --rooms-only", say) never pays to decode the others.
const (
	TopicProjectRenamed   = "netsbox.project.renamed"
	TopicProjectDeleted   = "netsbox.project.deleted"
	TopicRoomStateChanged = "netsbox.room.state_changed"
)

// ProjectRenamed is published after a project's name changes, per
// spec.md's rename-collision resolution.
type ProjectRenamed struct {
	ProjectID uuid.UUID `json:"project_id"`
	Owner     string    `json:"owner"`
	OldName   string    `json:"old_name"`
	NewName   string    `json:"new_name"`
	At        time.Time `json:"at"`
}

// ProjectDeleted is published when a project is removed, whether by its
// owner, an admin, or the inactivity sweeper.
type ProjectDeleted struct {
	ProjectID uuid.UUID `json:"project_id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	At        time.Time `json:"at"`
}

// RoomStateChanged is published on every topology state transition
// (spec.md I3: Created/Transient/Broken/Saved), letting a service host or
// operator CLI watch a project's lifecycle without holding a websocket
// connection open.
type RoomStateChanged struct {
	ProjectID uuid.UUID `json:"project_id"`
	State     string    `json:"state"`
	At        time.Time `json:"at"`
}

// Bus publishes domain events over a Watermill Publisher and exposes a
// typed Subscribe for consumers that want a Go channel instead of raw
// Watermill messages.
type Bus struct {
	pub message.Publisher
	sub message.Subscriber
	log zerolog.Logger
}

// New wraps pub/sub with the domain-event marshaling convention used by
// every PublishX method below.
func New(pub message.Publisher, sub message.Subscriber, log zerolog.Logger) *Bus {
	return &Bus{pub: pub, sub: sub, log: log.With().Str("component", "eventbus").Logger()}
}

// Close releases the underlying publisher and subscriber.
func (b *Bus) Close() error {
	pubErr := b.pub.Close()
	subErr := b.sub.Close()
	if pubErr != nil {
		return pubErr
	}
	return subErr
}

// PublishProjectRenamed publishes a ProjectRenamed event. Errors are
// logged and swallowed: a dropped domain event never blocks the
// synchronous rename path that triggered it (SPEC_FULL.md's non-goals
// exclude strong cross-partition delivery).
func (b *Bus) PublishProjectRenamed(ctx context.Context, ev ProjectRenamed) {
	b.publish(ctx, TopicProjectRenamed, ev)
}

// PublishProjectDeleted publishes a ProjectDeleted event.
func (b *Bus) PublishProjectDeleted(ctx context.Context, ev ProjectDeleted) {
	b.publish(ctx, TopicProjectDeleted, ev)
}

// PublishRoomStateChanged publishes a RoomStateChanged event.
func (b *Bus) PublishRoomStateChanged(ctx context.Context, ev RoomStateChanged) {
	b.publish(ctx, TopicRoomStateChanged, ev)
}

func (b *Bus) publish(_ context.Context, topic string, ev any) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.log.Error().Err(err).Str("topic", topic).Msg("failed to marshal domain event")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.pub.Publish(topic, msg); err != nil {
		b.log.Error().Err(err).Str("topic", topic).Msg("failed to publish domain event")
	}
}

// SubscribeProjectRenamed delivers decoded ProjectRenamed events until ctx
// is cancelled. Used by C9's webhook dispatcher and netsboxctl's watch
// verb.
func (b *Bus) SubscribeProjectRenamed(ctx context.Context) (<-chan ProjectRenamed, error) {
	return subscribeDecoded[ProjectRenamed](ctx, b, TopicProjectRenamed)
}

// SubscribeProjectDeleted delivers decoded ProjectDeleted events.
func (b *Bus) SubscribeProjectDeleted(ctx context.Context) (<-chan ProjectDeleted, error) {
	return subscribeDecoded[ProjectDeleted](ctx, b, TopicProjectDeleted)
}

// SubscribeRoomStateChanged delivers decoded RoomStateChanged events.
func (b *Bus) SubscribeRoomStateChanged(ctx context.Context) (<-chan RoomStateChanged, error) {
	return subscribeDecoded[RoomStateChanged](ctx, b, TopicRoomStateChanged)
}

// subscribeDecoded subscribes to topic and decodes each message's payload
// into T, acking regardless of decode success (a malformed payload can
// never be retried into validity).
func subscribeDecoded[T any](ctx context.Context, b *Bus, topic string) (<-chan T, error) {
	raw, err := b.sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				var ev T
				if err := json.Unmarshal(msg.Payload, &ev); err != nil {
					b.log.Warn().Err(err).Str("topic", topic).Msg("failed to decode domain event")
					msg.Ack()
					continue
				}
				msg.Ack()
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
