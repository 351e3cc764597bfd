package eventbus

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	watermillnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/nats-io/nats.go"
)

// NewPubSub builds a Watermill Publisher/Subscriber pair according to
// busType, grounded on jycamier-retrotro/backend/internal/bus's
// createPubSub. "gochannel" backs single-process deployments and tests;
// "nats" is the production transport named in SPEC_FULL.md's domain stack.
func NewPubSub(busType, natsURL string) (message.Publisher, message.Subscriber, error) {
	logger := watermill.NewSlogLogger(slog.Default())

	switch busType {
	case "", "gochannel":
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
		return ch, ch, nil

	case "nats":
		if natsURL == "" {
			return nil, nil, fmt.Errorf("eventbus: busType is %q but no URL was configured", busType)
		}
		pub, err := watermillnats.NewPublisher(
			watermillnats.PublisherConfig{URL: natsURL, NatsOptions: []nats.Option{nats.RetryOnFailedConnect(true)}},
			logger,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("eventbus: create nats publisher: %w", err)
		}
		sub, err := watermillnats.NewSubscriber(
			watermillnats.SubscriberConfig{URL: natsURL, NatsOptions: []nats.Option{nats.RetryOnFailedConnect(true)}},
			logger,
		)
		if err != nil {
			_ = pub.Close()
			return nil, nil, fmt.Errorf("eventbus: create nats subscriber: %w", err)
		}
		return pub, sub, nil

	default:
		return nil, nil, fmt.Errorf("eventbus: unknown bus type %q (valid: gochannel, nats)", busType)
	}
}
