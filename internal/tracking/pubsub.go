package tracking

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PubSubConfig holds configuration for the Pub/Sub relay.
type PubSubConfig struct {
	// ProjectID is used to create a client when Client is nil.
	ProjectID string

	// Topic is a topic ID or full topic name.
	Topic string

	// Client is an existing Pub/Sub client (optional). The relay does not close it.
	Client *pubsub.Client

	Logger zerolog.Logger
}

// PubSubRelay publishes location updates to a Pub/Sub topic, keyed by driver so a
// subscriber with ordering enabled sees each driver's updates in order.
type PubSubRelay struct {
	client    *pubsub.Client
	ownClient bool
	publisher *pubsub.Publisher
	topic     string
	logger    zerolog.Logger
}

// NewPubSubRelay creates a Pub/Sub relay.
func NewPubSubRelay(ctx context.Context, cfg PubSubConfig) (*PubSubRelay, error) {
	client := cfg.Client
	ownClient := false
	if client == nil {
		var err error
		client, err = pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("creating pubsub client: %w", err)
		}
		ownClient = true
	}

	publisher := client.Publisher(cfg.Topic)
	publisher.EnableMessageOrdering = true

	return &PubSubRelay{
		client:    client,
		ownClient: ownClient,
		publisher: publisher,
		topic:     cfg.Topic,
		logger:    cfg.Logger,
	}, nil
}

// Send publishes one update and waits for the server to acknowledge it.
func (r *PubSubRelay) Send(ctx context.Context, update Update) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshaling location update: %w", err)
	}

	msgID := uuid.NewString()
	result := r.publisher.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: update.DriverName,
		Attributes: map[string]string{
			"event_id":    msgID,
			"driver_name": update.DriverName,
		},
	})

	serverID, err := result.Get(ctx)
	if err != nil {
		r.publisher.ResumePublish(update.DriverName)
		return fmt.Errorf("publishing location update: %w", err)
	}

	r.logger.Debug().
		Str("topic", r.topic).
		Str("event_id", msgID).
		Str("message_id", serverID).
		Msg("published location update")
	return nil
}

// Close flushes pending messages and releases the client if the relay created it.
func (r *PubSubRelay) Close() error {
	r.publisher.Stop()
	if r.ownClient {
		return r.client.Close()
	}
	return nil
}
