// Package worker holds background jobs that run beside the gateway: the Pub/Sub location
// forwarder and the geocode warm-up pool.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/fleetdispatch/fleetdispatch/internal/tracking"
)

// Outcome is what the forwarder did with one message.
type Outcome string

const (
	OutcomeForwarded Outcome = "forwarded"
	OutcomeStale     Outcome = "stale"
	OutcomeMalformed Outcome = "malformed"
	OutcomeFailed    Outcome = "failed"
)

// ForwarderConfig holds configuration for the location forwarder.
type ForwarderConfig struct {
	// Client is the Pub/Sub client to receive on. The forwarder does not close it.
	Client *pubsub.Client

	// Subscription is a subscription ID or full subscription name.
	Subscription string

	// Relay receives every decoded update, typically a tracking.HTTPRelay to the backend.
	Relay tracking.Relay

	// MaxOutstanding bounds unacknowledged messages held at once.
	// Default: 10
	MaxOutstanding int

	Logger zerolog.Logger
}

// ForwarderStats counts message outcomes.
type ForwarderStats struct {
	Received      int64
	Forwarded     int64
	Stale         int64
	Malformed     int64
	Failed        int64
	LastForwardAt time.Time
}

// Forwarder drains tracker updates published to Pub/Sub and hands them to a Relay.
//
// Updates for a driver that are not newer than the last one forwarded for that driver are
// acknowledged and dropped, so redeliveries never move a driver backwards. Relay failures
// are nacked for redelivery; undecodable messages are acknowledged and dropped.
type Forwarder struct {
	subscriber   *pubsub.Subscriber
	subscription string
	relay        tracking.Relay
	logger       zerolog.Logger

	mu     sync.Mutex
	latest map[string]time.Time
	stats  ForwarderStats
}

// NewForwarder creates a forwarder. Client may be nil when only Process is used.
func NewForwarder(cfg ForwarderConfig) (*Forwarder, error) {
	if cfg.Relay == nil {
		return nil, fmt.Errorf("forwarder: relay is required")
	}

	f := &Forwarder{
		subscription: cfg.Subscription,
		relay:        cfg.Relay,
		logger:       cfg.Logger,
		latest:       make(map[string]time.Time),
	}

	if cfg.Client != nil {
		maxOutstanding := cfg.MaxOutstanding
		if maxOutstanding <= 0 {
			maxOutstanding = 10
		}
		f.subscriber = cfg.Client.Subscriber(cfg.Subscription)
		f.subscriber.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
		f.subscriber.ReceiveSettings.MaxExtension = time.Minute
	}

	return f, nil
}

// Start receives messages until ctx is cancelled.
func (f *Forwarder) Start(ctx context.Context) error {
	if f.subscriber == nil {
		return fmt.Errorf("forwarder: no pubsub client configured")
	}

	f.logger.Info().
		Str("subscription", f.subscription).
		Msg("starting location forwarder")

	return f.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		f.handleMessage(ctx, msg)
	})
}

func (f *Forwarder) handleMessage(ctx context.Context, msg *pubsub.Message) {
	logger := f.logger.With().
		Str("message_id", msg.ID).
		Str("event_id", msg.Attributes["event_id"]).
		Logger()

	outcome, err := f.Process(ctx, msg.Data)
	switch outcome {
	case OutcomeFailed:
		logger.Warn().Err(err).Msg("relay failed, message will be redelivered")
		msg.Nack()
	case OutcomeMalformed:
		logger.Error().Err(err).Msg("dropping undecodable location update")
		msg.Ack()
	case OutcomeStale:
		logger.Debug().Msg("dropping stale location update")
		msg.Ack()
	default:
		msg.Ack()
	}
}

// Process decodes one message body and forwards it.
func (f *Forwarder) Process(ctx context.Context, data []byte) (Outcome, error) {
	f.count(func(s *ForwarderStats) { s.Received++ })

	var update tracking.Update
	if err := json.Unmarshal(data, &update); err != nil {
		f.count(func(s *ForwarderStats) { s.Malformed++ })
		return OutcomeMalformed, fmt.Errorf("decoding location update: %w", err)
	}
	driver := strings.TrimSpace(update.DriverName)
	if driver == "" {
		f.count(func(s *ForwarderStats) { s.Malformed++ })
		return OutcomeMalformed, fmt.Errorf("location update without driverName")
	}

	at := update.Location.Timestamp
	if !f.newer(driver, at) {
		f.count(func(s *ForwarderStats) { s.Stale++ })
		return OutcomeStale, nil
	}

	if err := f.relay.Send(ctx, update); err != nil {
		f.count(func(s *ForwarderStats) { s.Failed++ })
		return OutcomeFailed, err
	}

	f.mu.Lock()
	if at.After(f.latest[driver]) {
		f.latest[driver] = at
	}
	f.stats.Forwarded++
	f.stats.LastForwardAt = time.Now()
	f.mu.Unlock()

	f.logger.Debug().
		Str("driver_name", driver).
		Time("captured_at", at).
		Msg("forwarded location update")
	return OutcomeForwarded, nil
}

func (f *Forwarder) newer(driver string, at time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	last, ok := f.latest[driver]
	return !ok || at.After(last)
}

func (f *Forwarder) count(fn func(*ForwarderStats)) {
	f.mu.Lock()
	fn(&f.stats)
	f.mu.Unlock()
}

// Stats returns a copy of the current counters.
func (f *Forwarder) Stats() ForwarderStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// StatsSnapshot returns the counters as a map, for health endpoints.
func (f *Forwarder) StatsSnapshot() map[string]any {
	s := f.Stats()
	snapshot := map[string]any{
		"received":  s.Received,
		"forwarded": s.Forwarded,
		"stale":     s.Stale,
		"malformed": s.Malformed,
		"failed":    s.Failed,
	}
	if !s.LastForwardAt.IsZero() {
		snapshot["last_forward_at"] = s.LastForwardAt.UTC().Format(time.RFC3339)
	}
	return snapshot
}
