package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fleetdispatch/fleetdispatch/internal/geocode"
	"github.com/fleetdispatch/fleetdispatch/internal/tracking"
	"github.com/fleetdispatch/fleetdispatch/internal/worker"
	"github.com/fleetdispatch/fleetdispatch/pkg/geo"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type recordingRelay struct {
	mu      sync.Mutex
	updates []tracking.Update
	err     error
}

func (r *recordingRelay) Send(_ context.Context, u tracking.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.updates = append(r.updates, u)
	return nil
}

func (r *recordingRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func encode(t *testing.T, driver string, lat float64, at time.Time) []byte {
	t.Helper()
	data, err := json.Marshal(tracking.Update{
		DriverName: driver,
		Location:   tracking.Location{Latitude: lat, Longitude: 121.0, Timestamp: at},
	})
	require.NoError(t, err)
	return data
}

func newForwarder(t *testing.T, relay tracking.Relay) *worker.Forwarder {
	t.Helper()
	f, err := worker.NewForwarder(worker.ForwarderConfig{Relay: relay, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return f
}

func TestNewForwarder_RequiresRelay(t *testing.T) {
	_, err := worker.NewForwarder(worker.ForwarderConfig{Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestForwarder_Start_WithoutClient(t *testing.T) {
	f := newForwarder(t, &recordingRelay{})
	assert.Error(t, f.Start(context.Background()))
}

func TestForwarder_Process(t *testing.T) {
	relay := &recordingRelay{}
	f := newForwarder(t, relay)
	ctx := context.Background()

	outcome, err := f.Process(ctx, encode(t, "Juan", 14.60, t0))
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeForwarded, outcome)

	// Redelivery of the same update.
	outcome, err = f.Process(ctx, encode(t, "Juan", 14.60, t0))
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeStale, outcome)

	// Older update arriving late.
	outcome, _ = f.Process(ctx, encode(t, "Juan", 14.59, t0.Add(-time.Minute)))
	assert.Equal(t, worker.OutcomeStale, outcome)

	// Another driver is tracked independently.
	outcome, _ = f.Process(ctx, encode(t, "Maria", 14.50, t0.Add(-time.Hour)))
	assert.Equal(t, worker.OutcomeForwarded, outcome)

	outcome, _ = f.Process(ctx, encode(t, "Juan", 14.61, t0.Add(30*time.Second)))
	assert.Equal(t, worker.OutcomeForwarded, outcome)

	assert.Equal(t, 3, relay.count())

	stats := f.Stats()
	assert.Equal(t, int64(5), stats.Received)
	assert.Equal(t, int64(3), stats.Forwarded)
	assert.Equal(t, int64(2), stats.Stale)
	assert.False(t, stats.LastForwardAt.IsZero())
}

func TestForwarder_Process_Malformed(t *testing.T) {
	relay := &recordingRelay{}
	f := newForwarder(t, relay)

	outcome, err := f.Process(context.Background(), []byte("{not json"))
	assert.Error(t, err)
	assert.Equal(t, worker.OutcomeMalformed, outcome)

	outcome, err = f.Process(context.Background(), encode(t, "  ", 14.6, t0))
	assert.Error(t, err)
	assert.Equal(t, worker.OutcomeMalformed, outcome)

	assert.Equal(t, 0, relay.count())
	assert.Equal(t, int64(2), f.Stats().Malformed)
}

func TestForwarder_Process_RelayFailureAllowsRetry(t *testing.T) {
	relay := &recordingRelay{err: errors.New("backend down")}
	f := newForwarder(t, relay)
	ctx := context.Background()

	outcome, err := f.Process(ctx, encode(t, "Juan", 14.6, t0))
	assert.Error(t, err)
	assert.Equal(t, worker.OutcomeFailed, outcome)

	relay.mu.Lock()
	relay.err = nil
	relay.mu.Unlock()

	outcome, err = f.Process(ctx, encode(t, "Juan", 14.6, t0))
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeForwarded, outcome)

	snapshot := f.StatsSnapshot()
	assert.Equal(t, int64(1), snapshot["failed"])
	assert.Equal(t, int64(1), snapshot["forwarded"])
	assert.Contains(t, snapshot, "last_forward_at")
}

func TestForwarder_ReceivesFromPubSub(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	topic := "projects/fleet-test/topics/driver-locations"
	sub := "projects/fleet-test/subscriptions/gateway-forwarder"
	_, err := srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: topic})
	require.NoError(t, err)
	_, err = srv.GServer.CreateSubscription(ctx, &pubsubpb.Subscription{Name: sub, Topic: topic, AckDeadlineSeconds: 10})
	require.NoError(t, err)

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(ctx, "fleet-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	relay := &recordingRelay{}
	f, err := worker.NewForwarder(worker.ForwarderConfig{
		Client:       client,
		Subscription: "gateway-forwarder",
		Relay:        relay,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	good := srv.Publish(topic, encode(t, "Juan", 14.6, t0), map[string]string{"event_id": "e-1"})
	bad := srv.Publish(topic, []byte("garbage"), nil)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- f.Start(runCtx) }()

	assert.Eventually(t, func() bool {
		return srv.Message(good).Acks > 0 && srv.Message(bad).Acks > 0
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, relay.count())
	assert.Equal(t, int64(1), f.Stats().Malformed)
}

type fakeGeocoder struct {
	calls atomic.Int32
	fail  map[string]bool
	delay time.Duration
}

func (g *fakeGeocoder) Geocode(ctx context.Context, address string) (geocode.Result, error) {
	g.calls.Add(1)
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return geocode.Result{}, ctx.Err()
		}
	}
	if g.fail[address] {
		return geocode.Result{}, geocode.ErrNotFound
	}
	return geocode.Result{Coordinate: geo.Coordinate{Latitude: 14.6, Longitude: 121.0}, Address: address}, nil
}

func TestWarmupJob_Run(t *testing.T) {
	g := &fakeGeocoder{fail: map[string]bool{"Nowhere": true}}
	job := worker.NewWarmupJob(g, worker.WarmupConfig{
		Addresses:   []string{"Depot 1, Manila", "depot 1, manila", "  ", "Pier 4", "Nowhere"},
		Concurrency: 2,
	}, zerolog.Nop())

	assert.Nil(t, job.LastRun())

	result := job.Run(context.Background())

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Resolved)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "Nowhere", result.Errors[0].Address)
	assert.Equal(t, int32(3), g.calls.Load())

	assert.Equal(t, int64(1), job.Runs())
	assert.Same(t, result, job.LastRun())
}

func TestWarmupJob_Run_PerLookupTimeout(t *testing.T) {
	g := &fakeGeocoder{delay: time.Second}
	job := worker.NewWarmupJob(g, worker.WarmupConfig{
		Addresses: []string{"Slow Street"},
		Timeout:   20 * time.Millisecond,
	}, zerolog.Nop())

	result := job.Run(context.Background())
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Errors[0].Error, context.DeadlineExceeded.Error())
}

func TestWarmupJob_Run_Cancelled(t *testing.T) {
	g := &fakeGeocoder{}
	addresses := make([]string, 50)
	for i := range addresses {
		addresses[i] = "Stop " + string(rune('A'+i%26)) + string(rune('a'+i/26))
	}
	job := worker.NewWarmupJob(g, worker.WarmupConfig{Addresses: addresses, Concurrency: 2}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := job.Run(ctx)
	assert.Equal(t, 50, result.Total)
	assert.Zero(t, result.Resolved+result.Failed)
}
