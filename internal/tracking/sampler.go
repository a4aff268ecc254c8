package tracking

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/fleetdispatch/fleetdispatch/internal/tracking"

// State is the sampler lifecycle state.
type State int

const (
	// StateIdle is the state before Start, after a denied permission and after a watch ends
	// without Stop.
	StateIdle State = iota
	// StateWatching means a position watch is active and samples are being relayed.
	StateWatching
	// StateOneShot means a single fix was relayed and no watch was started.
	StateOneShot
	// StateStopped means Stop has released the sampler.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateOneShot:
		return "one_shot"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned when Start is called on a sampler that is not idle.
var ErrAlreadyStarted = errors.New("sampler already started")

// DefaultContinuousRoles are the roles tracked continuously.
var DefaultContinuousRoles = []string{"driver"}

// Config holds configuration for a Sampler.
type Config struct {
	Provider PositionProvider
	Relay    Relay

	// DriverName identifies the driver in every update.
	DriverName string

	// Role is the viewer's role. Roles in ContinuousRoles are watched after the first fix.
	Role string

	// ContinuousRoles defaults to DefaultContinuousRoles. Matching ignores case.
	ContinuousRoles []string

	// Watch defaults to DefaultWatchOptions when zero.
	Watch WatchOptions

	Logger zerolog.Logger
}

// Sampler takes position fixes and relays them fire-and-forget. Each relay runs on its own
// goroutine, so completions may arrive out of order; a failed relay is logged and sampling
// continues. It is safe for concurrent use.
type Sampler struct {
	provider   PositionProvider
	relay      Relay
	driverName string
	continuous bool
	opts       WatchOptions
	logger     zerolog.Logger
	metrics    *samplerMetrics

	mu     sync.Mutex
	state  State
	sub    Subscription
	cancel context.CancelFunc

	loop   sync.WaitGroup
	relays sync.WaitGroup
}

// NewSampler creates an idle sampler.
func NewSampler(cfg Config) (*Sampler, error) {
	opts := cfg.Watch
	if opts == (WatchOptions{}) {
		opts = DefaultWatchOptions()
	}

	roles := cfg.ContinuousRoles
	if len(roles) == 0 {
		roles = DefaultContinuousRoles
	}

	metrics, err := newSamplerMetrics()
	if err != nil {
		return nil, err
	}

	return &Sampler{
		provider:   cfg.Provider,
		relay:      cfg.Relay,
		driverName: cfg.DriverName,
		continuous: RequiresContinuousTracking(cfg.Role, roles),
		opts:       opts,
		logger:     cfg.Logger.With().Str("driver_name", cfg.DriverName).Logger(),
		metrics:    metrics,
	}, nil
}

// RequiresContinuousTracking reports whether role is one of roles, ignoring case and
// surrounding space.
func RequiresContinuousTracking(role string, roles []string) bool {
	role = strings.TrimSpace(role)
	for _, r := range roles {
		if strings.EqualFold(role, strings.TrimSpace(r)) {
			return true
		}
	}
	return false
}

// State returns the current lifecycle state.
func (s *Sampler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start requests permission, relays one high-accuracy fix and, for continuously tracked
// roles, starts watching. A denied permission is reported through the returned
// Availability, not as an error, and leaves the sampler idle. The watch runs until Stop,
// until ctx is cancelled or until the provider ends it; the last two return the sampler
// to StateIdle with the subscription released.
func (s *Sampler) Start(ctx context.Context) (Availability, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return Availability{}, ErrAlreadyStarted
	}
	s.state = StateOneShot
	s.mu.Unlock()

	granted, err := s.provider.RequestPermission(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("location permission request failed")
	}
	if err != nil || !granted {
		s.mu.Lock()
		if s.state == StateOneShot {
			s.state = StateIdle
		}
		s.mu.Unlock()
		s.logger.Warn().Msg("location permission denied, using fallback position")
		return Unavailable(ReasonPermissionDenied), nil
	}

	relayCtx := context.WithoutCancel(ctx)
	gate := NewGate(s.opts)

	availability := Unavailable(ReasonPositionUnavailable)
	fix, err := s.provider.CurrentPosition(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not take initial position fix")
	} else {
		availability = Available(fix.Coordinate())
		gate.Allow(fix)
		s.dispatch(relayCtx, fix)
	}

	if !s.continuous {
		return availability, nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	sub, err := s.provider.Watch(watchCtx, s.opts)
	if err != nil {
		cancel()
		s.logger.Warn().Err(err).Msg("could not start position watch")
		return availability, nil
	}

	s.mu.Lock()
	if s.state != StateOneShot {
		// Stopped while the fix was being taken.
		s.mu.Unlock()
		cancel()
		_ = sub.Close()
		return availability, nil
	}
	s.state = StateWatching
	s.sub = sub
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info().
		Dur("min_interval", s.opts.MinInterval).
		Float64("min_distance_m", s.opts.MinDistance).
		Msg("watching position")

	s.loop.Add(1)
	go s.watch(watchCtx, relayCtx, sub, gate)

	return availability, nil
}

// Stop releases the watch. No sample is relayed after Stop returns; relays already in
// flight are left to finish. Stop is idempotent.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	sub, cancel := s.sub, s.cancel
	s.sub, s.cancel = nil, nil
	s.mu.Unlock()

	s.closeWatch(sub, cancel)
	s.logger.Info().Msg("position sampling stopped")
}

// endWatch releases sub when the watch loop exits on its own. It is a no-op once Stop
// has taken the subscription.
func (s *Sampler) endWatch(sub Subscription) {
	s.mu.Lock()
	if s.sub != sub {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	cancel := s.cancel
	s.sub, s.cancel = nil, nil
	s.mu.Unlock()

	s.closeWatch(sub, cancel)
	s.logger.Info().Msg("position watch released")
}

func (s *Sampler) closeWatch(sub Subscription, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("closing position watch")
		}
	}
}

// Wait blocks until the watch loop has exited and every in-flight relay has finished.
func (s *Sampler) Wait() {
	s.loop.Wait()
	s.relays.Wait()
}

func (s *Sampler) watch(ctx, relayCtx context.Context, sub Subscription, gate *Gate) {
	defer s.loop.Done()
	defer s.endWatch(sub)

	samples := sub.Samples()
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-samples:
			if !ok {
				s.logger.Info().Msg("position watch ended")
				return
			}
			if !gate.Allow(sample) {
				s.metrics.dropped.Add(relayCtx, 1)
				continue
			}
			if !s.dispatchWhileWatching(relayCtx, sample) {
				return
			}
		}
	}
}

// dispatchWhileWatching relays sample unless the sampler has left StateWatching.
func (s *Sampler) dispatchWhileWatching(ctx context.Context, sample Sample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateWatching {
		return false
	}
	s.dispatch(ctx, sample)
	return true
}

func (s *Sampler) dispatch(ctx context.Context, sample Sample) {
	update := NewUpdate(s.driverName, sample)

	s.relays.Add(1)
	go func() {
		defer s.relays.Done()

		if err := s.relay.Send(ctx, update); err != nil {
			s.metrics.failed.Add(ctx, 1)
			s.logger.Warn().Err(err).
				Time("captured_at", sample.CapturedAt).
				Msg("failed to relay location sample")
			return
		}
		s.metrics.relayed.Add(ctx, 1)
		s.logger.Debug().
			Float64("lat", sample.Latitude).
			Float64("lon", sample.Longitude).
			Msg("relayed location sample")
	}()
}

type samplerMetrics struct {
	relayed metric.Int64Counter
	failed  metric.Int64Counter
	dropped metric.Int64Counter
}

func newSamplerMetrics() (*samplerMetrics, error) {
	meter := otel.Meter(meterName)

	relayed, err := meter.Int64Counter(
		"tracking.samples.relayed",
		metric.WithDescription("Location samples delivered to the relay"),
		metric.WithUnit("{sample}"),
	)
	if err != nil {
		return nil, err
	}

	failed, err := meter.Int64Counter(
		"tracking.samples.failed",
		metric.WithDescription("Location samples the relay could not deliver"),
		metric.WithUnit("{sample}"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter(
		"tracking.samples.dropped",
		metric.WithDescription("Location samples dropped by the interval and distance gate"),
		metric.WithUnit("{sample}"),
	)
	if err != nil {
		return nil, err
	}

	return &samplerMetrics{relayed: relayed, failed: failed, dropped: dropped}, nil
}
