package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetdispatch/fleetdispatch/pkg/geo"
	"github.com/fleetdispatch/fleetdispatch/pkg/polyline"
)

// SessionConfig holds configuration for a route session.
type SessionConfig struct {
	// Provider is the directions provider.
	Provider Provider

	// Mode is the default travel mode (default: driving).
	Mode Mode

	// Logger for session operations.
	Logger zerolog.Logger

	// Now is the time source for FetchedAt (default: time.Now).
	Now func() time.Time
}

// Session computes routes and remembers the last successful one. It is safe for
// concurrent use.
type Session struct {
	provider Provider
	mode     Mode
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	current *Summary
}

// Option customizes a single ComputeRoute call.
type Option func(*DirectionsRequest)

// WithMode overrides the session's travel mode for one call.
func WithMode(mode Mode) Option {
	return func(r *DirectionsRequest) {
		if mode != "" {
			r.Mode = mode
		}
	}
}

// NewSession creates a new route session.
func NewSession(cfg SessionConfig) *Session {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeDriving
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		provider: cfg.Provider,
		mode:     mode,
		logger:   cfg.Logger,
		now:      now,
	}
}

// Current returns the last successfully computed route, or nil.
func (s *Session) Current() *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// ComputeRoute fetches and decodes a route. Every failure is reported as
// ErrRouteUnavailable wrapping the cause, and leaves Current untouched.
func (s *Session) ComputeRoute(ctx context.Context, origin, destination geo.Coordinate, opts ...Option) (*Summary, error) {
	req := DirectionsRequest{Origin: origin, Destination: destination, Mode: s.mode}
	for _, opt := range opts {
		opt(&req)
	}

	if err := origin.Validate(); err != nil {
		return nil, fmt.Errorf("%w: origin: %w", ErrRouteUnavailable, err)
	}
	if err := destination.Validate(); err != nil {
		return nil, fmt.Errorf("%w: destination: %w", ErrRouteUnavailable, err)
	}

	log := s.logger.With().
		Str("origin", origin.String()).
		Str("destination", destination.String()).
		Str("mode", string(req.Mode)).
		Str("provider", s.provider.Name()).
		Logger()

	log.Debug().Msg("fetching directions")

	route, err := s.provider.GetDirections(ctx, req)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch directions")
		return nil, fmt.Errorf("%w: %w", ErrRouteUnavailable, err)
	}

	coords := polyline.Decode(route.Polyline)
	if len(coords) == 0 {
		log.Warn().Msg("directions response carried no geometry")
		return nil, fmt.Errorf("%w: %w", ErrRouteUnavailable, ErrNoRouteFound)
	}

	summary := &Summary{
		Coordinates:  coords,
		Polyline:     route.Polyline,
		DistanceText: route.DistanceText,
		DurationText: route.DurationText,
		LengthMeters: polyline.Length(coords),
		Mode:         req.Mode,
		Provider:     s.provider.Name(),
		FetchedAt:    s.now(),
	}

	s.mu.Lock()
	s.current = summary
	s.mu.Unlock()

	log.Debug().
		Int("points", len(coords)).
		Str("distance", summary.DistanceText).
		Str("duration", summary.DurationText).
		Msg("route computed")

	return summary, nil
}
