package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fleetdispatch/fleetdispatch/internal/provider/resilience"
)

// Config holds configuration for the allocation service.
type Config struct {
	Client *resilience.Client

	// Matcher defaults to FuzzyMatcher.
	Matcher Matcher

	Logger zerolog.Logger
}

// Service lists the allocations that belong to a viewer.
type Service struct {
	client  *resilience.Client
	matcher Matcher
	logger  zerolog.Logger
}

// NewService creates an allocation service.
func NewService(cfg Config) *Service {
	matcher := cfg.Matcher
	if matcher == nil {
		matcher = FuzzyMatcher{}
	}
	return &Service{
		client:  cfg.Client,
		matcher: matcher,
		logger:  cfg.Logger,
	}
}

// ListForViewer fetches all allocations and keeps those assigned to identity. A response
// that cannot be parsed yields an empty list rather than an error.
func (s *Service) ListForViewer(ctx context.Context, identity Identity) ([]Record, error) {
	resp, err := s.client.Get(ctx, "/getAllocation", nil)
	if err != nil {
		return nil, fmt.Errorf("fetching allocations: %w", err)
	}

	records, err := Unwrap(resp.Body)
	if err != nil {
		if errors.Is(err, ErrMalformedResponse) {
			s.logger.Warn().Err(err).Msg("malformed allocation response, showing no allocations")
			return []Record{}, nil
		}
		return nil, err
	}

	mine := Filter(records, identity, s.matcher)
	s.logger.Debug().
		Int("total", len(records)).
		Int("matched", len(mine)).
		Str("role", identity.Role).
		Msg("filtered allocations")
	return mine, nil
}
