package resilience

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoReachableEndpoint is returned when no candidate base URL answers its health probe.
var ErrNoReachableEndpoint = errors.New("no reachable endpoint")

// ResolverConfig holds configuration for the endpoint resolver.
type ResolverConfig struct {
	// Candidates are base URLs in preference order.
	Candidates []string

	// HealthPath is probed with GET on each candidate.
	// Default: /health
	HealthPath string

	// ProbeTimeout bounds each probe.
	// Default: 2 seconds
	ProbeTimeout time.Duration

	// HTTPClient overrides the probe client (optional).
	HTTPClient HTTPDoer

	// Logger for resolver operations.
	Logger zerolog.Logger
}

// EndpointResolver picks which backend base URL to use next. Its Hook is meant to be the
// RefreshHook of a Client: after a network error it probes the candidates, starting with
// the one after the current choice, and returns the first that answers.
type EndpointResolver struct {
	candidates   []string
	healthPath   string
	probeTimeout time.Duration
	httpClient   HTTPDoer
	logger       zerolog.Logger

	mu      sync.Mutex
	current int
}

// NewEndpointResolver creates a resolver. The first candidate is the initial choice.
func NewEndpointResolver(cfg ResolverConfig) *EndpointResolver {
	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}

	probeTimeout := cfg.ProbeTimeout
	if probeTimeout == 0 {
		probeTimeout = 2 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: probeTimeout}
	}

	candidates := make([]string, 0, len(cfg.Candidates))
	for _, c := range cfg.Candidates {
		if c = strings.TrimRight(strings.TrimSpace(c), "/"); c != "" {
			candidates = append(candidates, c)
		}
	}

	return &EndpointResolver{
		candidates:   candidates,
		healthPath:   "/" + strings.TrimLeft(healthPath, "/"),
		probeTimeout: probeTimeout,
		httpClient:   httpClient,
		logger:       cfg.Logger,
	}
}

// Current returns the currently selected base URL, or "" when there are no candidates.
func (r *EndpointResolver) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.candidates) == 0 {
		return ""
	}
	return r.candidates[r.current]
}

// Resolve probes candidates round-robin from the one after the current selection and
// selects the first reachable one.
func (r *EndpointResolver) Resolve(ctx context.Context) (string, error) {
	r.mu.Lock()
	start := r.current
	n := len(r.candidates)
	r.mu.Unlock()

	if n == 0 {
		return "", ErrNoReachableEndpoint
	}

	for i := 1; i <= n; i++ {
		idx := (start + i) % n
		candidate := r.candidates[idx]
		if err := r.probe(ctx, candidate); err != nil {
			r.logger.Debug().Err(err).Str("candidate", candidate).Msg("endpoint probe failed")
			continue
		}

		r.mu.Lock()
		r.current = idx
		r.mu.Unlock()
		return candidate, nil
	}

	return "", ErrNoReachableEndpoint
}

// Hook adapts the resolver to a Client RefreshHook.
func (r *EndpointResolver) Hook() RefreshHook {
	return r.Resolve
}

func (r *EndpointResolver) probe(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+r.healthPath, http.NoBody)
	if err != nil {
		return err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}
