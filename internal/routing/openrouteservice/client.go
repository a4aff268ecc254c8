// Package openrouteservice provides a directions provider backed by the OpenRouteService API,
// used when the dispatch backend's directions proxy is not available.
package openrouteservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetdispatch/fleetdispatch/internal/provider/resilience"
	"github.com/fleetdispatch/fleetdispatch/internal/routing"
)

const (
	// ProviderName identifies this routing provider.
	ProviderName = "openrouteservice"

	// DefaultBaseURL is the OpenRouteService API base URL.
	DefaultBaseURL = "https://api.openrouteservice.org"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 10 * time.Second
)

// profiles maps travel modes to ORS profiles.
var profiles = map[routing.Mode]string{
	routing.ModeDriving:   "driving-car",
	routing.ModeWalking:   "foot-walking",
	routing.ModeBicycling: "cycling-regular",
}

// ClientConfig holds configuration for the OpenRouteService client.
type ClientConfig struct {
	// APIKey is the ORS API key (required).
	APIKey string

	// BaseURL is the API base URL (optional, defaults to ORS API).
	BaseURL string

	// HTTPClient overrides the transport under the resilient client (optional).
	HTTPClient resilience.HTTPDoer

	// Timeout is the request timeout (optional, defaults to 10s).
	Timeout time.Duration

	// RetryDelay overrides the resilient client's wait between attempts (optional).
	RetryDelay time.Duration

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an OpenRouteService directions provider.
type Client struct {
	client *resilience.Client
	logger zerolog.Logger
}

// NewClient creates a new OpenRouteService client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	clientCfg := resilience.DefaultClientConfig(ProviderName)
	clientCfg.BaseURL = baseURL
	clientCfg.Timeout = timeout
	clientCfg.HTTPClient = cfg.HTTPClient
	clientCfg.Registry = cfg.Registry
	clientCfg.Logger = cfg.Logger
	clientCfg.Header = http.Header{"Authorization": []string{cfg.APIKey}}
	if cfg.RetryDelay > 0 {
		clientCfg.RetryDelay = cfg.RetryDelay
	}

	return &Client{
		client: resilience.NewClient(clientCfg),
		logger: cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// SupportedModes returns the travel modes this provider can route.
func (c *Client) SupportedModes() []routing.Mode {
	return []routing.Mode{routing.ModeDriving, routing.ModeWalking, routing.ModeBicycling}
}

// GetDirections retrieves the primary route between two points.
func (c *Client) GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.Route, error) {
	profile, ok := profiles[req.Mode]
	if !ok {
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "UNSUPPORTED_MODE",
			Message:  fmt.Sprintf("travel mode %q is not supported", req.Mode),
			Err:      routing.ErrNoRouteFound,
		}
	}

	orsReq := orsRequest{
		// ORS uses [lon, lat] order (GeoJSON)
		Coordinates: [][]float64{
			{req.Origin.Longitude, req.Origin.Latitude},
			{req.Destination.Longitude, req.Destination.Latitude},
		},
		Instructions: false,
		Geometry:     true,
		Units:        "m",
		Language:     "en",
	}

	c.logger.Debug().
		Str("profile", profile).
		Str("origin", req.Origin.String()).
		Str("destination", req.Destination.String()).
		Msg("requesting directions from ORS")

	resp, err := c.client.Post(ctx, "/v2/directions/"+profile, orsReq)
	if err != nil {
		return nil, c.mapError(err)
	}

	var orsResp orsResponse
	if err := resp.DecodeJSON(&orsResp); err != nil {
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "MALFORMED",
			Message:  "directions response could not be parsed",
			Err:      err,
		}
	}

	if len(orsResp.Routes) == 0 {
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "NO_ROUTE",
			Message:  "no route found between the given points",
			Err:      routing.ErrNoRouteFound,
		}
	}

	route := orsResp.Routes[0]
	c.logger.Debug().
		Float64("distance_m", route.Summary.Distance).
		Float64("duration_s", route.Summary.Duration).
		Msg("received directions from ORS")

	return &routing.Route{
		Polyline:     route.Geometry,
		DistanceText: FormatDistance(route.Summary.Distance),
		DurationText: FormatDuration(time.Duration(route.Summary.Duration * float64(time.Second))),
	}, nil
}

// mapError maps resilient-client failures to routing errors.
func (c *Client) mapError(err error) error {
	var statusErr *resilience.StatusError
	if !errors.As(err, &statusErr) {
		return &routing.Error{
			Provider: ProviderName,
			Code:     "REQUEST_FAILED",
			Message:  "failed to reach routing provider",
			Err:      fmt.Errorf("%w: %w", routing.ErrProviderUnavailable, err),
		}
	}
	return handleErrorResponse(statusErr.StatusCode, []byte(statusErr.Body))
}

// handleErrorResponse maps ORS error responses to domain errors.
func handleErrorResponse(statusCode int, body []byte) error {
	var orsErr orsErrorResponse
	if err := json.Unmarshal(body, &orsErr); err != nil {
		// Fall back to generic error if we can't parse
		return &routing.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("HTTP_%d", statusCode),
			Message:  fmt.Sprintf("routing provider returned status %d", statusCode),
			Err:      routing.ErrProviderUnavailable,
		}
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return &routing.Error{
			Provider: ProviderName,
			Code:     "RATE_LIMIT",
			Message:  "API rate limit exceeded, please try again later",
			Err:      routing.ErrRateLimitExceeded,
		}
	case http.StatusForbidden:
		return &routing.Error{
			Provider: ProviderName,
			Code:     "FORBIDDEN",
			Message:  "API access denied - check API key configuration",
			Err:      routing.ErrProviderUnavailable,
		}
	case http.StatusNotFound:
		return &routing.Error{
			Provider: ProviderName,
			Code:     "NO_ROUTE",
			Message:  "no route found between the given points",
			Err:      routing.ErrNoRouteFound,
		}
	case http.StatusBadRequest:
		if orsErr.Error.Code == orsErrorCodeNotFound {
			return &routing.Error{
				Provider: ProviderName,
				Code:     "NO_ROUTE",
				Message:  orsErr.Error.Message,
				Err:      routing.ErrNoRouteFound,
			}
		}
		return &routing.Error{
			Provider: ProviderName,
			Code:     "BAD_REQUEST",
			Message:  orsErr.Error.Message,
			Err:      routing.ErrNoRouteFound,
		}
	default:
		if statusCode >= 500 {
			return &routing.Error{
				Provider: ProviderName,
				Code:     fmt.Sprintf("SERVER_%d", statusCode),
				Message:  "routing provider is temporarily unavailable",
				Err:      routing.ErrProviderUnavailable,
			}
		}
		return &routing.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("HTTP_%d", statusCode),
			Message:  orsErr.Error.Message,
			Err:      routing.ErrProviderUnavailable,
		}
	}
}

// FormatDistance renders metres the way directions services do: "850 m", "12.3 km".
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", int(meters+0.5))
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

// FormatDuration renders a travel time: "1 min", "25 mins", "1 hour 5 mins".
func FormatDuration(d time.Duration) string {
	mins := int(d.Round(time.Minute) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	hours, mins := mins/60, mins%60

	plural := func(n int, unit string) string {
		if n == 1 {
			return fmt.Sprintf("%d %s", n, unit)
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	switch {
	case hours == 0:
		return plural(mins, "min")
	case mins == 0:
		return plural(hours, "hour")
	default:
		return plural(hours, "hour") + " " + plural(mins, "min")
	}
}
