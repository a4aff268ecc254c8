// Package routing computes driving routes between two points and keeps the most recent
// result for display.
package routing

import (
	"context"
	"errors"
	"time"

	"github.com/fleetdispatch/fleetdispatch/pkg/geo"
)

// Sentinel errors for routing operations.
var (
	// ErrRouteUnavailable is returned by Session.ComputeRoute for every failure. Callers
	// present it as "route unavailable, try again".
	ErrRouteUnavailable = errors.New("route unavailable")
	// ErrProviderUnavailable indicates the directions provider is down or unreachable.
	ErrProviderUnavailable = errors.New("routing provider unavailable")
	// ErrNoRouteFound indicates no valid route exists between the given points.
	ErrNoRouteFound = errors.New("no route found between the given points")
	// ErrRateLimitExceeded indicates the API quota has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Mode is a travel mode.
type Mode string

const (
	// ModeDriving is the default mode.
	ModeDriving Mode = "driving"
	// ModeWalking routes on foot.
	ModeWalking Mode = "walking"
	// ModeBicycling routes by bike.
	ModeBicycling Mode = "bicycling"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeDriving, ModeWalking, ModeBicycling:
		return true
	default:
		return false
	}
}

// Provider fetches directions from an upstream service.
type Provider interface {
	// GetDirections returns the primary route between two points.
	GetDirections(ctx context.Context, req DirectionsRequest) (*Route, error)
	// Name returns the provider identifier for logging.
	Name() string
}

// DirectionsRequest is the request for computing a route.
type DirectionsRequest struct {
	Origin      geo.Coordinate
	Destination geo.Coordinate
	Mode        Mode
}

// Route is a provider's answer before decoding.
type Route struct {
	Polyline     string // Encoded polyline (precision 5)
	DistanceText string // e.g. "12.3 km"
	DurationText string // e.g. "25 mins"
}

// Summary is a decoded route ready for display. A Summary is never modified after it is
// returned; a new computation replaces it wholesale.
type Summary struct {
	Coordinates  []geo.Coordinate
	Polyline     string
	DistanceText string
	DurationText string
	LengthMeters float64
	Mode         Mode
	Provider     string
	FetchedAt    time.Time
}

// Error provides detailed error information from a directions provider.
type Error struct {
	Provider string // Provider that generated the error
	Code     string // Error code from the provider
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the request can be retried.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrProviderUnavailable) || errors.Is(e.Err, ErrRateLimitExceeded)
}
