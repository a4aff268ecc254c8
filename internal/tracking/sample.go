// Package tracking samples a driver's position and relays it to the dispatch backend.
package tracking

import (
	"time"

	"github.com/fleetdispatch/fleetdispatch/pkg/geo"
)

// Sample is one position fix. Speed and Heading are nil when the device does not report them.
type Sample struct {
	Latitude   float64
	Longitude  float64
	Speed      *float64
	Heading    *float64
	CapturedAt time.Time
}

// Coordinate returns the sample position.
func (s Sample) Coordinate() geo.Coordinate {
	return geo.Coordinate{Latitude: s.Latitude, Longitude: s.Longitude}
}

// WatchOptions bounds how often a watch delivers samples. A sample is due only when both
// thresholds are met.
type WatchOptions struct {
	MinInterval time.Duration
	MinDistance float64 // metres
}

// DefaultWatchOptions returns the standard watch thresholds: 10 s and 50 m.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		MinInterval: 10 * time.Second,
		MinDistance: 50,
	}
}

// Gate drops samples that arrive sooner or closer than WatchOptions allow relative to the
// last accepted sample. It is not safe for concurrent use.
type Gate struct {
	opts WatchOptions
	last *Sample
}

// NewGate creates a gate with no accepted sample yet.
func NewGate(opts WatchOptions) *Gate {
	return &Gate{opts: opts}
}

// Allow reports whether s should be relayed and, if so, records it as the last accepted
// sample. The first sample is always accepted.
func (g *Gate) Allow(s Sample) bool {
	if g.last != nil {
		elapsed := s.CapturedAt.Sub(g.last.CapturedAt)
		moved := geo.Distance(g.last.Coordinate(), s.Coordinate())
		if elapsed < g.opts.MinInterval || moved < g.opts.MinDistance {
			return false
		}
	}
	g.last = &s
	return true
}

// Reason explains why a position is unavailable.
type Reason string

const (
	// ReasonPermissionDenied means the user refused location access.
	ReasonPermissionDenied Reason = "permission_denied"

	// ReasonPositionUnavailable means permission was granted but no fix could be taken.
	ReasonPositionUnavailable Reason = "position_unavailable"
)

// Fallback is the coordinate reported when no fix is available (Manila).
var Fallback = geo.Coordinate{Latitude: 14.5995, Longitude: 120.9842}

// Availability is the outcome of starting a sampler: either a live coordinate or a reason
// together with Fallback.
type Availability struct {
	Available  bool
	Coordinate geo.Coordinate
	Reason     Reason
}

// Available returns an Availability carrying a live coordinate.
func Available(c geo.Coordinate) Availability {
	return Availability{Available: true, Coordinate: c}
}

// Unavailable returns an Availability carrying reason and the fallback coordinate.
func Unavailable(reason Reason) Availability {
	return Availability{Coordinate: Fallback, Reason: reason}
}
