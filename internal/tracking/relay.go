package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetdispatch/fleetdispatch/internal/provider/resilience"
)

// ErrRelayRejected is returned when the backend answers a location update with success=false.
var ErrRelayRejected = errors.New("location update rejected")

// Location is the wire form of a sample.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     *float64  `json:"speed"`
	Heading   *float64  `json:"heading"`
	Timestamp time.Time `json:"timestamp"`
}

// Update is the location update body sent for a driver.
type Update struct {
	DriverName string   `json:"driverName"`
	Location   Location `json:"location"`
}

// NewUpdate builds the update for one sample.
func NewUpdate(driverName string, s Sample) Update {
	return Update{
		DriverName: driverName,
		Location: Location{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Speed:     s.Speed,
			Heading:   s.Heading,
			Timestamp: s.CapturedAt.UTC(),
		},
	}
}

// Relay delivers location updates.
type Relay interface {
	Send(ctx context.Context, update Update) error
}

// RelayFunc adapts a function to Relay.
type RelayFunc func(ctx context.Context, update Update) error

// Send calls f.
func (f RelayFunc) Send(ctx context.Context, update Update) error {
	return f(ctx, update)
}

// HTTPRelay posts updates to the backend's /updateDriverLocation endpoint.
type HTTPRelay struct {
	client *resilience.Client
}

// NewHTTPRelay creates a relay over the backend client.
func NewHTTPRelay(client *resilience.Client) *HTTPRelay {
	return &HTTPRelay{client: client}
}

// Send posts one update.
func (r *HTTPRelay) Send(ctx context.Context, update Update) error {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := r.client.PostJSON(ctx, "/updateDriverLocation", update, &resp); err != nil {
		return fmt.Errorf("updating driver location: %w", err)
	}
	if !resp.Success {
		return ErrRelayRejected
	}
	return nil
}

// MultiRelay sends each update to every relay and joins their errors.
type MultiRelay []Relay

// Send delivers the update to all relays, even when some fail.
func (m MultiRelay) Send(ctx context.Context, update Update) error {
	var errs []error
	for _, r := range m {
		if err := r.Send(ctx, update); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
