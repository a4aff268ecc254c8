package routing

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetdispatch/fleetdispatch/internal/provider/resilience"
	"github.com/fleetdispatch/fleetdispatch/pkg/geo"
)

// mockProvider is a mock directions provider for testing.
type mockProvider struct {
	route     *Route
	err       error
	callCount atomic.Int32

	mu      sync.Mutex
	lastReq DirectionsRequest
}

func (m *mockProvider) GetDirections(_ context.Context, req DirectionsRequest) (*Route, error) {
	m.callCount.Add(1)
	m.mu.Lock()
	m.lastReq = req
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.route, nil
}

func (m *mockProvider) Name() string {
	return "mock"
}

var (
	manila = geo.Coordinate{Latitude: 14.5995, Longitude: 120.9842}
	makati = geo.Coordinate{Latitude: 14.5547, Longitude: 121.0244}
	fixed  = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

func referenceRoute() *Route {
	return &Route{
		Polyline:     "_p~iF~ps|U_ulLnnqC_mqNvxq`@",
		DistanceText: "12.3 km",
		DurationText: "25 mins",
	}
}

func TestSession_ComputeRoute(t *testing.T) {
	provider := &mockProvider{route: referenceRoute()}
	session := NewSession(SessionConfig{
		Provider: provider,
		Now:      func() time.Time { return fixed },
	})

	summary, err := session.ComputeRoute(context.Background(), manila, makati)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if provider.lastReq.Mode != ModeDriving {
		t.Errorf("expected mode driving, got %s", provider.lastReq.Mode)
	}
	if provider.lastReq.Origin != manila || provider.lastReq.Destination != makati {
		t.Errorf("unexpected request endpoints: %+v", provider.lastReq)
	}

	want := []geo.Coordinate{
		{Latitude: 38.5, Longitude: -120.2},
		{Latitude: 40.7, Longitude: -120.95},
		{Latitude: 43.252, Longitude: -126.453},
	}
	if len(summary.Coordinates) != len(want) {
		t.Fatalf("expected %d coordinates, got %d", len(want), len(summary.Coordinates))
	}
	for i, c := range want {
		got := summary.Coordinates[i]
		if math.Abs(got.Latitude-c.Latitude) > 1e-9 || math.Abs(got.Longitude-c.Longitude) > 1e-9 {
			t.Errorf("coordinate %d: expected %v, got %v", i, c, got)
		}
	}

	if summary.DistanceText != "12.3 km" || summary.DurationText != "25 mins" {
		t.Errorf("summary text not passed through verbatim: %q %q", summary.DistanceText, summary.DurationText)
	}
	if summary.LengthMeters <= 0 {
		t.Errorf("expected positive length, got %f", summary.LengthMeters)
	}
	if !summary.FetchedAt.Equal(fixed) {
		t.Errorf("expected FetchedAt %v, got %v", fixed, summary.FetchedAt)
	}
	if session.Current() != summary {
		t.Error("expected Current to return the computed summary")
	}
}

func TestSession_WithMode(t *testing.T) {
	provider := &mockProvider{route: referenceRoute()}
	session := NewSession(SessionConfig{Provider: provider})

	summary, err := session.ComputeRoute(context.Background(), manila, makati, WithMode(ModeWalking))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.lastReq.Mode != ModeWalking || summary.Mode != ModeWalking {
		t.Errorf("expected walking mode, got request %s summary %s", provider.lastReq.Mode, summary.Mode)
	}
}

func TestSession_FailurePreservesCurrent(t *testing.T) {
	provider := &mockProvider{route: referenceRoute()}
	session := NewSession(SessionConfig{Provider: provider})

	first, err := session.ComputeRoute(context.Background(), manila, makati)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	provider.err = &resilience.RequestError{
		Endpoint: "/getDirections",
		Attempts: 3,
		Err:      &resilience.TransportError{Err: errors.New("connection refused")},
	}

	_, err = session.ComputeRoute(context.Background(), makati, manila)
	if !errors.Is(err, ErrRouteUnavailable) {
		t.Fatalf("expected ErrRouteUnavailable, got %v", err)
	}
	if !errors.Is(err, resilience.ErrNetwork) {
		t.Errorf("expected cause to be preserved, got %v", err)
	}
	if session.Current() != first {
		t.Error("expected previous summary to be preserved after failure")
	}
}

func TestSession_EmptyGeometry(t *testing.T) {
	provider := &mockProvider{route: &Route{DistanceText: "0 km"}}
	session := NewSession(SessionConfig{Provider: provider})

	_, err := session.ComputeRoute(context.Background(), manila, makati)
	if !errors.Is(err, ErrRouteUnavailable) || !errors.Is(err, ErrNoRouteFound) {
		t.Fatalf("expected ErrRouteUnavailable wrapping ErrNoRouteFound, got %v", err)
	}
	if session.Current() != nil {
		t.Error("expected no current summary")
	}
}

func TestSession_InvalidCoordinates(t *testing.T) {
	tests := []struct {
		name        string
		origin      geo.Coordinate
		destination geo.Coordinate
	}{
		{"origin latitude", geo.Coordinate{Latitude: 91}, makati},
		{"destination longitude", manila, geo.Coordinate{Longitude: -181}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockProvider{route: referenceRoute()}
			session := NewSession(SessionConfig{Provider: provider})

			_, err := session.ComputeRoute(context.Background(), tt.origin, tt.destination)
			if !errors.Is(err, ErrRouteUnavailable) || !errors.Is(err, geo.ErrInvalidCoordinate) {
				t.Errorf("expected ErrRouteUnavailable wrapping ErrInvalidCoordinate, got %v", err)
			}
			if provider.callCount.Load() != 0 {
				t.Error("provider must not be called for invalid coordinates")
			}
		})
	}
}

func TestSession_ConcurrentCompute(t *testing.T) {
	provider := &mockProvider{route: referenceRoute()}
	session := NewSession(SessionConfig{Provider: provider})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := session.ComputeRoute(context.Background(), manila, makati); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			_ = session.Current()
		}()
	}
	wg.Wait()

	if provider.callCount.Load() != 10 {
		t.Errorf("expected 10 provider calls, got %d", provider.callCount.Load())
	}
}

func TestError(t *testing.T) {
	err := &Error{Provider: "backend", Code: "NO_ROUTE", Message: "no route", Err: ErrNoRouteFound}
	if err.Error() != "no route: "+ErrNoRouteFound.Error() {
		t.Errorf("unexpected message %q", err.Error())
	}
	if err.IsRetryable() {
		t.Error("no-route errors are not retryable")
	}

	retry := &Error{Message: "down", Err: ErrProviderUnavailable}
	if !retry.IsRetryable() {
		t.Error("provider outages are retryable")
	}
	if (&Error{Message: "plain"}).Error() != "plain" {
		t.Error("expected bare message without cause")
	}
}

func TestMode_Valid(t *testing.T) {
	for _, m := range []Mode{ModeDriving, ModeWalking, ModeBicycling} {
		if !m.Valid() {
			t.Errorf("expected %s to be valid", m)
		}
	}
	if Mode("teleport").Valid() {
		t.Error("expected unknown mode to be invalid")
	}
}
