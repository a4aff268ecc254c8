package openrouteservice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetdispatch/fleetdispatch/internal/provider/resilience"
	"github.com/fleetdispatch/fleetdispatch/internal/routing"
	"github.com/fleetdispatch/fleetdispatch/pkg/geo"
)

var (
	manila = geo.Coordinate{Latitude: 14.5995, Longitude: 120.9842}
	makati = geo.Coordinate{Latitude: 14.5547, Longitude: 121.0244}
)

func newTestClient(serverURL string, doer resilience.HTTPDoer) *Client {
	return NewClient(ClientConfig{
		APIKey:     "mock123",
		BaseURL:    serverURL,
		HTTPClient: doer,
		RetryDelay: time.Millisecond,
		Logger:     zerolog.Nop(),
	})
}

func TestClient_GetDirections_Success(t *testing.T) {
	respBody, err := os.ReadFile("testdata/directions_response.json")
	if err != nil {
		t.Fatalf("failed to load test fixture: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "mock123" {
			t.Errorf("expected Authorization header 'mock123', got '%s'", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type 'application/json', got '%s'", r.Header.Get("Content-Type"))
		}

		expectedPath := "/v2/directions/cycling-regular"
		if r.URL.Path != expectedPath {
			t.Errorf("expected path %s, got %s", expectedPath, r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(respBody)
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)

	route, err := client.GetDirections(context.Background(), routing.DirectionsRequest{
		Origin:      manila,
		Destination: makati,
		Mode:        routing.ModeBicycling,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if route.Polyline != "_p~iF~ps|U_ulLnnqC_mqNvxq`@" {
		t.Errorf("unexpected polyline %q", route.Polyline)
	}
	if route.DistanceText != "12.3 km" {
		t.Errorf("expected distance text '12.3 km', got %q", route.DistanceText)
	}
	if route.DurationText != "25 mins" {
		t.Errorf("expected duration text '25 mins', got %q", route.DurationText)
	}
}

func TestClient_GetDirections_NoRouteFound(t *testing.T) {
	respBody, err := os.ReadFile("testdata/error_response.json")
	if err != nil {
		t.Fatalf("failed to load test fixture: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write(respBody)
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)

	_, err = client.GetDirections(context.Background(), routing.DirectionsRequest{
		Origin:      manila,
		Destination: makati,
		Mode:        routing.ModeDriving,
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, routing.ErrNoRouteFound) {
		t.Errorf("expected ErrNoRouteFound, got %v", err)
	}

	var routingErr *routing.Error
	if !errors.As(err, &routingErr) {
		t.Fatalf("expected *routing.Error, got %T", err)
	}
	if routingErr.Code != "NO_ROUTE" {
		t.Errorf("expected code NO_ROUTE, got %s", routingErr.Code)
	}
}

func TestClient_GetDirections_EmptyRoutes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"routes": []}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)

	_, err := client.GetDirections(context.Background(), routing.DirectionsRequest{
		Origin:      manila,
		Destination: makati,
		Mode:        routing.ModeWalking,
	})
	if !errors.Is(err, routing.ErrNoRouteFound) {
		t.Errorf("expected ErrNoRouteFound, got %v", err)
	}
}

func TestClient_GetDirections_RateLimited(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"code": 429, "message": "Rate limit exceeded"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)

	_, err := client.GetDirections(context.Background(), routing.DirectionsRequest{
		Origin:      manila,
		Destination: makati,
		Mode:        routing.ModeDriving,
	})
	if !errors.Is(err, routing.ErrRateLimitExceeded) {
		t.Errorf("expected ErrRateLimitExceeded, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestClient_GetDirections_UnsupportedMode(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)

	_, err := client.GetDirections(context.Background(), routing.DirectionsRequest{
		Origin:      manila,
		Destination: makati,
		Mode:        routing.Mode("transit"),
	})
	if !errors.Is(err, routing.ErrNoRouteFound) {
		t.Errorf("expected ErrNoRouteFound, got %v", err)
	}
	if calls.Load() != 0 {
		t.Error("expected no upstream request for an unsupported mode")
	}
}

func TestClient_GetDirections_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error": {"code": 503, "message": "Service unavailable"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)

	_, err := client.GetDirections(context.Background(), routing.DirectionsRequest{
		Origin:      manila,
		Destination: makati,
		Mode:        routing.ModeDriving,
	})
	if !errors.Is(err, routing.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}

	var routingErr *routing.Error
	if !errors.As(err, &routingErr) {
		t.Fatalf("expected *routing.Error, got %T", err)
	}
	if !routingErr.IsRetryable() {
		t.Error("expected server error to be retryable")
	}
}

func TestClient_Name(t *testing.T) {
	client := NewClient(ClientConfig{
		APIKey: "mock123",
		Logger: zerolog.Nop(),
	})

	if client.Name() != ProviderName {
		t.Errorf("expected name %s, got %s", ProviderName, client.Name())
	}
}

func TestClient_SupportedModes(t *testing.T) {
	client := NewClient(ClientConfig{
		APIKey: "mock123",
		Logger: zerolog.Nop(),
	})

	modes := client.SupportedModes()
	if len(modes) != 3 {
		t.Fatalf("expected 3 modes, got %d", len(modes))
	}
	for _, m := range modes {
		if _, ok := profiles[m]; !ok {
			t.Errorf("mode %s has no ORS profile", m)
		}
	}
}

// mockFailingClient always returns a transport error.
type mockFailingClient struct {
	calls atomic.Int32
}

func (m *mockFailingClient) Do(req *http.Request) (*http.Response, error) {
	m.calls.Add(1)
	return nil, errors.New("network error")
}

func TestClient_GetDirections_NetworkError(t *testing.T) {
	doer := &mockFailingClient{}
	client := newTestClient("http://ors.invalid", doer)

	_, err := client.GetDirections(context.Background(), routing.DirectionsRequest{
		Origin:      manila,
		Destination: makati,
		Mode:        routing.ModeDriving,
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, routing.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
	if !resilience.IsNetworkError(err) {
		t.Errorf("expected network error classification, got %v", err)
	}
	if got := doer.calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestFormatDistance(t *testing.T) {
	tests := []struct {
		meters float64
		want   string
	}{
		{0, "0 m"},
		{849.6, "850 m"},
		{999.4, "999 m"},
		{1000, "1.0 km"},
		{12345.6, "12.3 km"},
	}

	for _, tt := range tests {
		if got := FormatDistance(tt.meters); got != tt.want {
			t.Errorf("FormatDistance(%v) = %q, want %q", tt.meters, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{10 * time.Second, "1 min"},
		{time.Minute, "1 min"},
		{25 * time.Minute, "25 mins"},
		{time.Hour, "1 hour"},
		{65 * time.Minute, "1 hour 5 mins"},
		{2*time.Hour + time.Minute, "2 hours 1 min"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestHandleErrorResponse(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		code    string
	}{
		{"forbidden", http.StatusForbidden, `{"error": {"code": 403, "message": "denied"}}`, routing.ErrProviderUnavailable, "FORBIDDEN"},
		{"not found", http.StatusNotFound, `{"error": {"code": 404, "message": "nope"}}`, routing.ErrNoRouteFound, "NO_ROUTE"},
		{"bad request", http.StatusBadRequest, `{"error": {"code": 2003, "message": "bad"}}`, routing.ErrNoRouteFound, "BAD_REQUEST"},
		{"unparseable", http.StatusBadGateway, `<html>`, routing.ErrProviderUnavailable, "HTTP_502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := handleErrorResponse(tt.status, []byte(tt.body))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			var routingErr *routing.Error
			if !errors.As(err, &routingErr) {
				t.Fatalf("expected *routing.Error, got %T", err)
			}
			if routingErr.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, routingErr.Code)
			}
		})
	}
}
