// Package backend fetches directions through the dispatch backend's /getDirections proxy.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fleetdispatch/fleetdispatch/internal/provider/resilience"
	"github.com/fleetdispatch/fleetdispatch/internal/routing"
)

// ProviderName identifies this directions provider.
const ProviderName = "backend"

// Client is a directions provider backed by the dispatch backend.
type Client struct {
	client *resilience.Client
	logger zerolog.Logger
}

// NewClient creates a directions provider over the backend client.
func NewClient(client *resilience.Client, logger zerolog.Logger) *Client {
	return &Client{client: client, logger: logger}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

type directionsRequest struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Mode        string `json:"mode"`
}

type directionsResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Route   *struct {
		Distance         textValue     `json:"distance"`
		Duration         textValue     `json:"duration"`
		Polyline         polylineField `json:"polyline"`
		OverviewPolyline polylineField `json:"overview_polyline"`
	} `json:"route"`
}

// GetDirections posts the request to /getDirections.
func (c *Client) GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.Route, error) {
	body := directionsRequest{
		Origin:      req.Origin.String(),
		Destination: req.Destination.String(),
		Mode:        string(req.Mode),
	}

	var resp directionsResponse
	if err := c.client.PostJSON(ctx, "/getDirections", body, &resp); err != nil {
		if errors.Is(err, resilience.ErrMalformedResponse) {
			return nil, &routing.Error{
				Provider: ProviderName,
				Code:     "MALFORMED",
				Message:  "directions response could not be parsed",
				Err:      err,
			}
		}
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "REQUEST_FAILED",
			Message:  "failed to reach the dispatch backend",
			Err:      fmt.Errorf("%w: %w", routing.ErrProviderUnavailable, err),
		}
	}

	if !resp.Success || resp.Route == nil {
		msg := resp.Message
		if msg == "" {
			msg = resp.Error
		}
		if msg == "" {
			msg = "no route found between the given points"
		}
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "NO_ROUTE",
			Message:  msg,
			Err:      routing.ErrNoRouteFound,
		}
	}

	encoded := string(resp.Route.Polyline)
	if encoded == "" {
		encoded = string(resp.Route.OverviewPolyline)
	}

	c.logger.Debug().
		Str("distance", string(resp.Route.Distance)).
		Str("duration", string(resp.Route.Duration)).
		Int("polyline_len", len(encoded)).
		Msg("received directions from backend")

	return &routing.Route{
		Polyline:     encoded,
		DistanceText: string(resp.Route.Distance),
		DurationText: string(resp.Route.Duration),
	}, nil
}

// textValue accepts either "12.3 km" or {"text": "12.3 km", "value": 12300}.
type textValue string

func (t *textValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = textValue(s)
		return nil
	}
	if data[0] == '{' {
		var obj struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*t = textValue(obj.Text)
		return nil
	}
	// A bare number is kept in its JSON spelling.
	*t = textValue(data)
	return nil
}

// polylineField accepts either an encoded string or {"points": "..."}.
type polylineField string

func (p *polylineField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '{' {
		var obj struct {
			Points string `json:"points"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*p = polylineField(obj.Points)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("polyline: %w", err)
	}
	*p = polylineField(s)
	return nil
}
