package models

import "github.com/fleetdispatch/fleetdispatch/internal/routing"

// RouteComputeRequest is the body of POST /v1/routes:compute.
type RouteComputeRequest struct {
	Origin      *Point `json:"origin"`
	Destination *Point `json:"destination"`
	Mode        string `json:"mode,omitempty"`
}

// Validate returns field errors for missing or out-of-range inputs.
func (r *RouteComputeRequest) Validate() []FieldError {
	var errs []FieldError
	check := func(field string, p *Point) {
		if p == nil {
			errs = append(errs, FieldError{Field: field, Message: field + " is required", Code: "REQUIRED"})
			return
		}
		if err := p.Coordinate().Validate(); err != nil {
			errs = append(errs, FieldError{Field: field, Message: err.Error(), Code: "OUT_OF_RANGE"})
		}
	}
	check("origin", r.Origin)
	check("destination", r.Destination)

	if r.Mode != "" && !routing.Mode(r.Mode).Valid() {
		errs = append(errs, FieldError{Field: "mode", Message: "mode must be driving, walking, or bicycling", Code: "INVALID"})
	}
	return errs
}

// RouteResponse is a computed route ready for display.
type RouteResponse struct {
	DistanceText string    `json:"distanceText"`
	DurationText string    `json:"durationText"`
	LengthMeters float64   `json:"lengthMeters"`
	Mode         string    `json:"mode"`
	Provider     string    `json:"provider"`
	Polyline     string    `json:"polyline"`
	Coordinates  []Point   `json:"coordinates"`
	FetchedAt    Timestamp `json:"fetchedAt"`
}

// RouteResponseFrom converts a routing summary to its wire form.
func RouteResponseFrom(s *routing.Summary) RouteResponse {
	return RouteResponse{
		DistanceText: s.DistanceText,
		DurationText: s.DurationText,
		LengthMeters: s.LengthMeters,
		Mode:         string(s.Mode),
		Provider:     s.Provider,
		Polyline:     s.Polyline,
		Coordinates:  PointsFrom(s.Coordinates),
		FetchedAt:    Timestamp(s.FetchedAt),
	}
}
