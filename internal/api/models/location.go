package models

import (
	"time"

	"github.com/fleetdispatch/fleetdispatch/internal/tracking"
)

// LocationRequest is the body of POST /v1/locations.
type LocationRequest struct {
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	Speed      *float64   `json:"speed,omitempty"`
	Heading    *float64   `json:"heading,omitempty"`
	CapturedAt *Timestamp `json:"capturedAt,omitempty"`
}

// Validate returns field errors for out-of-range inputs.
func (r *LocationRequest) Validate() []FieldError {
	var errs []FieldError
	if err := (Point{Lat: r.Lat, Lon: r.Lon}).Coordinate().Validate(); err != nil {
		errs = append(errs, FieldError{Field: "lat/lon", Message: err.Error(), Code: "OUT_OF_RANGE"})
	}
	if r.Speed != nil && *r.Speed < 0 {
		errs = append(errs, FieldError{Field: "speed", Message: "speed must not be negative", Code: "OUT_OF_RANGE"})
	}
	if r.Heading != nil && (*r.Heading < 0 || *r.Heading >= 360) {
		errs = append(errs, FieldError{Field: "heading", Message: "heading must be in [0, 360)", Code: "OUT_OF_RANGE"})
	}
	return errs
}

// Sample converts the request to a tracking sample, stamped with now when the client
// did not supply a capture time.
func (r *LocationRequest) Sample(now time.Time) tracking.Sample {
	capturedAt := now
	if r.CapturedAt != nil {
		capturedAt = r.CapturedAt.Time()
	}
	return tracking.Sample{
		Latitude:   r.Lat,
		Longitude:  r.Lon,
		Speed:      r.Speed,
		Heading:    r.Heading,
		CapturedAt: capturedAt,
	}
}

// LocationAccepted acknowledges a relayed location update.
type LocationAccepted struct {
	DriverName string    `json:"driverName"`
	Timestamp  Timestamp `json:"timestamp"`
}
