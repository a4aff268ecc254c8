// Package models provides request and response models for the fleet dispatch gateway.
package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/fleetdispatch/fleetdispatch/pkg/geo"
)

// Point represents a geographic coordinate on the wire.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Coordinate converts the point to a geo.Coordinate.
func (p Point) Coordinate() geo.Coordinate {
	return geo.Coordinate{Latitude: p.Lat, Longitude: p.Lon}
}

// PointFrom converts a geo.Coordinate to a Point.
func PointFrom(c geo.Coordinate) Point {
	return Point{Lat: c.Latitude, Lon: c.Longitude}
}

// PointsFrom converts a coordinate sequence to Points.
func PointsFrom(coords []geo.Coordinate) []Point {
	points := make([]Point, len(coords))
	for i, c := range coords {
		points[i] = PointFrom(c)
	}
	return points
}

// HealthStatus is the coarse state reported by the ops endpoints.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "OK"
	HealthStatusDegraded HealthStatus = "DEGRADED"
	HealthStatusFail     HealthStatus = "FAIL"
)

// Timestamp is a time that travels as an RFC 3339 string in UTC. Drivers' devices
// report local offsets; the gateway normalises them on the way out.
type Timestamp time.Time

func (t Timestamp) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, len(time.RFC3339)+2)
	b = append(b, '"')
	b = time.Time(t).UTC().AppendFormat(b, time.RFC3339)
	return append(b, '"'), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.New("timestamp must be a quoted RFC 3339 string")
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

// Time returns the underlying time.Time.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}
