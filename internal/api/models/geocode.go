package models

import "github.com/fleetdispatch/fleetdispatch/internal/geocode"

// GeocodeResponse is the result of a forward or reverse lookup.
type GeocodeResponse struct {
	Point   Point  `json:"point"`
	Address string `json:"address"`
}

// GeocodeResponseFrom converts a geocode result to its wire form.
func GeocodeResponseFrom(r geocode.Result) GeocodeResponse {
	return GeocodeResponse{Point: PointFrom(r.Coordinate), Address: r.Address}
}

// CacheClearResponse reports how many entries a cache clear dropped.
type CacheClearResponse struct {
	Cleared int `json:"cleared"`
}
