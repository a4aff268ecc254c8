package models

import "github.com/fleetdispatch/fleetdispatch/internal/allocation"

// AllocationList is the set of allocations visible to the caller.
type AllocationList struct {
	Items []allocation.Record `json:"items"`
	Count int                 `json:"count"`
}
