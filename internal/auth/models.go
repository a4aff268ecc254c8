// Package auth issues and validates the bearer tokens that identify dispatch users
// (drivers, agents, and team leads) to the gateway.
package auth

import (
	"strings"

	"github.com/fleetdispatch/fleetdispatch/internal/allocation"
)

// Principal describes who a token was issued to.
type Principal struct {
	// Name is the user's display name, used as the canonical name for allocation matching
	// and as the driver name on location updates.
	Name string `json:"name"`

	// DriverID is the user's dispatch identifier, if the backend assigned one.
	DriverID string `json:"driverId,omitempty"`

	// Role is the user's dispatch role (e.g. "driver", "agent", "lead").
	Role string `json:"role"`

	// Teams lists the team names whose allocations the user may also see.
	Teams []string `json:"teams,omitempty"`
}

// Identity converts the principal into the viewer identity used to filter allocations.
func (p Principal) Identity() allocation.Identity {
	identity := allocation.Identity{
		CanonicalName: p.Name,
		TeamNames:     p.Teams,
		Role:          p.Role,
	}
	if id := strings.TrimSpace(p.DriverID); id != "" {
		identity.ID = &id
	}
	return identity
}
