package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetdispatch/fleetdispatch/internal/api/models"
	"github.com/fleetdispatch/fleetdispatch/internal/api/response"
	"github.com/fleetdispatch/fleetdispatch/internal/tracking"
)

// LocationHandler relays location samples posted by clients that cannot reach the
// backend directly.
type LocationHandler struct {
	relay  tracking.Relay
	logger zerolog.Logger
	now    func() time.Time
}

// NewLocationHandler creates a new LocationHandler.
func NewLocationHandler(relay tracking.Relay, logger zerolog.Logger) *LocationHandler {
	return &LocationHandler{relay: relay, logger: logger, now: time.Now}
}

// PostLocation handles POST /v1/locations.
func (h *LocationHandler) PostLocation(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		response.Unauthorized(w, r, "authentication required")
		return
	}

	var input models.LocationRequest
	if !response.Decode(w, r, &input) {
		return
	}
	if errs := input.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid location", errs)
		return
	}

	update := tracking.NewUpdate(principal.Name, input.Sample(h.now()))
	if err := h.relay.Send(r.Context(), update); err != nil {
		h.logger.Warn().Err(err).
			Str("driver_name", principal.Name).
			Bool("rejected", errors.Is(err, tracking.ErrRelayRejected)).
			Msg("location relay failed")
		response.ServiceUnavailable(w, r, "location update could not be relayed")
		return
	}

	response.Accepted(w, r, "", models.LocationAccepted{
		DriverName: update.DriverName,
		Timestamp:  models.Timestamp(update.Location.Timestamp),
	})
}
