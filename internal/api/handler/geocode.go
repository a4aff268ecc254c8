package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fleetdispatch/fleetdispatch/internal/api/middleware"
	"github.com/fleetdispatch/fleetdispatch/internal/api/models"
	"github.com/fleetdispatch/fleetdispatch/internal/api/response"
	"github.com/fleetdispatch/fleetdispatch/internal/geocode"
	"github.com/fleetdispatch/fleetdispatch/pkg/geo"
)

// Geocoder resolves addresses and coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geocode.Result, error)
	Reverse(ctx context.Context, c geo.Coordinate) (geocode.Result, error)
}

// GeocodeHandler handles geocoding endpoints.
type GeocodeHandler struct {
	geocoder Geocoder
	cache    *geocode.Cache
	metrics  *middleware.ProviderMetrics
}

// NewGeocodeHandler creates a new GeocodeHandler. cache is the geocoder's in-memory
// cache, cleared by the admin endpoint.
func NewGeocodeHandler(geocoder Geocoder, cache *geocode.Cache, metrics *middleware.ProviderMetrics) *GeocodeHandler {
	return &GeocodeHandler{geocoder: geocoder, cache: cache, metrics: metrics}
}

// Geocode handles GET /v1/geocode?address=.
func (h *GeocodeHandler) Geocode(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result, err := h.geocoder.Geocode(r.Context(), r.URL.Query().Get("address"))
	h.metrics.RecordRequest("backend", "geocode", time.Since(start), err)
	if err != nil {
		writeGeocodeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.GeocodeResponseFrom(result))
}

// Reverse handles GET /v1/geocode/reverse?lat=&lon=.
func (h *GeocodeHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(q.Get("lon"), 64)

	var fieldErrs []models.FieldError
	if latErr != nil {
		fieldErrs = append(fieldErrs, models.FieldError{Field: "lat", Message: "lat must be a number", Code: "INVALID"})
	}
	if lonErr != nil {
		fieldErrs = append(fieldErrs, models.FieldError{Field: "lon", Message: "lon must be a number", Code: "INVALID"})
	}
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid coordinate", fieldErrs)
		return
	}

	start := time.Now()
	result, err := h.geocoder.Reverse(r.Context(), geo.Coordinate{Latitude: lat, Longitude: lon})
	h.metrics.RecordRequest("backend", "reverse_geocode", time.Since(start), err)
	if err != nil {
		writeGeocodeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.GeocodeResponseFrom(result))
}

// ClearCache handles DELETE /v1/admin/geocode-cache.
func (h *GeocodeHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	cleared := 0
	if h.cache != nil {
		cleared = h.cache.Stats().Entries
		h.cache.Clear()
	}
	response.JSON(w, r, http.StatusOK, models.CacheClearResponse{Cleared: cleared})
}

func writeGeocodeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, geocode.ErrEmptyAddress), errors.Is(err, geo.ErrInvalidCoordinate):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, geocode.ErrNotFound):
		response.NotFound(w, r, "no geocoding result")
	default:
		response.ServiceUnavailable(w, r, "geocoding is temporarily unavailable")
	}
}
