// Package response writes gateway responses: JSON bodies with the request ID echoed,
// and RFC 7807 problems for every error.
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fleetdispatch/fleetdispatch/internal/api/middleware"
	"github.com/fleetdispatch/fleetdispatch/internal/api/models"
)

// MaxBodyBytes caps request bodies read by Decode. Location and route requests are
// a few hundred bytes.
const MaxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	h := w.Header()
	if id := middleware.GetRequestID(r.Context()); id != "" {
		h.Set(middleware.RequestIDHeader, id)
	}
	h.Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// JSON writes data with the given status.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, r, status, data)
}

// Accepted writes a 202 pointing at location, for work that completes asynchronously.
func Accepted(w http.ResponseWriter, r *http.Request, location string, data any) {
	if location != "" {
		w.Header().Set("Location", location)
	}
	writeJSON(w, r, http.StatusAccepted, data)
}

// Decode reads a JSON request body into v. On failure it writes a 400 problem and
// returns false, so handlers can simply return.
func Decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(v)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		BadRequest(w, r, "request body too large", nil)
	} else {
		BadRequest(w, r, "invalid JSON body", nil)
	}
	return false
}

// Error writes problem for the current request.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

func requestID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}

// BadRequest writes a 400 validation problem, with per-field errors when known.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errs []models.FieldError) {
	Error(w, r, models.NewBadRequest(requestID(r), detail, errs))
}

func Unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewUnauthorized(requestID(r), detail))
}

func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewNotFound(requestID(r), detail))
}

// RouteUnavailable writes the single user-facing failure of route computation.
func RouteUnavailable(w http.ResponseWriter, r *http.Request) {
	Error(w, r, models.NewRouteUnavailable(requestID(r)))
}

func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewServiceUnavailable(requestID(r), detail))
}
