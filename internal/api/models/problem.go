package models

import (
	"encoding/json"
	"net/http"
)

// ProblemContentType is the media type of every gateway error body.
const ProblemContentType = "application/problem+json"

// Problem is an RFC 7807 error body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// TraceID echoes the request ID so drivers can quote it to dispatch support.
	TraceID string `json:"traceId"`

	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError points at one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const problemBase = "https://fleetdispatch.dev/problems/"

// Problem type URIs.
const (
	ProblemTypeValidation       = problemBase + "validation-error"
	ProblemTypeUnauthorized     = problemBase + "unauthorized"
	ProblemTypeForbidden        = problemBase + "forbidden"
	ProblemTypeTLSRequired      = problemBase + "tls-required"
	ProblemTypeNotFound         = problemBase + "not-found"
	ProblemTypeUnsupportedMedia = problemBase + "unsupported-media-type"
	ProblemTypeTooManyRequests  = problemBase + "too-many-requests"
	ProblemTypeInternal         = problemBase + "internal-error"
	ProblemTypeUnavailable      = problemBase + "service-unavailable"
	ProblemTypeRouteUnavailable = problemBase + "route-unavailable"
)

// RouteUnavailableDetail is the user-facing message for every route computation failure.
const RouteUnavailableDetail = "route unavailable, try again"

type problemKind struct {
	typ    string
	title  string
	status int
}

var (
	kindValidation       = problemKind{ProblemTypeValidation, "Validation error", http.StatusBadRequest}
	kindUnauthorized     = problemKind{ProblemTypeUnauthorized, "Unauthorized", http.StatusUnauthorized}
	kindForbidden        = problemKind{ProblemTypeForbidden, "Forbidden", http.StatusForbidden}
	kindTLSRequired      = problemKind{ProblemTypeTLSRequired, "TLS required", http.StatusForbidden}
	kindNotFound         = problemKind{ProblemTypeNotFound, "Not found", http.StatusNotFound}
	kindUnsupportedMedia = problemKind{ProblemTypeUnsupportedMedia, "Unsupported media type", http.StatusUnsupportedMediaType}
	kindTooManyRequests  = problemKind{ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests}
	kindInternal         = problemKind{ProblemTypeInternal, "Internal server error", http.StatusInternalServerError}
	kindUnavailable      = problemKind{ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable}
	kindRouteUnavailable = problemKind{ProblemTypeRouteUnavailable, "Route unavailable", http.StatusServiceUnavailable}
)

func (k problemKind) new(traceID, detail string) *Problem {
	return &Problem{Type: k.typ, Title: k.title, Status: k.status, Detail: detail, TraceID: traceID}
}

// NewProblem builds a Problem of an arbitrary type.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return problemKind{problemType, title, status}.new(traceID, "")
}

// WithDetail sets the occurrence-specific explanation.
func (p *Problem) WithDetail(detail string) *Problem {
	p.Detail = detail
	return p
}

// WithInstance sets the request path the problem occurred on.
func (p *Problem) WithInstance(instance string) *Problem {
	p.Instance = instance
	return p
}

// Write sends the problem with its status code and the request ID header.
func (p *Problem) Write(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", ProblemContentType)
	if p.TraceID != "" {
		h.Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NewBadRequest reports a validation failure, optionally per field.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := kindValidation.new(traceID, detail)
	p.Errors = errors
	return p
}

func NewUnauthorized(traceID, detail string) *Problem {
	return kindUnauthorized.new(traceID, detail)
}

func NewForbidden(traceID, detail string) *Problem {
	return kindForbidden.new(traceID, detail)
}

// NewTLSRequired rejects a request that reached the gateway over plain HTTP.
func NewTLSRequired(traceID string) *Problem {
	return kindTLSRequired.new(traceID, "This endpoint requires HTTPS")
}

func NewNotFound(traceID, detail string) *Problem {
	return kindNotFound.new(traceID, detail)
}

// NewUnsupportedMediaType rejects a request body that is not JSON.
func NewUnsupportedMediaType(traceID, contentType string) *Problem {
	return kindUnsupportedMedia.new(traceID, "Content-Type must be application/json, got "+contentType)
}

func NewTooManyRequests(traceID, detail string) *Problem {
	return kindTooManyRequests.new(traceID, detail)
}

func NewInternalError(traceID, detail string) *Problem {
	return kindInternal.new(traceID, detail)
}

// NewRouteUnavailable is returned for every failed route computation. The cause is
// logged server side and never shown to the driver.
func NewRouteUnavailable(traceID string) *Problem {
	return kindRouteUnavailable.new(traceID, RouteUnavailableDetail)
}

func NewServiceUnavailable(traceID, detail string) *Problem {
	return kindUnavailable.new(traceID, detail)
}
