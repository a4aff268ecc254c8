package handler

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetdispatch/fleetdispatch/internal/api/middleware"
	"github.com/fleetdispatch/fleetdispatch/internal/api/models"
	"github.com/fleetdispatch/fleetdispatch/internal/api/response"
	"github.com/fleetdispatch/fleetdispatch/internal/routing"
	"github.com/fleetdispatch/fleetdispatch/pkg/geo"
	"github.com/fleetdispatch/fleetdispatch/pkg/polyline"
)

const (
	// DefaultMaxSessions bounds how many callers keep a route session at once.
	DefaultMaxSessions = 10000

	// DefaultSessionIdleTTL is how long an unused route session is kept.
	DefaultSessionIdleTTL = time.Hour

	// DefaultMaxRoutePoints caps the coordinates returned for one route.
	DefaultMaxRoutePoints = 500

	// routeRetryAfter is the Retry-After hint, in seconds, for transient provider failures.
	routeRetryAfter = 5
)

// RouteConfig holds configuration for the route handler.
type RouteConfig struct {
	// Provider fetches directions.
	Provider routing.Provider

	// Mode is the default travel mode.
	Mode routing.Mode

	// Metrics records upstream call outcomes (optional).
	Metrics *middleware.ProviderMetrics

	// MaxSessions defaults to DefaultMaxSessions. When full, idle sessions are dropped
	// first, then the least recently used one.
	MaxSessions int

	// SessionIdleTTL defaults to DefaultSessionIdleTTL.
	SessionIdleTTL time.Duration

	// MaxRoutePoints defaults to DefaultMaxRoutePoints. Longer geometries are resampled
	// along the path; the encoded polyline is always returned in full.
	MaxRoutePoints int

	// Now overrides the clock used for session expiry.
	Now func() time.Time

	Logger zerolog.Logger
}

type routeSession struct {
	session  *routing.Session
	lastUsed time.Time
}

// RouteHandler handles routing endpoints. Each caller gets its own route session, so
// GET /v1/routes/current returns that caller's last successful route.
type RouteHandler struct {
	provider    routing.Provider
	mode        routing.Mode
	metrics     *middleware.ProviderMetrics
	maxSessions int
	idleTTL     time.Duration
	maxPoints   int
	now         func() time.Time
	logger      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*routeSession
}

// NewRouteHandler creates a new RouteHandler.
func NewRouteHandler(cfg RouteConfig) *RouteHandler {
	h := &RouteHandler{
		provider:    cfg.Provider,
		mode:        cfg.Mode,
		metrics:     cfg.Metrics,
		maxSessions: cfg.MaxSessions,
		idleTTL:     cfg.SessionIdleTTL,
		maxPoints:   cfg.MaxRoutePoints,
		now:         cfg.Now,
		logger:      cfg.Logger,
		sessions:    make(map[string]*routeSession),
	}
	if h.maxSessions <= 0 {
		h.maxSessions = DefaultMaxSessions
	}
	if h.idleTTL <= 0 {
		h.idleTTL = DefaultSessionIdleTTL
	}
	if h.maxPoints <= 0 {
		h.maxPoints = DefaultMaxRoutePoints
	}
	h.maxPoints = max(h.maxPoints, 3)
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Sessions returns how many route sessions are held.
func (h *RouteHandler) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// session returns the caller's session. With create false it returns nil when the caller
// has none, or when it has sat idle past the TTL.
func (h *RouteHandler) session(userID string, create bool) *routing.Session {
	now := h.now()

	h.mu.Lock()
	defer h.mu.Unlock()

	if rs, ok := h.sessions[userID]; ok {
		if now.Sub(rs.lastUsed) <= h.idleTTL {
			rs.lastUsed = now
			return rs.session
		}
		delete(h.sessions, userID)
	}
	if !create {
		return nil
	}

	if len(h.sessions) >= h.maxSessions {
		h.evictLocked(now)
	}
	s := routing.NewSession(routing.SessionConfig{
		Provider: h.provider,
		Mode:     h.mode,
		Logger:   h.logger.With().Str("user_id", userID).Logger(),
	})
	h.sessions[userID] = &routeSession{session: s, lastUsed: now}
	return s
}

// evictLocked drops idle sessions and, if the map is still full, the least recently used.
func (h *RouteHandler) evictLocked(now time.Time) {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, rs := range h.sessions {
		if now.Sub(rs.lastUsed) > h.idleTTL {
			delete(h.sessions, id)
			continue
		}
		if oldestID == "" || rs.lastUsed.Before(oldest) {
			oldestID, oldest = id, rs.lastUsed
		}
	}
	if len(h.sessions) >= h.maxSessions && oldestID != "" {
		delete(h.sessions, oldestID)
		h.logger.Debug().Str("user_id", oldestID).Msg("evicted least recently used route session")
	}
}

func (h *RouteHandler) routeResponse(s *routing.Summary) models.RouteResponse {
	resp := models.RouteResponseFrom(s)
	if len(s.Coordinates) <= h.maxPoints || s.LengthMeters <= 0 {
		return resp
	}
	thinned := polyline.Sample(s.Coordinates, s.LengthMeters/float64(h.maxPoints-2))
	if len(thinned) > h.maxPoints {
		thinned = append(thinned[:h.maxPoints-1], thinned[len(thinned)-1])
	}
	resp.Coordinates = models.PointsFrom(thinned)
	return resp
}

// ComputeRoute handles POST /v1/routes:compute.
func (h *RouteHandler) ComputeRoute(w http.ResponseWriter, r *http.Request) {
	var input models.RouteComputeRequest
	if !response.Decode(w, r, &input) {
		return
	}
	if errs := input.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid route request", errs)
		return
	}

	start := time.Now()
	summary, err := h.session(GetUserID(r.Context()), true).ComputeRoute(r.Context(),
		input.Origin.Coordinate(),
		input.Destination.Coordinate(),
		routing.WithMode(routing.Mode(input.Mode)),
	)
	h.metrics.RecordRequest(h.provider.Name(), "directions", time.Since(start), err)
	if err != nil {
		if errors.Is(err, geo.ErrInvalidCoordinate) {
			response.BadRequest(w, r, err.Error(), nil)
			return
		}
		var routeErr *routing.Error
		retryable := errors.As(err, &routeErr) && routeErr.IsRetryable()
		h.logger.Warn().Err(err).
			Str("user_id", GetUserID(r.Context())).
			Bool("retryable", retryable).
			Msg("route unavailable")
		if retryable {
			w.Header().Set("Retry-After", strconv.Itoa(routeRetryAfter))
		}
		response.RouteUnavailable(w, r)
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=60")
	response.JSON(w, r, http.StatusOK, h.routeResponse(summary))
}

// CurrentRoute handles GET /v1/routes/current.
func (h *RouteHandler) CurrentRoute(w http.ResponseWriter, r *http.Request) {
	var summary *routing.Summary
	if s := h.session(GetUserID(r.Context()), false); s != nil {
		summary = s.Current()
	}
	if summary == nil {
		response.NotFound(w, r, "no route has been computed yet")
		return
	}
	response.JSON(w, r, http.StatusOK, h.routeResponse(summary))
}
