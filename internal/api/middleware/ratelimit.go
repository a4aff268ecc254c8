package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/fleetdispatch/fleetdispatch/internal/api/models"
)

// RateLimitConfig is a fixed request budget per sliding window.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

// Per-endpoint budgets.
var (
	// LocationRateLimit covers driver location posts. A driver sampling every
	// 10s sends 6 per minute, so 60 leaves room for bursts after reconnects.
	LocationRateLimit = RateLimitConfig{RequestLimit: 60, WindowLength: time.Minute}

	// ExpensiveRateLimit covers route computation, which calls out to the directions provider.
	ExpensiveRateLimit = RateLimitConfig{RequestLimit: 30, WindowLength: time.Minute}

	// StandardRateLimit covers cached reads such as geocoding and allocations.
	StandardRateLimit = RateLimitConfig{RequestLimit: 100, WindowLength: time.Minute}
)

// RateLimitByIP limits by client address. Put chi's RealIP in front so
// X-Forwarded-For is honoured.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limiter(cfg, httprate.KeyByRealIP)
}

// RateLimitByUser limits by token subject and falls back to the client address
// for unauthenticated requests.
func RateLimitByUser(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limiter(cfg, keyByUserOrIP)
}

func limiter(cfg RateLimitConfig, key httprate.KeyFunc) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(limitExceeded(cfg.WindowLength)),
	)
}

func keyByUserOrIP(r *http.Request) (string, error) {
	if userID := GetUserID(r.Context()); userID != "" {
		return "user:" + userID, nil
	}
	return httprate.KeyByRealIP(r)
}

// limitExceeded writes a 429 problem. httprate does not expose when the window
// resets, so Retry-After advertises one full window.
func limitExceeded(window time.Duration) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(math.Ceil(window.Seconds())))

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", retryAfter)

		problem := models.NewTooManyRequests(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later.")
		problem.Instance = r.URL.Path
		problem.Write(w)
	}
}
