// Package resilience wraps outbound calls to the dispatch backend and third-party providers
// with bounded retries, error classification, endpoint refresh, and circuit breaking.
package resilience

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig configures the breaker guarding each attempt. Every attempt
// counts, so one exhausted request with three attempts adds three failures.
type CircuitBreakerConfig struct {
	Name string

	// MaxRequests is how many probe attempts pass while half-open.
	MaxRequests uint32

	// Interval clears the counts periodically while closed. Zero never clears them.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// ReadyToTrip defaults to DefaultTripPolicy.ReadyToTrip.
	ReadyToTrip func(counts gobreaker.Counts) bool

	// IsSuccessful defaults to DefaultIsSuccessful.
	IsSuccessful func(err error) bool

	// OnStateChange defaults to logging the transition on the client's logger.
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// TripPolicy opens the breaker once MinRequests attempts have been seen and the failure
// ratio reaches FailureRatio, or immediately after ConsecutiveFailures failures in a row.
// A zero ConsecutiveFailures disables the streak rule.
type TripPolicy struct {
	MinRequests         uint32
	FailureRatio        float64
	ConsecutiveFailures uint32
}

// DefaultTripPolicy trips at a 50% failure ratio over at least 5 attempts, or after
// 10 straight failures.
var DefaultTripPolicy = TripPolicy{
	MinRequests:         5,
	FailureRatio:        0.5,
	ConsecutiveFailures: 10,
}

// ReadyToTrip implements gobreaker.Settings.ReadyToTrip.
func (p TripPolicy) ReadyToTrip(counts gobreaker.Counts) bool {
	if p.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= p.ConsecutiveFailures {
		return true
	}
	if counts.Requests == 0 || counts.Requests < p.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= p.FailureRatio
}

// DefaultCircuitBreakerConfig counts over one-minute windows and probes again after
// 30 seconds open.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		ReadyToTrip:  DefaultTripPolicy.ReadyToTrip,
		IsSuccessful: DefaultIsSuccessful,
	}
}

// DefaultIsSuccessful counts 4xx responses as successes: the upstream answered, the
// request was wrong. Transport failures and 5xx responses count as failures.
func DefaultIsSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode < http.StatusInternalServerError
	}
	return false
}

// NewCircuitBreaker builds a gobreaker breaker, filling unset policy hooks with defaults.
func NewCircuitBreaker[T any](cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[T] {
	settings := gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   cfg.ReadyToTrip,
		IsSuccessful:  cfg.IsSuccessful,
		OnStateChange: cfg.OnStateChange,
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = DefaultTripPolicy.ReadyToTrip
	}
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = DefaultIsSuccessful
	}
	return gobreaker.NewCircuitBreaker[T](settings)
}

func logStateChange(logger zerolog.Logger) func(string, gobreaker.State, gobreaker.State) {
	return func(name string, from, to gobreaker.State) {
		event := logger.Info()
		if to == gobreaker.StateOpen {
			event = logger.Warn()
		}
		event.
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state changed")
	}
}
