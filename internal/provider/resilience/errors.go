package resilience

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Predefined errors for resilient operations.
var (
	// ErrNetwork matches every error returned by Client.Request once its attempts are spent.
	ErrNetwork = errors.New("network error")

	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrMalformedResponse is returned when a successful response body is not valid JSON.
	ErrMalformedResponse = errors.New("malformed response")
)

// networkErrorMarkers are matched case-insensitively against error messages.
var networkErrorMarkers = []string{
	"network request failed",
	"unable to connect",
	"connection refused",
	"network error",
	"fetch failed",
	"econnrefused",
	"etimedout",
}

// IsNetworkError reports whether err looks like a connectivity failure.
//
// Classification is by message substring, not by type: any error whose text happens to
// contain one of the markers is treated as network-related, including an HTTP error whose
// body mentions one.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range networkErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// TransportError is a failure to get any HTTP response at all (dial, TLS, timeout).
// Its message always carries the "network request failed" marker.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "network request failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError represents an HTTP response with a 4xx or 5xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("server responded with status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// RequestError is returned by Client.Request after the final attempt fails.
// It reads and unwraps as the most recent attempt error.
type RequestError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrNetwork) identify exhausted requests.
func (e *RequestError) Is(target error) bool {
	return target == ErrNetwork
}

// HTTPStatus returns the status code of the last attempt if the upstream answered,
// or 0 when no response was received.
func HTTPStatus(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
