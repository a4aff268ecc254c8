package resilience_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetdispatch/fleetdispatch/internal/provider/resilience"
)

func TestIsNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport error", &resilience.TransportError{Err: errors.New("dial tcp: i/o timeout")}, true},
		{"unable to connect", errors.New("Unable to connect to the server"), true},
		{"connection refused", errors.New("dial tcp 127.0.0.1:80: connect: connection refused"), true},
		{"mixed case marker", errors.New("NETWORK ERROR while sending"), true},
		{"fetch failed", errors.New("fetch failed"), true},
		{"econnrefused", errors.New("ECONNREFUSED"), true},
		{"etimedout", errors.New("connect ETIMEDOUT 10.0.0.1:443"), true},
		{"wrapped", fmt.Errorf("sending location: %w", errors.New("connection refused")), true},
		{"http status", &resilience.StatusError{StatusCode: http.StatusServiceUnavailable}, false},
		{"http body mentioning marker", &resilience.StatusError{StatusCode: http.StatusBadGateway, Body: "upstream connection refused"}, true},
		{"unrelated", errors.New("invalid character '<' looking for beginning of value"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resilience.IsNetworkError(tt.err))
		})
	}
}

func TestStatusError_Message(t *testing.T) {
	err := &resilience.StatusError{StatusCode: http.StatusNotFound}
	assert.Equal(t, "server responded with status 404 Not Found", err.Error())

	err = &resilience.StatusError{StatusCode: http.StatusBadRequest, Body: `{"message":"missing origin"}`}
	assert.Equal(t, `server responded with status 400 Bad Request: {"message":"missing origin"}`, err.Error())
}

func TestRequestError_ReadsAsLastError(t *testing.T) {
	last := &resilience.StatusError{StatusCode: http.StatusBadGateway}
	err := &resilience.RequestError{Endpoint: "/getDirections", Attempts: 3, Err: last}

	assert.Equal(t, last.Error(), err.Error())
	assert.ErrorIs(t, err, resilience.ErrNetwork)
	assert.ErrorIs(t, err, last)
	assert.Equal(t, http.StatusBadGateway, resilience.HTTPStatus(err))
}

func TestHTTPStatus_NoResponse(t *testing.T) {
	err := &resilience.RequestError{Err: &resilience.TransportError{Err: errors.New("connection refused")}}
	assert.Equal(t, 0, resilience.HTTPStatus(err))
	assert.Equal(t, 0, resilience.HTTPStatus(nil))
}
