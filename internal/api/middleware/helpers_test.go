package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/fleetdispatch/fleetdispatch/internal/api/middleware"
	"github.com/fleetdispatch/fleetdispatch/internal/auth"
)

func statusHandler(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		if body != "" {
			_, _ = w.Write([]byte(body))
		}
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// driverRouter mounts h at /v1/drivers/{driverID} behind the given middleware,
// authenticated with the test JWT service.
func driverRouter(t *testing.T, h http.Handler, mws ...func(http.Handler) http.Handler) (http.Handler, string) {
	t.Helper()

	tokens := createTestJWTService(t)
	token, _, err := tokens.GenerateAccessToken(auth.Principal{Name: "Juan Dela Cruz", DriverID: "D-042", Role: "driver"})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(mws...)
	r.With(middleware.Auth(tokens)).Method(http.MethodGet, "/v1/drivers/{driverID}", h)
	return r, "Bearer " + token
}
