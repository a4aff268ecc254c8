package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fleetdispatch/fleetdispatch/internal/api/middleware"
)

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output: %q", buf.String())
	return entry
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	h := middleware.RequestID(middleware.Logger(zerolog.New(&buf))(statusHandler(http.StatusOK, `{"ok":true}`)))

	req := httptest.NewRequest(http.MethodGet, "/v1/allocations", http.NoBody)
	req.Header.Set("User-Agent", "fleet-tracker/1.4")
	serve(h, req)

	entry := decodeLogLine(t, &buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "request completed", entry["message"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/v1/allocations", entry["path"])
	assert.InDelta(t, 200, entry["status"], 0)
	assert.InDelta(t, 11, entry["bytes"], 0)
	assert.Equal(t, "fleet-tracker/1.4", entry["user_agent"])
	assert.Contains(t, entry["request_id"], "req_")
	assert.Contains(t, entry, "duration")
	assert.NotContains(t, entry, "user_id")
	assert.NotContains(t, entry, "trace_id")
}

func TestLogger_LevelByOutcome(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		level  string
	}{
		{"success", "/v1/allocations", http.StatusOK, "info"},
		{"client error", "/v1/geocode", http.StatusNotFound, "warn"},
		{"server error", "/v1/routes:compute", http.StatusServiceUnavailable, "error"},
		{"health probe", "/v1/ops/health", http.StatusOK, "debug"},
		{"failing readiness probe", "/v1/ops/ready", http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := middleware.Logger(zerolog.New(&buf))(statusHandler(tt.status, ""))

			serve(h, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))

			assert.Equal(t, tt.level, decodeLogLine(t, &buf)["level"])
		})
	}
}

func TestLogger_ProbesSuppressedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	h := middleware.Logger(zerolog.New(&buf).Level(zerolog.InfoLevel))(statusHandler(http.StatusOK, ""))

	serve(h, httptest.NewRequest(http.MethodGet, "/v1/ops/ready", http.NoBody))

	assert.Zero(t, buf.Len())
}

func TestLogger_RouteAndUser(t *testing.T) {
	var buf bytes.Buffer
	router, bearer := driverRouter(t, statusHandler(http.StatusOK, ""),
		middleware.RequestID, middleware.Logger(zerolog.New(&buf)))

	req := httptest.NewRequest(http.MethodGet, "/v1/drivers/D-042", http.NoBody)
	req.Header.Set("Authorization", bearer)
	serve(router, req)

	entry := decodeLogLine(t, &buf)
	assert.Equal(t, "/v1/drivers/{driverID}", entry["route"])
	assert.Equal(t, "/v1/drivers/D-042", entry["path"])
	assert.Equal(t, "D-042", entry["user_id"])
}

func TestLogger_TraceCorrelation(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer func() { _ = tp.Shutdown(context.Background()) }()

	var buf bytes.Buffer
	h := middleware.Tracing("fleetdispatch-gateway")(middleware.Logger(zerolog.New(&buf))(statusHandler(http.StatusOK, "")))

	serve(h, httptest.NewRequest(http.MethodGet, "/v1/allocations", http.NoBody))

	entry := decodeLogLine(t, &buf)
	require.Len(t, sr.Ended(), 1)
	sc := sr.Ended()[0].SpanContext()
	assert.Equal(t, sc.TraceID().String(), entry["trace_id"])
	assert.Equal(t, sc.SpanID().String(), entry["span_id"])
}
