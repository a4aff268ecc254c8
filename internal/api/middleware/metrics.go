package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/fleetdispatch/fleetdispatch/internal/api/middleware"

// Metrics holds the gateway's HTTP server instruments.
type Metrics struct {
	requestDuration  metric.Float64Histogram
	requestTotal     metric.Int64Counter
	requestsInFlight metric.Int64UpDownCounter
	responseSize     metric.Int64Histogram
}

// NewMetrics registers the HTTP server instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	var m Metrics
	var errs [4]error
	m.requestDuration, errs[0] = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Gateway request latency"), metric.WithUnit("s"))
	m.requestTotal, errs[1] = meter.Int64Counter("http.server.request.total",
		metric.WithDescription("Gateway requests served"), metric.WithUnit("{request}"))
	m.requestsInFlight, errs[2] = meter.Int64UpDownCounter("http.server.active_requests",
		metric.WithDescription("Gateway requests being served"), metric.WithUnit("{request}"))
	m.responseSize, errs[3] = meter.Int64Histogram("http.server.response.body.size",
		metric.WithDescription("Gateway response body size"), metric.WithUnit("By"))

	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}
	return &m, nil
}

// Middleware returns an HTTP middleware that records metrics for each request.
// Requests are labelled by chi route pattern; paths that match no route share
// the "unmatched" label to keep cardinality bounded.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()

			inFlight := metric.WithAttributes(attribute.String("http.request.method", r.Method))
			m.requestsInFlight.Add(ctx, 1, inFlight)
			defer m.requestsInFlight.Add(ctx, -1, inFlight)

			rec := record(w)
			next.ServeHTTP(rec, r)

			route := routePattern(r)
			if route == "" {
				route = unmatchedRoute
			}
			attrs := metric.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", rec.status),
				attribute.Bool("error", rec.status >= http.StatusBadRequest),
			)

			m.requestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
			m.requestTotal.Add(ctx, 1, attrs)
			m.responseSize.Record(ctx, rec.written, attrs)
		})
	}
}

// ProviderMetrics holds metrics for pipeline operations that reach the dispatch backend.
type ProviderMetrics struct {
	requestDuration metric.Float64Histogram
	requestTotal    metric.Int64Counter
}

// NewProviderMetrics registers instruments for upstream calls made while serving requests.
func NewProviderMetrics() (*ProviderMetrics, error) {
	meter := otel.Meter(meterName)

	var m ProviderMetrics
	var errs [2]error
	m.requestDuration, errs[0] = meter.Float64Histogram("provider.request.duration",
		metric.WithDescription("Upstream call latency including retries"), metric.WithUnit("s"))
	m.requestTotal, errs[1] = meter.Int64Counter("provider.request.total",
		metric.WithDescription("Upstream calls by provider and operation"), metric.WithUnit("{request}"))

	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordRequest records one upstream call. A nil receiver records nothing, so
// handlers can run without metrics in tests.
func (m *ProviderMetrics) RecordRequest(provider, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("provider.name", provider),
		attribute.String("provider.operation", operation),
		attribute.Bool("error", err != nil),
	)

	// The request context may already be cancelled when the call failed.
	ctx := context.Background()
	m.requestDuration.Record(ctx, duration.Seconds(), attrs)
	m.requestTotal.Add(ctx, 1, attrs)
}
