package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/logging"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/islandd/internal/http"

// HTTPMetrics records API traffic by route template and outcome.
type HTTPMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the instruments on the global meter provider.
func NewHTTPMetrics(logger *logging.Logger) *HTTPMetrics {
	return newHTTPMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newHTTPMetrics(meter metric.Meter, logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn(context.Background(), "failed to create http instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &HTTPMetrics{}
	var err error
	m.requests, err = meter.Int64Counter("islandd.http.requests_total",
		metric.WithDescription("API requests by method, route and outcome."),
		metric.WithUnit("{request}"))
	warn("requests_total", err)

	// Syncs run inside the request and searches fan out, so the upper
	// buckets reach minutes.
	m.duration, err = meter.Float64Histogram("islandd.http.request_duration_seconds",
		metric.WithDescription("API request duration by method, route and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 10, 30, 120, 600))
	warn("request_duration_seconds", err)

	m.inFlight, err = meter.Int64UpDownCounter("islandd.http.in_flight_requests",
		metric.WithDescription("API requests currently being served."),
		metric.WithUnit("{request}"))
	warn("in_flight_requests", err)
	return m
}

// MetricsMiddleware returns an echo middleware that records every request.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			began := time.Now()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", normalizePath(c.Path())),
				attribute.String("outcome", outcome(status)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(began).Seconds(), attrs)
			}
			return err
		}
	}
}

// normalizePath returns the route label for a request. echo reports the
// registered route (/api/v1/datasets/:project/:dataset), so project and
// dataset names never become label values.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

// outcome buckets a status code. 409, a sync rejected while another run of
// the dataset holds the lock, is its own bucket.
func outcome(status int) string {
	switch {
	case status == 409:
		return "conflict"
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	default:
		return "ok"
	}
}
