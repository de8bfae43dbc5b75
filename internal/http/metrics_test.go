package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/islandd/internal/logging"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := newHTTPMetrics(mp.Meter(httpInstrumentationName), logging.NewNop())

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.DELETE("/api/v1/datasets/:project/:dataset", func(c echo.Context) error {
		if c.Param("dataset") == "busy" {
			return echo.NewHTTPError(http.StatusConflict, "sync in progress")
		}
		return c.NoContent(http.StatusNoContent)
	})

	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/health"},
		{http.MethodDelete, "/api/v1/datasets/acme/backend"},
		{http.MethodDelete, "/api/v1/datasets/other/busy"},
		{http.MethodGet, "/nope"},
	} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(r.method, r.path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	byRoute := map[string]int64{}
	byOutcome := map[string]int64{}
	var durations uint64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "islandd.http.requests_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					route, _ := dp.Attributes.Value(attribute.Key("route"))
					out, _ := dp.Attributes.Value(attribute.Key("outcome"))
					byRoute[route.AsString()] += dp.Value
					byOutcome[out.AsString()] += dp.Value
				}
			case "islandd.http.request_duration_seconds":
				hist, ok := md.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				for _, dp := range hist.DataPoints {
					durations += dp.Count
				}
			}
		}
	}

	assert.Equal(t, int64(1), byRoute["/health"])
	assert.Equal(t, int64(2), byRoute["/api/v1/datasets/:project/:dataset"], "route templates keep dataset names out of labels")
	assert.NotContains(t, byRoute, "/api/v1/datasets/acme/backend")
	assert.Equal(t, int64(2), byOutcome["ok"])
	assert.Equal(t, int64(1), byOutcome["conflict"])
	assert.Equal(t, int64(1), byOutcome["client_error"])
	assert.Equal(t, uint64(4), durations)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(http.StatusCreated))
	assert.Equal(t, "client_error", outcome(http.StatusNotFound))
	assert.Equal(t, "conflict", outcome(http.StatusConflict))
	assert.Equal(t, "server_error", outcome(http.StatusBadGateway))
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unmatched"},
		{"/health", "/health"},
		{"/api/v1/datasets/:project/:dataset", "/api/v1/datasets/:project/:dataset"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input), tt.input)
	}
}
