package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/islandd/internal/config"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.False(t, tel.IsEnabled())
	assert.Nil(t, tel.LoggerProvider())
	assert.Equal(t, "disabled", tel.Status().String())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_EnabledUnreachableCollector(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = "127.0.0.1:1"

	// Exporters connect lazily, so New succeeds and nothing is degraded.
	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.NotNil(t, tel.LoggerProvider())
	assert.Equal(t, "ok", tel.Status().String())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = tel.Shutdown(ctx)
	assert.False(t, tel.IsEnabled())
	assert.NoError(t, tel.Shutdown(ctx), "second shutdown is a no-op")
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "disabled", Status{}.String())
	assert.Equal(t, "ok", Status{Enabled: true}.String())
	assert.Equal(t, "degraded (1 provider(s) failed)", Status{Enabled: true, Degraded: []string{"meter provider: boom"}}.String())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""

	tel, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.Nil(t, tel.LoggerProvider())
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, Status{}, tel.Status())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"disabled skips checks", func(c *Config) { c.Endpoint = "" }, ""},
		{"local insecure ok", func(c *Config) { c.Enabled = true }, ""},
		{"ipv6 local", func(c *Config) { c.Enabled = true; c.Endpoint = "[::1]:4317" }, ""},
		{"remote insecure", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, "insecure"},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "udp" }, "protocol"},
		{"bad rate", func(c *Config) { c.Enabled = true; c.SampleRate = 1.5 }, "sample_rate"},
		{"zero shutdown", func(c *Config) { c.Enabled = true; c.ShutdownTimeout = 0 }, "shutdown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromSection(t *testing.T) {
	cfg := FromSection(config.Default().Telemetry)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "islandd", cfg.ServiceName)
	assert.Equal(t, "grpc", cfg.Protocol)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel:4318", stripScheme("https://otel:4318"))
	assert.Equal(t, "otel:4318", stripScheme("http://otel:4318"))
	assert.Equal(t, "otel:4318", stripScheme("otel:4318"))
}

func TestTestTelemetry(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	_, span := tt.Tracer("test").Start(ctx, "router.Search")
	span.SetAttributes(Attr("project", "acme"))
	span.End()

	tt.AssertSpanExists(t, "router.Search")
	tt.AssertSpanAttribute(t, "router.Search", "project", "acme")
	assert.Equal(t, 1, tt.SpanCount("router.Search"))

	counter, err := tt.Meter("test").Int64Counter("islandd.test")
	require.NoError(t, err)
	counter.Add(ctx, 2)

	rm, err := tt.MetricReader.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, "islandd.test", rm.ScopeMetrics[0].Metrics[0].Name)
	assert.Len(t, tt.MetricReader.Metrics(), 1)
}
