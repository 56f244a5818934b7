package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/specd/internal/config"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	tp := otel.GetTracerProvider()
	prop := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestNew_DisabledIsNoop(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.Nil(t, tel.LoggerProvider())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())

	_, span := tel.Tracer("test").Start(context.Background(), "noop")
	span.End()
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}

func TestNew_ExportsSpans(t *testing.T) {
	restoreGlobals(t)
	exporter := tracetest.NewInMemoryExporter()

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	tel, err := New(context.Background(), cfg, WithTraceExporter(exporter))
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.NotNil(t, tel.LoggerProvider())

	_, span := otel.Tracer("test").Start(context.Background(), "coordinator.advance")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "coordinator.advance", spans[0].Name)

	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, "specd", service)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tel.Shutdown(ctx))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = "collector.example.com:4317"

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "disabled ignores everything", mutate: func(c *Config) { c.Endpoint = ""; c.SampleRate = 7 }},
		{name: "enabled defaults", mutate: func(c *Config) { c.Enabled = true }},
		{name: "missing endpoint", mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "" }, wantErr: true},
		{name: "missing service", mutate: func(c *Config) { c.Enabled = true; c.ServiceName = "" }, wantErr: true},
		{name: "remote with tls", mutate: func(c *Config) { c.Enabled = true; c.Insecure = false; c.Endpoint = "otel.example.com:4317" }},
		{name: "remote without tls", mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, wantErr: true},
		{name: "ipv6 loopback", mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "[::1]:4317" }},
		{name: "loopback range", mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "127.0.0.2:4317" }},
		{name: "sample rate", mutate: func(c *Config) { c.Enabled = true; c.SampleRate = 1.5 }, wantErr: true},
		{name: "shutdown timeout", mutate: func(c *Config) { c.Enabled = true; c.ShutdownTimeout = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Equal(t, tt.wantErr, cfg.Validate() != nil)
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{
		Enabled:    true,
		Endpoint:   "127.0.0.1:4317",
		Insecure:   true,
		SampleRate: 0.25,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "127.0.0.1:4317", cfg.Endpoint)
	assert.Equal(t, "specd", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, 0.25, cfg.SampleRate)
	assert.NoError(t, cfg.Validate())
}

func TestNewSampler(t *testing.T) {
	params := func(parent oteltrace.SpanContext) trace.SamplingParameters {
		ctx := context.Background()
		if parent.IsValid() {
			ctx = oteltrace.ContextWithSpanContext(ctx, parent)
		}
		return trace.SamplingParameters{ParentContext: ctx, TraceID: oteltrace.TraceID{1}, Name: "s"}
	}

	assert.Equal(t, trace.RecordAndSample, newSampler(1).ShouldSample(params(oteltrace.SpanContext{})).Decision)
	assert.Equal(t, trace.Drop, newSampler(0).ShouldSample(params(oteltrace.SpanContext{})).Decision)

	sampledParent := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    oteltrace.TraceID{1},
		SpanID:     oteltrace.SpanID{1},
		TraceFlags: oteltrace.FlagsSampled,
	})
	assert.Equal(t, trace.RecordAndSample, newSampler(0).ShouldSample(params(sampledParent)).Decision)
}

func TestTestTelemetry(t *testing.T) {
	tt := NewTestTelemetry()
	_, span := tt.Tracer("test").Start(context.Background(), "advance")
	span.End()

	require.NotNil(t, tt.SpanByName("advance"))
	assert.Nil(t, tt.SpanByName("missing"))
	assert.True(t, tt.IsEnabled())
}
