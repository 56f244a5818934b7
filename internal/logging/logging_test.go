package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/specd/internal/config"
)

func bufferLogger(t *testing.T, mutate func(*Config)) (*Logger, *bytes.Buffer) {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	var buf bytes.Buffer
	logger, err := newLogger(cfg, zapcore.AddSync(&buf), nil)
	require.NoError(t, err)
	return logger, &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx = trace.ContextWithSpanContext(ctx, sc)
	ctx = WithSpecID(ctx, "003-login-flow")
	ctx = WithRole(ctx, "implementer")
	ctx = WithSessionID(ctx, "9b2f6c1e-4a17-4f5e-8d0b-3c2a1e6f7d90")
	ctx = WithRequestID(ctx, "req_42")

	got := map[string]zap.Field{}
	for _, f := range ContextFields(ctx) {
		got[f.Key] = f
	}
	assert.Equal(t, sc.TraceID().String(), got["trace_id"].String)
	assert.Equal(t, sc.SpanID().String(), got["span_id"].String)
	assert.Contains(t, got, "trace_sampled")
	assert.Equal(t, "003-login-flow", got["spec.id"].String)
	assert.Equal(t, "implementer", got["role"].String)
	assert.Equal(t, "9b2f6c1e-4a17-4f5e-8d0b-3c2a1e6f7d90", got["session.id"].String)
	assert.Equal(t, "req_42", got["request.id"].String)
}

func TestWithID_IgnoresInvalidValues(t *testing.T) {
	ctx := context.Background()
	for _, id := range []string{"", "has space", "new\nline", "\xff", strings.Repeat("a", maxIDLen+1)} {
		assert.Empty(t, SpecIDFromContext(WithSpecID(ctx, id)), "%q", id)
		assert.Empty(t, RequestIDFromContext(WithRequestID(ctx, id)), "%q", id)
	}
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(WithSpecID(ctx, "001-a"), "from context")
	tl.AssertField(t, "from context", "spec.id", "001-a")
}

func TestLogger_JSONOutput(t *testing.T) {
	logger, buf := bufferLogger(t, nil)

	ctx := WithSpecID(context.Background(), "001-a")
	logger.Named("coordinator").Info(ctx, "advance", zap.String("action", "advanced"))
	logger.Debug(ctx, "hidden")

	out := lines(t, buf)
	require.Len(t, out, 1)
	assert.Equal(t, "advance", out[0]["msg"])
	assert.Equal(t, "info", out[0]["level"])
	assert.Equal(t, "coordinator", out[0]["logger"])
	assert.Equal(t, "specd", out[0]["service"])
	assert.Equal(t, "001-a", out[0]["spec.id"])
	assert.Equal(t, "advanced", out[0]["action"])
	assert.Contains(t, out[0], "ts")
}

func TestLogger_TraceLevel(t *testing.T) {
	logger, buf := bufferLogger(t, func(c *Config) { c.Level = TraceLevel })
	logger.Trace(context.Background(), "snapshot")

	out := lines(t, buf)
	require.Len(t, out, 1)
	assert.Equal(t, "trace", out[0]["level"])

	quiet, qbuf := bufferLogger(t, nil)
	quiet.Trace(context.Background(), "snapshot")
	assert.Empty(t, qbuf.String())
	assert.False(t, quiet.Enabled(TraceLevel))
}

func TestLogger_Redaction(t *testing.T) {
	logger, buf := bufferLogger(t, nil)

	logger.With(zap.String("password", "hunter2")).Info(context.Background(), "connect",
		zap.String("token", "abc123"),
		zap.String("header", "Bearer eyJhbGciOi"),
		Secret("nats_credentials", config.Secret("s3cret")),
		zap.String("url", "nats://bus:4222"),
	)

	raw := buf.String()
	assert.NotContains(t, raw, "hunter2")
	assert.NotContains(t, raw, "abc123")
	assert.NotContains(t, raw, "eyJhbGciOi")
	assert.NotContains(t, raw, "s3cret")

	out := lines(t, buf)
	require.Len(t, out, 1)
	assert.Equal(t, "[REDACTED]", out[0]["password"])
	assert.Equal(t, "[REDACTED]", out[0]["token"])
	assert.Equal(t, "[REDACTED:pattern]", out[0]["header"])
	assert.Equal(t, "[REDACTED:6]", out[0]["nats_credentials"])
	assert.Equal(t, "nats://bus:4222", out[0]["url"])
}

func TestLogger_SamplingKeepsErrors(t *testing.T) {
	logger, buf := bufferLogger(t, func(c *Config) {
		c.Sampling = SamplingConfig{Enabled: true, Tick: config.Duration(time.Minute), Initial: 2, Thereafter: 0}
	})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		logger.Info(ctx, "poll")
		logger.Error(ctx, "commit failed")
	}

	var info, errs int
	for _, line := range lines(t, buf) {
		switch line["msg"] {
		case "poll":
			info++
		case "commit failed":
			errs++
		}
	}
	assert.Equal(t, 2, info)
	assert.Equal(t, 5, errs)
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{in: "trace", want: TraceLevel},
		{in: "debug", want: zapcore.DebugLevel},
		{in: "info", want: zapcore.InfoLevel},
		{in: "warn", want: zapcore.WarnLevel},
		{in: "error", want: zapcore.ErrorLevel},
		{in: "loud", want: zapcore.InfoLevel, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "format", mutate: func(c *Config) { c.Format = "xml" }, wantErr: "format"},
		{name: "no output", mutate: func(c *Config) { c.Output.Stdout = false }, wantErr: "output"},
		{name: "zero tick", mutate: func(c *Config) { c.Sampling.Tick = 0 }, wantErr: "sampling tick"},
		{name: "bad pattern", mutate: func(c *Config) { c.Redaction.Patterns = []string{"("} }, wantErr: "invalid redaction pattern"},
		{name: "long pattern", mutate: func(c *Config) { c.Redaction.Patterns = []string{strings.Repeat("a", maxPatternLen+1)} }, wantErr: "too long"},
		{name: "empty field", mutate: func(c *Config) { c.Fields["env"] = "" }, wantErr: "empty value"},
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

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromSettings(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = FromSettings(config.LoggingConfig{Format: "xml"})
	assert.Error(t, err)
}

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger()
	tl.Warn(WithRole(context.Background(), "verifier"), "stalled", zap.Int("attempt", 2))

	tl.AssertLogged(t, zapcore.WarnLevel, "stall")
	tl.AssertField(t, "stalled", "role", "verifier")
	assert.Len(t, tl.All(), 1)
	tl.Reset()
	assert.Empty(t, tl.All())
}
