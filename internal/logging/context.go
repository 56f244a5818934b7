package logging

import (
	"context"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context: the OpenTelemetry
// trace and span, and the specification, role, session and request ids.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 7)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if id := SpecIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("spec.id", id))
	}
	if role := RoleFromContext(ctx); role != "" {
		fields = append(fields, zap.String("role", role))
	}
	if id := SessionIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("session.id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

type specCtxKey struct{}
type roleCtxKey struct{}
type sessionCtxKey struct{}
type requestCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// validID reports whether id is safe to carry into log fields.
func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && utf8.ValidString(id) && idPattern.MatchString(id)
}

func withID(ctx context.Context, key any, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key any) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// WithSpecID adds a specification id to ctx. Invalid ids are ignored.
func WithSpecID(ctx context.Context, id string) context.Context {
	return withID(ctx, specCtxKey{}, id)
}

// SpecIDFromContext returns the specification id in ctx, if any.
func SpecIDFromContext(ctx context.Context) string { return idFrom(ctx, specCtxKey{}) }

// WithRole adds a role name to ctx. Invalid names are ignored.
func WithRole(ctx context.Context, role string) context.Context {
	return withID(ctx, roleCtxKey{}, role)
}

// RoleFromContext returns the role name in ctx, if any.
func RoleFromContext(ctx context.Context) string { return idFrom(ctx, roleCtxKey{}) }

// WithSessionID adds a worker session id to ctx. Invalid ids are ignored.
func WithSessionID(ctx context.Context, id string) context.Context {
	return withID(ctx, sessionCtxKey{}, id)
}

// SessionIDFromContext returns the worker session id in ctx, if any.
func SessionIDFromContext(ctx context.Context) string { return idFrom(ctx, sessionCtxKey{}) }

// WithRequestID adds an API request id to ctx. Invalid ids are ignored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the API request id in ctx, if any.
func RequestIDFromContext(ctx context.Context) string { return idFrom(ctx, requestCtxKey{}) }

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
