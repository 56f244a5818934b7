// Package logging provides structured logging with OpenTelemetry integration.
//
// Logger wraps Zap with:
//   - a Trace level below Debug
//   - stdout and OpenTelemetry outputs
//   - context fields: trace_id, span_id, spec.id, role, session.id, request.id
//   - field-name and pattern redaction
//   - sampling below error level
//
// Log with context:
//
//	ctx = logging.WithSpecID(ctx, "003-login-flow")
//	ctx = logging.WithRole(ctx, "implementer")
//	logger.Info(ctx, "session committed", zap.Uint64("seq", seq))
//
// Components that take a *zap.Logger receive Underlying(). Use
// NewTestLogger in tests to assert on output.
package logging
