// Package logging provides structured logging for reqgate.
//
// Logger wraps Zap with context-aware methods that attach the branch, session
// and trace ids carried in the context. Output goes to stderr, since stdout
// is reserved for hook decisions, and optionally to an OpenTelemetry log
// provider through the otelzap bridge.
//
//	ctx = logging.WithBranch(ctx, "feature/login")
//	ctx = logging.WithSessionID(ctx, payload.SessionID)
//	logger.Info(ctx, "gate evaluated", zap.String("decision", "block"))
//
// Sensitive field names and value patterns are redacted by the encoder.
// Below-error entries are sampled; errors never are.
//
// Tests use NewTestLogger to observe entries.
package logging
