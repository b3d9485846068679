package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across gemstore.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldRequestID = "request_id"
	FieldNode      = "node"

	// Components
	FieldComponent = "component"
	FieldListener  = "listener"

	// Operations
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldInterval   = "interval"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount   = "count"
	FieldSize    = "size"
	FieldChanged = "changed"
	FieldDropped = "dropped"

	// Network
	FieldAddress = "address"
	FieldPort    = "port"

	// Store and sync
	FieldKey      = "key"
	FieldPeer     = "peer"
	FieldPolicy   = "policy"
	FieldMode     = "mode"
	FieldFull     = "full"
	FieldForced   = "forced"
	FieldFailures = "consecutive_failures"

	FieldLocalKind    = "local_kind"
	FieldIncomingKind = "incoming_kind"
)

type contextKey string

const requestIDKey contextKey = "logger_request_id"

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request ID stored by WithRequestID, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// LoggerFromContext returns base with the request ID attached when the
// context carries one.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if id := RequestIDFromContext(ctx); id != "" {
		return base.With(FieldRequestID, id)
	}
	return base
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type PollWorker struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func NewPollWorker() *PollWorker {
//	    return &PollWorker{
//	        logger: logger.ComponentLogger("sync.poll"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
