// Package logger provides structured logging for the pipeline.
package logger

import (
	"context"
)

// Logger is the structured logging contract used across the module.
// Log methods accept a message followed by alternating key-value pairs.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info-level message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning-level message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error-level message with optional key-value pairs
	Error(msg string, args ...any)

	// With creates a child logger whose entries always carry the given
	// key-value pairs
	With(args ...any) Logger

	// WithContext creates a child logger that extracts the correlation ID
	// from context when present
	WithContext(ctx context.Context) Logger
}

type contextKey string

// CorrelationIDKey is the context key consulted by WithContext implementations.
const CorrelationIDKey contextKey = "correlation_id"

// ContextWithCorrelationID stores a correlation ID in the context for
// WithContext-aware loggers to pick up. Blank IDs leave the context as is.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// CorrelationIDFromContext extracts the correlation ID, if any.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return value
	}
	return ""
}

// NewNop returns a logger that discards everything. Intended for tests and
// for components that make logging optional.
func NewNop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)               {}
func (nopLogger) Info(string, ...any)                {}
func (nopLogger) Warn(string, ...any)                {}
func (nopLogger) Error(string, ...any)               {}
func (nopLogger) With(...any) Logger                 { return nopLogger{} }
func (nopLogger) WithContext(context.Context) Logger { return nopLogger{} }
