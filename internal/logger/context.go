package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds request-scoped logging fields that the Ctx logging
// variants prepend to every record.
type LogContext struct {
	TraceID    string // OpenTelemetry trace ID
	SpanID     string // OpenTelemetry span ID
	Component  string // engine component: cache, download, sync, coordinator
	ContentKey string // canonical content key, when the work is key-scoped
	Entity     string // entityType/entityID, when the work is entity-scoped
	StartTime  time.Time
}

// WithContext returns a new context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext, or nil if absent.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for the given component.
func NewLogContext(component string) *LogContext {
	return &LogContext{
		Component: component,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithKey returns a copy scoped to a content key.
func (lc *LogContext) WithKey(key string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.ContentKey = key
	}
	return clone
}

// WithEntity returns a copy scoped to a sync entity.
func (lc *LogContext) WithEntity(entity string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Entity = entity
	}
	return clone
}

// WithTrace returns a copy with trace identifiers set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the milliseconds elapsed since StartTime.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
