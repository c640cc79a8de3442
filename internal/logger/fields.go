package logger

import "log/slog"

// Standard field keys for structured logging. Use these consistently across
// all components so logs aggregate and query cleanly.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID
	KeySpanID  = "span_id"  // OpenTelemetry span ID

	// ========================================================================
	// Engine Scope
	// ========================================================================
	KeyComponent  = "component"   // cache, download, sync, quota, api
	KeyContentKey = "content_key" // canonical content key string
	KeyEntity     = "entity"      // entityType/entityID composite
	KeyEntityType = "entity_type" // bookmark, highlight, note, setting, reading_progress
	KeyEntityID   = "entity_id"   // entity identifier
	KeyOpType     = "op_type"     // create, update, delete
	KeyOpID       = "op_id"       // sync operation id (idempotency token)
	KeyTaskID     = "task_id"     // download task id

	// ========================================================================
	// Transfers & Storage
	// ========================================================================
	KeySize          = "size"           // payload size in bytes
	KeyOffset        = "offset"         // chunk offset
	KeyBytesReceived = "bytes_received" // progress so far
	KeyBytesExpected = "bytes_expected" // total expected, 0 when unknown
	KeyUsedBytes     = "used_bytes"     // quota usage
	KeyMaxBytes      = "max_bytes"      // quota budget
	KeyEvicted       = "evicted"        // entries evicted
	KeyPinned        = "pinned"         // pinned indicator
	KeyCacheHit      = "cache_hit"      // cache hit indicator

	// ========================================================================
	// Retry Bookkeeping
	// ========================================================================
	KeyAttempt    = "attempt"     // retry attempt number
	KeyMaxRetries = "max_retries" // maximum retry attempts
	KeyBackoff    = "backoff"     // computed backoff delay

	// ========================================================================
	// Outcome
	// ========================================================================
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyState      = "state"       // task state
	KeyStatus     = "status"      // operation status
	KeyOnline     = "online"      // reachability state
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for an OpenTelemetry trace ID.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for an OpenTelemetry span ID.
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Component returns a slog.Attr naming the engine component.
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}

// ContentKey returns a slog.Attr for a canonical content key.
func ContentKey(key string) slog.Attr {
	return slog.String(KeyContentKey, key)
}

// Entity returns a slog.Attr for an entityType/entityID pair.
func Entity(entityType, entityID string) slog.Attr {
	return slog.String(KeyEntity, entityType+"/"+entityID)
}

// TaskID returns a slog.Attr for a download task id.
func TaskID(id string) slog.Attr {
	return slog.String(KeyTaskID, id)
}

// OpID returns a slog.Attr for a sync operation id.
func OpID(id string) slog.Attr {
	return slog.String(KeyOpID, id)
}

// Size returns a slog.Attr for a byte size.
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Err returns an error attribute, tolerating nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
