package cache

import "time"

// Eviction reasons reported to metrics.
const (
	EvictionReasonSize     = "size_limit" // LRU eviction to fit the budget
	EvictionReasonTTL      = "ttl"        // entry expired
	EvictionReasonExplicit = "explicit"   // Invalidate / InvalidateMatching
	EvictionReasonCorrupt  = "corrupt"    // integrity check failed on read
)

// Metrics records cache instrumentation.
//
// Implementations must be safe for concurrent use. A nil Metrics disables
// recording with zero overhead.
type Metrics interface {
	// ObserveHit records a cache hit and the payload size served.
	ObserveHit(bytes int64, duration time.Duration)

	// ObserveMiss records a cache miss (clean, expired, or corrupt).
	ObserveMiss(duration time.Duration)

	// ObserveWrite records a stored payload.
	ObserveWrite(bytes int64, duration time.Duration)

	// RecordEviction records a removed entry by reason.
	RecordEviction(reason string)

	// RecordUsage records the current byte usage and entry count.
	RecordUsage(usedBytes int64, entries int)
}
