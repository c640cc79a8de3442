package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for engine operations. Content and sync attributes carry
// their own prefixes so traces from different components aggregate cleanly.
const (
	// ========================================================================
	// Content attributes
	// ========================================================================
	AttrContentKey  = "content.key"  // canonical content key
	AttrContentKind = "content.kind" // text, audio
	AttrBook        = "content.book"
	AttrChapter     = "content.chapter"

	// ========================================================================
	// Cache attributes
	// ========================================================================
	AttrCacheHit    = "cache.hit"
	AttrEvictReason = "cache.evict_reason" // size_limit, ttl, explicit, corrupt

	// ========================================================================
	// Transfer attributes
	// ========================================================================
	AttrTaskID = "download.task_id"
	AttrOffset = "transfer.offset"
	AttrLength = "transfer.length"
	AttrBytes  = "transfer.bytes"

	// ========================================================================
	// Sync attributes
	// ========================================================================
	AttrEntityType = "entity.type" // bookmark, highlight, note, setting, readingProgress
	AttrEntityID   = "entity.id"
	AttrOpType     = "sync.op_type" // create, update, delete
	AttrOpID       = "sync.op_id"   // idempotency token
	AttrOutcome    = "sync.outcome" // applied, alreadyApplied, conflict

	// ========================================================================
	// Storage backend attributes
	// ========================================================================
	AttrBucket = "storage.bucket"
	AttrKey    = "storage.key"
	AttrRegion = "storage.region"
)

// Span names. Format: <component>.<operation>.
const (
	SpanCacheLookup  = "cache.lookup"
	SpanCacheWrite   = "cache.write"
	SpanCacheEvict   = "cache.evict"
	SpanFetch        = "content.fetch"
	SpanDownload     = "download.transfer"
	SpanSyncApply    = "sync.apply"
	SpanSyncDrain    = "sync.drain"
	SpanLibraryApply = "library.apply"
)

// ContentKey returns an attribute for a canonical content key.
func ContentKey(key string) attribute.KeyValue {
	return attribute.String(AttrContentKey, key)
}

// ContentKind returns an attribute for a content kind.
func ContentKind(kind string) attribute.KeyValue {
	return attribute.String(AttrContentKind, kind)
}

// Book returns an attribute for a book slug.
func Book(book string) attribute.KeyValue {
	return attribute.String(AttrBook, book)
}

// Chapter returns an attribute for a chapter number.
func Chapter(n int) attribute.KeyValue {
	return attribute.Int(AttrChapter, n)
}

// CacheHit returns an attribute for a cache hit indicator.
func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

// EvictReason returns an attribute for an eviction reason.
func EvictReason(reason string) attribute.KeyValue {
	return attribute.String(AttrEvictReason, reason)
}

// TaskID returns an attribute for a download task id.
func TaskID(id string) attribute.KeyValue {
	return attribute.String(AttrTaskID, id)
}

// Offset returns an attribute for a byte-range offset.
func Offset(offset int64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, offset)
}

// Length returns an attribute for a byte-range length.
func Length(length int64) attribute.KeyValue {
	return attribute.Int64(AttrLength, length)
}

// Bytes returns an attribute for a transferred byte count.
func Bytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytes, n)
}

// EntityType returns an attribute for an annotation entity type.
func EntityType(t string) attribute.KeyValue {
	return attribute.String(AttrEntityType, t)
}

// EntityID returns an attribute for an annotation entity id.
func EntityID(id string) attribute.KeyValue {
	return attribute.String(AttrEntityID, id)
}

// OpType returns an attribute for a mutation type.
func OpType(t string) attribute.KeyValue {
	return attribute.String(AttrOpType, t)
}

// OpID returns an attribute for a sync operation id.
func OpID(id string) attribute.KeyValue {
	return attribute.String(AttrOpID, id)
}

// Outcome returns an attribute for a sync apply outcome.
func Outcome(outcome string) attribute.KeyValue {
	return attribute.String(AttrOutcome, outcome)
}

// Bucket returns an attribute for an S3 bucket name.
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for an object key.
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for a cloud region.
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// StartContentSpan starts a span for a content operation, carrying the
// canonical key.
func StartContentSpan(ctx context.Context, name, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{ContentKey(key)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartSyncSpan starts a span for a sync operation, carrying the entity
// coordinates.
func StartSyncSpan(ctx context.Context, name, entityType, entityID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{EntityType(entityType), EntityID(entityID)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}
