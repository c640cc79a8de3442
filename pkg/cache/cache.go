// Package cache implements the offline content cache: an LRU- and
// TTL-governed byte store for chapter text and audio, durable across
// restarts through an injected key/value store.
//
// Reads are served locally when possible. GetOrFetch collapses concurrent
// fetches for the same key into one network call, and every write is gated
// by the storage quota manager, evicting least-recently-used unpinned
// entries when the budget requires it. Pinned entries (offline content) are
// never evicted for space; expired entries are treated as absent and
// reclaimed eagerly.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/voxbiblia/ark/internal/logger"
	"github.com/voxbiblia/ark/pkg/content"
	"github.com/voxbiblia/ark/pkg/quota"
	"github.com/voxbiblia/ark/pkg/store/kv"
)

// FetchFunc produces a payload for a key on a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Config configures a Cache.
type Config struct {
	// Store is the durable backend for payloads and index metadata.
	Store kv.Store

	// Quota gates writes against the storage budget.
	Quota *quota.Manager

	// DefaultTTL applies to entries stored without an explicit TTL.
	// Zero means entries do not expire by default.
	DefaultTTL time.Duration

	// Metrics is optional. Nil disables instrumentation.
	Metrics Metrics
}

// Cache is the offline content cache.
type Cache struct {
	store      kv.Store
	quota      *quota.Manager
	metrics    Metrics
	defaultTTL time.Duration

	group singleflight.Group

	mu        sync.Mutex
	index     map[string]*entry
	usedBytes int64
	closed    bool

	// now is replaceable in tests
	now func() time.Time
}

// New opens the cache over the given store, rebuilding the index from
// persisted metadata and rescanning the quota counters.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if cfg.Quota == nil {
		return nil, errors.New("cache quota manager is required")
	}

	c := &Cache{
		store:      cfg.Store,
		quota:      cfg.Quota,
		metrics:    cfg.Metrics,
		defaultTTL: cfg.DefaultTTL,
		index:      make(map[string]*entry),
		now:        time.Now,
	}

	if err := c.loadIndex(ctx); err != nil {
		return nil, fmt.Errorf("failed to load cache index: %w", err)
	}

	return c, nil
}

// loadIndex rebuilds the in-memory index from persisted metadata, drops
// records that no longer decode, sweeps orphaned payloads, and seeds the
// quota counter with the authoritative total. Runs before the cache is
// published, so no locking.
func (c *Cache) loadIndex(ctx context.Context) error {
	metaKeys, err := c.store.ListKeys(ctx, metaPrefix)
	if err != nil {
		return err
	}

	var total int64
	for _, mk := range metaKeys {
		data, err := c.store.Get(ctx, mk)
		if err != nil {
			if kv.IsNotFound(err) {
				continue
			}
			return err
		}

		ent, err := decodeEntry(data)
		if err != nil {
			ks := strings.TrimPrefix(mk, metaPrefix)
			logger.Warn("dropping undecodable cache index record",
				logger.Component("cache"), logger.ContentKey(ks), logger.Err(err))
			_ = c.store.Delete(ctx, mk)
			_ = c.store.Delete(ctx, payloadKey(ks))
			continue
		}

		c.index[ent.key.String()] = ent
		total += ent.sizeBytes
	}

	// Payloads without an index record are unreachable; reclaim them.
	payloadKeys, err := c.store.ListKeys(ctx, payloadPrefix)
	if err != nil {
		return err
	}
	for _, pk := range payloadKeys {
		ks := strings.TrimPrefix(pk, payloadPrefix)
		if _, ok := c.index[ks]; !ok {
			logger.Warn("reclaiming orphaned cache payload",
				logger.Component("cache"), logger.ContentKey(ks))
			_ = c.store.Delete(ctx, pk)
		}
	}

	c.usedBytes = total
	c.quota.Rescan(total)
	if c.metrics != nil {
		c.metrics.RecordUsage(total, len(c.index))
	}

	logger.Info("cache index loaded",
		logger.Component("cache"),
		"entries", len(c.index),
		logger.KeyUsedBytes, total)

	return nil
}

// Get returns the cached payload for key. The boolean reports a hit.
//
// A hit refreshes the entry's recency. Expired entries are reclaimed and
// reported as a miss, and a payload that fails the integrity check is
// invalidated and reported as a miss so callers transparently refetch.
func (c *Cache) Get(ctx context.Context, key content.Key) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	start := time.Now()
	ks := key.String()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false, ErrClosed
	}

	ent, ok := c.index[ks]
	if !ok {
		c.mu.Unlock()
		c.observeMiss(start)
		return nil, false, nil
	}

	if ent.expired(c.now()) {
		c.removeLocked(ctx, ks, ent, EvictionReasonTTL)
		c.mu.Unlock()
		c.observeMiss(start)
		return nil, false, nil
	}

	ent.lastAccessedAt = c.now()
	c.persistEntryLocked(ctx, ent)
	size := ent.sizeBytes
	c.mu.Unlock()

	payload, err := c.store.Get(ctx, payloadKey(ks))
	if err != nil {
		if kv.IsNotFound(err) {
			c.corruptMiss(ctx, key, "payload missing")
			c.observeMiss(start)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cached payload: %w", err)
	}

	if int64(len(payload)) != size {
		c.corruptMiss(ctx, key, fmt.Sprintf("size mismatch: stored %d, expected %d", len(payload), size))
		c.observeMiss(start)
		return nil, false, nil
	}

	if c.metrics != nil {
		c.metrics.ObserveHit(size, time.Since(start))
	}
	logger.Debug("cache hit",
		logger.Component("cache"), logger.ContentKey(ks), logger.Size(size))

	return payload, true, nil
}

// GetOrFetch returns the cached payload or fetches it on a miss.
//
// Concurrent callers for the same key share a single fetch. A successful
// fetch is stored through the quota-gated write path; a fetch error is
// returned to every waiter and nothing is cached, so the next call retries.
// A payload too large for the budget is still returned to the caller, just
// not cached.
func (c *Cache) GetOrFetch(ctx context.Context, key content.Key, fetch FetchFunc) ([]byte, error) {
	payload, ok, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		return payload, nil
	}

	ks := key.String()
	v, err, _ := c.group.Do(ks, func() (any, error) {
		// A concurrent flight may have stored the payload while this
		// caller waited on the flight lock.
		payload, ok, err := c.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return payload, nil
		}

		fetched, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		if err := c.Put(ctx, key, fetched, PutOptions{}); err != nil {
			if IsQuotaError(err) {
				logger.Warn("fetched content exceeds storage budget, serving uncached",
					logger.Component("cache"), logger.ContentKey(ks),
					logger.Size(int64(len(fetched))))
				return fetched, nil
			}
			return nil, err
		}

		return fetched, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]byte), nil
}

// Put stores payload under key through the quota-gated write path:
// reserve, evict LRU entries if the budget requires it, retry the
// reservation once, then write. Failures surface as a QuotaError.
func (c *Cache) Put(ctx context.Context, key content.Key, payload []byte, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return err
	}

	start := time.Now()
	ks := key.String()
	size := int64(len(payload))

	if _, max := c.quota.Snapshot(); max > 0 && size > max {
		return &QuotaError{Key: ks, Requested: size, Denied: true}
	}

	// A replace frees the old copy's bytes, so only the delta needs room.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	need := size
	if old, ok := c.index[ks]; ok {
		need -= old.sizeBytes
		if need < 0 {
			need = 0
		}
	}
	c.mu.Unlock()

	if d := c.quota.Reserve(need); d.Kind == quota.NeedsEviction {
		if _, err := c.EvictToFree(ctx, d.BytesToFree); err != nil {
			return err
		}
		if d = c.quota.Reserve(need); d.Kind != quota.Granted {
			return &QuotaError{Key: ks, Requested: size, BytesShort: d.BytesToFree}
		}
	}

	now := c.now()
	ent := &entry{
		key:            key,
		sizeBytes:      size,
		storedAt:       now,
		lastAccessedAt: now,
		pinned:         opts.Pinned,
	}
	switch {
	case opts.TTL > 0:
		ent.expiresAt = now.Add(opts.TTL)
	case opts.TTL == 0 && c.defaultTTL > 0:
		ent.expiresAt = now.Add(c.defaultTTL)
	}

	rec, err := encodeEntry(ent)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	if err := c.store.Put(ctx, payloadKey(ks), payload); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to store payload: %w", err)
	}
	if err := c.store.Put(ctx, metaKey(ks), rec); err != nil {
		_ = c.store.Delete(ctx, payloadKey(ks))
		c.mu.Unlock()
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	if old, ok := c.index[ks]; ok {
		c.usedBytes -= old.sizeBytes
		c.quota.RecordFreed(old.sizeBytes)
	}
	c.index[ks] = ent
	c.usedBytes += size
	c.quota.RecordUsed(size)
	c.recordUsageLocked()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ObserveWrite(size, time.Since(start))
	}
	logger.Debug("cache write",
		logger.Component("cache"), logger.ContentKey(ks),
		logger.Size(size), logger.KeyPinned, opts.Pinned)

	return nil
}

// Pin exempts the entry from LRU eviction. Returns ErrNotFound if the key
// has no entry.
func (c *Cache) Pin(ctx context.Context, key content.Key) error {
	return c.setPinned(ctx, key, true)
}

// Unpin makes the entry evictable again. Returns ErrNotFound if the key has
// no entry.
func (c *Cache) Unpin(ctx context.Context, key content.Key) error {
	return c.setPinned(ctx, key, false)
}

func (c *Cache) setPinned(ctx context.Context, key content.Key, pinned bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ks := key.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	ent, ok := c.index[ks]
	if !ok {
		return ErrNotFound
	}

	ent.pinned = pinned
	c.persistEntryLocked(ctx, ent)

	logger.Debug("cache pin state changed",
		logger.Component("cache"), logger.ContentKey(ks), logger.KeyPinned, pinned)

	return nil
}

// Contains reports whether key has a live (non-expired) entry without
// refreshing its recency.
func (c *Cache) Contains(key content.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	ent, ok := c.index[key.String()]
	return ok && !ent.expired(c.now())
}

// Entry returns a snapshot of the entry's metadata, if present and live.
func (c *Cache) Entry(key content.Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Entry{}, false
	}

	ent, ok := c.index[key.String()]
	if !ok || ent.expired(c.now()) {
		return Entry{}, false
	}
	return ent.snapshot(), true
}

// Entries returns metadata snapshots for every live entry.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	now := c.now()
	out := make([]Entry, 0, len(c.index))
	for _, ent := range c.index {
		if ent.expired(now) {
			continue
		}
		out = append(out, ent.snapshot())
	}
	return out
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0
	}

	now := c.now()
	n := 0
	for _, ent := range c.index {
		if !ent.expired(now) {
			n++
		}
	}
	return n
}

// UsedBytes returns the bytes currently accounted to the cache, including
// expired entries not yet reclaimed.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}

// Rescan rebuilds the index from persisted metadata and resets the quota
// counter to the authoritative total. Returns the drift between the tracked
// and actual usage.
func (c *Cache) Rescan(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}

	fresh := make(map[string]*entry)
	var total int64

	metaKeys, err := c.store.ListKeys(ctx, metaPrefix)
	if err != nil {
		return 0, err
	}
	for _, mk := range metaKeys {
		data, err := c.store.Get(ctx, mk)
		if err != nil {
			if kv.IsNotFound(err) {
				continue
			}
			return 0, err
		}
		ent, err := decodeEntry(data)
		if err != nil {
			continue
		}
		fresh[ent.key.String()] = ent
		total += ent.sizeBytes
	}

	drift := total - c.usedBytes
	c.index = fresh
	c.usedBytes = total
	c.quota.Rescan(total)
	c.recordUsageLocked()

	if drift != 0 {
		logger.Warn("cache usage drift corrected",
			logger.Component("cache"), "drift_bytes", drift,
			logger.KeyUsedBytes, total)
	}

	return drift, nil
}

// Close marks the cache closed. The underlying store is owned by the caller
// and stays open.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.index = nil
	return nil
}

// corruptMiss invalidates an entry that failed its integrity check.
func (c *Cache) corruptMiss(ctx context.Context, key content.Key, reason string) {
	ks := key.String()
	logger.Warn("cache entry failed integrity check",
		logger.Component("cache"), logger.ContentKey(ks), "reason", reason)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if ent, ok := c.index[ks]; ok {
		c.removeLocked(ctx, ks, ent, EvictionReasonCorrupt)
	}
}

// persistEntryLocked writes the entry's metadata record. Failures are logged
// rather than surfaced: the in-memory index stays authoritative until the
// next successful write.
func (c *Cache) persistEntryLocked(ctx context.Context, ent *entry) {
	rec, err := encodeEntry(ent)
	if err != nil {
		logger.Warn("failed to encode cache entry",
			logger.Component("cache"), logger.ContentKey(ent.key.String()), logger.Err(err))
		return
	}
	if err := c.store.Put(ctx, metaKey(ent.key.String()), rec); err != nil {
		logger.Warn("failed to persist cache entry",
			logger.Component("cache"), logger.ContentKey(ent.key.String()), logger.Err(err))
	}
}

func (c *Cache) recordUsageLocked() {
	if c.metrics != nil {
		c.metrics.RecordUsage(c.usedBytes, len(c.index))
	}
}

func (c *Cache) observeMiss(start time.Time) {
	if c.metrics != nil {
		c.metrics.ObserveMiss(time.Since(start))
	}
}
