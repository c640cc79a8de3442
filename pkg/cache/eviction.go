package cache

// ============================================================================
// Eviction and invalidation
// ============================================================================
//
// Space is reclaimed in two passes: expired entries go first regardless of
// pin state (an expired entry is semantically absent), then unpinned entries
// leave oldest-first by lastAccessedAt until enough bytes are free. Pinned
// entries are never evicted for space; they only leave through expiry,
// explicit invalidation, or corruption.

import (
	"context"
	"sort"
	"time"

	"github.com/voxbiblia/ark/internal/logger"
	"github.com/voxbiblia/ark/pkg/content"
)

// EvictToFree reclaims at least bytesToFree bytes if possible and returns
// the bytes actually freed. It never touches pinned, non-expired entries,
// so the result may fall short of the request.
func (c *Cache) EvictToFree(ctx context.Context, bytesToFree int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}

	now := c.now()
	var freed int64

	// Pass 1: expired entries are free wins.
	expired := make([]string, 0)
	for ks, ent := range c.index {
		if ent.expired(now) {
			expired = append(expired, ks)
		}
	}
	for _, ks := range expired {
		ent := c.index[ks]
		freed += ent.sizeBytes
		c.removeLocked(ctx, ks, ent, EvictionReasonTTL)
	}

	if freed >= bytesToFree {
		return freed, nil
	}

	// Pass 2: LRU over unpinned entries, oldest first.
	type candidate struct {
		ks         string
		lastAccess time.Time
		size       int64
	}
	candidates := make([]candidate, 0, len(c.index))
	for ks, ent := range c.index {
		if !ent.pinned {
			candidates = append(candidates, candidate{ks, ent.lastAccessedAt, ent.sizeBytes})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastAccess.Before(candidates[j].lastAccess)
	})

	for _, cand := range candidates {
		if freed >= bytesToFree {
			break
		}
		freed += cand.size
		c.removeLocked(ctx, cand.ks, c.index[cand.ks], EvictionReasonSize)
	}

	if freed > 0 {
		logger.Debug("cache eviction pass",
			logger.Component("cache"),
			"freed_bytes", freed,
			"requested_bytes", bytesToFree)
	}

	return freed, nil
}

// Invalidate removes the entry for key. Invalidating an absent key is not
// an error.
func (c *Cache) Invalidate(ctx context.Context, key content.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	ks := key.String()
	if ent, ok := c.index[ks]; ok {
		c.removeLocked(ctx, ks, ent, EvictionReasonExplicit)
	}
	return nil
}

// InvalidateMatching removes every entry whose key satisfies the predicate
// and returns how many were removed. Used for bulk drops, e.g. all audio
// for a voice that was retired.
func (c *Cache) InvalidateMatching(ctx context.Context, pred func(content.Key) bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}

	matched := make([]string, 0)
	for ks, ent := range c.index {
		if pred(ent.key) {
			matched = append(matched, ks)
		}
	}
	for _, ks := range matched {
		c.removeLocked(ctx, ks, c.index[ks], EvictionReasonExplicit)
	}

	return len(matched), nil
}

// removeLocked deletes an entry from the store and the index and releases
// its bytes. Caller must hold c.mu. Store deletions are best-effort: a
// failed delete leaves an orphan the next index load reclaims.
func (c *Cache) removeLocked(ctx context.Context, ks string, ent *entry, reason string) {
	if err := c.store.Delete(ctx, metaKey(ks)); err != nil {
		logger.Warn("failed to delete cache entry record",
			logger.Component("cache"), logger.ContentKey(ks), logger.Err(err))
	}
	if err := c.store.Delete(ctx, payloadKey(ks)); err != nil {
		logger.Warn("failed to delete cache payload",
			logger.Component("cache"), logger.ContentKey(ks), logger.Err(err))
	}

	delete(c.index, ks)
	c.usedBytes -= ent.sizeBytes
	if c.usedBytes < 0 {
		c.usedBytes = 0
	}
	c.quota.RecordFreed(ent.sizeBytes)
	c.recordUsageLocked()

	if c.metrics != nil {
		c.metrics.RecordEviction(reason)
	}
	logger.Debug("cache entry removed",
		logger.Component("cache"), logger.ContentKey(ks),
		logger.Size(ent.sizeBytes), "reason", reason)
}
