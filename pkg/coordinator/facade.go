package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voxbiblia/ark/internal/telemetry"
	"github.com/voxbiblia/ark/pkg/conflict"
	"github.com/voxbiblia/ark/pkg/content"
	"github.com/voxbiblia/ark/pkg/download"
	"github.com/voxbiblia/ark/pkg/library"
	"github.com/voxbiblia/ark/pkg/syncqueue"
)

// ErrOffline reports a cache miss while the backend is unreachable. The
// caller can retry once connectivity returns; nothing was attempted on the
// network.
var ErrOffline = errors.New("coordinator: offline and content is not cached")

// Fetch returns the content for key, serving from the cache when possible
// and falling back to the remote source on a miss. Concurrent callers for
// the same missing key share one remote fetch.
func (c *Coordinator) Fetch(ctx context.Context, key content.Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartContentSpan(ctx, telemetry.SpanFetch, key.String(),
		telemetry.ContentKind(string(key.Kind)))
	defer span.End()

	payload, err := c.cache.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		if !c.Online() {
			return nil, ErrOffline
		}
		return c.source.Fetch(ctx, key)
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	return payload, nil
}

// RequestOffline marks keys for offline availability: each key gets a
// pinned cache entry once its download completes. Returns the download task
// IDs, one per key, in key order.
func (c *Coordinator) RequestOffline(ctx context.Context, keys []content.Key) ([]string, error) {
	return c.downloads.RequestOffline(ctx, keys)
}

// RemoveOffline drops the offline marking for key: the task record goes
// away and the cached payload, if any, is unpinned so normal eviction
// applies to it again.
func (c *Coordinator) RemoveOffline(ctx context.Context, key content.Key) error {
	return c.downloads.RemoveOffline(ctx, key)
}

// CancelDownload cancels a queued or running download task.
func (c *Coordinator) CancelDownload(ctx context.Context, taskID string) error {
	return c.downloads.Cancel(ctx, taskID)
}

// DownloadProgress streams progress events for one key. The returned cancel
// func releases the subscription; the channel closes after cancel. Events
// for other keys are filtered out.
func (c *Coordinator) DownloadProgress(key content.Key) (<-chan download.Event, func()) {
	events, cancel := c.downloads.Subscribe()
	out := make(chan download.Event, 16)

	go func() {
		defer close(out)
		for ev := range events {
			if ev.Key != key {
				continue
			}
			select {
			case out <- ev:
			default:
				// Same policy as the manager: a slow consumer loses
				// events, never blocks a transfer.
			}
		}
	}()

	return out, cancel
}

// Downloads returns a snapshot of every known download task.
func (c *Coordinator) Downloads() []download.Task {
	return c.downloads.Tasks()
}

// DownloadCounts returns task counts by state name.
func (c *Coordinator) DownloadCounts() map[string]int {
	counts := c.downloads.Counts()
	out := make(map[string]int, len(counts))
	for state, n := range counts {
		out[string(state)] = n
	}
	return out
}

// SubmitMutation applies a user edit to the local library immediately and
// records it in the durable sync queue. The local write happens first;
// the UI reads its own write regardless of connectivity. The returned
// operation carries the idempotency token the backend will see.
func (c *Coordinator) SubmitMutation(ctx context.Context, entityType library.EntityType, entityID string, opType library.OpType, payload []byte) (*syncqueue.Operation, error) {
	ctx, span := telemetry.StartSyncSpan(ctx, telemetry.SpanLibraryApply,
		string(entityType), entityID, telemetry.OpType(string(opType)))
	defer span.End()

	if err := c.library.Apply(ctx, entityType, opType, entityID, payload); err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("apply mutation: %w", err)
	}

	op, err := c.queue.Enqueue(ctx, entityType, opType, entityID, payload)
	if err != nil {
		// The local write stands; the mutation is just not queued for
		// the backend. Surfacing the error lets the caller retry the
		// submit without losing the edit.
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("enqueue mutation: %w", err)
	}
	return op, nil
}

// PendingSyncCount returns the number of operations waiting to reach the
// backend.
func (c *Coordinator) PendingSyncCount() int {
	return c.queue.PendingCount()
}

// LastSyncError returns the most recent send failure, or nil when none has
// been recorded.
func (c *Coordinator) LastSyncError() error {
	_, err := c.queue.LastError()
	return err
}

// LastSyncErrorAt returns when the most recent send failure was recorded,
// or the zero time when syncing has never failed.
func (c *Coordinator) LastSyncErrorAt() time.Time {
	at, _ := c.queue.LastError()
	return at
}

// ConflictHistory returns the conflict resolutions recorded since start.
func (c *Coordinator) ConflictHistory() []conflict.Record {
	return c.queue.ConflictHistory()
}

// StorageUsage returns cache usage against the configured budget. max is
// zero when no budget is set.
func (c *Coordinator) StorageUsage() (used, max int64) {
	return c.quota.Snapshot()
}

// DeadLetters returns the operations that exhausted their retry budget,
// oldest first.
func (c *Coordinator) DeadLetters(ctx context.Context) ([]syncqueue.DeadLetter, error) {
	return c.queue.DeadLetters(ctx)
}

// DeadLetterCount returns the size of the dead-letter set. An unreadable
// store counts as zero so a status probe never fails on it.
func (c *Coordinator) DeadLetterCount() int {
	letters, err := c.queue.DeadLetters(context.Background())
	if err != nil {
		return 0
	}
	return len(letters)
}

// RetryDeadLetter moves a dead-lettered operation back into the queue with
// a fresh retry budget.
func (c *Coordinator) RetryDeadLetter(ctx context.Context, id string) error {
	return c.queue.RetryDeadLetter(ctx, id)
}

// DiscardDeadLetter drops a dead-lettered operation permanently.
func (c *Coordinator) DiscardDeadLetter(ctx context.Context, id string) error {
	return c.queue.DiscardDeadLetter(ctx, id)
}
