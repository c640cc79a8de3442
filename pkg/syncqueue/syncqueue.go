// Package syncqueue is the durable outbox for annotation mutations made
// while offline. Operations are appended to a persistent log, drained to the
// backend in per-entity createdAt order, retried with backoff on transient
// failure, resolved through the conflict package when the backend holds
// newer state, and parked in a bounded dead-letter set once retries are
// exhausted.
//
// The log survives restart: a pending mutation is never silently lost, and
// an operation caught in flight by a crash is demoted back to pending on
// reopen. Re-delivery is safe because every operation carries a
// client-generated idempotency id.
package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxbiblia/ark/internal/logger"
	"github.com/voxbiblia/ark/internal/retry"
	"github.com/voxbiblia/ark/pkg/conflict"
	"github.com/voxbiblia/ark/pkg/library"
	"github.com/voxbiblia/ark/pkg/remote"
	"github.com/voxbiblia/ark/pkg/store/kv"
)

const (
	opPrefix         = "op:"
	deadLetterPrefix = "dl:"

	defaultFanOut         = 4
	defaultMaxAttempts    = 5
	defaultMaxDeadLetters = 100
	defaultPollInterval   = 15 * time.Second
	defaultBaseBackoff    = time.Second
	defaultMaxBackoff     = time.Minute

	conflictHistorySize = 50
)

// Status is the lifecycle state of a queued operation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInFlight   Status = "inFlight"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusConflicted Status = "conflicted"
)

// Operation is one durable log record. Completed operations are removed
// rather than kept, so at rest the log only ever holds work still owed to
// the backend.
type Operation struct {
	ID         string             `json:"id"`
	EntityType library.EntityType `json:"entity_type"`
	EntityID   string             `json:"entity_id"`
	OpType     library.OpType     `json:"op_type"`
	Payload    json.RawMessage    `json:"payload,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`

	Status      Status     `json:"status"`
	Attempt     int        `json:"attempt"`
	NextRetryAt time.Time  `json:"next_retry_at,omitzero"`
	LastError   string     `json:"last_error,omitempty"`
	BaseUpdated *time.Time `json:"base_updated_at,omitempty"`
}

// entityKey groups operations that must drain strictly in order.
func (op *Operation) entityKey() string {
	return string(op.EntityType) + "/" + op.EntityID
}

// wire converts the log record to its transport form.
func (op *Operation) wire() remote.SyncOperation {
	return remote.SyncOperation{
		ID:            op.ID,
		EntityType:    op.EntityType,
		EntityID:      op.EntityID,
		OpType:        op.OpType,
		Payload:       op.Payload,
		CreatedAt:     op.CreatedAt,
		BaseUpdatedAt: op.BaseUpdated,
	}
}

// DeadLetter is an operation that exhausted its retries or failed
// permanently, kept for manual retry or discard.
type DeadLetter struct {
	Operation Operation `json:"operation"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

// Config contains configuration for the sync queue.
type Config struct {
	// Store is the durable backing for the operation log. Required.
	Store kv.Store

	// Service applies operations against the backend. Optional; when nil
	// the queue is an outbox only: operations accumulate durably and
	// never drain. A backend without a sync surface (content packs in a
	// bucket) runs this way.
	Service remote.SyncService

	// Library receives conflict write-backs (remote wins, note forks).
	// Required.
	Library *library.Store

	// Resolver decides conflicted operations. Required.
	Resolver *conflict.Resolver

	// Backoff shapes the retry delays. Zero value gets 1s base, 1m cap.
	Backoff retry.Policy

	// MaxAttempts is the number of send attempts before an operation moves
	// to the dead-letter set (default: 5).
	MaxAttempts int

	// FanOutLimit caps how many entities drain concurrently (default: 4).
	// Operations within one entity are always sequential regardless.
	FanOutLimit int

	// MaxDeadLetters bounds the dead-letter set; the oldest entry is
	// dropped when the bound is exceeded (default: 100).
	MaxDeadLetters int

	// PollInterval is how often the drain loop wakes on its own to pick up
	// operations whose backoff has elapsed (default: 15s).
	PollInterval time.Duration

	// Metrics is an optional metrics collector.
	Metrics Metrics
}

// Queue is the durable sync outbox.
type Queue struct {
	store    kv.Store
	service  remote.SyncService
	library  *library.Store
	resolver *conflict.Resolver
	backoff  retry.Policy
	metrics  Metrics

	maxAttempts    int
	fanOut         int
	maxDeadLetters int
	pollInterval   time.Duration

	// mu guards the in-memory mirror of the log and the counters. It is
	// never held across a network call.
	mu          sync.Mutex
	ops         map[string]*Operation
	online      bool
	completed   int
	failed      int
	lastError   error
	lastErrorAt time.Time
	conflicts   []conflict.Record

	// drainMu serializes drain passes so per-entity ordering cannot be
	// violated by overlapping drains.
	drainMu sync.Mutex

	wakeCh    chan struct{}
	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool

	now func() time.Time
}

// New opens the queue over its durable log and recovers prior state:
// operations caught inFlight or mid-conflict by a crash are demoted to
// pending, which is safe to re-send under the idempotency contract.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("syncqueue: store is required")
	}
	if cfg.Library == nil {
		return nil, fmt.Errorf("syncqueue: library store is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("syncqueue: conflict resolver is required")
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.FanOutLimit <= 0 {
		cfg.FanOutLimit = defaultFanOut
	}
	if cfg.MaxDeadLetters <= 0 {
		cfg.MaxDeadLetters = defaultMaxDeadLetters
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Backoff.BaseDelay <= 0 {
		cfg.Backoff = retry.New(defaultBaseBackoff, defaultMaxBackoff, cfg.MaxAttempts)
	}

	q := &Queue{
		store:          cfg.Store,
		service:        cfg.Service,
		library:        cfg.Library,
		resolver:       cfg.Resolver,
		backoff:        cfg.Backoff,
		metrics:        cfg.Metrics,
		maxAttempts:    cfg.MaxAttempts,
		fanOut:         cfg.FanOutLimit,
		maxDeadLetters: cfg.MaxDeadLetters,
		pollInterval:   cfg.PollInterval,
		ops:            make(map[string]*Operation),
		online:         cfg.Service != nil,
		wakeCh:         make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
		stoppedCh:      make(chan struct{}),
		now:            time.Now,
	}

	if err := q.recover(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// recover loads the durable log into memory. Runs before the queue is
// published, so no locking.
func (q *Queue) recover(ctx context.Context) error {
	keys, err := q.store.ListKeys(ctx, opPrefix)
	if err != nil {
		return fmt.Errorf("syncqueue: list operations: %w", err)
	}

	demoted := 0
	for _, key := range keys {
		data, err := q.store.Get(ctx, key)
		if err != nil {
			if kv.IsNotFound(err) {
				continue
			}
			return fmt.Errorf("syncqueue: load operation %s: %w", key, err)
		}

		var op Operation
		if err := json.Unmarshal(data, &op); err != nil {
			logger.Warn("Dropping undecodable sync operation record", "key", key, "error", err)
			_ = q.store.Delete(ctx, key)
			continue
		}

		switch op.Status {
		case StatusInFlight, StatusConflicted:
			// Crash mid-send or mid-resolution. Idempotency ids make the
			// re-send a no-op if the first delivery landed.
			op.Status = StatusPending
			demoted++
			if err := q.persist(ctx, &op); err != nil {
				return err
			}
		case StatusCompleted, StatusFailed:
			// Terminal states never rest in the log.
			_ = q.store.Delete(ctx, key)
			continue
		}

		q.ops[op.ID] = &op
	}

	logger.Info("Sync queue recovered", "pending", len(q.ops), "demoted", demoted)
	q.recordDepth()
	return nil
}

// Start launches the background drain loop.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	logger.Info("Starting sync queue", "fan_out", q.fanOut, "max_attempts", q.maxAttempts)

	go func() {
		defer close(q.stoppedCh)

		ticker := time.NewTicker(q.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-q.stopCh:
				return
			case <-q.wakeCh:
			case <-ticker.C:
			}
			// Each pass gets a fresh context so a short-lived caller
			// context cannot strand the loop.
			q.drainOnce(context.Background())
		}
	}()
}

// Stop shuts the drain loop down, waiting up to timeout for the current
// pass to finish.
func (q *Queue) Stop(timeout time.Duration) {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	close(q.stopCh)

	select {
	case <-q.stoppedCh:
		logger.Info("Sync queue stopped")
	case <-time.After(timeout):
		logger.Warn("Sync queue stop timed out")
	}
}

// Enqueue appends one mutation to the durable log and nudges the drain
// loop. A delete supersedes the entity's earlier pending operations: they
// are dropped from the log and never sent.
func (q *Queue) Enqueue(ctx context.Context, entityType library.EntityType, opType library.OpType, entityID string, payload []byte) (*Operation, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("syncqueue: unknown entity type %q", entityType)
	}
	if !opType.Valid() {
		return nil, fmt.Errorf("syncqueue: unknown op type %q", opType)
	}
	if entityID == "" {
		return nil, fmt.Errorf("syncqueue: entity id is required")
	}

	op := &Operation{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		OpType:     opType,
		Payload:    payload,
		CreatedAt:  q.now(),
		Status:     StatusPending,
	}

	q.mu.Lock()
	if opType == library.OpDelete {
		q.supersedeLocked(ctx, op.entityKey(), op.ID)
	}
	if err := q.persist(ctx, op); err != nil {
		q.mu.Unlock()
		return nil, err
	}
	q.ops[op.ID] = op
	q.recordDepth()
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.RecordEnqueued(string(entityType))
	}
	logger.Debug("Sync operation enqueued",
		"op_id", op.ID, "entity", op.entityKey(), "op_type", opType)

	q.wake()
	snapshot := *op
	return &snapshot, nil
}

// supersedeLocked drops the entity's pending operations ahead of a delete.
// In-flight operations are left alone; they complete and the delete follows
// in order.
func (q *Queue) supersedeLocked(ctx context.Context, entityKey, exceptID string) {
	for id, op := range q.ops {
		if id == exceptID || op.entityKey() != entityKey || op.Status != StatusPending {
			continue
		}
		if err := q.store.Delete(ctx, opPrefix+id); err != nil {
			logger.Warn("Failed to remove superseded operation", "op_id", id, "error", err)
			continue
		}
		delete(q.ops, id)
		logger.Debug("Sync operation superseded by delete", "op_id", id, "entity", entityKey)
		if q.metrics != nil {
			q.metrics.RecordSuperseded(string(op.EntityType))
		}
	}
}

// SetOnline tells the queue whether the backend is reachable. While
// offline the drain loop holds everything; flipping online nudges it.
// Without a sync service the queue stays offline regardless.
func (q *Queue) SetOnline(online bool) {
	if q.service == nil {
		return
	}

	q.mu.Lock()
	was := q.online
	q.online = online
	q.mu.Unlock()

	if online && !was {
		q.wake()
	}
}

// Flush clears every pending backoff delay and runs a synchronous drain
// pass. Reachability restoration calls this so a reconnect never waits out
// a timer.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	for _, op := range q.ops {
		if op.Status == StatusPending && !op.NextRetryAt.IsZero() {
			op.NextRetryAt = time.Time{}
			if err := q.persist(ctx, op); err != nil {
				q.mu.Unlock()
				return err
			}
		}
	}
	q.mu.Unlock()

	return q.drainOnce(ctx)
}

// PendingCount reports how many operations still owe the backend a send.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Stats returns drain counters.
func (q *Queue) Stats() (pending, completed, failed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops), q.completed, q.failed
}

// LastError returns when the last send failure occurred and the error
// itself.
func (q *Queue) LastError() (time.Time, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastErrorAt, q.lastError
}

// ConflictHistory returns the most recent conflict resolutions, oldest
// first. The history is bounded; it exists so the application can disclose
// merges to the user.
func (q *Queue) ConflictHistory() []conflict.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]conflict.Record, len(q.conflicts))
	copy(out, q.conflicts)
	return out
}

// Operations returns a snapshot of the live log, ordered by createdAt.
// Intended for status surfaces, not for mutation.
func (q *Queue) Operations() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Operation, 0, len(q.ops))
	for _, op := range q.ops {
		out = append(out, *op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// persist writes one operation record. Callers hold mu (or the queue is
// not yet published).
func (q *Queue) persist(ctx context.Context, op *Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("syncqueue: encode operation %s: %w", op.ID, err)
	}
	if err := q.store.Put(ctx, opPrefix+op.ID, data); err != nil {
		return fmt.Errorf("syncqueue: persist operation %s: %w", op.ID, err)
	}
	return nil
}

func (q *Queue) recordDepth() {
	if q.metrics != nil {
		q.metrics.RecordQueueDepth(len(q.ops))
	}
}

func (q *Queue) wake() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}
