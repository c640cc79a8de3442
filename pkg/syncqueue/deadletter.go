package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/voxbiblia/ark/internal/logger"
	"github.com/voxbiblia/ark/pkg/store/kv"
)

// deadLetter moves an operation out of the live log into the dead-letter
// set. The local library keeps whatever the user wrote; only the propagation
// to the backend is given up on.
func (q *Queue) deadLetter(ctx context.Context, op *Operation, reason string) {
	q.mu.Lock()
	delete(q.ops, op.ID)
	q.failed++
	op.Status = StatusFailed
	op.LastError = reason
	q.recordDepth()
	q.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if err := q.store.Delete(ctx, opPrefix+op.ID); err != nil {
		logger.Warn("Failed to remove dead-lettered operation from log", "op_id", op.ID, "error", err)
	}

	dl := DeadLetter{Operation: *op, Reason: reason, FailedAt: q.now()}
	data, err := json.Marshal(dl)
	if err != nil {
		logger.Error("Failed to encode dead letter", "op_id", op.ID, "error", err)
	} else if err := q.store.Put(ctx, deadLetterPrefix+op.ID, data); err != nil {
		logger.Error("Failed to persist dead letter", "op_id", op.ID, "error", err)
	}
	q.enforceDeadLetterBound(ctx)

	if q.metrics != nil {
		q.metrics.RecordDeadLettered(string(op.EntityType))
	}
	logger.Warn("Sync operation dead-lettered",
		"op_id", op.ID, "entity", op.entityKey(), "attempts", op.Attempt, "reason", reason)
}

// enforceDeadLetterBound drops the oldest entries once the set exceeds its
// cap. The set is small by construction, so a full scan is fine.
func (q *Queue) enforceDeadLetterBound(ctx context.Context) {
	letters, err := q.loadDeadLetters(ctx)
	if err != nil {
		logger.Warn("Failed to load dead letters for bound check", "error", err)
		return
	}
	for len(letters) > q.maxDeadLetters {
		oldest := letters[0]
		letters = letters[1:]
		if err := q.store.Delete(ctx, deadLetterPrefix+oldest.Operation.ID); err != nil {
			logger.Warn("Failed to evict oldest dead letter", "op_id", oldest.Operation.ID, "error", err)
			return
		}
		logger.Debug("Evicted oldest dead letter", "op_id", oldest.Operation.ID)
	}
}

// DeadLetters returns the dead-letter set, oldest first.
func (q *Queue) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	return q.loadDeadLetters(ctx)
}

func (q *Queue) loadDeadLetters(ctx context.Context) ([]DeadLetter, error) {
	keys, err := q.store.ListKeys(ctx, deadLetterPrefix)
	if err != nil {
		return nil, fmt.Errorf("syncqueue: list dead letters: %w", err)
	}

	letters := make([]DeadLetter, 0, len(keys))
	for _, key := range keys {
		data, err := q.store.Get(ctx, key)
		if err != nil {
			if kv.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("syncqueue: load dead letter %s: %w", key, err)
		}
		var dl DeadLetter
		if err := json.Unmarshal(data, &dl); err != nil {
			return nil, fmt.Errorf("syncqueue: decode dead letter %s: %w", key, err)
		}
		letters = append(letters, dl)
	}

	sort.Slice(letters, func(i, j int) bool {
		if !letters[i].FailedAt.Equal(letters[j].FailedAt) {
			return letters[i].FailedAt.Before(letters[j].FailedAt)
		}
		return letters[i].Operation.ID < letters[j].Operation.ID
	})
	return letters, nil
}

// RetryDeadLetter puts a dead-lettered operation back in the live log with
// a fresh attempt budget and nudges the drain loop.
func (q *Queue) RetryDeadLetter(ctx context.Context, id string) error {
	data, err := q.store.Get(ctx, deadLetterPrefix+id)
	if err != nil {
		if kv.IsNotFound(err) {
			return fmt.Errorf("syncqueue: no dead letter with id %s", id)
		}
		return fmt.Errorf("syncqueue: load dead letter %s: %w", id, err)
	}
	var dl DeadLetter
	if err := json.Unmarshal(data, &dl); err != nil {
		return fmt.Errorf("syncqueue: decode dead letter %s: %w", id, err)
	}

	op := dl.Operation
	op.Status = StatusPending
	op.Attempt = 0
	op.NextRetryAt = time.Time{}
	op.LastError = ""

	q.mu.Lock()
	if err := q.persist(ctx, &op); err != nil {
		q.mu.Unlock()
		return err
	}
	q.ops[op.ID] = &op
	q.recordDepth()
	q.mu.Unlock()

	if err := q.store.Delete(ctx, deadLetterPrefix+id); err != nil {
		logger.Warn("Failed to remove retried dead letter", "op_id", id, "error", err)
	}

	logger.Info("Dead-lettered operation requeued", "op_id", id, "entity", op.entityKey())
	q.wake()
	return nil
}

// DiscardDeadLetter drops a dead letter for good. The local entity keeps
// its current state; the mutation simply never reaches the backend.
func (q *Queue) DiscardDeadLetter(ctx context.Context, id string) error {
	if _, err := q.store.Get(ctx, deadLetterPrefix+id); err != nil {
		if kv.IsNotFound(err) {
			return fmt.Errorf("syncqueue: no dead letter with id %s", id)
		}
		return fmt.Errorf("syncqueue: load dead letter %s: %w", id, err)
	}
	if err := q.store.Delete(ctx, deadLetterPrefix+id); err != nil {
		return fmt.Errorf("syncqueue: discard dead letter %s: %w", id, err)
	}
	logger.Info("Dead-lettered operation discarded", "op_id", id)
	return nil
}
