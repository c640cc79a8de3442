package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxbiblia/ark/internal/logger"
	"github.com/voxbiblia/ark/pkg/conflict"
	"github.com/voxbiblia/ark/pkg/library"
	"github.com/voxbiblia/ark/pkg/remote"
)

// drainOnce runs one full drain pass: every due pending operation is sent,
// grouped so that a single entity's operations go out strictly in createdAt
// order while distinct entities fan out concurrently. Passes are serialized;
// a second caller waits for the first to finish.
func (q *Queue) drainOnce(ctx context.Context) error {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	if !q.online {
		q.mu.Unlock()
		logger.Debug("Sync drain skipped, backend unreachable")
		return nil
	}
	now := q.now()
	groups := make(map[string][]*Operation)
	for _, op := range q.ops {
		if op.Status != StatusPending || op.NextRetryAt.After(now) {
			continue
		}
		key := op.entityKey()
		groups[key] = append(groups[key], op)
	}
	q.mu.Unlock()

	if len(groups) == 0 {
		return nil
	}

	logger.Debug("Sync drain pass starting", "entities", len(groups))

	// Per-operation failures are recorded on the operation itself, so the
	// group never propagates an error and one entity's failure cannot
	// cancel another's run.
	var g errgroup.Group
	g.SetLimit(q.fanOut)
	for _, ops := range groups {
		g.Go(func() error {
			q.processEntity(ctx, ops)
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

// processEntity sends one entity's operations in order. The run stops early
// when an operation hits a transient failure or a conflict: everything
// behind it was authored against state that just changed, so it waits for
// the next pass.
func (q *Queue) processEntity(ctx context.Context, ops []*Operation) {
	sort.Slice(ops, func(i, j int) bool {
		if !ops[i].CreatedAt.Equal(ops[j].CreatedAt) {
			return ops[i].CreatedAt.Before(ops[j].CreatedAt)
		}
		return ops[i].ID < ops[j].ID
	})

	for _, op := range ops {
		if ctx.Err() != nil {
			return
		}
		if !q.processOne(ctx, op) {
			return
		}
	}
}

// processOne sends a single operation and settles its fate. The return
// value reports whether the entity's run may continue with the next
// operation.
func (q *Queue) processOne(ctx context.Context, op *Operation) bool {
	q.mu.Lock()
	cur, ok := q.ops[op.ID]
	if !ok || cur.Status != StatusPending || cur.NextRetryAt.After(q.now()) {
		// Superseded or rescheduled since the pass snapshot was taken.
		q.mu.Unlock()
		return true
	}
	cur.Status = StatusInFlight
	if err := q.persist(ctx, cur); err != nil {
		cur.Status = StatusPending
		q.mu.Unlock()
		q.noteError(err)
		return false
	}
	q.mu.Unlock()

	corrected := false
	for {
		result, err := q.service.Apply(ctx, cur.wire())
		if err != nil {
			return q.settleSendError(ctx, cur, err)
		}

		switch result.Outcome {
		case remote.OutcomeApplied, remote.OutcomeAlreadyApplied:
			q.complete(ctx, cur)
			return true
		case remote.OutcomeConflict:
			resubmit, cont := q.settleConflict(ctx, cur, result.Remote, corrected)
			if resubmit {
				corrected = true
				continue
			}
			return cont
		default:
			q.deadLetter(ctx, cur, fmt.Sprintf("unexpected apply outcome %v", result.Outcome))
			return true
		}
	}
}

// settleSendError classifies a failed send. Transient failures reschedule
// with backoff until attempts run out; permanent failures dead-letter
// immediately. A context error is neither: it means shutdown, and the
// operation goes back to pending untouched.
func (q *Queue) settleSendError(ctx context.Context, op *Operation, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		q.revertToPending(ctx, op)
		return false
	}

	q.noteError(err)

	if !remote.IsTransient(err) {
		q.mu.Lock()
		op.Attempt++
		op.LastError = err.Error()
		q.mu.Unlock()
		q.deadLetter(ctx, op, fmt.Sprintf("permanent failure: %v", err))
		// The operation is out of the log, so the ones behind it keep
		// their order; the run continues.
		return true
	}

	q.mu.Lock()
	op.Attempt++
	op.LastError = err.Error()
	if op.Attempt >= q.maxAttempts {
		q.mu.Unlock()
		q.deadLetter(ctx, op, fmt.Sprintf("retries exhausted after %d attempts: %v", op.Attempt, err))
		return false
	}
	op.Status = StatusPending
	op.NextRetryAt = q.backoff.NextRetryAt(q.now(), op.Attempt)
	retryAt := op.NextRetryAt
	perr := q.persist(ctx, op)
	q.mu.Unlock()

	if perr != nil {
		q.noteError(perr)
		return false
	}
	if q.metrics != nil {
		q.metrics.RecordRetried(string(op.EntityType))
	}
	logger.Debug("Sync operation scheduled for retry",
		"op_id", op.ID, "entity", op.entityKey(), "attempt", op.Attempt, "retry_at", retryAt)
	return false
}

// settleConflict runs the resolver over a conflicted operation and carries
// out its verdict. resubmit asks processOne to re-send the corrected
// operation right away; cont reports whether the entity run may continue.
func (q *Queue) settleConflict(ctx context.Context, op *Operation, remoteState *remote.EntityState, corrected bool) (resubmit, cont bool) {
	if remoteState == nil {
		q.deadLetter(ctx, op, "conflict response missing remote state")
		return false, true
	}

	// Mark the operation conflicted in the durable log before touching the
	// library, so a crash mid-resolution recovers into a clean re-resolve.
	q.mu.Lock()
	op.Status = StatusConflicted
	if err := q.persist(ctx, op); err != nil {
		op.Status = StatusPending
		q.mu.Unlock()
		q.noteError(err)
		return false, false
	}
	q.mu.Unlock()

	res, err := q.resolver.Resolve(op.wire(), *remoteState)
	if err != nil {
		q.deadLetter(ctx, op, fmt.Sprintf("unresolvable conflict: %v", err))
		return false, false
	}

	q.recordConflict(op, res)
	logger.Info("Sync conflict resolved",
		"op_id", op.ID, "entity", op.entityKey(), "outcome", res.Outcome.String(), "reason", res.Reason)

	switch res.Outcome {
	case conflict.OutcomeApplyLocal:
		// Local wins. Rebase the operation on the remote version it just
		// saw and send it again; without the base timestamp the backend
		// would flag the same divergence forever.
		base := remoteState.UpdatedAt
		q.mu.Lock()
		op.BaseUpdated = &base
		if corrected {
			// Second conflict in one pass means remote state is moving
			// under us. Yield and let the next pass re-resolve.
			op.Status = StatusPending
			op.NextRetryAt = time.Time{}
			if err := q.persist(ctx, op); err != nil {
				q.noteError(err)
			}
			q.mu.Unlock()
			return false, false
		}
		if err := q.persist(ctx, op); err != nil {
			op.Status = StatusPending
			q.mu.Unlock()
			q.noteError(err)
			return false, false
		}
		q.mu.Unlock()
		return true, true

	case conflict.OutcomeDiscardLocal:
		// Remote wins. The remote snapshot replaces the local entity and
		// the operation is dropped without a send.
		if err := q.writeBackRemote(ctx, op, remoteState); err != nil {
			q.noteError(err)
			q.revertToPending(ctx, op)
			return false, false
		}
		q.complete(ctx, op)
		return false, false

	case conflict.OutcomeMerge:
		// Remote keeps the entity; the local content survives as a fork
		// stored locally and enqueued as a fresh create.
		if err := q.writeBackRemote(ctx, op, remoteState); err != nil {
			q.noteError(err)
			q.revertToPending(ctx, op)
			return false, false
		}
		if err := q.library.Apply(ctx, op.EntityType, library.OpCreate, res.ForkEntityID, res.ForkPayload); err != nil {
			q.noteError(err)
			q.revertToPending(ctx, op)
			return false, false
		}
		q.complete(ctx, op)
		if _, err := q.Enqueue(ctx, op.EntityType, library.OpCreate, res.ForkEntityID, res.ForkPayload); err != nil {
			// The fork exists locally, so nothing is lost, but it will
			// not reach the backend until the user edits it again.
			logger.Error("Failed to enqueue forked entity",
				"entity_type", op.EntityType, "fork_id", res.ForkEntityID, "error", err)
			q.noteError(err)
		}
		return false, false

	default:
		q.deadLetter(ctx, op, fmt.Sprintf("unknown resolution outcome %v", res.Outcome))
		return false, true
	}
}

// writeBackRemote installs the remote snapshot as the local entity state.
func (q *Queue) writeBackRemote(ctx context.Context, op *Operation, st *remote.EntityState) error {
	if st.Deleted {
		return q.library.Apply(ctx, op.EntityType, library.OpDelete, op.EntityID, nil)
	}
	return q.library.Apply(ctx, op.EntityType, library.OpUpdate, op.EntityID, st.Payload)
}

// complete removes a drained operation from the log.
func (q *Queue) complete(ctx context.Context, op *Operation) {
	q.mu.Lock()
	op.Status = StatusCompleted
	delete(q.ops, op.ID)
	q.completed++
	q.recordDepth()
	q.mu.Unlock()

	// Detached so a cancelled caller cannot leave a completed operation in
	// the log; a leftover would only cost one idempotent re-send.
	if err := q.store.Delete(context.WithoutCancel(ctx), opPrefix+op.ID); err != nil {
		logger.Warn("Failed to remove drained operation", "op_id", op.ID, "error", err)
	}
	if q.metrics != nil {
		q.metrics.RecordCompleted(string(op.EntityType))
	}
	logger.Debug("Sync operation drained",
		"op_id", op.ID, "entity", op.entityKey(), "attempts", op.Attempt)
}

// revertToPending puts an interrupted operation back where it was.
func (q *Queue) revertToPending(ctx context.Context, op *Operation) {
	q.mu.Lock()
	op.Status = StatusPending
	if err := q.persist(context.WithoutCancel(ctx), op); err != nil {
		logger.Warn("Failed to revert operation to pending", "op_id", op.ID, "error", err)
	}
	q.mu.Unlock()
}

func (q *Queue) recordConflict(op *Operation, res conflict.Resolution) {
	rec := conflict.Record{
		OperationID: op.ID,
		EntityType:  op.EntityType,
		EntityID:    op.EntityID,
		Outcome:     res.Outcome.String(),
		Reason:      res.Reason,
		ResolvedAt:  q.now(),
	}

	q.mu.Lock()
	q.conflicts = append(q.conflicts, rec)
	if len(q.conflicts) > conflictHistorySize {
		q.conflicts = q.conflicts[len(q.conflicts)-conflictHistorySize:]
	}
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.RecordConflict(string(op.EntityType), res.Outcome.String())
	}
}

func (q *Queue) noteError(err error) {
	q.mu.Lock()
	q.lastError = err
	q.lastErrorAt = q.now()
	q.mu.Unlock()
}
