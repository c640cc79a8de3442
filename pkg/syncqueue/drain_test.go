package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxbiblia/ark/pkg/library"
	"github.com/voxbiblia/ark/pkg/remote"
)

func notePayload(t *testing.T, id, text string) []byte {
	t.Helper()
	data, err := json.Marshal(library.Note{
		ID:      id,
		Book:    "luke",
		Chapter: 15,
		Verse:   11,
		Text:    text,
	})
	require.NoError(t, err)
	return data
}

func progressPayload(t *testing.T, chapter, verse int, percent float64) []byte {
	t.Helper()
	data, err := json.Marshal(library.ReadingProgress{
		ID:      "rp-1",
		Book:    "john",
		Chapter: chapter,
		Verse:   verse,
		Percent: percent,
	})
	require.NoError(t, err)
	return data
}

func conflictResult(st remote.EntityState) (remote.ApplyResult, error) {
	return remote.ApplyResult{Outcome: remote.OutcomeConflict, Remote: &st}, nil
}

func TestDrain_SendsEntityOpsInCreatedAtOrder(t *testing.T) {
	env := newTestQueue(t)
	ctx := context.Background()

	var want []string
	for _, opType := range []library.OpType{library.OpCreate, library.OpUpdate, library.OpUpdate} {
		op, err := env.queue.Enqueue(ctx, library.EntityNote, opType, "nt-1", notePayload(t, "nt-1", "draft"))
		require.NoError(t, err)
		want = append(want, op.ID)
		env.clock.Advance(time.Second)
	}

	require.NoError(t, env.queue.drainOnce(ctx))

	sent := env.service.sentOps()
	require.Len(t, sent, 3)
	for i, op := range sent {
		assert.Equal(t, want[i], op.ID)
	}
	assert.Equal(t, 0, env.queue.PendingCount())
}

func TestDrain_AlreadyAppliedIsSuccess(t *testing.T) {
	env := newTestQueue(t)
	ctx := context.Background()

	// A crash after delivery but before the log cleanup means the retry
	// gets acknowledged as a duplicate. That still drains the operation.
	env.service.respond = func(remote.SyncOperation) (remote.ApplyResult, error) {
		return remote.ApplyResult{Outcome: remote.OutcomeAlreadyApplied}, nil
	}

	_, err := env.queue.Enqueue(ctx, library.EntityNote, library.OpCreate, "nt-1", notePayload(t, "nt-1", "draft"))
	require.NoError(t, err)
	require.NoError(t, env.queue.drainOnce(ctx))

	assert.Equal(t, 0, env.queue.PendingCount())
	_, completed, failed := env.queue.Stats()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 0, failed)
}

func TestDrain_TransientFailureSchedulesBackoff(t *testing.T) {
	env := newTestQueue(t)
	ctx := context.Background()

	env.service.respond = func(remote.SyncOperation) (remote.ApplyResult, error) {
		return remote.ApplyResult{}, remote.Transient(errors.New("gateway timeout"))
	}

	op, err := env.queue.Enqueue(ctx, library.EntityNote, library.OpCreate, "nt-1", notePayload(t, "nt-1", "draft"))
	require.NoError(t, err)

	start := env.clock.Now()
	require.NoError(t, env.queue.drainOnce(ctx))
	require.Equal(t, 1, env.service.callCount())

	ops := env.queue.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, op.ID, ops[0].ID)
	assert.Equal(t, StatusPending, ops[0].Status)
	assert.Equal(t, 1, ops[0].Attempt)
	assert.Equal(t, start.Add(time.Second), ops[0].NextRetryAt)
	assert.Contains(t, ops[0].LastError, "gateway timeout")

	// Not due yet: draining again sends nothing.
	require.NoError(t, env.queue.drainOnce(ctx))
	assert.Equal(t, 1, env.service.callCount())

	// Past the first delay the retry goes out, and the next delay doubles.
	env.clock.Advance(time.Second)
	require.NoError(t, env.queue.drainOnce(ctx))
	require.Equal(t, 2, env.service.callCount())

	ops = env.queue.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, 2, ops[0].Attempt)
	assert.Equal(t, env.clock.Now().Add(2*time.Second), ops[0].NextRetryAt)
}

func TestDrain_RetriesExhaustedMoveToDeadLetter(t *testing.T) {
	env := newTestQueue(t, func(c *Config) {
		c.MaxAttempts = 2
	})
	ctx := context.Background()

	env.service.respond = func(remote.SyncOperation) (remote.ApplyResult, error) {
		return remote.ApplyResult{}, remote.Transient(errors.New("gateway timeout"))
	}

	op, err := env.queue.Enqueue(ctx, library.EntityNote, library.OpCreate, "nt-1", notePayload(t, "nt-1", "draft"))
	require.NoError(t, err)

	require.NoError(t, env.queue.drainOnce(ctx))
	env.clock.Advance(2 * time.Second)
	require.NoError(t, env.queue.drainOnce(ctx))

	assert.Equal(t, 2, env.service.callCount())
	assert.Equal(t, 0, env.queue.PendingCount())

	letters, err := env.queue.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, op.ID, letters[0].Operation.ID)
	assert.Contains(t, letters[0].Reason, "retries exhausted after 2 attempts")
}

func TestDrain_PermanentFailureContinuesEntityRun(t *testing.T) {
	env := newTestQueue(t)
	ctx := context.Background()

	first, err := env.queue.Enqueue(ctx, library.EntityNote, library.OpCreate, "nt-1", notePayload(t, "nt-1", "draft"))
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	second, err := env.queue.Enqueue(ctx, library.EntityNote, library.OpUpdate, "nt-1", notePayload(t, "nt-1", "revised"))
	require.NoError(t, err)

	env.service.respond = func(op remote.SyncOperation) (remote.ApplyResult, error) {
		if op.ID == first.ID {
			return remote.ApplyResult{}, errors.New("payload rejected")
		}
		return remote.ApplyResult{Outcome: remote.OutcomeApplied}, nil
	}

	// The rejected operation leaves the log, so the one behind it still
	// goes out in the same pass.
	require.NoError(t, env.queue.drainOnce(ctx))
	assert.Equal(t, 2, env.service.callCount())
	assert.Equal(t, 0, env.queue.PendingCount())

	letters, err := env.queue.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, first.ID, letters[0].Operation.ID)
	_ = second
}

func TestDrain_TransientFailureStopsEntityRun(t *testing.T) {
	env := newTestQueue(t)
	ctx := context.Background()

	env.service.respond = func(remote.SyncOperation) (remote.ApplyResult, error) {
		return remote.ApplyResult{}, remote.Transient(errors.New("gateway timeout"))
	}

	_, err := env.queue.Enqueue(ctx, library.EntityNote, library.OpCreate, "nt-1", notePayload(t, "nt-1", "draft"))
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	_, err = env.queue.Enqueue(ctx, library.EntityNote, library.OpUpdate, "nt-1", notePayload(t, "nt-1", "revised"))
	require.NoError(t, err)

	require.NoError(t, env.queue.drainOnce(ctx))

	// Order would break if the update went out while the create waits on
	// backoff, so the entity run stops at the first failure.
	assert.Equal(t, 1, env.service.callCount())
	assert.Equal(t, 2, env.queue.PendingCount())
}

func TestDrain_EntitiesFailIndependently(t *testing.T) {
	env := newTestQueue(t)
	ctx := context.Background()

	env.service.respond = func(op remote.SyncOperation) (remote.ApplyResult, error) {
		if op.EntityID == "nt-flaky" {
			return remote.ApplyResult{}, remote.Transient(errors.New("gateway timeout"))
		}
		return remote.ApplyResult{Outcome: remote.OutcomeApplied}, nil
	}

	_, err := env.queue.Enqueue(ctx, library.EntityNote, library.OpCreate, "nt-flaky", notePayload(t, "nt-flaky", "draft"))
	require.NoError(t, err)
	_, err = env.queue.Enqueue(ctx, library.EntityNote, library.OpCreate, "nt-ok", notePayload(t, "nt-ok", "draft"))
	require.NoError(t, err)

	require.NoError(t, env.queue.drainOnce(ctx))

	assert.Equal(t, 2, env.service.callCount())
	require.Equal(t, 1, env.queue.PendingCount())
	assert.Equal(t, "nt-flaky", env.queue.Operations()[0].EntityID)
}

func TestDrain_ConflictRemoteWinsWritesBackLibrary(t *testing.T) {
	env := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, env.lib.SetSetting(ctx, &library.Setting{Key: "theme", Value: "dark"}))

	// Remote changed the setting an hour after this device's write.
	remoteAt := env.clock.Now().Add(time.Hour)
	env.service.respond = func(remote.SyncOperation) (remote.ApplyResult, error) {
		return conflictResult(remote.EntityState{
			EntityType: library.EntitySetting,
			EntityID:   "theme",
			Payload:    []byte(`{"key":"theme","value":"light"}`),
			UpdatedAt:  remoteAt,
			SourceID:   "device-other",
		})
	}

	op, err := env.queue.Enqueue(ctx, library.EntitySetting, library.OpUpdate, "theme", []byte(`{"key":"theme","value":"dark"}`))
	require.NoError(t, err)
	require.NoError(t, env.queue.drainOnce(ctx))

	assert.Equal(t, 1, env.service.callCount())
	assert.Equal(t, 0, env.queue.PendingCount())

	setting, err := env.lib.Setting(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, "light", setting.Value)

	history := env.queue.ConflictHistory()
	require.Len(t, history, 1)
	assert.Equal(t, op.ID, history[0].OperationID)
	assert.Equal(t, "discardLocal", history[0].Outcome)
	assert.Equal(t, "lww:remote-newer", history[0].Reason)
}

func TestDrain_ConflictLocalWinsResubmitsRebased(t *testing.T) {
	env := newTestQueue(t)
	ctx := context.Background()

	// Remote last changed the setting an hour before this device's write,
	// so the local change wins and is re-sent rebased on the remote
	// version.
	remoteAt := env.clock.Now().Add(-time.Hour)
	conflicted := false
	env.service.respond = func(op remote.SyncOperation) (remote.ApplyResult, error) {
		if !conflicted {
			conflicted = true
			return conflictResult(remote.EntityState{
				EntityType: library.EntitySetting,
				EntityID:   "theme",
				Payload:    []byte(`{"key":"theme","value":"light"}`),
				UpdatedAt:  remoteAt,
				SourceID:   "device-other",
			})
		}
		return remote.ApplyResult{Outcome: remote.OutcomeApplied}, nil
	}

	op, err := env.queue.Enqueue(ctx, library.EntitySetting, library.OpUpdate, "theme", []byte(`{"key":"theme","value":"dark"}`))
	require.NoError(t, err)
	require.NoError(t, env.queue.drainOnce(ctx))

	sent := env.service.sentOps()
	require.Len(t, sent, 2)
	assert.Equal(t, op.ID, sent[0].ID)
	assert.Nil(t, sent[0].BaseUpdatedAt)
	assert.Equal(t, op.ID, sent[1].ID, "corrective send keeps the idempotency id")
	require.NotNil(t, sent[1].BaseUpdatedAt)
	assert.Equal(t, remoteAt, *sent[1].BaseUpdatedAt)

	assert.Equal(t, 0, env.queue.PendingCount())

	history := env.queue.ConflictHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "applyLocal", history[0].Outcome)
}

func TestDrain_RepeatedConflictYieldsToNextPass(t *testing.T) {
	env := newTestQueue(t)
	ctx := context.Background()

	remoteAt := env.clock.Now().Add(-time.Hour)
	env.service.respond = func(remote.SyncOperation) (remote.ApplyResult, error) {
		return conflictResult(remote.EntityState{
			EntityType: library.EntitySetting,
			EntityID:   "theme",
			Payload:    []byte(`{"key":"theme","value":"light"}`),
			UpdatedAt:  remoteAt,
			SourceID:   "device-other",
		})
	}

	_, err := env.queue.Enqueue(ctx, library.EntitySetting, library.OpUpdate, "theme", []byte(`{"key":"theme","value":"dark"}`))
	require.NoError(t, err)
	require.NoError(t, env.queue.drainOnce(ctx))

	// One corrective resubmit per pass, then yield rather than loop.
	assert.Equal(t, 2, env.service.callCount())
	require.Equal(t, 1, env.queue.PendingCount())
	ops := env.queue.Operations()
	assert.Equal(t, StatusPending, ops[0].Status)
	require.NotNil(t, ops[0].BaseUpdated)
}

func TestDrain_ConflictForksNoteKeepingBothTexts(t *testing.T) {
	env := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, env.lib.SaveNote(ctx, &library.Note{
		ID: "nt-1", Book: "luke", Chapter: 15, Verse: 11,
		Text: "The father ran to meet him",
	}))

	remoteAt := env.clock.Now().Add(time.Hour)
	conflicted := false
	env.service.respond = func(remote.SyncOperation) (remote.ApplyResult, error) {
		if !conflicted {
			conflicted = true
			return conflictResult(remote.EntityState{
				EntityType: library.EntityNote,
				EntityID:   "nt-1",
				Payload:    notePayload(t, "nt-1", "Compare the elder brother's response"),
				UpdatedAt:  remoteAt,
				SourceID:   "device-other",
			})
		}
		return remote.ApplyResult{Outcome: remote.OutcomeApplied}, nil
	}

	_, err := env.queue.Enqueue(ctx, library.EntityNote, library.OpUpdate, "nt-1",
		notePayload(t, "nt-1", "The father ran to meet him"))
	require.NoError(t, err)
	require.NoError(t, env.queue.drainOnce(ctx))

	// The remote text keeps the entity.
	original, err := env.lib.Note(ctx, "nt-1")
	require.NoError(t, err)
	assert.Equal(t, "Compare the elder brother's response", original.Text)

	// The local text survives as a new note, queued as a create.
	ops := env.queue.Operations()
	require.Len(t, ops, 1)
	forkID := ops[0].EntityID
	assert.NotEqual(t, "nt-1", forkID)
	assert.Equal(t, library.OpCreate, ops[0].OpType)

	fork, err := env.lib.Note(ctx, forkID)
	require.NoError(t, err)
	assert.Equal(t, "The father ran to meet him", fork.Text)
	assert.Equal(t, "luke", fork.Book)

	history := env.queue.ConflictHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "merge", history[0].Outcome)

	// The next pass delivers the fork.
	require.NoError(t, env.queue.drainOnce(ctx))
	assert.Equal(t, 0, env.queue.PendingCount())
}

func TestDrain_RemoteDeleteWinsRemovesLocalEntity(t *testing.T) {
	env := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, env.lib.SaveBookmark(ctx, &library.Bookmark{
		ID: "bm-1", Book: "psalms", Chapter: 23, Verse: 1,
	}))

	env.service.respond = func(remote.SyncOperation) (remote.ApplyResult, error) {
		return conflictResult(remote.EntityState{
			EntityType: library.EntityBookmark,
			EntityID:   "bm-1",
			Deleted:    true,
			UpdatedAt:  env.clock.Now().Add(time.Hour),
			SourceID:   "device-other",
		})
	}

	_, err := env.queue.Enqueue(ctx, library.EntityBookmark, library.OpUpdate, "bm-1", bookmarkPayload(t, "bm-1"))
	require.NoError(t, err)
	require.NoError(t, env.queue.drainOnce(ctx))

	assert.Equal(t, 0, env.queue.PendingCount())
	_, err = env.lib.Bookmark(ctx, "bm-1")
	assert.ErrorIs(t, err, library.ErrNotFound)
}

func TestDrain_ProgressNeverRegresses(t *testing.T) {
	env := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, env.lib.SaveProgress(ctx, &library.ReadingProgress{
		ID: "rp-1", Book: "john", Chapter: 3, Verse: 16, Percent: 0.14,
	}))

	// Another device read further; its marker must win even though the
	// local operation is newer by wall clock.
	env.service.respond = func(remote.SyncOperation) (remote.ApplyResult, error) {
		return conflictResult(remote.EntityState{
			EntityType: library.EntityReadingProgress,
			EntityID:   "rp-1",
			Payload:    progressPayload(t, 11, 35, 0.52),
			UpdatedAt:  env.clock.Now().Add(-time.Hour),
			SourceID:   "device-other",
		})
	}

	_, err := env.queue.Enqueue(ctx, library.EntityReadingProgress, library.OpUpdate, "rp-1",
		progressPayload(t, 3, 16, 0.14))
	require.NoError(t, err)
	require.NoError(t, env.queue.drainOnce(ctx))

	assert.Equal(t, 0, env.queue.PendingCount())

	progress, err := env.lib.Progress(ctx, "rp-1")
	require.NoError(t, err)
	assert.Equal(t, 11, progress.Chapter)
	assert.InDelta(t, 0.52, progress.Percent, 1e-9)

	history := env.queue.ConflictHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "progress:remote-ahead", history[0].Reason)
}

func TestDrain_ConflictWithoutRemoteStateDeadLetters(t *testing.T) {
	env := newTestQueue(t)
	ctx := context.Background()

	env.service.respond = func(remote.SyncOperation) (remote.ApplyResult, error) {
		return remote.ApplyResult{Outcome: remote.OutcomeConflict}, nil
	}

	op, err := env.queue.Enqueue(ctx, library.EntitySetting, library.OpUpdate, "theme", []byte(`{"key":"theme","value":"dark"}`))
	require.NoError(t, err)
	require.NoError(t, env.queue.drainOnce(ctx))

	assert.Equal(t, 0, env.queue.PendingCount())
	letters, err := env.queue.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, op.ID, letters[0].Operation.ID)
	assert.Contains(t, letters[0].Reason, "missing remote state")
}

func TestDrain_ContextCanceledLeavesOperationPending(t *testing.T) {
	env := newTestQueue(t)
	ctx := context.Background()

	env.service.respond = func(remote.SyncOperation) (remote.ApplyResult, error) {
		return remote.ApplyResult{}, context.Canceled
	}

	_, err := env.queue.Enqueue(ctx, library.EntityNote, library.OpCreate, "nt-1", notePayload(t, "nt-1", "draft"))
	require.NoError(t, err)
	require.NoError(t, env.queue.drainOnce(ctx))

	// Shutdown is not a verdict: no attempt burned, no dead letter.
	ops := env.queue.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, StatusPending, ops[0].Status)
	assert.Equal(t, 0, ops[0].Attempt)

	letters, err := env.queue.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Empty(t, letters)
}
