package download

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/voxbiblia/ark/internal/logger"
	"github.com/voxbiblia/ark/pkg/cache"
	"github.com/voxbiblia/ark/pkg/content"
	"github.com/voxbiblia/ark/pkg/remote"
	"github.com/voxbiblia/ark/pkg/store/kv"
)

// errPaused interrupts a transfer at a chunk boundary when the backend
// becomes unreachable.
var errPaused = errors.New("download: backend unreachable")

// dispatchOnce claims due queued tasks in creation order and hands each to
// a worker, up to the concurrency cap.
func (m *Manager) dispatchOnce() {
	now := m.now()
	var events []Event

	m.mu.Lock()
	if m.closed || !m.online {
		m.mu.Unlock()
		return
	}

	due := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.State == StateQueued && !t.NextRetryAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].ID < due[j].ID
	})

claim:
	for _, t := range due {
		select {
		case m.sem <- struct{}{}:
		default:
			// Pool is full. Each worker wakes the dispatcher as it
			// finishes, so the rest of the backlog is not forgotten.
			break claim
		}

		t.State = StateDownloading
		t.UpdatedAt = now
		if err := m.persist(context.Background(), t); err != nil {
			t.State = StateQueued
			<-m.sem
			logger.Warn("Failed to claim download task",
				logger.Component("download"), logger.TaskID(t.ID), logger.Err(err))
			continue
		}

		ctx, cancel := context.WithCancel(m.baseCtx)
		m.running[t.ID] = cancel
		events = append(events, eventFor(t))

		m.wg.Add(1)
		go m.runTask(ctx, t.ID)

		logger.Debug("Download task claimed",
			logger.Component("download"), logger.TaskID(t.ID),
			logger.ContentKey(t.ResourceKey), "active", len(m.running))
	}
	active := len(m.running)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordActive(active)
	}
	m.emitAll(events)
}

func (m *Manager) runTask(ctx context.Context, taskID string) {
	defer m.wg.Done()

	err := m.transfer(ctx, taskID)

	m.mu.Lock()
	if cancel, ok := m.running[taskID]; ok {
		delete(m.running, taskID)
		defer cancel()
	}
	active := len(m.running)
	m.mu.Unlock()
	<-m.sem

	if m.metrics != nil {
		m.metrics.RecordActive(active)
	}
	m.settle(ctx, taskID, err)
	m.wake()
}

// transfer moves one payload from the backend into the cache. It returns
// nil only after the payload is cached and the task is marked completed;
// every other outcome comes back as an error for settle to classify.
func (m *Manager) transfer(ctx context.Context, taskID string) error {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return context.Canceled
	}
	key := t.Key
	ks := t.ResourceKey
	expected := t.BytesExpected
	m.mu.Unlock()

	started := m.now()

	buf, err := m.loadPartial(ctx, taskID)
	if err != nil {
		return err
	}
	received := int64(len(buf))
	if received > 0 {
		logger.Debug("Resuming download from partial payload",
			logger.Component("download"), logger.TaskID(taskID),
			logger.ContentKey(ks), logger.KeyBytesReceived, received)
	}

	if expected <= 0 {
		size, err := m.source.ContentSize(ctx, key)
		switch {
		case err == nil:
			expected = size
		case errors.Is(err, remote.ErrNotFound):
			return fmt.Errorf("content %s not found on backend: %w", ks, err)
		case remote.IsTransient(err) || ctx.Err() != nil:
			return err
		default:
			// The backend cannot report a size upfront. Fall back to one
			// unresumable fetch of the whole payload.
			payload, ferr := m.source.Fetch(ctx, key)
			if ferr != nil {
				return ferr
			}
			return m.finish(ctx, taskID, key, payload, started)
		}
	}

	for received < expected {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !m.isOnline() {
			return errPaused
		}

		length := m.chunkSize
		if remaining := expected - received; remaining < length {
			length = remaining
		}

		chunk, err := m.source.FetchRange(ctx, key, received, length)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return fmt.Errorf("content %s ended at %d bytes, expected %d", ks, received, expected)
		}

		buf = append(buf, chunk...)
		received = int64(len(buf))

		// The buffer write lands before the record update. On resume the
		// buffer length is what the transfer trusts, so a crash between
		// the two writes can never leave a gap.
		if err := m.store.Put(ctx, partialPrefix+taskID, buf); err != nil {
			return fmt.Errorf("download: persist partial payload: %w", err)
		}
		m.noteProgress(ctx, taskID, received, expected)
	}

	return m.finish(ctx, taskID, key, buf, started)
}

// finish pins the payload into the cache and marks the task completed.
func (m *Manager) finish(ctx context.Context, taskID string, key content.Key, payload []byte, started time.Time) error {
	if err := m.cache.Put(ctx, key, payload, cache.PutOptions{Pinned: true}); err != nil {
		return err
	}

	bg := context.WithoutCancel(ctx)
	size := int64(len(payload))

	m.mu.Lock()
	t, ok := m.tasks[taskID]
	var ev Event
	if ok {
		t.State = StateCompleted
		t.BytesReceived = size
		t.BytesExpected = size
		t.Attempt = 0
		t.LastError = ""
		t.NextRetryAt = time.Time{}
		t.UpdatedAt = m.now()
		if err := m.persist(bg, t); err != nil {
			logger.Warn("Failed to persist completed task",
				logger.Component("download"), logger.TaskID(taskID), logger.Err(err))
		}
		ev = eventFor(t)
	}
	m.mu.Unlock()

	if err := m.store.Delete(bg, partialPrefix+taskID); err != nil && !kv.IsNotFound(err) {
		logger.Warn("Failed to remove partial payload",
			logger.Component("download"), logger.TaskID(taskID), logger.Err(err))
	}

	if !ok {
		// Canceled during the cache write. Release the pin it just took so
		// the entry is evictable like any other.
		_ = m.cache.Unpin(bg, key)
		return nil
	}

	m.emit(ev)
	if m.metrics != nil {
		m.metrics.RecordCompleted(string(key.Kind), size, m.now().Sub(started))
	}
	logger.Info("Download completed",
		logger.Component("download"), logger.TaskID(taskID),
		logger.ContentKey(key.String()), logger.Size(size))
	return nil
}

// settle classifies a transfer error and moves the task to its next state.
// Pause and shutdown park the task with its partial payload intact;
// transient failures reschedule with backoff until attempts run out;
// everything else fails the task but keeps its record for reporting.
func (m *Manager) settle(ctx context.Context, taskID string, terr error) {
	if terr == nil {
		return
	}

	now := m.now()
	bg := context.WithoutCancel(ctx)

	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		// Canceled or removed while running; the record is already gone.
		m.mu.Unlock()
		return
	}

	var failedKind, retriedKind string
	interrupted := ctx.Err() != nil ||
		errors.Is(terr, context.Canceled) || errors.Is(terr, context.DeadlineExceeded)

	switch {
	case errors.Is(terr, errPaused) || (interrupted && !m.online):
		t.State = StatePaused
		t.UpdatedAt = now

	case interrupted:
		// Shutdown is not a failure. Back to queued so the next run
		// resumes from the partial payload.
		t.State = StateQueued
		t.NextRetryAt = time.Time{}
		t.UpdatedAt = now

	case remote.IsTransient(terr):
		t.Attempt++
		t.LastError = terr.Error()
		t.UpdatedAt = now
		if t.Attempt >= m.maxAttempts {
			t.State = StateFailed
			t.LastError = fmt.Sprintf("retries exhausted after %d attempts: %v", t.Attempt, terr)
			t.NextRetryAt = time.Time{}
			m.dropPartialLocked(bg, taskID)
			failedKind = string(t.Key.Kind)
		} else {
			t.State = StateQueued
			t.NextRetryAt = m.backoff.NextRetryAt(now, t.Attempt)
			retriedKind = string(t.Key.Kind)
		}

	default:
		t.Attempt++
		t.State = StateFailed
		t.LastError = terr.Error()
		t.NextRetryAt = time.Time{}
		t.UpdatedAt = now
		m.dropPartialLocked(bg, taskID)
		failedKind = string(t.Key.Kind)
	}

	if err := m.persist(bg, t); err != nil {
		logger.Warn("Failed to persist download task",
			logger.Component("download"), logger.TaskID(taskID), logger.Err(err))
	}
	ev := eventFor(t)
	state := t.State
	nextRetry := t.NextRetryAt
	m.mu.Unlock()

	m.emit(ev)
	switch {
	case failedKind != "":
		if m.metrics != nil {
			m.metrics.RecordFailed(failedKind)
		}
		logger.Warn("Download failed",
			logger.Component("download"), logger.TaskID(taskID), logger.Err(terr))
	case retriedKind != "":
		if m.metrics != nil {
			m.metrics.RecordRetried(retriedKind)
		}
		logger.Debug("Download retry scheduled",
			logger.Component("download"), logger.TaskID(taskID),
			"next_retry_at", nextRetry, logger.Err(terr))
	default:
		logger.Debug("Download parked",
			logger.Component("download"), logger.TaskID(taskID), logger.KeyState, string(state))
	}
}

// dropPartialLocked removes a task's partial payload. Callers hold mu.
func (m *Manager) dropPartialLocked(ctx context.Context, taskID string) {
	if err := m.store.Delete(ctx, partialPrefix+taskID); err != nil && !kv.IsNotFound(err) {
		logger.Warn("Failed to remove partial payload",
			logger.Component("download"), logger.TaskID(taskID), logger.Err(err))
	}
}

func (m *Manager) loadPartial(ctx context.Context, taskID string) ([]byte, error) {
	data, err := m.store.Get(ctx, partialPrefix+taskID)
	if err != nil {
		if kv.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("download: load partial payload: %w", err)
	}
	return data, nil
}

// noteProgress updates the task's received-byte count and tells
// subscribers.
func (m *Manager) noteProgress(ctx context.Context, taskID string, received, expected int64) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return
	}
	t.BytesReceived = received
	t.BytesExpected = expected
	t.UpdatedAt = m.now()
	if err := m.persist(ctx, t); err != nil {
		logger.Warn("Failed to persist download progress",
			logger.Component("download"), logger.TaskID(taskID), logger.Err(err))
	}
	ev := eventFor(t)
	m.mu.Unlock()

	m.emit(ev)
}
