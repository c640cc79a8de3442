// Package download orchestrates "make available offline" requests: durable
// tasks that fetch chapter text and audio through chunked, resumable
// transfers under a bounded worker pool, write the payload into the cache
// pinned, and report progress to subscribers.
//
// Task state survives restart. A transfer interrupted by a crash, a lost
// connection, or shutdown keeps its received bytes and continues from that
// offset when it runs again.
package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxbiblia/ark/internal/logger"
	"github.com/voxbiblia/ark/internal/retry"
	"github.com/voxbiblia/ark/pkg/cache"
	"github.com/voxbiblia/ark/pkg/content"
	"github.com/voxbiblia/ark/pkg/remote"
	"github.com/voxbiblia/ark/pkg/store/kv"
)

var (
	// ErrTaskNotFound is returned when a task id has no record.
	ErrTaskNotFound = errors.New("download: task not found")

	// ErrClosed is returned for operations on a stopped manager.
	ErrClosed = errors.New("download: manager is closed")
)

const (
	taskPrefix    = "task:"
	partialPrefix = "part:"

	defaultConcurrency  = 3
	defaultMaxAttempts  = 5
	defaultChunkSize    = 512 * 1024
	defaultPollInterval = 10 * time.Second
	defaultBaseBackoff  = 500 * time.Millisecond
	defaultMaxBackoff   = 30 * time.Second
)

// State is the lifecycle state of a download task.
type State string

const (
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StatePaused      State = "paused"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Task is one offline-availability request. Completed and failed tasks stay
// on record: completed tasks mark which cache entries are pinned, failed
// tasks carry the error for user-facing reporting.
type Task struct {
	ID          string `json:"id"`
	ResourceKey string `json:"resource_key"`
	State       State  `json:"state"`

	// BytesExpected is 0 until the payload size is known; it stays 0 for
	// sources that cannot report a size upfront.
	BytesExpected int64 `json:"bytes_expected"`
	BytesReceived int64 `json:"bytes_received"`

	Attempt     int       `json:"attempt"`
	LastError   string    `json:"last_error,omitempty"`
	NextRetryAt time.Time `json:"next_retry_at,omitzero"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Key is the parsed form of ResourceKey.
	Key content.Key `json:"-"`
}

// Config contains configuration for the download manager.
type Config struct {
	// Store is the durable backing for task state and partial payloads.
	// Required.
	Store kv.Store

	// Cache receives completed payloads, pinned against eviction. Required.
	Cache *cache.Cache

	// Source fetches content from the backend. Required.
	Source remote.ContentSource

	// Concurrency caps simultaneous transfers (default: 3).
	Concurrency int

	// MaxAttempts is the number of transfer attempts before a task fails
	// (default: 5).
	MaxAttempts int

	// ChunkSize is the range-request size for resumable transfers
	// (default: 512 KiB).
	ChunkSize int64

	// Backoff shapes retry delays. Zero value gets 500ms base, 30s cap.
	Backoff retry.Policy

	// PollInterval is how often the dispatcher wakes on its own to pick up
	// tasks whose backoff has elapsed (default: 10s).
	PollInterval time.Duration

	// Metrics is an optional metrics collector.
	Metrics Metrics
}

// Manager runs the download worker pool over a durable task table.
type Manager struct {
	store   kv.Store
	cache   *cache.Cache
	source  remote.ContentSource
	backoff retry.Policy
	metrics Metrics

	concurrency  int
	maxAttempts  int
	chunkSize    int64
	pollInterval time.Duration

	// mu guards the task table and worker bookkeeping. Never held across a
	// network call.
	mu      sync.Mutex
	tasks   map[string]*Task
	byKey   map[string]string
	running map[string]context.CancelFunc
	online  bool
	closed  bool

	sem       chan struct{}
	wakeCh    chan struct{}
	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool
	wg        sync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc

	subsMu  sync.Mutex
	subs    map[int]chan Event
	nextSub int

	now func() time.Time
}

// New opens the manager over its durable task table. Tasks caught
// downloading by a crash are demoted to queued; their partial payloads are
// kept, so the transfer resumes from the interrupted offset.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("download: store is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("download: cache is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("download: content source is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Backoff.BaseDelay <= 0 {
		cfg.Backoff = retry.New(defaultBaseBackoff, defaultMaxBackoff, cfg.MaxAttempts)
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	m := &Manager{
		store:        cfg.Store,
		cache:        cfg.Cache,
		source:       cfg.Source,
		backoff:      cfg.Backoff,
		metrics:      cfg.Metrics,
		concurrency:  cfg.Concurrency,
		maxAttempts:  cfg.MaxAttempts,
		chunkSize:    cfg.ChunkSize,
		pollInterval: cfg.PollInterval,
		tasks:        make(map[string]*Task),
		byKey:        make(map[string]string),
		running:      make(map[string]context.CancelFunc),
		online:       true,
		sem:          make(chan struct{}, cfg.Concurrency),
		wakeCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		stoppedCh:    make(chan struct{}),
		baseCtx:      baseCtx,
		baseCancel:   baseCancel,
		subs:         make(map[int]chan Event),
		now:          time.Now,
	}

	if err := m.recover(ctx); err != nil {
		baseCancel()
		return nil, err
	}
	return m, nil
}

// recover loads the durable task table. Runs before the manager is
// published, so no locking.
func (m *Manager) recover(ctx context.Context) error {
	keys, err := m.store.ListKeys(ctx, taskPrefix)
	if err != nil {
		return fmt.Errorf("download: list tasks: %w", err)
	}

	resumed := 0
	for _, storeKey := range keys {
		data, err := m.store.Get(ctx, storeKey)
		if err != nil {
			if kv.IsNotFound(err) {
				continue
			}
			return fmt.Errorf("download: load task %s: %w", storeKey, err)
		}

		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			logger.Warn("Dropping undecodable download task record",
				logger.Component("download"), "store_key", storeKey, logger.Err(err))
			_ = m.store.Delete(ctx, storeKey)
			continue
		}

		t.Key, err = content.ParseKey(t.ResourceKey)
		if err != nil {
			logger.Warn("Dropping download task with invalid resource key",
				logger.Component("download"), logger.TaskID(t.ID), logger.Err(err))
			_ = m.store.Delete(ctx, storeKey)
			_ = m.store.Delete(ctx, partialPrefix+t.ID)
			continue
		}

		// A transfer interrupted by a crash resumes from its partial
		// payload.
		if t.State == StateDownloading {
			t.State = StateQueued
			resumed++
			if err := m.persist(ctx, &t); err != nil {
				return err
			}
		}

		m.tasks[t.ID] = &t
		m.byKey[t.ResourceKey] = t.ID
	}

	logger.Info("Download manager recovered",
		logger.Component("download"), "tasks", len(m.tasks), "resumed", resumed)
	return nil
}

// Start launches the dispatcher loop.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	logger.Info("Starting download manager",
		logger.Component("download"),
		"concurrency", m.concurrency, "chunk_size", m.chunkSize)

	go func() {
		defer close(m.stoppedCh)

		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-m.wakeCh:
			case <-ticker.C:
			}
			m.dispatchOnce()
		}
	}()
}

// Stop interrupts running transfers and shuts the pool down, waiting up to
// timeout. Interrupted tasks go back to queued with their partial payloads
// intact.
func (m *Manager) Stop(timeout time.Duration) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	started := m.started
	m.mu.Unlock()

	if started {
		close(m.stopCh)
	}
	m.baseCancel()

	done := make(chan struct{})
	go func() {
		if started {
			<-m.stoppedCh
		}
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Download manager stopped", logger.Component("download"))
	case <-time.After(timeout):
		logger.Warn("Download manager stop timed out", logger.Component("download"))
	}
}

// RequestOffline creates queued tasks for the given keys and returns their
// ids in key order. A key with a live task reuses it (the existing id is
// returned); a key with a failed task gets a fresh one.
func (m *Manager) RequestOffline(ctx context.Context, keys []content.Key) ([]string, error) {
	ids := make([]string, 0, len(keys))
	var events []Event

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}

	for _, key := range keys {
		if err := key.Validate(); err != nil {
			m.mu.Unlock()
			m.emitAll(events)
			return nil, err
		}
		ks := key.String()

		if existingID, ok := m.byKey[ks]; ok {
			existing := m.tasks[existingID]
			if existing.State != StateFailed {
				ids = append(ids, existingID)
				continue
			}
			// A failed task does not block a fresh request; replace it.
			m.removeLocked(ctx, existing)
		}

		t := &Task{
			ID:          uuid.NewString(),
			ResourceKey: ks,
			State:       StateQueued,
			CreatedAt:   m.now(),
			UpdatedAt:   m.now(),
			Key:         key,
		}
		if err := m.persist(ctx, t); err != nil {
			m.mu.Unlock()
			m.emitAll(events)
			return nil, err
		}
		m.tasks[t.ID] = t
		m.byKey[ks] = t.ID
		ids = append(ids, t.ID)
		events = append(events, eventFor(t))

		if m.metrics != nil {
			m.metrics.RecordCreated(string(key.Kind))
		}
		logger.Debug("Download task created",
			logger.Component("download"), logger.TaskID(t.ID), logger.ContentKey(ks))
	}
	m.mu.Unlock()

	m.emitAll(events)
	m.wake()
	return ids, nil
}

// Cancel stops a task and removes it, discarding any partial payload. An
// in-flight worker notices at its next chunk boundary.
func (m *Manager) Cancel(ctx context.Context, taskID string) error {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return ErrTaskNotFound
	}
	cancel := m.running[taskID]
	kind := t.Key.Kind
	m.removeLocked(ctx, t)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if m.metrics != nil {
		m.metrics.RecordCanceled(string(kind))
	}
	logger.Info("Download task canceled",
		logger.Component("download"), logger.TaskID(taskID), logger.ContentKey(t.ResourceKey))
	return nil
}

// RemoveOffline unpins the cached entry so it becomes evictable again and
// drops the key's task. The payload stays cached until eviction wants the
// space.
func (m *Manager) RemoveOffline(ctx context.Context, key content.Key) error {
	ks := key.String()

	m.mu.Lock()
	var cancel context.CancelFunc
	if id, ok := m.byKey[ks]; ok {
		cancel = m.running[id]
		m.removeLocked(ctx, m.tasks[id])
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if err := m.cache.Unpin(ctx, key); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil
		}
		return err
	}
	logger.Info("Offline copy released",
		logger.Component("download"), logger.ContentKey(ks))
	return nil
}

// removeLocked drops a task and its partial payload. Callers hold mu.
func (m *Manager) removeLocked(ctx context.Context, t *Task) {
	delete(m.tasks, t.ID)
	if m.byKey[t.ResourceKey] == t.ID {
		delete(m.byKey, t.ResourceKey)
	}
	ctx = context.WithoutCancel(ctx)
	if err := m.store.Delete(ctx, taskPrefix+t.ID); err != nil {
		logger.Warn("Failed to remove download task record",
			logger.Component("download"), logger.TaskID(t.ID), logger.Err(err))
	}
	if err := m.store.Delete(ctx, partialPrefix+t.ID); err != nil {
		logger.Warn("Failed to remove partial payload",
			logger.Component("download"), logger.TaskID(t.ID), logger.Err(err))
	}
}

// SetOnline tells the manager whether the backend is reachable. Going
// offline parks queued tasks and interrupts running transfers, which keep
// their received bytes; coming back online requeues everything paused.
func (m *Manager) SetOnline(online bool) {
	var events []Event
	var cancels []context.CancelFunc

	m.mu.Lock()
	was := m.online
	m.online = online
	if online == was {
		m.mu.Unlock()
		return
	}

	if !online {
		for _, t := range m.tasks {
			if t.State == StateQueued {
				t.State = StatePaused
				t.UpdatedAt = m.now()
				if err := m.persist(context.Background(), t); err != nil {
					logger.Warn("Failed to persist paused task",
						logger.Component("download"), logger.TaskID(t.ID), logger.Err(err))
				}
				events = append(events, eventFor(t))
			}
		}
		// Running workers settle to paused at their next chunk boundary.
		for _, cancel := range m.running {
			cancels = append(cancels, cancel)
		}
	} else {
		for _, t := range m.tasks {
			if t.State == StatePaused {
				t.State = StateQueued
				t.NextRetryAt = time.Time{}
				t.UpdatedAt = m.now()
				if err := m.persist(context.Background(), t); err != nil {
					logger.Warn("Failed to persist resumed task",
						logger.Component("download"), logger.TaskID(t.ID), logger.Err(err))
				}
				events = append(events, eventFor(t))
			}
		}
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.emitAll(events)
	if online {
		m.wake()
	}
	logger.Info("Download connectivity changed",
		logger.Component("download"), logger.KeyOnline, online)
}

// Reconcile drops completed tasks whose cache entry no longer exists (the
// payload was invalidated or lost), so their keys read as absent rather
// than stale completions. Intended to run at startup, after the cache
// index loads.
func (m *Manager) Reconcile(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for _, t := range m.tasks {
		if t.State != StateCompleted {
			continue
		}
		if m.cache.Contains(t.Key) {
			continue
		}
		logger.Info("Dropping completed task without cache entry",
			logger.Component("download"), logger.TaskID(t.ID), logger.ContentKey(t.ResourceKey))
		m.removeLocked(ctx, t)
		dropped++
	}
	return dropped
}

// Task returns a snapshot of the task for a content key.
func (m *Manager) Task(key content.Key) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byKey[key.String()]
	if !ok {
		return Task{}, false
	}
	return *m.tasks[id], true
}

// Tasks returns a snapshot of every task, ordered by creation time.
func (m *Manager) Tasks() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Counts returns how many tasks are in each state.
func (m *Manager) Counts() map[State]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[State]int)
	for _, t := range m.tasks {
		counts[t.State]++
	}
	return counts
}

// persist writes one task record. Callers hold mu (or the manager is not
// yet published).
func (m *Manager) persist(ctx context.Context, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("download: encode task %s: %w", t.ID, err)
	}
	if err := m.store.Put(ctx, taskPrefix+t.ID, data); err != nil {
		return fmt.Errorf("download: persist task %s: %w", t.ID, err)
	}
	return nil
}

func (m *Manager) isOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Manager) wake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}
