// Package coordinator assembles the offline engine: the content cache, the
// download manager, the sync queue and the local library behind one facade.
// It owns the reachability subscription and turns connectivity transitions
// into queue flushes and download resumption, so the component packages
// never need to know where the online signal comes from.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voxbiblia/ark/internal/logger"
	"github.com/voxbiblia/ark/pkg/cache"
	"github.com/voxbiblia/ark/pkg/download"
	"github.com/voxbiblia/ark/pkg/library"
	"github.com/voxbiblia/ark/pkg/quota"
	"github.com/voxbiblia/ark/pkg/reachability"
	"github.com/voxbiblia/ark/pkg/remote"
	"github.com/voxbiblia/ark/pkg/syncqueue"
)

const (
	defaultMaintenanceInterval = 5 * time.Minute
	defaultStopTimeout         = 10 * time.Second

	// flushTimeout bounds the reconnect drain. A flush that cannot finish
	// in this window leaves the remainder to the regular drain loop.
	flushTimeout = 2 * time.Minute
)

// Config contains configuration for the coordinator.
type Config struct {
	// Cache serves and stores content payloads. Required.
	Cache *cache.Cache

	// Quota reports storage usage for the facade. Required.
	Quota *quota.Manager

	// Library is the local read model mutations are applied to. Required.
	Library *library.Store

	// Queue is the durable sync outbox. Required.
	Queue *syncqueue.Queue

	// Downloads runs offline content transfers. Required.
	Downloads *download.Manager

	// Source fetches content not present in the cache. Required.
	Source remote.ContentSource

	// Reachability reports backend connectivity. Optional; when nil the
	// engine believes it is always online.
	Reachability reachability.Source

	// MaintenanceInterval is how often background upkeep (download
	// reconciliation) runs (default: 5m).
	MaintenanceInterval time.Duration

	// StopTimeout bounds each component shutdown during Close
	// (default: 10s).
	StopTimeout time.Duration
}

// Coordinator is the engine facade. All client-facing operations go through
// it; the component packages stay wired together only here.
type Coordinator struct {
	cache     *cache.Cache
	quota     *quota.Manager
	library   *library.Store
	queue     *syncqueue.Queue
	downloads *download.Manager
	source    remote.ContentSource
	reach     reachability.Source

	maintenanceInterval time.Duration
	stopTimeout         time.Duration

	mu      sync.Mutex
	online  bool
	started bool
	closed  bool

	reachCancel func()
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// New wires a coordinator over already-constructed components. It does not
// start any background work; call Start for that.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("coordinator: cache is required")
	}
	if cfg.Quota == nil {
		return nil, fmt.Errorf("coordinator: quota manager is required")
	}
	if cfg.Library == nil {
		return nil, fmt.Errorf("coordinator: library is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("coordinator: sync queue is required")
	}
	if cfg.Downloads == nil {
		return nil, fmt.Errorf("coordinator: download manager is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("coordinator: content source is required")
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = defaultMaintenanceInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	online := true
	if cfg.Reachability != nil {
		online = cfg.Reachability.Online()
	}

	return &Coordinator{
		cache:               cfg.Cache,
		quota:               cfg.Quota,
		library:             cfg.Library,
		queue:               cfg.Queue,
		downloads:           cfg.Downloads,
		source:              cfg.Source,
		reach:               cfg.Reachability,
		maintenanceInterval: cfg.MaintenanceInterval,
		stopTimeout:         cfg.StopTimeout,
		online:              online,
		stopCh:              make(chan struct{}),
	}, nil
}

// Start brings the engine up: it seeds the connectivity belief, starts the
// queue and download workers, subscribes to reachability transitions and
// kicks off the maintenance loop. ctx bounds only the startup work itself.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("coordinator: already closed")
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true

	online := true
	if c.reach != nil {
		online = c.reach.Online()
	}
	c.online = online
	c.mu.Unlock()

	c.queue.SetOnline(online)
	c.downloads.SetOnline(online)
	c.queue.Start()
	c.downloads.Start()

	if c.reach != nil {
		states, cancel := c.reach.Subscribe()
		c.reachCancel = cancel
		c.wg.Add(1)
		go c.watchReachability(states)
	}

	c.wg.Add(1)
	go c.maintenanceLoop()

	if dropped := c.downloads.Reconcile(ctx); dropped > 0 {
		logger.Info("Reconciled stale download tasks", "dropped", dropped)
	}

	logger.Info("Offline engine started",
		logger.Component("coordinator"), logger.KeyOnline, online)
	return nil
}

// watchReachability consumes transition events until Close.
func (c *Coordinator) watchReachability(states <-chan reachability.State) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			c.applyReachability(state.IsOnline())
		}
	}
}

// applyReachability records a connectivity transition and propagates it.
// Coming back online flushes the sync queue immediately instead of waiting
// out per-operation backoff.
func (c *Coordinator) applyReachability(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	c.mu.Unlock()

	logger.Info("Reachability changed",
		logger.Component("coordinator"), logger.KeyOnline, online)
	c.queue.SetOnline(online)
	c.downloads.SetOnline(online)

	if online {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := c.queue.Flush(ctx); err != nil {
			logger.Warn("Reconnect flush did not finish", logger.Err(err))
		}
	}
}

// maintenanceLoop periodically reconciles download tasks against the cache,
// dropping tasks whose payload already arrived by another path.
func (c *Coordinator) maintenanceLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if dropped := c.downloads.Reconcile(ctx); dropped > 0 {
				logger.Info("Reconciled stale download tasks", "dropped", dropped)
			}
			cancel()
		}
	}
}

// Online returns the current connectivity belief.
func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Ready reports whether the engine can serve requests. The error carries
// the reason when it cannot. Being offline is not a readiness failure:
// cached content still serves.
func (c *Coordinator) Ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("engine is closed")
	}
	if !c.started {
		return errors.New("engine is not started")
	}
	return nil
}

// Close stops background work and closes the cache and the library. The
// backing key-value store is not closed; its owner opened it and closes it.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	if started {
		close(c.stopCh)
		if c.reachCancel != nil {
			c.reachCancel()
		}
		c.wg.Wait()

		c.queue.Stop(c.stopTimeout)
		c.downloads.Stop(c.stopTimeout)
	}

	var errs []error
	if err := c.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cache: %w", err))
	}
	if err := c.library.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close library: %w", err))
	}

	logger.Info("Offline engine stopped")
	return errors.Join(errs...)
}
