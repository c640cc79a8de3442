// Package probe provides a reachability monitor that polls an HTTP
// endpoint, for hosts without a native connectivity signal. Transitions are
// debounced: one dropped packet does not flip the engine offline.
package probe

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/voxbiblia/ark/internal/logger"
	"github.com/voxbiblia/ark/pkg/reachability"
)

const (
	defaultInterval  = 30 * time.Second
	defaultTimeout   = 5 * time.Second
	defaultThreshold = 2
)

// Config contains configuration for the probe monitor.
type Config struct {
	// URL is the endpoint to probe with HEAD requests. Required. Any HTTP
	// response counts as reachable, whatever its status; only transport
	// failures mean offline.
	URL string

	// Interval between probes (default: 30s).
	Interval time.Duration

	// Timeout per probe (default: 5s).
	Timeout time.Duration

	// Threshold is how many consecutive contradicting probes flip the
	// belief (default: 2).
	Threshold int

	// Client overrides the HTTP client, for custom transports.
	Client *http.Client
}

// Monitor polls the endpoint and publishes debounced transitions.
type Monitor struct {
	url       string
	interval  time.Duration
	timeout   time.Duration
	threshold int
	client    *http.Client

	mu     sync.Mutex
	online bool
	streak int

	notifier reachability.Notifier

	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool
	startMu   sync.Mutex
}

// New creates a monitor. The initial belief is online; the first probes
// correct it quickly if the backend is unreachable.
func New(cfg Config) (*Monitor, error) {
	if cfg.URL == "" {
		return nil, errors.New("probe: url is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Monitor{
		url:       cfg.URL,
		interval:  cfg.Interval,
		timeout:   cfg.Timeout,
		threshold: cfg.Threshold,
		client:    cfg.Client,
		online:    true,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}, nil
}

// Start launches the probe loop. It probes once immediately so the belief
// is grounded before the first interval elapses.
func (m *Monitor) Start(ctx context.Context) {
	m.startMu.Lock()
	if m.started {
		m.startMu.Unlock()
		return
	}
	m.started = true
	m.startMu.Unlock()

	logger.Info("Starting reachability probe",
		logger.Component("reachability"), "url", m.url, "interval", m.interval)

	go func() {
		defer close(m.stoppedCh)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.probeOnce(ctx)
		for {
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeOnce(ctx)
			}
		}
	}()
}

// Close stops the probe loop.
func (m *Monitor) Close() {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if !m.started {
		return
	}
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
		<-m.stoppedCh
	}
}

// Online returns the current belief.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers for transition notifications.
func (m *Monitor) Subscribe() (<-chan reachability.State, func()) {
	return m.notifier.Subscribe()
}

func (m *Monitor) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, m.url, nil)
	if err != nil {
		m.observe(false)
		return
	}

	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a connectivity verdict.
			return
		}
		m.observe(false)
		return
	}
	resp.Body.Close()
	m.observe(true)
}

// observe folds one probe result into the debounced belief and reports
// whether the belief flipped.
func (m *Monitor) observe(ok bool) bool {
	m.mu.Lock()
	if ok == m.online {
		m.streak = 0
		m.mu.Unlock()
		return false
	}

	m.streak++
	if m.streak < m.threshold {
		m.mu.Unlock()
		return false
	}

	m.online = ok
	m.streak = 0
	m.mu.Unlock()

	logger.Info("Reachability changed",
		logger.Component("reachability"), logger.KeyOnline, ok)
	m.notifier.Publish(reachability.StateFor(ok))
	return true
}

var _ reachability.Source = (*Monitor)(nil)
