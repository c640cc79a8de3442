// Package quota tracks bytes consumed against the configured storage budget.
//
// The manager is a pure accounting component. It decides whether a write fits,
// but freeing space is the cache's job: a NeedsEviction decision tells the
// caller how many bytes to reclaim before retrying the reservation.
package quota

import (
	"fmt"
	"sync"
)

// DecisionKind classifies the outcome of a reservation request.
type DecisionKind int

const (
	// Granted means the requested bytes fit within the budget as-is.
	Granted DecisionKind = iota

	// NeedsEviction means the request fits the budget but not the current
	// free space. BytesToFree says how much must be reclaimed first.
	NeedsEviction

	// Denied means the request is larger than the entire budget and can
	// never be satisfied.
	Denied
)

// String returns a human-readable representation of the decision kind.
func (k DecisionKind) String() string {
	switch k {
	case Granted:
		return "granted"
	case NeedsEviction:
		return "needs_eviction"
	case Denied:
		return "denied"
	default:
		return fmt.Sprintf("unknown decision (%d)", int(k))
	}
}

// Decision is the outcome of Reserve.
type Decision struct {
	Kind DecisionKind

	// BytesToFree is how many bytes must be reclaimed before the
	// reservation can succeed. Only set when Kind is NeedsEviction.
	BytesToFree int64
}

// Manager tracks storage usage against a fixed byte budget.
//
// Counters are incremental: callers report writes with RecordUsed and
// deletions with RecordFreed. Rescan replaces the counter with an
// authoritative sweep result, correcting any drift. All methods are safe for
// concurrent use.
type Manager struct {
	mu        sync.Mutex
	maxBytes  int64
	usedBytes int64
}

// NewManager creates a quota manager with the given budget.
// A maxBytes of zero or less disables the budget entirely: every
// reservation is granted.
func NewManager(maxBytes int64) *Manager {
	return &Manager{maxBytes: maxBytes}
}

// Reserve decides whether a write of the given size fits.
//
// Reserve does not mutate the counter. The caller records actual usage with
// RecordUsed once the write lands, so a failed write costs nothing.
func (m *Manager) Reserve(bytes int64) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxBytes <= 0 || bytes <= 0 {
		return Decision{Kind: Granted}
	}
	if bytes > m.maxBytes {
		return Decision{Kind: Denied}
	}
	if m.usedBytes+bytes <= m.maxBytes {
		return Decision{Kind: Granted}
	}
	return Decision{
		Kind:        NeedsEviction,
		BytesToFree: m.usedBytes + bytes - m.maxBytes,
	}
}

// RecordUsed adds bytes to the usage counter. Non-positive sizes are ignored.
func (m *Manager) RecordUsed(bytes int64) {
	if bytes <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.usedBytes += bytes
}

// RecordFreed subtracts bytes from the usage counter, clamping at zero so
// double-frees cannot drive it negative. Non-positive sizes are ignored.
func (m *Manager) RecordFreed(bytes int64) {
	if bytes <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.usedBytes -= bytes
	if m.usedBytes < 0 {
		m.usedBytes = 0
	}
}

// Rescan replaces the incremental counter with an authoritative usage figure
// and returns the drift (actual minus tracked) so the caller can log it.
// Called at startup and whenever the caller suspects counter drift.
func (m *Manager) Rescan(actualUsed int64) int64 {
	if actualUsed < 0 {
		actualUsed = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	drift := actualUsed - m.usedBytes
	m.usedBytes = actualUsed
	return drift
}

// Snapshot returns the current usage and the budget.
func (m *Manager) Snapshot() (used, max int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usedBytes, m.maxBytes
}
