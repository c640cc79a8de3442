// Package handlers provides HTTP handlers for the ops API.
package handlers

import "time"

// Engine is the read-only view of the running engine the ops API serves.
// The coordinator implements it; handlers never reach into engine internals.
type Engine interface {
	// Ready reports whether the engine is serving. A non-nil error carries
	// the reason the readiness probe fails.
	Ready() error

	// Online reports the current reachability belief.
	Online() bool

	// StorageUsage returns cache usage against the configured budget.
	// max is 0 when no budget is set.
	StorageUsage() (used, max int64)

	// PendingSyncCount returns the number of queued sync operations.
	PendingSyncCount() int

	// DeadLetterCount returns the number of parked sync operations.
	DeadLetterCount() int

	// LastSyncError returns the most recent sync failure, nil when none
	// has been recorded.
	LastSyncError() error

	// LastSyncErrorAt returns when that failure was recorded, zero when
	// syncing has never failed.
	LastSyncErrorAt() time.Time

	// DownloadCounts returns the number of download tasks per state.
	DownloadCounts() map[string]int
}
