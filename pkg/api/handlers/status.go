package handlers

import (
	"net/http"
	"time"
)

// StatusHandler serves the engine status snapshot.
type StatusHandler struct {
	engine Engine
}

// NewStatusHandler returns a handler reading snapshots from engine.
func NewStatusHandler(engine Engine) *StatusHandler {
	return &StatusHandler{engine: engine}
}

// StorageStatus reports cache usage against the configured budget.
type StorageStatus struct {
	UsedBytes int64 `json:"used_bytes"`
	// MaxBytes is 0 when no budget is configured.
	MaxBytes int64 `json:"max_bytes"`
}

// SyncStatus reports the state of the outbound sync queue.
type SyncStatus struct {
	Pending     int    `json:"pending"`
	DeadLetters int    `json:"dead_letters"`
	LastError   string `json:"last_error,omitempty"`
	LastErrorAt string `json:"last_error_at,omitempty"`
}

// StatusResponse is the payload of GET /status.
type StatusResponse struct {
	Online    bool           `json:"online"`
	Storage   StorageStatus  `json:"storage"`
	Sync      SyncStatus     `json:"sync"`
	Downloads map[string]int `json:"downloads"`
}

// Status handles GET /status - full engine snapshot.
//
// Returns usage, sync queue depth, download task counts by state, and the
// current reachability belief. Designed for the status CLI command and for
// dashboards that poll more detail than the health probes expose.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, errEnvelope("unhealthy", "engine not initialized"))
		return
	}

	used, max := h.engine.StorageUsage()

	var lastError, lastErrorAt string
	if err := h.engine.LastSyncError(); err != nil {
		lastError = err.Error()
		if at := h.engine.LastSyncErrorAt(); !at.IsZero() {
			lastErrorAt = at.Format(time.RFC3339)
		}
	}

	writeJSON(w, http.StatusOK, envelope("ok", StatusResponse{
		Online: h.engine.Online(),
		Storage: StorageStatus{
			UsedBytes: used,
			MaxBytes:  max,
		},
		Sync: SyncStatus{
			Pending:     h.engine.PendingSyncCount(),
			DeadLetters: h.engine.DeadLetterCount(),
			LastError:   lastError,
			LastErrorAt: lastErrorAt,
		},
		Downloads: h.engine.DownloadCounts(),
	}))
}
