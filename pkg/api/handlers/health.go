package handlers

import (
	"net/http"
	"time"
)

// HealthHandler serves the liveness and readiness probes. Both endpoints
// are unauthenticated so orchestrators and load balancers can poll them
// freely.
type HealthHandler struct {
	engine    Engine
	startTime time.Time
}

// NewHealthHandler returns a handler probing engine. A nil engine makes
// the readiness probe report unhealthy, which covers the window before
// the coordinator is wired in.
func NewHealthHandler(engine Engine) *HealthHandler {
	return &HealthHandler{engine: engine, startTime: time.Now()}
}

// Liveness answers GET /health with 200 whenever the process is up; it
// deliberately checks nothing deeper.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	writeJSON(w, http.StatusOK, envelope("healthy", map[string]interface{}{
		"service":    "ark",
		"started_at": h.startTime.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
		"uptime_sec": int64(uptime.Seconds()),
	}))
}

// Readiness answers GET /health/ready with 200 once the engine has started
// and its stores are open, 503 before that. Being offline does not fail
// readiness: an offline engine still serves cached content.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, errEnvelope("unhealthy", "engine not initialized"))
		return
	}

	if err := h.engine.Ready(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errEnvelope("unhealthy", err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, envelope("healthy", map[string]interface{}{
		"online": h.engine.Online(),
	}))
}
