package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/voxbiblia/ark/internal/logger"
)

// Response is the envelope every ops API endpoint returns. Status carries
// the overall verdict ("healthy", "unhealthy", "ok", "error"), Data the
// payload and Error the failure detail, each omitted when empty.
type Response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// writeJSON sends data with the given HTTP status. The body is encoded to
// a buffer first: if encoding fails, no headers have gone out yet and the
// fallback error still reaches the client.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", logger.Err(err))
		http.Error(w, `{"status":"error","error":"response encoding failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// envelope wraps a payload in the standard envelope with a fresh timestamp.
func envelope(status string, data interface{}) Response {
	return Response{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// errEnvelope reports a failure under the given status.
func errEnvelope(status, errMsg string) Response {
	return Response{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
	}
}
