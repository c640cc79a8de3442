package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStatus_NilEngine(t *testing.T) {
	handler := NewStatusHandler(nil)
	w := httptest.NewRecorder()

	handler.Status(w, httptest.NewRequest("GET", "/status", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if resp := decodeEnvelope(t, w); resp.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", resp.Status)
	}
}

func TestStatus_EngineSnapshot(t *testing.T) {
	failedAt := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	engine := &fakeEngine{
		online:      true,
		used:        1 << 20,
		max:         512 << 20,
		pending:     3,
		deadLetters: 1,
		lastErr:     errors.New("gateway timeout"),
		lastErrAt:   failedAt,
		downloads: map[string]int{
			"queued":    2,
			"completed": 5,
		},
	}
	handler := NewStatusHandler(engine)
	w := httptest.NewRecorder()

	handler.Status(w, httptest.NewRequest("GET", "/status", nil))

	if w.Code != http.StatusOK {
		t.Errorf("code = %d, want %d", w.Code, http.StatusOK)
	}

	// Decode into the typed payload to pin the wire shape.
	var resp struct {
		Status string         `json:"status"`
		Data   StatusResponse `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}

	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if !resp.Data.Online {
		t.Error("online = false, want true")
	}
	if resp.Data.Storage.UsedBytes != 1<<20 {
		t.Errorf("used_bytes = %d, want %d", resp.Data.Storage.UsedBytes, 1<<20)
	}
	if resp.Data.Storage.MaxBytes != 512<<20 {
		t.Errorf("max_bytes = %d, want %d", resp.Data.Storage.MaxBytes, 512<<20)
	}
	if resp.Data.Sync.Pending != 3 {
		t.Errorf("pending = %d, want 3", resp.Data.Sync.Pending)
	}
	if resp.Data.Sync.DeadLetters != 1 {
		t.Errorf("dead_letters = %d, want 1", resp.Data.Sync.DeadLetters)
	}
	if resp.Data.Sync.LastError != "gateway timeout" {
		t.Errorf("last_error = %q, want %q", resp.Data.Sync.LastError, "gateway timeout")
	}
	if want := failedAt.Format(time.RFC3339); resp.Data.Sync.LastErrorAt != want {
		t.Errorf("last_error_at = %q, want %q", resp.Data.Sync.LastErrorAt, want)
	}
	if resp.Data.Downloads["queued"] != 2 {
		t.Errorf("queued downloads = %d, want 2", resp.Data.Downloads["queued"])
	}
	if resp.Data.Downloads["completed"] != 5 {
		t.Errorf("completed downloads = %d, want 5", resp.Data.Downloads["completed"])
	}
}

func TestStatus_OmitsCleanSyncError(t *testing.T) {
	handler := NewStatusHandler(&fakeEngine{downloads: map[string]int{}})
	w := httptest.NewRecorder()

	handler.Status(w, httptest.NewRequest("GET", "/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want %d", w.Code, http.StatusOK)
	}

	body := w.Body.String()
	if strings.Contains(body, `"last_error"`) {
		t.Errorf("last_error should be omitted, body: %s", body)
	}
	if strings.Contains(body, `"last_error_at"`) {
		t.Errorf("last_error_at should be omitted, body: %s", body)
	}
}
