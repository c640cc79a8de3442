package prometheus

import (
	"testing"
	"time"

	"github.com/voxbiblia/ark/pkg/metrics"
)

// The registry is process-wide and promauto registration is one-shot, so a
// single test walks the whole lifecycle in order: disabled constructors,
// InitRegistry, then one instance of each implementation.
func TestMetrics_Lifecycle(t *testing.T) {
	if metrics.IsEnabled() {
		t.Fatal("registry unexpectedly initialized before the test")
	}

	if m := NewCacheMetrics(); m != nil {
		t.Error("NewCacheMetrics must return nil while metrics are disabled")
	}
	if m := NewDownloadMetrics(); m != nil {
		t.Error("NewDownloadMetrics must return nil while metrics are disabled")
	}
	if m := NewSyncMetrics(); m != nil {
		t.Error("NewSyncMetrics must return nil while metrics are disabled")
	}

	metrics.InitRegistry()
	metrics.InitRegistry() // second call is a no-op

	cm := NewCacheMetrics()
	if cm == nil {
		t.Fatal("NewCacheMetrics returned nil with metrics enabled")
	}
	dm := NewDownloadMetrics()
	if dm == nil {
		t.Fatal("NewDownloadMetrics returned nil with metrics enabled")
	}
	sm := NewSyncMetrics()
	if sm == nil {
		t.Fatal("NewSyncMetrics returned nil with metrics enabled")
	}

	cm.ObserveHit(2048, 3*time.Millisecond)
	cm.ObserveMiss(time.Millisecond)
	cm.ObserveWrite(4096, 5*time.Millisecond)
	cm.RecordEviction("size_limit")
	cm.RecordUsage(6144, 2)

	dm.RecordCreated("audio")
	dm.RecordCompleted("audio", 4194304, 12*time.Second)
	dm.RecordFailed("text")
	dm.RecordRetried("audio")
	dm.RecordCanceled("text")
	dm.RecordActive(1)

	sm.RecordEnqueued("bookmark")
	sm.RecordSuperseded("bookmark")
	sm.RecordCompleted("note")
	sm.RecordRetried("note")
	sm.RecordConflict("note", "merge")
	sm.RecordDeadLettered("setting")
	sm.RecordQueueDepth(3)

	mfs, err := metrics.GetRegistry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	want := map[string]bool{
		"ark_cache_read_operations_total":    false,
		"ark_cache_write_operations_total":   false,
		"ark_cache_evictions_total":          false,
		"ark_cache_used_bytes":               false,
		"ark_download_tasks_created_total":   false,
		"ark_download_tasks_completed_total": false,
		"ark_download_duration_milliseconds": false,
		"ark_download_active_transfers":      false,
		"ark_sync_operations_enqueued_total": false,
		"ark_sync_conflicts_total":           false,
		"ark_sync_dead_letters_total":        false,
		"ark_sync_queue_depth":               false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("metric family %s not gathered", name)
		}
	}
}

func TestMetrics_NilReceiversAreNoOps(t *testing.T) {
	var cm *cacheMetrics
	cm.ObserveHit(1, time.Millisecond)
	cm.ObserveMiss(time.Millisecond)
	cm.ObserveWrite(1, time.Millisecond)
	cm.RecordEviction("ttl")
	cm.RecordUsage(0, 0)

	var dm *downloadMetrics
	dm.RecordCreated("text")
	dm.RecordCompleted("text", 1, time.Second)
	dm.RecordFailed("text")
	dm.RecordRetried("text")
	dm.RecordCanceled("text")
	dm.RecordActive(0)

	var sm *syncMetrics
	sm.RecordEnqueued("bookmark")
	sm.RecordSuperseded("bookmark")
	sm.RecordCompleted("bookmark")
	sm.RecordRetried("bookmark")
	sm.RecordConflict("bookmark", "applyLocal")
	sm.RecordDeadLettered("bookmark")
	sm.RecordQueueDepth(0)
}
