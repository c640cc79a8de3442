package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/voxbiblia/ark/pkg/metrics"
	"github.com/voxbiblia/ark/pkg/syncqueue"
)

// syncMetrics is the Prometheus implementation of syncqueue.Metrics.
type syncMetrics struct {
	enqueued     *prometheus.CounterVec
	superseded   *prometheus.CounterVec
	completed    *prometheus.CounterVec
	retried      *prometheus.CounterVec
	conflicts    *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	queueDepth   prometheus.Gauge
}

// NewSyncMetrics creates a new Prometheus-backed syncqueue.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewSyncMetrics() syncqueue.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &syncMetrics{
		enqueued: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ark_sync_operations_enqueued_total",
				Help: "Total number of operations appended to the sync log by entity type",
			},
			[]string{"entity_type"}, // "bookmark", "highlight", "note", "setting", "readingProgress"
		),
		superseded: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ark_sync_operations_superseded_total",
				Help: "Total number of pending operations dropped by a later delete of the same entity",
			},
			[]string{"entity_type"},
		),
		completed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ark_sync_operations_completed_total",
				Help: "Total number of operations delivered and removed from the sync log",
			},
			[]string{"entity_type"},
		),
		retried: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ark_sync_retries_total",
				Help: "Total number of deliveries rescheduled after transient failures",
			},
			[]string{"entity_type"},
		),
		conflicts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ark_sync_conflicts_total",
				Help: "Total number of conflicts by entity type and resolution outcome",
			},
			[]string{"entity_type", "outcome"}, // outcome: "applyLocal", "discardLocal", "merge"
		),
		deadLettered: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ark_sync_dead_letters_total",
				Help: "Total number of operations moved to the dead-letter set",
			},
			[]string{"entity_type"},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "ark_sync_queue_depth",
				Help: "Current number of live operations in the sync log",
			},
		),
	}
}

func (m *syncMetrics) RecordEnqueued(entityType string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(entityType).Inc()
}

func (m *syncMetrics) RecordSuperseded(entityType string) {
	if m == nil {
		return
	}
	m.superseded.WithLabelValues(entityType).Inc()
}

func (m *syncMetrics) RecordCompleted(entityType string) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(entityType).Inc()
}

func (m *syncMetrics) RecordRetried(entityType string) {
	if m == nil {
		return
	}
	m.retried.WithLabelValues(entityType).Inc()
}

func (m *syncMetrics) RecordConflict(entityType, outcome string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(entityType, outcome).Inc()
}

func (m *syncMetrics) RecordDeadLettered(entityType string) {
	if m == nil {
		return
	}
	m.deadLettered.WithLabelValues(entityType).Inc()
}

func (m *syncMetrics) RecordQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}
