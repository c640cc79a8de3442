package syncqueue

// Metrics receives queue events. Implementations must be safe for
// concurrent use; a Prometheus-backed one lives in pkg/metrics/prometheus.
type Metrics interface {
	// RecordEnqueued counts a newly appended operation.
	RecordEnqueued(entityType string)

	// RecordSuperseded counts a pending operation dropped by a later
	// delete of the same entity.
	RecordSuperseded(entityType string)

	// RecordCompleted counts an operation leaving the log resolved, by
	// apply or by conflict resolution.
	RecordCompleted(entityType string)

	// RecordRetried counts a transient failure rescheduled with backoff.
	RecordRetried(entityType string)

	// RecordConflict counts a resolver verdict.
	RecordConflict(entityType, outcome string)

	// RecordDeadLettered counts an operation moved to the dead-letter set.
	RecordDeadLettered(entityType string)

	// RecordQueueDepth reports the live log size after a change.
	RecordQueueDepth(depth int)
}
