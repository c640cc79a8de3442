package download

import "time"

// Metrics receives download manager measurements. Implementations must be
// safe for concurrent use; a Prometheus-backed one lives in
// pkg/metrics/prometheus. A nil Metrics disables recording.
type Metrics interface {
	// RecordCreated counts a new task for a content kind.
	RecordCreated(kind string)

	// RecordCompleted observes a finished transfer with its payload size
	// and duration.
	RecordCompleted(kind string, bytes int64, elapsed time.Duration)

	// RecordFailed counts a task moving to the failed state.
	RecordFailed(kind string)

	// RecordRetried counts a transfer rescheduled after a transient error.
	RecordRetried(kind string)

	// RecordCanceled counts a user-canceled task.
	RecordCanceled(kind string)

	// RecordActive tracks the number of running transfers.
	RecordActive(n int)
}
