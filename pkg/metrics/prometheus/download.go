package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/voxbiblia/ark/pkg/download"
	"github.com/voxbiblia/ark/pkg/metrics"
)

// downloadMetrics is the Prometheus implementation of download.Metrics.
type downloadMetrics struct {
	created   *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	retried   *prometheus.CounterVec
	canceled  *prometheus.CounterVec
	bytes     *prometheus.HistogramVec
	duration  *prometheus.HistogramVec
	active    prometheus.Gauge
}

// NewDownloadMetrics creates a new Prometheus-backed download.Metrics
// instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewDownloadMetrics() download.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &downloadMetrics{
		created: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ark_download_tasks_created_total",
				Help: "Total number of download tasks created by content kind",
			},
			[]string{"kind"}, // "text", "audio"
		),
		completed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ark_download_tasks_completed_total",
				Help: "Total number of download tasks completed by content kind",
			},
			[]string{"kind"},
		),
		failed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ark_download_tasks_failed_total",
				Help: "Total number of download tasks failed by content kind",
			},
			[]string{"kind"},
		),
		retried: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ark_download_retries_total",
				Help: "Total number of transfer retries by content kind",
			},
			[]string{"kind"},
		),
		canceled: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ark_download_tasks_canceled_total",
				Help: "Total number of download tasks canceled by content kind",
			},
			[]string{"kind"},
		),
		bytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "ark_download_payload_bytes",
				Help: "Distribution of completed payload sizes by content kind",
				Buckets: []float64{
					4096,     // 4KB - short chapter text
					32768,    // 32KB - long chapter text
					131072,   // 128KB
					1048576,  // 1MB - low quality audio
					4194304,  // 4MB - typical audio chapter
					16777216, // 16MB - high quality audio
				},
			},
			[]string{"kind"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "ark_download_duration_milliseconds",
				Help: "Duration of completed transfers in milliseconds",
				Buckets: []float64{
					100,    // 100ms - cached-nearby text
					500,    // 500ms
					1000,   // 1s
					5000,   // 5s
					15000,  // 15s - audio on a slow link
					60000,  // 1m
					300000, // 5m - resumed large transfers
				},
			},
			[]string{"kind"},
		),
		active: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "ark_download_active_transfers",
				Help: "Current number of running transfers",
			},
		),
	}
}

func (m *downloadMetrics) RecordCreated(kind string) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(kind).Inc()
}

func (m *downloadMetrics) RecordCompleted(kind string, bytes int64, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.completed.WithLabelValues(kind).Inc()
	if bytes > 0 {
		m.bytes.WithLabelValues(kind).Observe(float64(bytes))
	}
	m.duration.WithLabelValues(kind).Observe(elapsed.Seconds() * 1000)
}

func (m *downloadMetrics) RecordFailed(kind string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(kind).Inc()
}

func (m *downloadMetrics) RecordRetried(kind string) {
	if m == nil {
		return
	}
	m.retried.WithLabelValues(kind).Inc()
}

func (m *downloadMetrics) RecordCanceled(kind string) {
	if m == nil {
		return
	}
	m.canceled.WithLabelValues(kind).Inc()
}

func (m *downloadMetrics) RecordActive(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}
