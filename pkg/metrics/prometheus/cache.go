// Package prometheus provides Prometheus-backed implementations of the
// engine's metrics interfaces. Every constructor returns nil when metrics
// are disabled, and every method tolerates a nil receiver, so wiring is
// unconditional at call sites.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/voxbiblia/ark/pkg/cache"
	"github.com/voxbiblia/ark/pkg/metrics"
)

// cacheMetrics is the Prometheus implementation of cache.Metrics.
type cacheMetrics struct {
	readOperations *prometheus.CounterVec
	readDuration   *prometheus.HistogramVec
	readBytes      prometheus.Histogram
	writeOps       prometheus.Counter
	writeDuration  prometheus.Histogram
	writeBytes     prometheus.Histogram
	evictions      *prometheus.CounterVec
	usedBytes      prometheus.Gauge
	entries        prometheus.Gauge
}

// NewCacheMetrics creates a new Prometheus-backed cache.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewCacheMetrics() cache.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &cacheMetrics{
		readOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ark_cache_read_operations_total",
				Help: "Total number of cache reads by status",
			},
			[]string{"status"}, // "hit", "miss"
		),
		readDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "ark_cache_read_duration_milliseconds",
				Help: "Duration of cache reads in milliseconds",
				Buckets: []float64{
					0.1, // 100us - index hits
					0.5, // 500us
					1,   // 1ms
					5,   // 5ms
					10,  // 10ms
					50,  // 50ms - large audio payloads
					100, // 100ms
					500, // 500ms
				},
			},
			[]string{"status"},
		),
		readBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "ark_cache_read_bytes",
				Help: "Distribution of payload bytes served from cache",
				Buckets: []float64{
					4096,     // 4KB - short chapter text
					32768,    // 32KB - long chapter text
					131072,   // 128KB
					1048576,  // 1MB - low quality audio
					4194304,  // 4MB - typical audio chapter
					16777216, // 16MB - high quality audio
				},
			},
		),
		writeOps: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "ark_cache_write_operations_total",
				Help: "Total number of cache writes",
			},
		),
		writeDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "ark_cache_write_duration_milliseconds",
				Help: "Duration of cache writes in milliseconds",
				Buckets: []float64{
					0.5,  // 500us
					1,    // 1ms
					5,    // 5ms
					10,   // 10ms
					50,   // 50ms
					100,  // 100ms
					500,  // 500ms - write plus eviction to make room
					1000, // 1s
				},
			},
		),
		writeBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "ark_cache_write_bytes",
				Help: "Distribution of payload bytes written to cache",
				Buckets: []float64{
					4096,     // 4KB - short chapter text
					32768,    // 32KB - long chapter text
					131072,   // 128KB
					1048576,  // 1MB - low quality audio
					4194304,  // 4MB - typical audio chapter
					16777216, // 16MB - high quality audio
				},
			},
		),
		evictions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ark_cache_evictions_total",
				Help: "Total number of cache evictions by reason",
			},
			[]string{"reason"}, // "size_limit", "ttl", "explicit", "corrupt"
		),
		usedBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "ark_cache_used_bytes",
				Help: "Current cache usage in bytes",
			},
		),
		entries: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "ark_cache_entries",
				Help: "Current number of live cache entries",
			},
		),
	}
}

func (m *cacheMetrics) ObserveHit(bytes int64, duration time.Duration) {
	if m == nil {
		return
	}

	m.readOperations.WithLabelValues("hit").Inc()
	m.readDuration.WithLabelValues("hit").Observe(duration.Seconds() * 1000)
	if bytes > 0 {
		m.readBytes.Observe(float64(bytes))
	}
}

func (m *cacheMetrics) ObserveMiss(duration time.Duration) {
	if m == nil {
		return
	}

	m.readOperations.WithLabelValues("miss").Inc()
	m.readDuration.WithLabelValues("miss").Observe(duration.Seconds() * 1000)
}

func (m *cacheMetrics) ObserveWrite(bytes int64, duration time.Duration) {
	if m == nil {
		return
	}

	m.writeOps.Inc()
	m.writeDuration.Observe(duration.Seconds() * 1000)
	if bytes > 0 {
		m.writeBytes.Observe(float64(bytes))
	}
}

func (m *cacheMetrics) RecordEviction(reason string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(reason).Inc()
}

func (m *cacheMetrics) RecordUsage(usedBytes int64, entries int) {
	if m == nil {
		return
	}
	m.usedBytes.Set(float64(usedBytes))
	m.entries.Set(float64(entries))
}
