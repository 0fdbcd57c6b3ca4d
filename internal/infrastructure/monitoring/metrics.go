package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pipeline. A nil *Metrics
// is a valid no-op collector, so core packages never need nil checks at
// call sites.
type Metrics struct {
	registry *prometheus.Registry

	// Producer metrics
	TransfersEnqueued  prometheus.Counter
	TransfersTruncated prometheus.Counter
	MarkerItems        prometheus.Counter
	BytesWritten       prometheus.Counter

	// Queue metrics
	QueueDepth        prometheus.Gauge
	TransfersReleased prometheus.Counter

	// Consumption metrics
	MapSessionsOpen  prometheus.Gauge
	MapSessionsTotal prometheus.Counter
	BytesCopyRead    prometheus.Counter

	// Error metrics, labelled by pipeline stage
	PipelineErrors *prometheus.CounterVec

	// Consumer daemon metrics
	ConsumerReopens  prometheus.Counter
	ConsumerFailures prometheus.Counter

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for the JSON stats API
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the JSON stats API.
type Snapshot struct {
	Enqueued   int64 `json:"transfers_enqueued"`
	Released   int64 `json:"transfers_released"`
	Markers    int64 `json:"marker_items"`
	Truncated  int64 `json:"truncated_writes"`
	Bytes      int64 `json:"bytes_written"`
	QueueDepth int64 `json:"queue_depth"`
	MapsOpened int64 `json:"map_sessions"`
	Errors     int64 `json:"errors"`
	Reopens    int64 `json:"channel_reopens"`
}

// NewMetrics creates a new metrics collector with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		TransfersEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "tfsd_transfers_enqueued_total",
			Help: "Total number of transfer items enqueued",
		}),
		TransfersTruncated: factory.NewCounter(prometheus.CounterOpts{
			Name: "tfsd_transfers_truncated_total",
			Help: "Total number of writes clamped at the unit boundary",
		}),
		MarkerItems: factory.NewCounter(prometheus.CounterOpts{
			Name: "tfsd_marker_items_total",
			Help: "Total number of zero-length marker items enqueued",
		}),
		BytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "tfsd_bytes_written_total",
			Help: "Total payload bytes accepted by the producer path",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tfsd_queue_depth",
			Help: "Number of transfer items currently pending",
		}),
		TransfersReleased: factory.NewCounter(prometheus.CounterOpts{
			Name: "tfsd_transfers_released_total",
			Help: "Total number of transfer items released",
		}),
		MapSessionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tfsd_map_sessions_open",
			Help: "Mapping sessions currently open (0 or 1)",
		}),
		MapSessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tfsd_map_sessions_total",
			Help: "Total number of mapping sessions opened",
		}),
		BytesCopyRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "tfsd_bytes_copy_read_total",
			Help: "Total bytes served through the copying read path",
		}),
		PipelineErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tfsd_pipeline_errors_total",
			Help: "Total pipeline errors by stage",
		}, []string{"stage"}),
		ConsumerReopens: factory.NewCounter(prometheus.CounterOpts{
			Name: "tfsd_consumer_reopens_total",
			Help: "Total control channel reopen attempts by the consumer",
		}),
		ConsumerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tfsd_consumer_failures_total",
			Help: "Total consumer control operation failures",
		}),
		Uptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tfsd_uptime_seconds",
			Help: "Pipeline uptime in seconds",
		}),
	}

	go m.updateUptime()

	return m
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// updateUptime continuously updates the uptime metric.
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordEnqueue records a successful producer enqueue.
func (m *Metrics) RecordEnqueue(size int, marker bool) {
	if m == nil {
		return
	}
	m.TransfersEnqueued.Inc()
	if marker {
		m.MarkerItems.Inc()
	} else {
		m.BytesWritten.Add(float64(size))
	}

	m.mu.Lock()
	m.snapshot.Enqueued++
	if marker {
		m.snapshot.Markers++
	} else {
		m.snapshot.Bytes += int64(size)
	}
	m.mu.Unlock()
}

// RecordTruncated records a write clamped at the unit boundary.
func (m *Metrics) RecordTruncated() {
	if m == nil {
		return
	}
	m.TransfersTruncated.Inc()

	m.mu.Lock()
	m.snapshot.Truncated++
	m.mu.Unlock()
}

// RecordRelease records a released transfer item.
func (m *Metrics) RecordRelease() {
	if m == nil {
		return
	}
	m.TransfersReleased.Inc()

	m.mu.Lock()
	m.snapshot.Released++
	m.mu.Unlock()
}

// SetQueueDepth sets the pending item gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))

	m.mu.Lock()
	m.snapshot.QueueDepth = int64(depth)
	m.mu.Unlock()
}

// RecordMapOpen records an opened mapping session.
func (m *Metrics) RecordMapOpen() {
	if m == nil {
		return
	}
	m.MapSessionsOpen.Inc()
	m.MapSessionsTotal.Inc()

	m.mu.Lock()
	m.snapshot.MapsOpened++
	m.mu.Unlock()
}

// RecordMapClose records a closed mapping session.
func (m *Metrics) RecordMapClose() {
	if m == nil {
		return
	}
	m.MapSessionsOpen.Dec()
}

// RecordCopyRead records bytes served through the copying path.
func (m *Metrics) RecordCopyRead(n int) {
	if m == nil {
		return
	}
	m.BytesCopyRead.Add(float64(n))
}

// RecordPipelineError records an error at the given stage.
func (m *Metrics) RecordPipelineError(stage string) {
	if m == nil {
		return
	}
	m.PipelineErrors.WithLabelValues(stage).Inc()

	m.mu.Lock()
	m.snapshot.Errors++
	m.mu.Unlock()
}

// RecordConsumerFailure records a failed consumer control operation.
func (m *Metrics) RecordConsumerFailure() {
	if m == nil {
		return
	}
	m.ConsumerFailures.Inc()

	m.mu.Lock()
	m.snapshot.Errors++
	m.mu.Unlock()
}

// RecordConsumerReopen records a control channel reopen attempt.
func (m *Metrics) RecordConsumerReopen() {
	if m == nil {
		return
	}
	m.ConsumerReopens.Inc()

	m.mu.Lock()
	m.snapshot.Reopens++
	m.mu.Unlock()
}

// GetSnapshot returns current metric values for the JSON stats API.
func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// UptimeSeconds returns seconds since the collector was created.
func (m *Metrics) UptimeSeconds() float64 {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime).Seconds()
}
