package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the streaming download client
type Metrics struct {
	// Stream lifecycle metrics
	ActiveStreams   prometheus.Gauge
	StreamsStarted  prometheus.Counter
	StreamsFinished prometheus.Counter
	StreamsCanceled prometheus.Counter
	StreamsFailed   prometheus.Counter
	BindAborts      prometheus.Counter
	StreamDuration  prometheus.Histogram
	TimeToFirstByte prometheus.Histogram

	// Transport delivery metrics
	BytesReceived   prometheus.Counter
	DataEvents      prometheus.Counter
	LookupMisses    prometheus.Counter
	EventQueueDepth prometheus.Gauge

	// Recording metrics
	TitlesSeen      prometheus.Counter
	SegmentsWritten prometheus.Counter
	SegmentSize     prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Stream lifecycle metrics
		ActiveStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fetcher_active_streams",
			Help: "Current number of active download streams",
		}),
		StreamsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fetcher_streams_started_total",
			Help: "Total number of download streams started",
		}),
		StreamsFinished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fetcher_streams_finished_total",
			Help: "Total number of download streams that completed normally",
		}),
		StreamsCanceled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fetcher_streams_canceled_total",
			Help: "Total number of download streams canceled",
		}),
		StreamsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fetcher_streams_failed_total",
			Help: "Total number of download streams that ended with an error",
		}),
		BindAborts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fetcher_bind_aborts_total",
			Help: "Total number of binding steps abandoned because the stream was canceled first",
		}),
		StreamDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fetcher_stream_duration_seconds",
			Help:    "Duration of download streams in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		TimeToFirstByte: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fetcher_time_to_first_byte_seconds",
			Help:    "Time between stream start and first received body byte",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),

		// Transport delivery metrics
		BytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fetcher_bytes_received_total",
			Help: "Total number of body bytes received across all streams",
		}),
		DataEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fetcher_data_events_total",
			Help: "Total number of data chunks delivered by the transport",
		}),
		LookupMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fetcher_lookup_misses_total",
			Help: "Total number of transport callbacks dropped because no stream owns the task",
		}),
		EventQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fetcher_event_queue_depth",
			Help: "Current number of transport events waiting for delivery",
		}),

		// Recording metrics
		TitlesSeen: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fetcher_icy_titles_total",
			Help: "Total number of ICY stream title changes observed",
		}),
		SegmentsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fetcher_segments_written_total",
			Help: "Total number of recorded track segments written",
		}),
		SegmentSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fetcher_segment_size_bytes",
			Help:    "Size of recorded track segments in bytes",
			Buckets: prometheus.ExponentialBuckets(65536, 2, 12), // 64KB to ~128MB
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fetcher_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fetcher_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fetcher_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// SetActiveStreams sets the current number of active streams
func (m *Metrics) SetActiveStreams(count int) {
	m.ActiveStreams.Set(float64(count))
}

// RecordStreamStarted increments the streams started counter
func (m *Metrics) RecordStreamStarted() {
	m.StreamsStarted.Inc()
}

// RecordStreamFinished records a normally completed stream and its duration
func (m *Metrics) RecordStreamFinished(durationSeconds float64) {
	m.StreamsFinished.Inc()
	m.StreamDuration.Observe(durationSeconds)
}

// RecordStreamCanceled records a canceled stream and its duration
func (m *Metrics) RecordStreamCanceled(durationSeconds float64) {
	m.StreamsCanceled.Inc()
	m.StreamDuration.Observe(durationSeconds)
}

// RecordStreamFailed records a stream that ended with an error
func (m *Metrics) RecordStreamFailed(durationSeconds float64) {
	m.StreamsFailed.Inc()
	m.StreamDuration.Observe(durationSeconds)
}

// RecordBindAbort increments the abandoned binding counter
func (m *Metrics) RecordBindAbort() {
	m.BindAborts.Inc()
}

// RecordFirstByte records the time to first byte for a stream
func (m *Metrics) RecordFirstByte(seconds float64) {
	m.TimeToFirstByte.Observe(seconds)
}

// RecordBytesReceived adds received body bytes and counts the data event
func (m *Metrics) RecordBytesReceived(n int) {
	m.BytesReceived.Add(float64(n))
	m.DataEvents.Inc()
}

// RecordLookupMiss increments the dropped callback counter
func (m *Metrics) RecordLookupMiss() {
	m.LookupMisses.Inc()
}

// SetEventQueueDepth sets the current transport event queue depth
func (m *Metrics) SetEventQueueDepth(depth int) {
	m.EventQueueDepth.Set(float64(depth))
}

// RecordTitleSeen increments the ICY title change counter
func (m *Metrics) RecordTitleSeen() {
	m.TitlesSeen.Inc()
}

// RecordSegmentWritten records a written track segment
func (m *Metrics) RecordSegmentWritten(sizeBytes int64) {
	m.SegmentsWritten.Inc()
	m.SegmentSize.Observe(float64(sizeBytes))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
