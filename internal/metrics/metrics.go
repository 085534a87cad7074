package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsFailed  *prometheus.CounterVec

	// Segment metrics
	SegmentsFetched   *prometheus.CounterVec
	SegmentBytes      prometheus.Counter
	SegmentFetchTime  prometheus.Histogram
	PrebufferFetches  prometheus.Counter
	PrebufferHits     prometheus.Counter
	TrackSwitches     prometheus.Counter
	SkippedSamples    prometheus.Counter
	ThroughputKbps    prometheus.Histogram
	QueueWaitDuration prometheus.Histogram

	// HTTP transport metrics
	TransportRequests *prometheus.CounterVec
	TransportRetries  *prometheus.CounterVec
}

// New creates all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "dashabr_active_sessions",
			Help: "Number of fetch loops currently running",
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "dashabr_sessions_started_total",
			Help: "Total number of sessions whose fetch loop started",
		}),
		SessionsFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashabr_sessions_failed_total",
				Help: "Total number of sessions that failed, by phase",
			},
			[]string{"phase"}, // phase: start or stream
		),

		SegmentsFetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashabr_segments_fetched_total",
				Help: "Total number of playback segments fetched, by track",
			},
			[]string{"track"},
		),
		SegmentBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "dashabr_segment_bytes_total",
			Help: "Total bytes fetched for playback segments",
		}),
		SegmentFetchTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dashabr_segment_fetch_seconds",
			Help:    "Wall-clock transfer time of playback segments",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}),
		PrebufferFetches: f.NewCounter(prometheus.CounterOpts{
			Name: "dashabr_prebuffer_fetches_total",
			Help: "Total number of first-segment transfers triggered by a track switch",
		}),
		PrebufferHits: f.NewCounter(prometheus.CounterOpts{
			Name: "dashabr_prebuffer_cache_hits_total",
			Help: "Total number of track-switch prebuffers served from the segment cache",
		}),
		TrackSwitches: f.NewCounter(prometheus.CounterOpts{
			Name: "dashabr_track_switches_total",
			Help: "Total number of track switches",
		}),
		SkippedSamples: f.NewCounter(prometheus.CounterOpts{
			Name: "dashabr_throughput_samples_skipped_total",
			Help: "Transfers too short to yield a usable rate",
		}),
		ThroughputKbps: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dashabr_throughput_kbps",
			Help:    "Observed per-segment transfer rate in kbps",
			Buckets: prometheus.ExponentialBuckets(100, 2, 12), // 100kbps to ~200Mbps
		}),
		QueueWaitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dashabr_queue_wait_seconds",
			Help:    "Time the producer spent blocked on a full output queue",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),

		TransportRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashabr_transport_requests_total",
				Help: "HTTP requests to the media server, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		TransportRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashabr_transport_retries_total",
				Help: "HTTP attempts beyond the first, by kind",
			},
			[]string{"kind"},
		),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest implements dash.Observer.
func (m *Metrics) ObserveRequest(kind string, attempt int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.TransportRequests.WithLabelValues(kind, outcome).Inc()
	if attempt > 1 {
		m.TransportRetries.WithLabelValues(kind).Inc()
	}
}

// RecordSegment records one timed playback segment transfer.
func (m *Metrics) RecordSegment(track string, bytes int, seconds float64) {
	m.SegmentsFetched.WithLabelValues(track).Inc()
	m.SegmentBytes.Add(float64(bytes))
	m.SegmentFetchTime.Observe(seconds)
}

// RecordThroughput records a rate that reached the estimator.
func (m *Metrics) RecordThroughput(kbps float64) {
	m.ThroughputKbps.Observe(kbps)
}

// RecordSkippedSample counts a transfer whose rate was not usable.
func (m *Metrics) RecordSkippedSample() {
	m.SkippedSamples.Inc()
}

// RecordSwitch records a track switch.
func (m *Metrics) RecordSwitch() {
	m.TrackSwitches.Inc()
}

// RecordPrebuffer records the first-segment prebuffer of a switch, either
// transferred from the media server or served from the cache.
func (m *Metrics) RecordPrebuffer(fromCache bool) {
	if fromCache {
		m.PrebufferHits.Inc()
		return
	}
	m.PrebufferFetches.Inc()
}

// RecordQueueWait records how long a Put blocked.
func (m *Metrics) RecordQueueWait(seconds float64) {
	m.QueueWaitDuration.Observe(seconds)
}

// RecordSessionStart is called when a fetch loop starts.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionStop is called when a fetch loop exits.
func (m *Metrics) RecordSessionStop(err error) {
	m.ActiveSessions.Dec()
	if err != nil {
		m.SessionsFailed.WithLabelValues("stream").Inc()
	}
}

// RecordStartFailure counts a session that never started.
func (m *Metrics) RecordStartFailure() {
	m.SessionsFailed.WithLabelValues("start").Inc()
}
