package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the streamer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal      prometheus.Counter
	errorsTotal        prometheus.Counter
	itemsEnqueuedTotal prometheus.Counter
	resolveFailures    prometheus.Counter
	fetchesTotal       *prometheus.CounterVec
	rebuildsTotal      *prometheus.CounterVec
	rebuildDuration    prometheus.Histogram
	broadcastExits     *prometheus.CounterVec
	queueItems         prometheus.Gauge
	streamingActive    prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamer_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamer_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		itemsEnqueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamer_items_enqueued_total",
			Help: "Total number of queue items appended",
		}),
		resolveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamer_resolve_failures_total",
			Help: "Total number of enqueue requests dropped because resolution or encoding selection failed",
		}),
		fetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamer_segment_fetches_total",
			Help: "Segment fetches by outcome (ready, failed, discarded)",
		}, []string{"outcome"}),
		rebuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamer_rebuilds_total",
			Help: "Concatenation runs by outcome (success, failure)",
		}, []string{"outcome"}),
		rebuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamer_rebuild_duration_seconds",
			Help:    "Wall time of concatenation runs",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		broadcastExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamer_broadcast_exits_total",
			Help: "Broadcast process exits by reason (stopped, unexpected)",
		}, []string{"reason"}),
		queueItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamer_queue_items",
			Help: "Number of items currently queued",
		}),
		streamingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamer_streaming_active",
			Help: "1 while a broadcast session is active",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.itemsEnqueuedTotal,
		m.resolveFailures,
		m.fetchesTotal,
		m.rebuildsTotal,
		m.rebuildDuration,
		m.broadcastExits,
		m.queueItems,
		m.streamingActive,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// IncItemsEnqueued adds n appended queue items.
func (m *Metrics) IncItemsEnqueued(n int) {
	if m == nil {
		return
	}
	m.itemsEnqueuedTotal.Add(float64(n))
}

// IncResolveFailures counts a dropped enqueue request.
func (m *Metrics) IncResolveFailures() {
	if m == nil {
		return
	}
	m.resolveFailures.Inc()
}

// ObserveFetch records a finished segment fetch.
func (m *Metrics) ObserveFetch(outcome string) {
	if m == nil {
		return
	}
	m.fetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRebuild records a concatenation run and its duration in seconds.
func (m *Metrics) ObserveRebuild(ok bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.rebuildsTotal.WithLabelValues(outcome).Inc()
	m.rebuildDuration.Observe(seconds)
}

// IncBroadcastExits counts a broadcast process exit.
func (m *Metrics) IncBroadcastExits(reason string) {
	if m == nil {
		return
	}
	m.broadcastExits.WithLabelValues(reason).Inc()
}

// SetQueueItems sets the queue length gauge.
func (m *Metrics) SetQueueItems(n int) {
	if m == nil {
		return
	}
	m.queueItems.Set(float64(n))
}

// SetStreaming sets the streaming gauge.
func (m *Metrics) SetStreaming(active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.streamingActive.Set(v)
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. queue length).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
