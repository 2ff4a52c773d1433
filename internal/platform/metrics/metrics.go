package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the streaming server.
type Metrics struct {
	registry                 *prometheus.Registry
	requestsTotal            prometheus.Counter
	errorsTotal              prometheus.Counter
	uploadsTotal             prometheus.Counter
	bytesStreamedTotal       prometheus.Counter
	broadcastsTotal          prometheus.Counter
	presenceConnectionsTotal prometheus.Counter
	activeViewers            prometheus.Gauge
}

// New creates and registers Prometheus metrics for the streaming server.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livestream_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livestream_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	uploadsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livestream_uploads_total",
		Help: "Total number of objects stored via upload",
	})
	bytesStreamedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livestream_bytes_streamed_total",
		Help: "Total number of media bytes written to clients",
	})
	broadcastsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livestream_broadcasts_total",
		Help: "Total number of viewer-count broadcasts fanned out",
	})
	presenceConnectionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livestream_presence_connections_total",
		Help: "Total number of presence WebSocket connections accepted",
	})
	activeViewers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livestream_active_viewers",
		Help: "Current viewer count summed over all rooms",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		uploadsTotal,
		bytesStreamedTotal,
		broadcastsTotal,
		presenceConnectionsTotal,
		activeViewers,
	)

	return &Metrics{
		registry:                 registry,
		requestsTotal:            requestsTotal,
		errorsTotal:              errorsTotal,
		uploadsTotal:             uploadsTotal,
		bytesStreamedTotal:       bytesStreamedTotal,
		broadcastsTotal:          broadcastsTotal,
		presenceConnectionsTotal: presenceConnectionsTotal,
		activeViewers:            activeViewers,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncUploads increments the uploads counter.
func (m *Metrics) IncUploads() {
	m.uploadsTotal.Inc()
}

// AddBytesStreamed adds n to the streamed-bytes counter.
func (m *Metrics) AddBytesStreamed(n int64) {
	if n > 0 {
		m.bytesStreamedTotal.Add(float64(n))
	}
}

// IncBroadcasts increments the broadcast counter (one per room fan-out, not
// per recipient).
func (m *Metrics) IncBroadcasts() {
	m.broadcastsTotal.Inc()
}

// IncPresenceConnections increments the accepted-connections counter.
func (m *Metrics) IncPresenceConnections() {
	m.presenceConnectionsTotal.Inc()
}

// SetActiveViewers sets the active viewers gauge.
func (m *Metrics) SetActiveViewers(n int) {
	m.activeViewers.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (e.g. active viewers).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
