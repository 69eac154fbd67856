package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "espclient"

// Metrics contains the client metrics shared by REST, stream and bridge code
type Metrics struct {
	RESTRequests    *prometheus.CounterVec
	RESTDuration    *prometheus.HistogramVec
	StreamMessages  *prometheus.CounterVec
	StreamErrors    *prometheus.CounterVec
	StreamsActive   *prometheus.GaugeVec
	EventsDecoded   *prometheus.CounterVec
	BridgeForwarded *prometheus.CounterVec

	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		RESTRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rest",
				Name:      "requests_total",
				Help:      "REST requests sent to the ESP server",
			},
			[]string{"method", "status"},
		),

		RESTDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rest",
				Name:      "request_duration_seconds",
				Help:      "REST request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		StreamMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "messages_total",
				Help:      "WebSocket messages by stream kind and direction",
			},
			[]string{"kind", "direction"},
		),

		StreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "errors_total",
				Help:      "Errors raised on WebSocket streams",
			},
			[]string{"kind"},
		),

		StreamsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "active",
				Help:      "Open WebSocket streams",
			},
			[]string{"kind"},
		),

		EventsDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "decoded_total",
				Help:      "Event rows decoded from server messages",
			},
			[]string{"format"},
		),

		BridgeForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "forwarded_total",
				Help:      "Event rows forwarded by the bridge",
			},
			[]string{"sink", "status"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RESTRequests,
		m.RESTDuration,
		m.StreamMessages,
		m.StreamErrors,
		m.StreamsActive,
		m.EventsDecoded,
		m.BridgeForwarded,
		m.NATSConnected,
		m.NATSReconnects,
	}
}

// ObserveRequest records one REST round trip. A status of 0 means transport failure.
func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RESTRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.RESTDuration.WithLabelValues(method).Observe(d.Seconds())
}

// StreamMessage counts a message; direction is "in" or "out".
func (m *Metrics) StreamMessage(kind, direction string) {
	if m == nil {
		return
	}
	m.StreamMessages.WithLabelValues(kind, direction).Inc()
}

// StreamError counts an error on a stream of the given kind
func (m *Metrics) StreamError(kind string) {
	if m == nil {
		return
	}
	m.StreamErrors.WithLabelValues(kind).Inc()
}

// StreamOpened increments the active gauge for kind
func (m *Metrics) StreamOpened(kind string) {
	if m == nil {
		return
	}
	m.StreamsActive.WithLabelValues(kind).Inc()
}

// StreamClosed decrements the active gauge for kind
func (m *Metrics) StreamClosed(kind string) {
	if m == nil {
		return
	}
	m.StreamsActive.WithLabelValues(kind).Dec()
}

// Decoded adds n decoded rows for format
func (m *Metrics) Decoded(format string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EventsDecoded.WithLabelValues(format).Add(float64(n))
}

// Forwarded adds n rows handed to sink
func (m *Metrics) Forwarded(sink string, n int, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.BridgeForwarded.WithLabelValues(sink, status).Add(float64(n))
}

// RecordNATSStatus sets the NATS connection gauge
func (m *Metrics) RecordNATSStatus(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.NATSConnected.Set(1)
	} else {
		m.NATSConnected.Set(0)
	}
}

// RecordNATSReconnect counts a NATS reconnection
func (m *Metrics) RecordNATSReconnect() {
	if m == nil {
		return
	}
	m.NATSReconnects.Inc()
}
