package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service exports. It satisfies
// events.Recorder.
type Metrics struct {
	Connections   prometheus.Gauge
	Subscriptions *prometheus.GaugeVec
	Published     *prometheus.CounterVec
	Delivered     *prometheus.CounterVec
	Dropped       *prometheus.CounterVec
	Operations    *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	SinkFailures  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Active websocket connections",
		}),
		Subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ws_active_subscriptions",
			Help: "Active subscriptions by operation",
		}, []string{"operation"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_events_published_total",
			Help: "Events published on the bus",
		}, []string{"channel"}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_events_delivered_total",
			Help: "Event deliveries to listeners",
		}, []string{"channel"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_listeners_dropped_total",
			Help: "Listeners dropped for falling behind",
		}, []string{"channel"}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operations_total",
			Help: "Resolved operations by outcome",
		}, []string{"type", "operation", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "operation_duration_seconds",
			Help:    "Operation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"type", "operation"}),
		SinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "event_sink_failures_total",
			Help: "Failed writes to external event sinks",
		}, []string{"sink"}),
	}
	reg.MustRegister(m.Connections, m.Subscriptions, m.Published, m.Delivered,
		m.Dropped, m.Operations, m.Duration, m.SinkFailures)
	return m
}

func (m *Metrics) EventPublished(channel string, delivered int) {
	m.Published.WithLabelValues(channel).Inc()
	m.Delivered.WithLabelValues(channel).Add(float64(delivered))
}

func (m *Metrics) EventDropped(channel string) {
	m.Dropped.WithLabelValues(channel).Inc()
}

// ObserveOperation records one query, mutation or subscribe call. result is
// "ok" or the error kind.
func (m *Metrics) ObserveOperation(typ, op, result string, took time.Duration) {
	m.Operations.WithLabelValues(typ, op, result).Inc()
	m.Duration.WithLabelValues(typ, op).Observe(took.Seconds())
}

func (m *Metrics) SinkFailed(sink string) {
	m.SinkFailures.WithLabelValues(sink).Inc()
}

// Handler serves the gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
