package metricsvc

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/services/events"
)

const namespace = "mahudhurio"

// Collector holds the app's prometheus collectors.
type Collector struct {
	registry *prometheus.Registry

	writes        *prometheus.CounterVec
	skipped       prometheus.Counter
	sweeps        *prometheus.CounterVec
	absentees     prometheus.Counter
	published     *prometheus.CounterVec
	subscriptions prometheus.Gauge
	connections   prometheus.Gauge
}

var (
	_ attendance.Metrics = (*Collector)(nil)
	_ events.Metrics     = (*Collector)(nil)
)

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attendance",
			Name:      "writes_total",
			Help:      "Attendance write operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attendance",
			Name:      "bulk_skipped_total",
			Help:      "Bulk entries skipped for missing student or status.",
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "sweeps_total",
			Help:      "Absence sweeps by outcome.",
		}, []string{"outcome"}),
		absentees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "absentees_total",
			Help:      "Students automatically marked absent.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published to channels with at least one subscriber, by event name.",
		}, []string{"event"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "subscriptions",
			Help:      "Live channel subscriptions.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open WebSocket connections.",
		}),
	}
	c.registry.MustRegister(
		c.writes, c.skipped, c.sweeps, c.absentees, c.published, c.subscriptions, c.connections,
		collectors.NewGoCollector(),
	)
	return c
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collector) ObserveWrite(op string, err error) {
	c.writes.WithLabelValues(op, outcome(err)).Inc()
}

func (c *Collector) ObserveSkipped(n int) {
	c.skipped.Add(float64(n))
}

func (c *Collector) ObserveSweep(inserted int, err error) {
	c.sweeps.WithLabelValues(outcome(err)).Inc()
	c.absentees.Add(float64(inserted))
}

func (c *Collector) ObservePublish(event string) {
	c.published.WithLabelValues(event).Inc()
}

func (c *Collector) ObserveSubscriptions(delta int) {
	c.subscriptions.Add(float64(delta))
}

func (c *Collector) ConnectionOpened() {
	c.connections.Inc()
}

func (c *Collector) ConnectionClosed() {
	c.connections.Dec()
}

// Handler serves the collected metrics in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
