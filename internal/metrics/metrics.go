// Package metrics exposes the Prometheus instrumentation for the
// messaging core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors the gateway and REST layer update. A fresh
// set registers against its own registry so parallel instances (tests)
// never collide.
type Metrics struct {
	Registry *prometheus.Registry

	ActiveConnections prometheus.Gauge
	EventsTotal       *prometheus.CounterVec
	MessagesStored    prometheus.Counter
	LiveDeliveries    prometheus.Counter
}

// New creates and registers the collector set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "guestline",
			Subsystem: "gateway",
			Name:      "active_connections",
			Help:      "Number of open realtime connections.",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guestline",
			Subsystem: "gateway",
			Name:      "events_total",
			Help:      "Inbound gateway events by type.",
		}, []string{"event"}),
		MessagesStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "guestline",
			Name:      "messages_stored_total",
			Help:      "Messages durably appended to the conversation store.",
		}),
		LiveDeliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "guestline",
			Subsystem: "gateway",
			Name:      "live_deliveries_total",
			Help:      "Messages pushed to an online receiver over the realtime channel.",
		}),
	}
}
