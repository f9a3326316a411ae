package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the app's Prometheus registry and instruments.
type Metrics struct {
	registry *prometheus.Registry

	ConversationsCreated prometheus.Counter
	MessagesAppended     prometheus.Counter
	WSSessions           prometheus.Gauge
}

// NewMetrics builds a registry with Go runtime and process collectors plus
// the app instruments.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		ConversationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chord_conversations_created_total",
			Help: "Conversations created over the realtime gateway.",
		}),
		MessagesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chord_messages_appended_total",
			Help: "Messages appended over the realtime gateway.",
		}),
		WSSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chord_ws_sessions",
			Help: "Currently open websocket sessions.",
		}),
	}
	reg.MustRegister(m.ConversationsCreated, m.MessagesAppended, m.WSSessions)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
