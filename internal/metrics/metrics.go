package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors used by the relay. Each Registry
// carries its own prometheus.Registry so independent instances never collide.
type Registry struct {
	prom *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	ChannelsActive    prometheus.Gauge

	FramesRead     prometheus.Counter
	FramesWritten  prometheus.Counter
	ProtocolErrors prometheus.Counter
	Disconnects    prometheus.Counter

	BroadcastsEnqueued  prometheus.Counter
	BroadcastsDelivered prometheus.Counter
	BroadcastsDropped   prometheus.Counter

	CPUPercent prometheus.Gauge
	MemoryRSS  prometheus.Gauge
}

// NewRegistry creates the relay's Prometheus collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		prom: reg,
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rc_connections_active",
			Help: "Number of client sockets currently registered",
		}),
		ChannelsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rc_channels_active",
			Help: "Number of live channels",
		}),
		FramesRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "rc_frames_read_total",
			Help: "Total protocol frames read from clients",
		}),
		FramesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "rc_frames_written_total",
			Help: "Total protocol frames written to clients",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "rc_protocol_errors_total",
			Help: "Total requests answered with a negative response id",
		}),
		Disconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "rc_disconnects_total",
			Help: "Total client disconnects, orderly or not",
		}),
		BroadcastsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "rc_broadcasts_enqueued_total",
			Help: "Total frames pushed onto channel broadcast queues",
		}),
		BroadcastsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "rc_broadcasts_delivered_total",
			Help: "Total per-member broadcast deliveries that succeeded",
		}),
		BroadcastsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rc_broadcasts_dropped_total",
			Help: "Total per-member broadcast deliveries dropped on a bad socket",
		}),
		CPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rc_cpu_percent",
			Help: "Process CPU utilisation as sampled by the system monitor",
		}),
		MemoryRSS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rc_memory_rss_bytes",
			Help: "Resident set size of the relay process",
		}),
	}
}

// Handler returns an HTTP handler exposing this registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}
