package gateway

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the ambient Prometheus instrumentation for the gateway
// (SPEC_FULL.md §2.1 ambient stack). Each gauge/counter is registered with
// the default registry on construction, matching how the rest of the pack
// wires client_golang metrics at process start rather than per-request.
type metrics struct {
	agentsConnected   prometheus.Gauge
	clientsConnected  prometheus.Gauge
	heartbeatTimeouts prometheus.Counter
	requestsInFlight  prometheus.Gauge
	messagesDropped   *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		agentsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "catalyst",
			Subsystem: "gateway",
			Name:      "agents_connected",
			Help:      "Number of node agents currently connected.",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "catalyst",
			Subsystem: "gateway",
			Name:      "clients_connected",
			Help:      "Number of user client sessions currently connected.",
		}),
		heartbeatTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catalyst",
			Subsystem: "gateway",
			Name:      "heartbeat_timeouts_total",
			Help:      "Number of agent connections torn down for missing heartbeats.",
		}),
		requestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "catalyst",
			Subsystem: "gateway",
			Name:      "requests_in_flight",
			Help:      "Number of correlator requests awaiting a reply.",
		}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalyst",
			Subsystem: "gateway",
			Name:      "messages_dropped_total",
			Help:      "Number of inbound frames dropped, by reason.",
		}, []string{"reason"}),
	}

	for _, c := range []prometheus.Collector{
		m.agentsConnected, m.clientsConnected, m.heartbeatTimeouts, m.requestsInFlight, m.messagesDropped,
	} {
		// Re-registration happens when multiple Gateways are constructed in
		// the same process (tests); the default registry rejects it with an
		// AlreadyRegisteredError, which is ignored, so only the first
		// Gateway's collectors are exported.
		_ = prometheus.Register(c)
	}

	return m
}
