package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors. Each server carries
// its own registry so tests can spin up servers independently.
type Metrics struct {
	registry *prometheus.Registry

	PeersConnected prometheus.Gauge
	RequestsTotal  *prometheus.CounterVec
	PendingGauge   prometheus.GaugeFunc
	ForwardedTotal *prometheus.CounterVec
}

func NewMetrics(pending *PendingTable) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_peers_connected",
			Help: "Peers currently connected to this replica.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Relayed requests by type and outcome.",
		}, []string{"type", "outcome"}),
		PendingGauge: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relay_pending_requests",
			Help: "Waiters currently registered in the pending table.",
		}, func() float64 { return float64(pending.Len()) }),
		ForwardedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_forwarded_total",
			Help: "Messages published to the inter-replica forwarder.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.PeersConnected, m.RequestsTotal, m.PendingGauge, m.ForwardedTotal)
	return m
}

// Handler serves the /metrics endpoint for this server's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
