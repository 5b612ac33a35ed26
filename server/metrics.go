package server

import (
	"fault-rpc/partner"

	"github.com/prometheus/client_golang/prometheus"
)

type serverMetrics struct {
	connections prometheus.Gauge
	handshakes  *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
}

func newServerMetrics() *serverMetrics {
	return &serverMetrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "faultrpc",
			Name:      "active_connections",
			Help:      "Partner connections past the handshake.",
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "faultrpc",
			Name:      "handshakes_total",
			Help:      "Handshakes by result (new, reconnect, failed).",
		}, []string{"result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "faultrpc",
			Name:      "deliveries_total",
			Help:      "Admitted requests by the delivery behavior the service mode chose.",
		}, []string{"behavior"}),
	}
}

func (m *serverMetrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.connections, m.handshakes, m.deliveries} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *serverMetrics) delivered(b partner.Behavior) {
	m.deliveries.WithLabelValues(b.String()).Inc()
}
