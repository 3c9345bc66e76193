package natsclient

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/acmistream/metric"
)

type clientMetrics struct {
	status     prometheus.Gauge
	ops        *prometheus.CounterVec
	bytes      prometheus.Counter
	reconnects prometheus.Counter
}

func newClientMetrics(registry *metric.MetricsRegistry) (*clientMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &clientMetrics{
		status: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats",
			Name:      "connection_status",
			Help:      "Connection status (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)",
		}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats",
			Name:      "operations_total",
			Help:      "JetStream operations by kind and outcome",
		}, []string{"op", "outcome"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats",
			Name:      "published_bytes_total",
			Help:      "Payload bytes acknowledged by JetStream",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Reconnections of the NATS connection",
		}),
	}

	if err := registry.RegisterGauge("nats", "connection_status", m.status); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("nats", "operations", m.ops); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("nats", "published_bytes", m.bytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("nats", "reconnects", m.reconnects); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *clientMetrics) setStatus(s ConnectionStatus) {
	if m == nil {
		return
	}
	m.status.Set(float64(s))
}

func (m *clientMetrics) recordOp(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ops.WithLabelValues(op, outcome).Inc()
}

func (m *clientMetrics) recordBytes(n int) {
	if m == nil {
		return
	}
	m.bytes.Add(float64(n))
}

func (m *clientMetrics) recordReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}
