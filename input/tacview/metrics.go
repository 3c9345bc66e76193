package tacview

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/acmistream/errors"
	"github.com/c360/acmistream/metric"
)

type clientMetrics struct {
	state      prometheus.Gauge
	lines      prometheus.Counter
	bytes      prometheus.Counter
	attempts   prometheus.Counter
	reconnects prometheus.Counter
	readErrors *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) (*clientMetrics, error) {
	if registry == nil {
		return nil, nil
	}
	m := &clientMetrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "tacview",
			Name:      "connection_state",
			Help:      "Connection state (0=disconnected, 1=connecting, 2=handshaking, 3=streaming)",
		}),
		lines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "tacview",
			Name:      "lines_received_total",
			Help:      "Logical lines received",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "tacview",
			Name:      "bytes_received_total",
			Help:      "Bytes received",
		}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "tacview",
			Name:      "connect_attempts_total",
			Help:      "Dial attempts",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "tacview",
			Name:      "reconnects_total",
			Help:      "Reconnects after a lost connection",
		}),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "tacview",
			Name:      "read_errors_total",
			Help:      "Read failures by reason",
		}, []string{"reason"}),
	}

	if err := registry.RegisterGauge("tacview", "connection_state", m.state); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("tacview", "lines", m.lines); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("tacview", "bytes", m.bytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("tacview", "connect_attempts", m.attempts); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("tacview", "reconnects", m.reconnects); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("tacview", "read_errors", m.readErrors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *clientMetrics) recordState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}

func (m *clientMetrics) recordLine() {
	if m != nil {
		m.lines.Inc()
	}
}

func (m *clientMetrics) recordBytes(n int) {
	if m != nil {
		m.bytes.Add(float64(n))
	}
}

func (m *clientMetrics) recordAttempt() {
	if m != nil {
		m.attempts.Inc()
	}
}

func (m *clientMetrics) recordReconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *clientMetrics) recordReadError(err error) {
	if m == nil {
		return
	}
	reason := "other"
	switch {
	case errors.Is(err, errors.ErrConnectionTimeout):
		reason = "timeout"
	case errors.Is(err, io.EOF):
		reason = "eof"
	}
	m.readErrors.WithLabelValues(reason).Inc()
}
