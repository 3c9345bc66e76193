package natssink

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/acmistream/metric"
)

type sinkMetrics struct {
	published *prometheus.CounterVec
	snapshots *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) (*sinkMetrics, error) {
	if registry == nil {
		return nil, nil
	}
	m := &sinkMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "natssink",
			Name:      "messages_published_total",
			Help:      "Envelopes published by kind and outcome",
		}, []string{"kind", "outcome"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "natssink",
			Name:      "snapshot_puts_total",
			Help:      "Object snapshot writes by outcome",
		}, []string{"outcome"}),
	}
	if err := registry.RegisterCounterVec("natssink", "messages_published", m.published); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("natssink", "snapshot_puts", m.snapshots); err != nil {
		return nil, err
	}
	return m, nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *sinkMetrics) recordPublish(kind string, err error) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(kind, outcome(err)).Inc()
}

func (m *sinkMetrics) recordSnapshot(err error) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(outcome(err)).Inc()
}
