package buffer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/acmistream/metric"
)

type queueMetrics struct {
	writes      prometheus.Counter
	reads       prometheus.Counter
	overflows   prometheus.Counter
	blocked     prometheus.Histogram
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newQueueMetrics(registry *metric.MetricsRegistry, prefix string) (*queueMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	m := &queueMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "queue",
			Name:        "writes_total",
			ConstLabels: labels,
			Help:        "Total number of queue writes",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "queue",
			Name:        "reads_total",
			ConstLabels: labels,
			Help:        "Total number of queue reads",
		}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "queue",
			Name:        "overflows_total",
			ConstLabels: labels,
			Help:        "Writes that found the queue full",
		}),
		blocked: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "queue",
			Name:        "blocked_seconds",
			ConstLabels: labels,
			Help:        "Time writers waited for space",
			Buckets:     []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "queue",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Current number of queued items",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "queue",
			Name:        "utilization",
			ConstLabels: labels,
			Help:        "Queue utilization (0.0 to 1.0)",
		}),
	}

	if err := registry.RegisterCounter(prefix, "queue_writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "queue_reads", m.reads); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "queue_overflows", m.overflows); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(prefix, "queue_blocked", m.blocked); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "queue_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "queue_utilization", m.utilization); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *queueMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *queueMetrics) recordRead(size, capacity int) {
	m.reads.Inc()
	m.updateSize(size, capacity)
}

func (m *queueMetrics) recordOverflow() {
	m.overflows.Inc()
}

func (m *queueMetrics) recordBlocked(d time.Duration) {
	m.blocked.Observe(d.Seconds())
}

func (m *queueMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
