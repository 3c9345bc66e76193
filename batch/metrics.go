package batch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/acmistream/metric"
)

type writerMetrics struct {
	batches  *prometheus.CounterVec
	rows     *prometheus.CounterVec
	retries  prometheus.Counter
	duration prometheus.Histogram
	creates  prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry) (*writerMetrics, error) {
	if registry == nil {
		return nil, nil
	}
	m := &writerMetrics{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "batch",
			Name:      "batches_total",
			Help:      "Sealed batches by flush outcome",
		}, []string{"outcome"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "batch",
			Name:      "rows_written_total",
			Help:      "Rows written by kind",
		}, []string{"kind"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "batch",
			Name:      "retries_total",
			Help:      "Failed flush attempts that were retried",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "batch",
			Name:      "flush_duration_seconds",
			Help:      "Time to write one batch including retries",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		creates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "batch",
			Name:      "creates_total",
			Help:      "Objects created synchronously",
		}),
	}

	if err := registry.RegisterCounterVec("batch", "batches", m.batches); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("batch", "rows", m.rows); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("batch", "retries", m.retries); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("batch", "flush_duration", m.duration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("batch", "creates", m.creates); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *writerMetrics) recordFlush(outcome string, took time.Duration, updates, events, impacts int) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(outcome).Inc()
	m.duration.Observe(took.Seconds())
	if outcome == outcomeWritten {
		m.rows.WithLabelValues("object").Add(float64(updates))
		m.rows.WithLabelValues("event").Add(float64(events))
		m.rows.WithLabelValues("impact").Add(float64(impacts))
	}
}

func (m *writerMetrics) recordRetry() {
	if m != nil {
		m.retries.Inc()
	}
}

func (m *writerMetrics) recordCreate() {
	if m != nil {
		m.creates.Inc()
	}
}
