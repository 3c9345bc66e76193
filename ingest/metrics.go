package ingest

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/acmistream/metric"
)

type pipelineMetrics struct {
	lines        prometheus.Counter
	frames       *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	phases       *prometheus.CounterVec
	resets       prometheus.Counter
	objects      prometheus.Gauge
}

func newMetrics(registry *metric.MetricsRegistry) (*pipelineMetrics, error) {
	if registry == nil {
		return nil, nil
	}
	m := &pipelineMetrics{
		lines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "lines_total",
			Help:      "Logical lines read from the telemetry server",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "frames_total",
			Help:      "Decoded frames by kind",
		}, []string{"kind"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "decode_errors_total",
			Help:      "Rejected lines and skipped tokens",
		}, []string{"scope"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "frames_dropped_total",
			Help:      "Frames discarded without being applied",
		}, []string{"reason"}),
		phases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "phase_seconds_total",
			Help:      "Time spent in each stage of the ingestion loop",
		}, []string{"phase"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "session_resets_total",
			Help:      "Sessions ended by a lost connection",
		}),
		objects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "session_objects",
			Help:      "Objects seen in the current session",
		}),
	}

	if err := registry.RegisterCounter("ingest", "lines", m.lines); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("ingest", "frames", m.frames); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("ingest", "decode_errors", m.decodeErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("ingest", "frames_dropped", m.dropped); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("ingest", "phase_seconds", m.phases); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("ingest", "session_resets", m.resets); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("ingest", "session_objects", m.objects); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *pipelineMetrics) recordLine() {
	if m == nil {
		return
	}
	m.lines.Inc()
}

func (m *pipelineMetrics) recordFrame(kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind).Inc()
}

func (m *pipelineMetrics) recordDecodeError(scope string, n int) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(scope).Add(float64(n))
}

func (m *pipelineMetrics) recordDrop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *pipelineMetrics) recordPhase(phase string, seconds float64) {
	if m == nil {
		return
	}
	m.phases.WithLabelValues(phase).Add(seconds)
}

func (m *pipelineMetrics) recordReset() {
	if m == nil {
		return
	}
	m.resets.Inc()
	m.objects.Set(0)
}

func (m *pipelineMetrics) setObjects(n int) {
	if m == nil {
		return
	}
	m.objects.Set(float64(n))
}
