package metric

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/acmistream/errors"
)

func gatheredTypes(t *testing.T, registry *MetricsRegistry) map[string]dto.MetricType {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	types := make(map[string]dto.MetricType, len(families))
	for _, mf := range families {
		types[mf.GetName()] = mf.GetType()
	}
	return types
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterTypes(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "c"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "h"})
	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_counter_vec", Help: "cv"}, []string{"kind"})
	gaugeVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_gauge_vec", Help: "gv"}, []string{"kind"})
	histogramVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_histogram_vec", Help: "hv"}, []string{"kind"})

	require.NoError(t, registry.RegisterCounter("svc", "counter", counter))
	require.NoError(t, registry.RegisterGauge("svc", "gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("svc", "histogram", histogram))
	require.NoError(t, registry.RegisterCounterVec("svc", "counter_vec", counterVec))
	require.NoError(t, registry.RegisterGaugeVec("svc", "gauge_vec", gaugeVec))
	require.NoError(t, registry.RegisterHistogramVec("svc", "histogram_vec", histogramVec))

	counter.Inc()
	gauge.Set(42)
	histogram.Observe(0.5)
	counterVec.WithLabelValues("a").Inc()
	gaugeVec.WithLabelValues("a").Set(1)
	histogramVec.WithLabelValues("a").Observe(1)

	types := gatheredTypes(t, registry)
	for name, want := range map[string]dto.MetricType{
		"test_counter":       dto.MetricType_COUNTER,
		"test_gauge":         dto.MetricType_GAUGE,
		"test_histogram":     dto.MetricType_HISTOGRAM,
		"test_counter_vec":   dto.MetricType_COUNTER,
		"test_gauge_vec":     dto.MetricType_GAUGE,
		"test_histogram_vec": dto.MetricType_HISTOGRAM,
	} {
		got, ok := types[name]
		assert.True(t, ok, "%s should be registered", name)
		assert.Equal(t, want, got, name)
	}
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "d"})
	require.NoError(t, registry.RegisterCounter("svc", "dup", first))

	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter_2", Help: "d"})
	err := registry.RegisterCounter("svc", "dup", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	conflicting := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "d"})
	err = registry.RegisterCounter("other", "dup", conflicting)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err), "prometheus name clash is an invalid registration")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "gone_counter", Help: "g"})
	require.NoError(t, registry.RegisterCounter("svc", "gone", counter))

	assert.True(t, registry.Unregister("svc", "gone"))
	assert.False(t, registry.Unregister("svc", "gone"))
	assert.NotContains(t, gatheredTypes(t, registry), "gone_counter")

	require.NoError(t, registry.RegisterCounter("svc", "gone", counter), "re-register after unregister")
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_counter_%d", i),
				Help: "concurrent",
			})
			errs <- registry.RegisterCounter("svc", fmt.Sprintf("c%d", i), c)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestCoreMetrics_Record(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordBuildInfo("1.2.3")
	core.RecordError("tacview-client", errors.ErrConnectionLost)
	core.RecordError("acmi-decoder", errors.ErrMalformedID)
	core.RecordError("acmi-decoder", nil)
	core.RecordSessionStart()
	core.RecordNATSStatus(true)
	core.RecordNATSReconnect()

	assert.Equal(t, 1.0, testutil.ToFloat64(core.ErrorsTotal.WithLabelValues("tacview-client", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.ErrorsTotal.WithLabelValues("acmi-decoder", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.SessionsLive))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.Sessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSConnected))

	core.RecordSessionEnd()
	assert.Equal(t, 0.0, testutil.ToFloat64(core.SessionsLive))

	types := gatheredTypes(t, registry)
	assert.Equal(t, dto.MetricType_GAUGE, types["acmistream_build_info"])
	assert.Equal(t, dto.MetricType_COUNTER, types["acmistream_errors_total"])
	assert.Contains(t, types, "go_goroutines", "go collector must be registered")
}

func TestCoreMetrics_NilReceiver(t *testing.T) {
	var core *Metrics
	assert.NotPanics(t, func() {
		core.RecordError("x", errors.ErrConnectionLost)
		core.RecordSessionStart()
		core.RecordSessionEnd()
		core.RecordNATSStatus(false)
		core.RecordNATSReconnect()
	})
}
