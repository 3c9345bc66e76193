package metric

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/acmistream/errors"
)

// Metrics contains process-wide metrics shared by every component
type Metrics struct {
	BuildInfo    *prometheus.GaugeVec
	ErrorsTotal  *prometheus.CounterVec
	SessionsLive prometheus.Gauge
	Sessions     prometheus.Counter

	// NATS egress
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "build_info",
				Help:      "Build information, value is always 1",
			},
			[]string{"version"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Errors observed by component and classification",
			},
			[]string{"component", "class"},
		),

		SessionsLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "session",
				Name:      "live",
				Help:      "1 while a telemetry session is streaming",
			},
		),

		Sessions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "session",
				Name:      "created_total",
				Help:      "Sessions created since start",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.BuildInfo,
		c.ErrorsTotal,
		c.SessionsLive,
		c.Sessions,
		c.NATSConnected,
		c.NATSReconnects,
	}
}

// RecordBuildInfo publishes the running version
func (c *Metrics) RecordBuildInfo(version string) {
	c.BuildInfo.WithLabelValues(version).Set(1)
}

// RecordError counts err under its component and classification. A nil
// receiver is a no-op so components can call it without a registry.
func (c *Metrics) RecordError(component string, err error) {
	if c == nil || err == nil {
		return
	}
	c.ErrorsTotal.WithLabelValues(component, errors.Classify(err).String()).Inc()
}

// RecordSessionStart marks a new live session
func (c *Metrics) RecordSessionStart() {
	if c == nil {
		return
	}
	c.Sessions.Inc()
	c.SessionsLive.Set(1)
}

// RecordSessionEnd clears the live session gauge
func (c *Metrics) RecordSessionEnd() {
	if c == nil {
		return
	}
	c.SessionsLive.Set(0)
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}
