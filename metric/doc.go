// Package metric wraps a Prometheus registry for acmistream components.
//
// MetricsRegistry keys every collector by "service.metric" so two components
// cannot silently register the same metric, and it always carries the Go and
// process collectors plus a small set of process-wide Metrics (build info,
// classified error counts, live session, NATS status).
//
// Components follow one pattern: a package-private newMetrics(registry) that
// returns nil when registry is nil, and nil-safe record methods, so metrics are
// optional everywhere and tests can pass no registry at all.
//
// Server exposes /metrics (OpenMetrics enabled) and /health. Listen binds
// eagerly so a port conflict fails startup; Serve runs until its context ends.
package metric
