// Package observability bundles the operational concerns of the service:
// structured logging, Prometheus metrics, health probes, optional
// OpenTelemetry export, and graceful shutdown coordination.
//
// The logger is a thin wrapper over stdlib slog emitting JSON lines.
// Metrics are registered on a dedicated Prometheus registry so tests can
// create isolated instances. Health checks probe the database and, when
// configured, Redis.
package observability
