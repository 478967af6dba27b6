// Package observability wires OpenTelemetry metrics and traces for the
// reconciler. Exporters speak OTLP over HTTP; with telemetry disabled the
// instruments record into the global no-op providers.
package observability
