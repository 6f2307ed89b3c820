// Package observability provides OpenTelemetry tracing and metrics for the
// commitment engine: OTLP trace and metric export, RED instrumentation for
// API handlers, and domain attributes for ledger, attestation and oracle
// operations.
package observability
