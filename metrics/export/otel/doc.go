// Package otel binds goSession counters and the refresh latency histogram to
// OpenTelemetry observable instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per counter and an
// Int64ObservableGauge per histogram bucket. A single callback reads
// [goSession.Coordinator.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate coordinator state.
package otel
