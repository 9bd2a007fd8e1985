// Package prometheus exposes goSession metrics to Prometheus.
//
// [PrometheusExporter] implements prometheus.Collector, so it can be
// registered in any registry; [PrometheusExporter.Handler] serves it from a
// private one. Counter names are prefixed gosession_*_total; the single
// histogram is gosession_refresh_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate coordinator state.
package prometheus
