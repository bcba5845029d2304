// Package prometheus renders goRotate engine metrics in Prometheus text exposition format.
//
// [NewPrometheusExporter] wraps an [goRotate.Engine] and exposes an [http.Handler].
// Counter names are prefixed gorotate_*_total; the rotate latency histogram,
// gorotate_rotate_latency_seconds, is only written when latency histograms are enabled.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
