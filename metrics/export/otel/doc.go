// Package otel binds goRotate engine metrics to OpenTelemetry asynchronous instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine counter and an
// Int64ObservableGauge per rotate-latency bucket. A single callback reads
// [goRotate.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
