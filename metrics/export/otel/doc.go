// Package otel mirrors engine metrics into an OpenTelemetry meter.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter. Each
// latency histogram becomes a "<name>_bucket" gauge with one series per "le"
// bound, +Inf included, and a "<name>_count" gauge. A single callback reads
// one snapshot per collection; the caller owns the MeterProvider.
package otel
