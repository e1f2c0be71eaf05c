// Package prometheus exposes engine counters and latency histograms as a
// client_golang collector.
//
// Counters are named clinicguard_*_total and histograms
// clinicguard_*_latency_seconds. The exporter never touches the default
// registry; register it yourself or mount [Exporter.Handler].
package prometheus
