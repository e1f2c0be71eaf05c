package clinicguard

import "github.com/MrEthical07/clinicguard/audit"

// AuditEvent is one audit record as delivered to a sink.
type AuditEvent = audit.Event

// AuditSink receives audit events. Sinks must not block for long; the
// dispatcher decouples them from the request path when configured async.
type AuditSink = audit.Sink

// AuditDropped returns the number of events dropped because the async
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.dispatcher == nil {
		return 0
	}
	return e.dispatcher.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of every engine metric.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Metrics exposes the live metrics for exporters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}
