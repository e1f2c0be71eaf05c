package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/clinicguard"
	"github.com/MrEthical07/clinicguard/metrics/export/internaldefs"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot clinicguard.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() clinicguard.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := clinicguard.MetricsSnapshot{
		Counters:   make(map[clinicguard.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[clinicguard.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					name := m.Name
					if le, ok := dp.Attributes.Value("le"); ok {
						name += "{le=" + le.AsString() + "}"
					}
					out[name] = dp.Value
				}
			}
		}
	}
	return out
}

func TestExporterObservesSnapshot(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{
		snapshot: clinicguard.MetricsSnapshot{
			Counters: map[clinicguard.MetricID]uint64{
				clinicguard.MetricSessionCreated: 3,
			},
			Histograms: map[clinicguard.MetricID][]uint64{
				clinicguard.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewExporterFromSource(provider.Meter("clinicguard-test"), src)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}()

	got := collect(t, reader)
	if got["clinicguard_session_created_total"] != 3 {
		t.Fatalf("unexpected session counter: %v", got)
	}
	if got["clinicguard_validate_latency_seconds_bucket{le=inf}"] != 8 || got["clinicguard_validate_latency_seconds_count"] != 8 {
		t.Fatalf("unexpected histogram gauges: %v", got)
	}
	if got["clinicguard_validate_latency_seconds_bucket{le="+internaldefs.HistogramBoundSuffix[0]+"}"] != 1 {
		t.Fatalf("first bucket must hold one sample: %v", got)
	}
	if got["clinicguard_audit_dropped_total"] != 1 {
		t.Fatalf("unexpected drop counter: %v", got)
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newMeter()
	if _, err := NewExporterFromSource(provider.Meter("clinicguard-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{
		snapshot: clinicguard.MetricsSnapshot{
			Counters: map[clinicguard.MetricID]uint64{
				clinicguard.MetricTokenValidated: 1,
			},
		},
	}

	exp, err := NewExporterFromSource(provider.Meter("clinicguard-test"), src)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	defer func() { _ = exp.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[clinicguard.MetricTokenValidated] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
