package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/clinicguard"
	"github.com/MrEthical07/clinicguard/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is what the exporter reads on every collection.
type Source interface {
	MetricsSnapshot() clinicguard.MetricsSnapshot
	AuditDropped() uint64
}

// frame is the state shared by every observer during one collection.
type frame struct {
	snap    clinicguard.MetricsSnapshot
	dropped uint64
}

type observeFunc func(o metric.Observer, f *frame)

// bucketSets holds one precomputed "le" attribute set per bucket so the
// callback does not allocate them per collection.
var bucketSets = func() []metric.ObserveOption {
	out := make([]metric.ObserveOption, len(internaldefs.HistogramBoundSuffix))
	for i, le := range internaldefs.HistogramBoundSuffix {
		out[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le)))
	}
	return out
}()

// Exporter mirrors engine metrics as observable instruments.
type Exporter struct {
	source      Source
	instruments []metric.Observable
	observers   []observeFunc
	reg         metric.Registration
}

// NewExporter registers instruments for engine on meter.
func NewExporter(meter metric.Meter, engine *clinicguard.Engine) (*Exporter, error) {
	return NewExporterFromSource(meter, engine)
}

// NewExporterFromSource registers instruments for any snapshot source.
func NewExporterFromSource(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	for _, def := range internaldefs.CounterDefs {
		if err := e.bindCounter(meter, def); err != nil {
			return nil, err
		}
	}
	for _, def := range internaldefs.HistogramDefs {
		if err := e.bindHistogram(meter, def); err != nil {
			return nil, err
		}
	}
	if err := e.bindDropped(meter); err != nil {
		return nil, err
	}

	reg, err := meter.RegisterCallback(e.collect, e.instruments...)
	if err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}
	e.reg = reg
	return e, nil
}

func (e *Exporter) bindCounter(meter metric.Meter, def internaldefs.CounterDef) error {
	c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
	if err != nil {
		return fmt.Errorf("otel: counter %s: %w", def.Name, err)
	}
	id := def.ID
	e.bind(func(o metric.Observer, f *frame) {
		o.ObserveInt64(c, int64(f.snap.Counters[id]))
	}, c)
	return nil
}

// bindHistogram exposes a latency histogram as a cumulative bucket gauge
// labelled by upper bound plus a sample count gauge.
func (e *Exporter) bindHistogram(meter metric.Meter, def internaldefs.HistogramDef) error {
	buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
		metric.WithDescription(def.Help+" Cumulative bucket counts by upper bound."))
	if err != nil {
		return fmt.Errorf("otel: histogram %s: %w", def.Name, err)
	}
	count, err := meter.Int64ObservableGauge(def.Name+"_count",
		metric.WithDescription(def.Help+" Total samples."))
	if err != nil {
		return fmt.Errorf("otel: histogram %s count: %w", def.Name, err)
	}

	id := def.ID
	e.bind(func(o metric.Observer, f *frame) {
		raw, ok := f.snap.Histograms[id]
		if !ok {
			return
		}
		cum := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, n := range cum {
			o.ObserveInt64(buckets, int64(n), bucketSets[i])
		}
		o.ObserveInt64(count, int64(cum[len(cum)-1]))
	}, buckets, count)
	return nil
}

func (e *Exporter) bindDropped(meter metric.Meter) error {
	c, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return fmt.Errorf("otel: counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	e.bind(func(o metric.Observer, f *frame) {
		o.ObserveInt64(c, int64(f.dropped))
	}, c)
	return nil
}

// bind records fn and the instruments it reports on.
func (e *Exporter) bind(fn observeFunc, instruments ...metric.Observable) {
	e.observers = append(e.observers, fn)
	e.instruments = append(e.instruments, instruments...)
}

// collect takes one snapshot and hands it to every observer.
func (e *Exporter) collect(_ context.Context, o metric.Observer) error {
	f := frame{snap: e.source.MetricsSnapshot(), dropped: e.source.AuditDropped()}
	for _, fn := range e.observers {
		fn(o, &f)
	}
	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.reg == nil {
		return nil
	}
	return e.reg.Unregister()
}
