package otel

import (
	"context"
	"errors"
	"fmt"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goGuard.MetricsSnapshot
	EventsDropped() uint64
}

// Option configures an Exporter.
type Option func(*settings)

type settings struct {
	attrs []attribute.KeyValue
}

// WithAttributes attaches constant attributes to every observation, for
// example a deployment or instance name.
func WithAttributes(kv ...attribute.KeyValue) Option {
	return func(s *settings) { s.attrs = append(s.attrs, kv...) }
}

// observeFunc records one instrument from a snapshot.
type observeFunc func(metric.Observer, goGuard.MetricsSnapshot)

// Exporter publishes Engine counters as observable instruments. Each
// histogram becomes a "_bucket" gauge split by the "le" attribute plus
// "_count" and "_sum" gauges.
type Exporter struct {
	registration metric.Registration
}

func NewExporter(meter metric.Meter, engine *goGuard.Engine, opts ...Option) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, engine, opts...)
}

func NewExporterFromSource(meter metric.Meter, source metricsSource, opts ...Option) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}
	var cfg settings
	for _, opt := range opts {
		opt(&cfg)
	}
	base := metric.WithAttributeSet(attribute.NewSet(cfg.attrs...))

	var (
		observers   []observeFunc
		observables []metric.Observable
	)

	for _, def := range internaldefs.CounterDefs {
		id := def.ID
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("otel: counter %s: %w", def.Name, err)
		}
		observables = append(observables, ins)
		observers = append(observers, func(o metric.Observer, snap goGuard.MetricsSnapshot) {
			o.ObserveInt64(ins, int64(snap.Counters[id]), base)
		})
	}

	labels := internaldefs.BoundLabels()
	for _, def := range internaldefs.HistogramDefs {
		fn, ins, err := histogramObserver(meter, def, labels, cfg.attrs)
		if err != nil {
			return nil, err
		}
		observables = append(observables, ins...)
		observers = append(observers, fn)
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.EventsDroppedName, metric.WithDescription(internaldefs.EventsDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("otel: counter %s: %w", internaldefs.EventsDroppedName, err)
	}
	observables = append(observables, dropped)

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := source.MetricsSnapshot()
		for _, fn := range observers {
			fn(o, snap)
		}
		o.ObserveInt64(dropped, int64(source.EventsDropped()), base)
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}
	return &Exporter{registration: reg}, nil
}

func histogramObserver(meter metric.Meter, def internaldefs.HistogramDef, labels []string, attrs []attribute.KeyValue) (observeFunc, []metric.Observable, error) {
	buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
		metric.WithDescription(def.Help+" Cumulative count per upper bound."))
	if err != nil {
		return nil, nil, fmt.Errorf("otel: gauge %s_bucket: %w", def.Name, err)
	}
	count, err := meter.Int64ObservableGauge(def.Name+"_count",
		metric.WithDescription(def.Help+" Total samples."))
	if err != nil {
		return nil, nil, fmt.Errorf("otel: gauge %s_count: %w", def.Name, err)
	}
	sum, err := meter.Float64ObservableGauge(def.Name+"_sum",
		metric.WithDescription(def.Help+" Total observed seconds."), metric.WithUnit("s"))
	if err != nil {
		return nil, nil, fmt.Errorf("otel: gauge %s_sum: %w", def.Name, err)
	}

	// Attribute sets are fixed per bucket, build them once.
	sets := make([]metric.ObserveOption, len(labels))
	for i, le := range labels {
		kv := append(append([]attribute.KeyValue(nil), attrs...), attribute.String("le", le))
		sets[i] = metric.WithAttributeSet(attribute.NewSet(kv...))
	}
	base := metric.WithAttributeSet(attribute.NewSet(attrs...))

	id := def.ID
	fn := func(o metric.Observer, snap goGuard.MetricsSnapshot) {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[id]))
		for i, v := range cumulative {
			o.ObserveInt64(buckets, int64(v), sets[i])
		}
		o.ObserveInt64(count, int64(cumulative[len(cumulative)-1]), base)
		o.ObserveFloat64(sum, snap.HistogramSums[id].Seconds(), base)
	}
	return fn, []metric.Observable{buckets, count, sum}, nil
}

// Close unregisters the callback. The instruments stay with the meter.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
