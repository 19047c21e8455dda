// Package metrics provides the Metrics interface shared by every core
// package, backed by OpenTelemetry, plus an in-memory mock for tests.
package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics is the minimal observability contract the core depends on.
type Metrics interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// Otel adapts the global OpenTelemetry MeterProvider to Metrics. Gauges are
// implemented as an async Float64ObservableGauge fed by the last-seen value
// per label set, since OTel has no synchronous gauge instrument.
type Otel struct {
	meter      metric.Meter
	mu         sync.RWMutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]*gaugeState
}

type gaugeState struct {
	mu     sync.Mutex
	values map[string]float64 // keyed by flattened labels
	attrs  map[string][]attribute.KeyValue
}

// New constructs an Otel metrics adapter using the global meter provider.
func New() *Otel {
	return &Otel{
		meter:      otel.Meter("ragcore"),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]*gaugeState),
	}
}

func (o *Otel) IncCounter(name string, labels map[string]string) {
	if o == nil {
		return
	}
	c, ok := o.counter(name)
	if !ok {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(toAttrs(labels)...))
}

func (o *Otel) ObserveHistogram(name string, value float64, labels map[string]string) {
	if o == nil {
		return
	}
	h, ok := o.histogram(name)
	if !ok {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(toAttrs(labels)...))
}

func (o *Otel) SetGauge(name string, value float64, labels map[string]string) {
	if o == nil {
		return
	}
	g := o.gauge(name)
	key := labelKey(labels)
	g.mu.Lock()
	g.values[key] = value
	g.attrs[key] = toAttrs(labels)
	g.mu.Unlock()
}

func (o *Otel) counter(name string) (metric.Int64Counter, bool) {
	o.mu.RLock()
	c, ok := o.counters[name]
	o.mu.RUnlock()
	if ok {
		return c, true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok = o.counters[name]; ok {
		return c, true
	}
	ctr, err := o.meter.Int64Counter(name)
	if err != nil {
		return ctr, false
	}
	o.counters[name] = ctr
	return ctr, true
}

func (o *Otel) histogram(name string) (metric.Float64Histogram, bool) {
	o.mu.RLock()
	h, ok := o.histograms[name]
	o.mu.RUnlock()
	if ok {
		return h, true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok = o.histograms[name]; ok {
		return h, true
	}
	hist, err := o.meter.Float64Histogram(name)
	if err != nil {
		return hist, false
	}
	o.histograms[name] = hist
	return hist, true
}

func (o *Otel) gauge(name string) *gaugeState {
	o.mu.RLock()
	g, ok := o.gauges[name]
	o.mu.RUnlock()
	if ok {
		return g
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if g, ok = o.gauges[name]; ok {
		return g
	}
	g = &gaugeState{values: map[string]float64{}, attrs: map[string][]attribute.KeyValue{}}
	_, _ = o.meter.Float64ObservableGauge(name, metric.WithFloat64Callback(
		func(_ context.Context, obs metric.Float64Observer) error {
			g.mu.Lock()
			defer g.mu.Unlock()
			for k, v := range g.values {
				obs.Observe(v, metric.WithAttributes(g.attrs[k]...))
			}
			return nil
		},
	))
	o.gauges[name] = g
	return g
}

func toAttrs(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		out = append(out, attribute.String(k, v))
	}
	return out
}

func labelKey(labels map[string]string) string {
	// Order-independent-enough for our small, fixed label sets: callers always
	// pass the same key set per metric name, so naive concatenation round-trips.
	s := ""
	for k, v := range labels {
		s += k + "=" + v + ";"
	}
	return s
}

// Mock is an in-memory metrics sink for tests.
type Mock struct {
	mu       sync.Mutex
	Counters map[string]int
	Hists    map[string][]float64
	Gauges   map[string]float64
}

// NewMock constructs an empty Mock.
func NewMock() *Mock {
	return &Mock{Counters: map[string]int{}, Hists: map[string][]float64{}, Gauges: map[string]float64{}}
}

func (m *Mock) IncCounter(name string, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name]++
}

func (m *Mock) ObserveHistogram(name string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Hists[name] = append(m.Hists[name], value)
}

func (m *Mock) SetGauge(name string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gauges[name] = value
}

// Noop implements Metrics without side effects.
type Noop struct{}

func (Noop) IncCounter(string, map[string]string)                {}
func (Noop) ObserveHistogram(string, float64, map[string]string) {}
func (Noop) SetGauge(string, float64, map[string]string)         {}
