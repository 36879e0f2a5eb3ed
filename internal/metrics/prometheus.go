// Package metrics exposes pipeline counters and timings to Prometheus.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Names of the metrics recorded by the pipeline.
const (
	ScansTotal      = "scans_total"
	ReportsTotal    = "reports_total"
	RetriesTotal    = "retries_total"
	functionTimings = "function_duration_seconds"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Collector registers and updates metrics under one namespace.
type Collector interface {
	RegisterCounter(ctx context.Context, name string, labels ...string) (*prometheus.CounterVec, error)
	AddCounter(ctx context.Context, name string, value float64, labelValues ...string) error
	UnregisterCounter(ctx context.Context, name string, labels ...string) error
	RegisterHistogram(ctx context.Context, name string, labels ...string) (*prometheus.HistogramVec, error)
	ObserveHistogram(ctx context.Context, name string, value float64, labelValues ...string) error
	UnregisterHistogram(ctx context.Context, name string, labels ...string) error
	RegisterGauge(ctx context.Context, name string, labels ...string) (*prometheus.GaugeVec, error)
	SetGauge(ctx context.Context, name string, value float64, labelValues ...string) error
	UnregisterGauge(ctx context.Context, name string, labels ...string) error
	MeasureFunctionExecutionTime(ctx context.Context, function string) (func(), error)
	MetricsHandler() http.Handler
}

type prometheusCollector struct {
	namespace  string
	registry   *prometheus.Registry
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

type contextKey struct{}

// New returns a collector with its own registry.
func New(namespace string) Collector {
	return &prometheusCollector{
		namespace:  namespace,
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

// WithMetrics stores a new collector for namespace in ctx.
func WithMetrics(ctx context.Context, namespace string) context.Context {
	return context.WithValue(ctx, contextKey{}, New(namespace))
}

// FromContext returns the collector stored in ctx, or a fresh one for namespace.
func FromContext(ctx context.Context, namespace string) Collector {
	if c, ok := ctx.Value(contextKey{}).(Collector); ok {
		return c
	}
	return New(namespace)
}

// RegisterPipelineMetrics registers the counters the scan and report fan-outs update.
func RegisterPipelineMetrics(ctx context.Context, c Collector) error {
	if _, err := c.RegisterCounter(ctx, ScansTotal, "backend", "outcome"); err != nil {
		return err
	}
	if _, err := c.RegisterCounter(ctx, ReportsTotal, "aggregate", "outcome"); err != nil {
		return err
	}
	if _, err := c.RegisterCounter(ctx, RetriesTotal, "operation"); err != nil {
		return err
	}
	return nil
}

func (p *prometheusCollector) key(name string) string {
	return p.namespace + "_" + name
}

func (p *prometheusCollector) RegisterCounter(_ context.Context, name string, labels ...string) (*prometheus.CounterVec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := p.key(name)
	if _, ok := p.counters[key]; ok {
		return nil, fmt.Errorf("counter '%s' already registered", key)
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      name,
		Help:      "Counter for " + key,
	}, labels)
	if err := p.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register counter '%s': %w", key, err)
	}
	p.counters[key] = vec
	return vec, nil
}

func (p *prometheusCollector) AddCounter(_ context.Context, name string, value float64, labelValues ...string) error {
	p.mu.Lock()
	vec, ok := p.counters[p.key(name)]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("counter '%s' not found", p.key(name))
	}
	c, err := vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return fmt.Errorf("counter '%s': %w", p.key(name), err)
	}
	c.Add(value)
	return nil
}

func (p *prometheusCollector) UnregisterCounter(_ context.Context, name string, _ ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := p.key(name)
	if vec, ok := p.counters[key]; ok {
		p.registry.Unregister(vec)
		delete(p.counters, key)
	}
	return nil
}

func (p *prometheusCollector) RegisterHistogram(_ context.Context, name string, labels ...string) (*prometheus.HistogramVec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registerHistogram(name, "Histogram for "+p.key(name), prometheus.DefBuckets, labels)
}

func (p *prometheusCollector) registerHistogram(name, help string, buckets []float64, labels []string) (*prometheus.HistogramVec, error) {
	key := p.key(name)
	if _, ok := p.histograms[key]; ok {
		return nil, fmt.Errorf("histogram '%s' already registered", key)
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: p.namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
	if err := p.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register histogram '%s': %w", key, err)
	}
	p.histograms[key] = vec
	return vec, nil
}

func (p *prometheusCollector) ObserveHistogram(_ context.Context, name string, value float64, labelValues ...string) error {
	p.mu.Lock()
	vec, ok := p.histograms[p.key(name)]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("histogram '%s' not found", p.key(name))
	}
	h, err := vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return fmt.Errorf("histogram '%s': %w", p.key(name), err)
	}
	h.Observe(value)
	return nil
}

func (p *prometheusCollector) UnregisterHistogram(_ context.Context, name string, _ ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := p.key(name)
	if vec, ok := p.histograms[key]; ok {
		p.registry.Unregister(vec)
		delete(p.histograms, key)
	}
	return nil
}

func (p *prometheusCollector) RegisterGauge(_ context.Context, name string, labels ...string) (*prometheus.GaugeVec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := p.key(name)
	if _, ok := p.gauges[key]; ok {
		return nil, fmt.Errorf("gauge '%s' already registered", key)
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: p.namespace,
		Name:      name,
		Help:      "Gauge for " + key,
	}, labels)
	if err := p.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register gauge '%s': %w", key, err)
	}
	p.gauges[key] = vec
	return vec, nil
}

func (p *prometheusCollector) SetGauge(_ context.Context, name string, value float64, labelValues ...string) error {
	p.mu.Lock()
	vec, ok := p.gauges[p.key(name)]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("gauge '%s' not found", p.key(name))
	}
	g, err := vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return fmt.Errorf("gauge '%s': %w", p.key(name), err)
	}
	g.Set(value)
	return nil
}

func (p *prometheusCollector) UnregisterGauge(_ context.Context, name string, _ ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := p.key(name)
	if vec, ok := p.gauges[key]; ok {
		p.registry.Unregister(vec)
		delete(p.gauges, key)
	}
	return nil
}

// MeasureFunctionExecutionTime starts a timer; calling the returned func records
// the elapsed seconds labelled with function.
func (p *prometheusCollector) MeasureFunctionExecutionTime(_ context.Context, function string) (func(), error) {
	p.mu.Lock()
	vec, ok := p.histograms[p.key(functionTimings)]
	if !ok {
		var err error
		vec, err = p.registerHistogram(functionTimings, "Time spent executing functions.",
			[]float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}, []string{"function"})
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	p.mu.Unlock()

	start := time.Now()
	return func() {
		vec.WithLabelValues(function).Observe(time.Since(start).Seconds())
	}, nil
}

func (p *prometheusCollector) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
