package metrics

// OTelProvider bridges the internal Provider interface onto an OpenTelemetry
// MeterProvider, for deployments that already export via OTEL collectors
// rather than scraping a Prometheus endpoint directly. Gauges are modeled as
// an UpDownCounter with a running total tracked locally so Set() can emit a
// corrective delta.

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelProviderOptions configures the meter name used for all instruments.
type OTelProviderOptions struct {
	ServiceName string
}

// NewOTelProvider returns a metrics.Provider backed by an OTEL MeterProvider.
func NewOTelProvider(opts OTelProviderOptions) Provider {
	name := opts.ServiceName
	if name == "" {
		name = "gtecs-alert-sentinel"
	}
	mp := sdkmetric.NewMeterProvider()
	return &otelProvider{mp: mp, meter: mp.Meter(name)}
}

type otelProvider struct {
	mp    *sdkmetric.MeterProvider
	meter metric.Meter
}

func buildOTelName(c CommonOpts) string {
	name := c.Name
	if c.Subsystem != "" {
		name = c.Subsystem + "." + name
	}
	if c.Namespace != "" {
		name = c.Namespace + "." + name
	}
	return name
}

func attrsFor(labels, values []string) []attribute.KeyValue {
	n := len(labels)
	if len(values) < n {
		n = len(values)
	}
	kvs := make([]attribute.KeyValue, 0, n)
	for i := 0; i < n; i++ {
		kvs = append(kvs, attribute.String(labels[i], values[i]))
	}
	return kvs
}

func (p *otelProvider) NewCounter(opts CounterOpts) Counter {
	inst, err := p.meter.Float64Counter(buildOTelName(opts.CommonOpts), metric.WithDescription(opts.Help))
	if err != nil {
		return noopCounter{}
	}
	return &otelCounter{c: inst, labelKeys: opts.Labels}
}

func (p *otelProvider) NewGauge(opts GaugeOpts) Gauge {
	inst, err := p.meter.Float64UpDownCounter(buildOTelName(opts.CommonOpts), metric.WithDescription(opts.Help))
	if err != nil {
		return noopGauge{}
	}
	return &otelGauge{g: inst, labelKeys: opts.Labels}
}

func (p *otelProvider) NewHistogram(opts HistogramOpts) Histogram {
	inst, err := p.meter.Float64Histogram(buildOTelName(opts.CommonOpts), metric.WithDescription(opts.Help))
	if err != nil {
		return noopHistogram{}
	}
	return &otelHistogram{h: inst, labelKeys: opts.Labels}
}

func (p *otelProvider) Health(context.Context) error { return nil }

type otelCounter struct {
	c         metric.Float64Counter
	labelKeys []string
}

func (c *otelCounter) Inc(delta float64, labels ...string) {
	c.c.Add(context.Background(), delta, metric.WithAttributes(attrsFor(c.labelKeys, labels)...))
}

type otelGauge struct {
	g         metric.Float64UpDownCounter
	labelKeys []string
	mu        sync.Mutex
	last      map[string]float64
}

func (g *otelGauge) key(labels []string) string {
	k := ""
	for _, l := range labels {
		k += "\x00" + l
	}
	return k
}

func (g *otelGauge) Set(v float64, labels ...string) {
	g.mu.Lock()
	if g.last == nil {
		g.last = make(map[string]float64)
	}
	k := g.key(labels)
	delta := v - g.last[k]
	g.last[k] = v
	g.mu.Unlock()
	g.g.Add(context.Background(), delta, metric.WithAttributes(attrsFor(g.labelKeys, labels)...))
}

func (g *otelGauge) Add(delta float64, labels ...string) {
	g.mu.Lock()
	if g.last == nil {
		g.last = make(map[string]float64)
	}
	k := g.key(labels)
	g.last[k] += delta
	g.mu.Unlock()
	g.g.Add(context.Background(), delta, metric.WithAttributes(attrsFor(g.labelKeys, labels)...))
}

type otelHistogram struct {
	h         metric.Float64Histogram
	labelKeys []string
}

func (h *otelHistogram) Observe(v float64, labels ...string) {
	h.h.Record(context.Background(), v, metric.WithAttributes(attrsFor(h.labelKeys, labels)...))
}
