package metrics

import (
	"context"
	"net/http"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusProvider implements Provider backed by a Prometheus registry.
type PrometheusProvider struct {
	reg        *prom.Registry
	mu         sync.Mutex
	counters   map[string]*prom.CounterVec
	gauges     map[string]*prom.GaugeVec
	histograms map[string]*prom.HistogramVec
	handler    http.Handler
}

// PrometheusProviderOptions configures the registry backing the provider.
type PrometheusProviderOptions struct {
	Registry *prom.Registry
}

// NewPrometheusProvider creates a new provider, registering a fresh registry
// if one is not supplied.
func NewPrometheusProvider(opts PrometheusProviderOptions) *PrometheusProvider {
	reg := opts.Registry
	if reg == nil {
		reg = prom.NewRegistry()
	}
	return &PrometheusProvider{
		reg:        reg,
		counters:   make(map[string]*prom.CounterVec),
		gauges:     make(map[string]*prom.GaugeVec),
		histograms: make(map[string]*prom.HistogramVec),
		handler:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
}

// Handler exposes the registry for a /metrics endpoint.
func (p *PrometheusProvider) Handler() http.Handler { return p.handler }

func fqName(c CommonOpts) string {
	name := c.Name
	if c.Subsystem != "" {
		name = c.Subsystem + "_" + name
	}
	if c.Namespace != "" {
		name = c.Namespace + "_" + name
	}
	return name
}

func (p *PrometheusProvider) NewCounter(opts CounterOpts) Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := fqName(opts.CommonOpts)
	if v, ok := p.counters[key]; ok {
		return promCounter{v}
	}
	v := prom.NewCounterVec(prom.CounterOpts{Name: key, Help: opts.Help}, opts.Labels)
	_ = p.reg.Register(v)
	p.counters[key] = v
	return promCounter{v}
}

func (p *PrometheusProvider) NewGauge(opts GaugeOpts) Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := fqName(opts.CommonOpts)
	if v, ok := p.gauges[key]; ok {
		return promGauge{v}
	}
	v := prom.NewGaugeVec(prom.GaugeOpts{Name: key, Help: opts.Help}, opts.Labels)
	_ = p.reg.Register(v)
	p.gauges[key] = v
	return promGauge{v}
}

func (p *PrometheusProvider) NewHistogram(opts HistogramOpts) Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := fqName(opts.CommonOpts)
	if v, ok := p.histograms[key]; ok {
		return promHistogram{v}
	}
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}
	v := prom.NewHistogramVec(prom.HistogramOpts{Name: key, Help: opts.Help, Buckets: buckets}, opts.Labels)
	_ = p.reg.Register(v)
	p.histograms[key] = v
	return promHistogram{v}
}

func (p *PrometheusProvider) Health(context.Context) error { return nil }

type promCounter struct{ v *prom.CounterVec }

func (c promCounter) Inc(delta float64, labels ...string) { c.v.WithLabelValues(labels...).Add(delta) }

type promGauge struct{ v *prom.GaugeVec }

func (g promGauge) Set(v float64, labels ...string) { g.v.WithLabelValues(labels...).Set(v) }
func (g promGauge) Add(v float64, labels ...string) { g.v.WithLabelValues(labels...).Add(v) }

type promHistogram struct{ v *prom.HistogramVec }

func (h promHistogram) Observe(v float64, labels ...string) {
	h.v.WithLabelValues(labels...).Observe(v)
}
