package metrics

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusProvider_CountersAppearOnHandler(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{
		Namespace: "sentinel", Subsystem: "test", Name: "things_total", Help: "things",
	}})
	c.Inc(3)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "sentinel_test_things_total 3")
}

func TestPrometheusProvider_ReregistrationReturnsSameCollector(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})
	opts := CounterOpts{CommonOpts: CommonOpts{Namespace: "s", Subsystem: "x", Name: "n_total"}}
	a := p.NewCounter(opts)
	b := p.NewCounter(opts)
	a.Inc(1)
	b.Inc(1)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "s_x_n_total 2")
}

func TestPrometheusProvider_GaugeSetAndLabels(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})
	g := p.NewGauge(GaugeOpts{CommonOpts: CommonOpts{
		Namespace: "sentinel", Subsystem: "queue", Name: "depth", Labels: []string{"topic"},
	}})
	g.Set(7, "gw")
	g.Add(-2, "gw")

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `sentinel_queue_depth{topic="gw"} 5`)
}

func TestNoopProviderIsInert(t *testing.T) {
	p := NewNoopProvider()
	require.NoError(t, p.Health(context.Background()))
	p.NewCounter(CounterOpts{}).Inc(1)
	p.NewGauge(GaugeOpts{}).Set(1)
	p.NewHistogram(HistogramOpts{}).Observe(1)
}

func TestOTelProvider_InstrumentsDoNotPanic(t *testing.T) {
	p := NewOTelProvider(OTelProviderOptions{ServiceName: "test"})
	p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Name: "c", Labels: []string{"k"}}}).Inc(1, "v")
	g := p.NewGauge(GaugeOpts{CommonOpts: CommonOpts{Name: "g"}})
	g.Set(10)
	g.Set(4) // emits a corrective delta internally
	p.NewHistogram(HistogramOpts{CommonOpts: CommonOpts{Name: "h"}}).Observe(0.5)
	require.NoError(t, p.Health(context.Background()))
}
