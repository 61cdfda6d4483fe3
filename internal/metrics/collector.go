// Package metrics provides a Prometheus-backed collector used by the
// pipeline, judge, and comparison packages to record call counts, latencies,
// and lock contention without those packages importing prometheus directly.
package metrics

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and returns labeled metric families, falling back to
// no-ops if registration fails rather than panicking a caller mid-request.
type Collector interface {
	Counter(name, help string, labels ...string) CounterVec
	Histogram(name, help string, buckets []float64, labels ...string) HistogramVec
	Gauge(name, help string, labels ...string) GaugeVec
	Handler() http.Handler
}

type CounterVec interface {
	WithLabelValues(lvs ...string) Counter
}

type Counter interface {
	Inc()
	Add(delta float64)
}

type HistogramVec interface {
	WithLabelValues(lvs ...string) Histogram
}

type Histogram interface {
	Observe(value float64)
}

type GaugeVec interface {
	WithLabelValues(lvs ...string) Gauge
}

type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
}

// Config names the registry's namespace/subsystem and const labels, mirroring
// the service-wide prefix convention of a metrics endpoint shared by several
// components.
type Config struct {
	Namespace   string
	Subsystem   string
	ConstLabels map[string]string
}

type promCollector struct {
	registry  *prometheus.Registry
	cfg       Config
	mu        sync.Mutex
	byFQName  map[string]prometheus.Collector
}

// NewCollector builds a Collector backed by a fresh prometheus.Registry, with
// process and Go runtime collectors pre-registered so the demo entrypoint's
// /metrics endpoint is useful out of the box.
func NewCollector(cfg Config) Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	registry.MustRegister(prometheus.NewGoCollector())
	return &promCollector{registry: registry, cfg: cfg, byFQName: make(map[string]prometheus.Collector)}
}

func (c *promCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (c *promCollector) register(name string, newCollector prometheus.Collector) (prometheus.Collector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fq := prometheus.BuildFQName(c.cfg.Namespace, c.cfg.Subsystem, name)
	if existing, ok := c.byFQName[fq]; ok {
		return existing, nil
	}
	if err := c.registry.Register(newCollector); err != nil {
		return nil, fmt.Errorf("metrics: registering %s: %w", fq, err)
	}
	c.byFQName[fq] = newCollector
	return newCollector, nil
}

func (c *promCollector) Counter(name, help string, labels ...string) CounterVec {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.cfg.Namespace, Subsystem: c.cfg.Subsystem, Name: name, Help: help,
		ConstLabels: c.cfg.ConstLabels,
	}, labels)
	registered, err := c.register(name, vec)
	if err != nil {
		slog.Error("metrics: counter registration failed", "name", name, "error", err)
		return noopCounterVec{}
	}
	if v, ok := registered.(*prometheus.CounterVec); ok {
		return promCounterVec{v}
	}
	return noopCounterVec{}
}

func (c *promCollector) Histogram(name, help string, buckets []float64, labels ...string) HistogramVec {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.cfg.Namespace, Subsystem: c.cfg.Subsystem, Name: name, Help: help,
		ConstLabels: c.cfg.ConstLabels, Buckets: buckets,
	}, labels)
	registered, err := c.register(name, vec)
	if err != nil {
		slog.Error("metrics: histogram registration failed", "name", name, "error", err)
		return noopHistogramVec{}
	}
	if v, ok := registered.(*prometheus.HistogramVec); ok {
		return promHistogramVec{v}
	}
	return noopHistogramVec{}
}

func (c *promCollector) Gauge(name, help string, labels ...string) GaugeVec {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.cfg.Namespace, Subsystem: c.cfg.Subsystem, Name: name, Help: help,
		ConstLabels: c.cfg.ConstLabels,
	}, labels)
	registered, err := c.register(name, vec)
	if err != nil {
		slog.Error("metrics: gauge registration failed", "name", name, "error", err)
		return noopGaugeVec{}
	}
	if v, ok := registered.(*prometheus.GaugeVec); ok {
		return promGaugeVec{v}
	}
	return noopGaugeVec{}
}

type promCounterVec struct{ vec *prometheus.CounterVec }

func (v promCounterVec) WithLabelValues(lvs ...string) Counter { return promCounter{v.vec.WithLabelValues(lvs...)} }

type promCounter struct{ c prometheus.Counter }

func (c promCounter) Inc()              { c.c.Inc() }
func (c promCounter) Add(delta float64) { c.c.Add(delta) }

type promHistogramVec struct{ vec *prometheus.HistogramVec }

func (v promHistogramVec) WithLabelValues(lvs ...string) Histogram {
	return promHistogram{v.vec.WithLabelValues(lvs...)}
}

type promHistogram struct{ h prometheus.Observer }

func (h promHistogram) Observe(value float64) { h.h.Observe(value) }

type promGaugeVec struct{ vec *prometheus.GaugeVec }

func (v promGaugeVec) WithLabelValues(lvs ...string) Gauge { return promGauge{v.vec.WithLabelValues(lvs...)} }

type promGauge struct{ g prometheus.Gauge }

func (g promGauge) Set(value float64) { g.g.Set(value) }
func (g promGauge) Inc()              { g.g.Inc() }
func (g promGauge) Dec()              { g.g.Dec() }

type noopCounterVec struct{}

func (noopCounterVec) WithLabelValues(...string) Counter { return noopCounter{} }

type noopCounter struct{}

func (noopCounter) Inc()            {}
func (noopCounter) Add(float64)     {}

type noopHistogramVec struct{}

func (noopHistogramVec) WithLabelValues(...string) Histogram { return noopHistogram{} }

type noopHistogram struct{}

func (noopHistogram) Observe(float64) {}

type noopGaugeVec struct{}

func (noopGaugeVec) WithLabelValues(...string) Gauge { return noopGauge{} }

type noopGauge struct{}

func (noopGauge) Set(float64) {}
func (noopGauge) Inc()        {}
func (noopGauge) Dec()        {}

// Timer observes elapsed wall time into a histogram on ObserveDuration,
// mirroring the stage-duration accounting pattern used throughout
// internal/trace and internal/pipeline.
type Timer struct {
	histogram Histogram
	start     time.Time
}

func NewTimer(histogram Histogram) *Timer {
	return &Timer{histogram: histogram, start: time.Now()}
}

func (t *Timer) ObserveDuration() {
	if t.histogram == nil {
		return
	}
	t.histogram.Observe(time.Since(t.start).Seconds())
}
