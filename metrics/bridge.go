package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// bridge lazily registers one Prometheus collector per distinct metric
// name the first time it's observed. Best-effort: it never blocks or
// fails the UDP path above it. A name collision
// across metric kinds (e.g. the same string used once as a counter and
// once as a gauge) keeps whichever collector registered first; the later
// kind's values then reach statsd only.
type bridge struct {
	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

func newBridge() *bridge {
	return &bridge{
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
}

func (b *bridge) counter(reg *prometheus.Registry, name string) prometheus.Counter {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: sanitize(name), Help: "fabric metric: " + name})
	_ = reg.Register(c) // a name already taken by another kind keeps its first collector
	b.counters[name] = c
	return c
}

func (b *bridge) gauge(reg *prometheus.Registry, name string) prometheus.Gauge {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g, ok := b.gauges[name]; ok {
		return g
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: sanitize(name), Help: "fabric metric: " + name})
	_ = reg.Register(g) // a name already taken by another kind keeps its first collector
	b.gauges[name] = g
	return g
}

func (b *bridge) histogram(reg *prometheus.Registry, name string) prometheus.Histogram {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.histograms[name]; ok {
		return h
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: sanitize(name), Help: "fabric metric: " + name})
	_ = reg.Register(h) // a name already taken by another kind keeps its first collector
	b.histograms[name] = h
	return h
}

// sanitize replaces characters Prometheus metric names disallow (statsd
// names are dot-separated; Prometheus wants underscores) without
// depending on the symbol package's safe-symbol rule, which is reserved
// for wire-level identifiers rather than metrics names.
func sanitize(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return "fabric_" + string(out)
}
