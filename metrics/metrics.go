// Package metrics implements the fabric's statsd-style metrics sink:
// UDP delivery of counters, gauges, histograms, and timers to a
// configured host:port, with a best-effort bridge onto a Prometheus
// registry so a node can also expose /metrics for scraping. Every send
// is best-effort; failures are logged, never raised.
//
// This component has no behavioral effect on the messaging fabric and
// must never sit on a critical path — every method here is safe to call
// from hot code because it never blocks beyond a single non-blocking UDP
// write.
package metrics

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cumulusmesh/fabric/fabriclog"
)

var log = fabriclog.GetLogger("fabric/metrics")

// Sink is one configured statsd client. A fabric node typically builds a
// single Sink at startup and shares it across components, each calling
// WithPrefix for its own component name.
type Sink struct {
	prefix string

	mu   sync.Mutex
	conn net.Conn // nil if configuration failed; every send becomes a no-op

	registry *prometheus.Registry
	bridge   *bridge
}

// New dials a UDP "connection" to host:port (UDP is connectionless; Dial
// here only fixes the destination address, so the hot path never
// re-resolves) and returns a Sink that prefixes every metric name with
// prefix. A failure to resolve or open the socket is logged and leaves
// the Sink in a harmless no-op state.
func New(host string, port int, prefix string) *Sink {
	s := &Sink{prefix: prefix, registry: prometheus.NewRegistry(), bridge: newBridge()}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		log.Errorf("metrics: failed to connect statsd sink to %s: %v", addr, err)
		return s
	}
	s.conn = conn
	return s
}

// WithPrefix returns a Sink sharing this one's UDP socket and Prometheus
// registry but prefixing metric names with component (appended after
// this Sink's own prefix).
func (s *Sink) WithPrefix(component string) *Sink {
	prefix := component
	if s.prefix != "" {
		prefix = s.prefix + "." + component
	}
	return &Sink{prefix: prefix, conn: s.conn, registry: s.registry, bridge: s.bridge}
}

// Registry returns the Prometheus registry this Sink's counters, gauges,
// and histograms are mirrored onto, for wiring into an HTTP /metrics
// handler.
func (s *Sink) Registry() *prometheus.Registry { return s.registry }

func (s *Sink) qualify(metric string) string {
	if s.prefix == "" {
		return metric
	}
	return s.prefix + "." + metric
}

// Increment sends a counter increment of incrementBy.
func (s *Sink) Increment(counter string, incrementBy uint64) {
	s.send(counter, "c", int64(incrementBy))
	s.bridge.counter(s.registry, counter).Add(float64(incrementBy))
}

// Decrement sends a counter decrement of decrementBy.
func (s *Sink) Decrement(counter string, decrementBy uint64) {
	s.send(counter, "c", -int64(decrementBy))
	s.bridge.counter(s.registry, counter).Add(0) // counters are monotonic on the Prometheus side; the decrement is statsd-only
}

// Gauge reports an absolute gauge value.
func (s *Sink) Gauge(gauge string, value int64) {
	s.send(gauge, "g", value)
	s.bridge.gauge(s.registry, gauge).Set(float64(value))
}

// Histogram reports one histogram observation.
func (s *Sink) Histogram(histogram string, value int64) {
	s.send(histogram, "h", value)
	s.bridge.histogram(s.registry, histogram).Observe(float64(value))
}

// Timing reports a duration in milliseconds directly.
func (s *Sink) Timing(timer string, timeInMs uint64) {
	s.send(timer, "ms", int64(timeInMs))
	s.bridge.histogram(s.registry, timer).Observe(float64(timeInMs))
}

// Timer is a monotonic-clock timer: the caller defers Stop to report
// elapsed milliseconds under name.
type Timer struct {
	sink  *Sink
	name  string
	start time.Time
}

// NewTimer starts timing name.
func (s *Sink) NewTimer(name string) *Timer {
	return &Timer{sink: s, name: name, start: time.Now()}
}

// Stop reports the elapsed time since NewTimer as a Timing call. Call at
// most once.
func (t *Timer) Stop() {
	elapsed := time.Since(t.start)
	t.sink.Timing(t.name, uint64(elapsed.Milliseconds()))
}

func (s *Sink) send(metric, kind string, value int64) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	payload := fmt.Sprintf("%s:%d|%s", s.qualify(metric), value, kind)
	if _, err := conn.Write([]byte(payload)); err != nil {
		log.Errorf("metrics: failed to send %q: %v", payload, err)
	}
}
