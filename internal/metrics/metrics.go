// Package metrics provides Prometheus-compatible metrics for keywedge.
//
// Metrics live in a Registry and are exported in the Prometheus text format
// or as JSON. Every operation is safe for concurrent use.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Labels are constant labels attached to a metric.
type Labels map[string]string

// String renders labels as {k="v",...} with keys sorted.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, l[k])
	}
	b.WriteByte('}')
	return b.String()
}

func (l Labels) with(key, value string) string {
	pair := fmt.Sprintf("%s=%q", key, value)
	s := l.String()
	if s == "" {
		return "{" + pair + "}"
	}
	return strings.TrimSuffix(s, "}") + "," + pair + "}"
}

// desc is what every metric kind shares.
type desc struct {
	name   string
	help   string
	labels Labels
}

// Name returns the full metric name.
func (d *desc) Name() string { return d.name }

func (d *desc) header(b *strings.Builder, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", d.name, d.help, d.name, kind)
}

// metric is implemented by Counter, Gauge and Histogram.
type metric interface {
	Name() string
	expose(b *strings.Builder)
	describe() map[string]any
	snapshot(into map[string]any)
	reset()
}

// Counter only goes up.
type Counter struct {
	desc
	value atomic.Uint64
}

func (c *Counter) Inc()          { c.value.Add(1) }
func (c *Counter) Add(v uint64)  { c.value.Add(v) }
func (c *Counter) Value() uint64 { return c.value.Load() }

func (c *Counter) expose(b *strings.Builder) {
	c.header(b, "counter")
	fmt.Fprintf(b, "%s%s %d\n", c.name, c.labels, c.Value())
}

func (c *Counter) describe() map[string]any {
	return map[string]any{"type": "counter", "help": c.help, "labels": c.labels, "value": c.Value()}
}

func (c *Counter) snapshot(into map[string]any) { into[c.name] = c.Value() }
func (c *Counter) reset()                       { c.value.Store(0) }

// Gauge goes up and down.
type Gauge struct {
	desc
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) expose(b *strings.Builder) {
	g.header(b, "gauge")
	fmt.Fprintf(b, "%s%s %d\n", g.name, g.labels, g.Value())
}

func (g *Gauge) describe() map[string]any {
	return map[string]any{"type": "gauge", "help": g.help, "labels": g.labels, "value": g.Value()}
}

func (g *Gauge) snapshot(into map[string]any) { into[g.name] = g.Value() }
func (g *Gauge) reset()                       { g.value.Store(0) }

// DurationBuckets are bucket bounds for durations, in seconds.
var DurationBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// KeyGapBuckets are bucket bounds for inter-key gaps, in seconds. They are
// dense around the range that separates scanner bursts from typing.
var KeyGapBuckets = []float64{
	0.002, 0.005, 0.01, 0.02, 0.03, 0.04, 0.06, 0.1, 0.2, 0.5, 1,
}

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	desc
	bounds []float64

	mu     sync.Mutex
	counts []uint64 // per bucket, +Inf last
	sum    float64
	count  uint64
}

// Observe records v. A value equal to a bound falls in that bound's bucket.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	h.counts[sort.SearchFloat64s(h.bounds, v)]++
	h.sum += v
	h.count++
	h.mu.Unlock()
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) { h.Observe(d.Seconds()) }

func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// state copies the histogram under its lock. Bucket counts are cumulative.
func (h *Histogram) state() (cum []uint64, sum float64, count uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum = make([]uint64, len(h.counts))
	var total uint64
	for i, c := range h.counts {
		total += c
		cum[i] = total
	}
	return cum, h.sum, h.count
}

func (h *Histogram) bound(i int) string {
	if i == len(h.bounds) {
		return "+Inf"
	}
	return strconv.FormatFloat(h.bounds[i], 'g', -1, 64)
}

func (h *Histogram) expose(b *strings.Builder) {
	cum, sum, count := h.state()
	h.header(b, "histogram")
	for i, n := range cum {
		fmt.Fprintf(b, "%s_bucket%s %d\n", h.name, h.labels.with("le", h.bound(i)), n)
	}
	fmt.Fprintf(b, "%s_sum%s %g\n", h.name, h.labels, sum)
	fmt.Fprintf(b, "%s_count%s %d\n", h.name, h.labels, count)
}

func (h *Histogram) describe() map[string]any {
	cum, sum, count := h.state()
	buckets := make(map[string]uint64, len(cum))
	for i, n := range cum {
		buckets[h.bound(i)] = n
	}
	return map[string]any{
		"type":    "histogram",
		"help":    h.help,
		"labels":  h.labels,
		"buckets": buckets,
		"sum":     sum,
		"count":   count,
	}
}

func (h *Histogram) snapshot(into map[string]any) {
	_, sum, count := h.state()
	into[h.name+"_sum"] = sum
	into[h.name+"_count"] = count
}

func (h *Histogram) reset() {
	h.mu.Lock()
	clear(h.counts)
	h.sum, h.count = 0, 0
	h.mu.Unlock()
}

// Registry holds metrics under namespace_subsystem_name.
type Registry struct {
	namespace string
	subsystem string

	mu      sync.RWMutex
	metrics map[string]metric
}

// NewRegistry creates an empty Registry. Either prefix may be empty.
func NewRegistry(namespace, subsystem string) *Registry {
	return &Registry{namespace: namespace, subsystem: subsystem, metrics: make(map[string]metric)}
}

func (r *Registry) fullName(name string) string {
	var parts []string
	for _, p := range []string{r.namespace, r.subsystem, name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "_")
}

// register returns the metric already registered under name when it has the
// same kind, and otherwise installs a new one.
func register[M metric](r *Registry, name string, build func(desc) M, help string, labels Labels) M {
	r.mu.Lock()
	defer r.mu.Unlock()
	full := r.fullName(name)
	if m, ok := r.metrics[full].(M); ok {
		return m
	}
	m := build(desc{name: full, help: help, labels: labels})
	r.metrics[full] = m
	return m
}

func (r *Registry) RegisterCounter(name, help string, labels Labels) *Counter {
	return register(r, name, func(d desc) *Counter { return &Counter{desc: d} }, help, labels)
}

func (r *Registry) RegisterGauge(name, help string, labels Labels) *Gauge {
	return register(r, name, func(d desc) *Gauge { return &Gauge{desc: d} }, help, labels)
}

// RegisterHistogram registers a histogram. Nil buckets means DurationBuckets.
func (r *Registry) RegisterHistogram(name, help string, labels Labels, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DurationBuckets
	}
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	return register(r, name, func(d desc) *Histogram {
		return &Histogram{desc: d, bounds: bounds, counts: make([]uint64, len(bounds)+1)}
	}, help, labels)
}

// Lookup returns the metric registered under the short name, or nil.
func (r *Registry) Lookup(name string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[r.fullName(name)]
}

func (r *Registry) sorted() []metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// WritePrometheus writes every metric in the text exposition format, sorted
// by name.
func (r *Registry) WritePrometheus(w io.Writer) error {
	var b strings.Builder
	for _, m := range r.sorted() {
		m.expose(&b)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON writes an indented object keyed by metric name.
func (r *Registry) WriteJSON(w io.Writer) error {
	out := make(map[string]any)
	for _, m := range r.sorted() {
		out[m.Name()] = m.describe()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Snapshot returns current values keyed by full name. Histograms contribute
// _sum and _count entries.
func (r *Registry) Snapshot() map[string]any {
	snap := make(map[string]any)
	for _, m := range r.sorted() {
		m.snapshot(snap)
	}
	return snap
}

// Reset zeroes every metric.
func (r *Registry) Reset() {
	for _, m := range r.sorted() {
		m.reset()
	}
}

// HTTPHandler serves JSON to clients that accept it and the Prometheus text
// format to everyone else.
func (r *Registry) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.Contains(req.Header.Get("Accept"), "application/json") {
			w.Header().Set("Content-Type", "application/json")
			_ = r.WriteJSON(w)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_ = r.WritePrometheus(w)
	})
}

var defaultRegistry = NewRegistry("keywedge", "")

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }
