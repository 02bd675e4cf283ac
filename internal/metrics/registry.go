// Package metrics implements the Counter/Gauge/Histogram registry of
// spec component J, adapted from the teacher's observability.Metrics
// (Prometheus text + JSON exposition, per-metric locking, sorted label
// keys) and generalized with an explicit label-schema declaration at
// registration time.
package metrics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Counter is a monotonically non-decreasing value.
type Counter struct{ value int64 }

func (c *Counter) Inc()         { atomic.AddInt64(&c.value, 1) }
func (c *Counter) Add(n int64)  { atomic.AddInt64(&c.value, n) }
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.value) }

// Gauge is a value that can move in either direction, stored as
// microunits internally so Set/Inc/Dec stay lock-free.
type Gauge struct{ micros int64 }

func (g *Gauge) Set(v float64)  { atomic.StoreInt64(&g.micros, int64(v*1e6)) }
func (g *Gauge) Inc()           { atomic.AddInt64(&g.micros, 1e6) }
func (g *Gauge) Dec()           { atomic.AddInt64(&g.micros, -1e6) }
func (g *Gauge) Value() float64 { return float64(atomic.LoadInt64(&g.micros)) / 1e6 }

// Histogram tracks a value distribution over pre-configured bucket
// boundaries, emitting _count, _sum, and cumulative per-bucket counts.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
}

func newHistogram(buckets []float64) *Histogram {
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	return &Histogram{buckets: sorted, counts: make([]int64, len(sorted)+1)}
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
			return
		}
	}
	h.counts[len(h.buckets)]++
}

func (h *Histogram) snapshot() (buckets []float64, cumulative []int64, sum float64, count int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cumulative = make([]int64, len(h.counts))
	var running int64
	for i, c := range h.counts {
		running += c
		cumulative[i] = running
	}
	return append([]float64(nil), h.buckets...), cumulative, h.sum, h.count
}

// LatencyBuckets are the default histogram boundaries for millisecond latencies.
var LatencyBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// RatioBuckets are the default boundaries for [0,1]-valued observations
// such as cosine similarity scores.
var RatioBuckets = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0}

func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return strings.Join(parts, ",")
}

type counterFamily struct {
	mu     sync.RWMutex
	byKey  map[string]*Counter
	labels []string
}

type gaugeFamily struct {
	mu     sync.RWMutex
	byKey  map[string]*Gauge
	labels []string
}

type histogramFamily struct {
	mu      sync.RWMutex
	byKey   map[string]*Histogram
	labels  []string
	buckets []float64
}

// Registry is the central metrics registry. All methods are thread-safe.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*counterFamily
	gauges     map[string]*gaugeFamily
	histograms map[string]*histogramFamily
}

// NewRegistry creates an empty metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*counterFamily),
		gauges:     make(map[string]*gaugeFamily),
		histograms: make(map[string]*histogramFamily),
	}
}

// RegisterCounter declares a counter family with its label schema. Safe to
// call more than once with the same name; the first registration's schema wins.
func (r *Registry) RegisterCounter(name string, labelSchema ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.counters[name]; !ok {
		r.counters[name] = &counterFamily{byKey: make(map[string]*Counter), labels: labelSchema}
	}
}

// RegisterGauge declares a gauge family with its label schema.
func (r *Registry) RegisterGauge(name string, labelSchema ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.gauges[name]; !ok {
		r.gauges[name] = &gaugeFamily{byKey: make(map[string]*Gauge), labels: labelSchema}
	}
}

// RegisterHistogram declares a histogram family with explicit buckets.
func (r *Registry) RegisterHistogram(name string, buckets []float64, labelSchema ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.histograms[name]; !ok {
		r.histograms[name] = &histogramFamily{byKey: make(map[string]*Histogram), labels: labelSchema, buckets: buckets}
	}
}

// Unregister removes a metric family entirely; collect() afterwards
// yields no samples for it (spec §8 round-trip property).
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.counters, name)
	delete(r.gauges, name)
	delete(r.histograms, name)
}

func (r *Registry) counter(name string, labels map[string]string) *Counter {
	r.mu.RLock()
	fam, ok := r.counters[name]
	r.mu.RUnlock()
	if !ok {
		r.RegisterCounter(name)
		r.mu.RLock()
		fam = r.counters[name]
		r.mu.RUnlock()
	}
	key := labelKey(labels)
	fam.mu.RLock()
	c, ok := fam.byKey[key]
	fam.mu.RUnlock()
	if ok {
		return c
	}
	fam.mu.Lock()
	defer fam.mu.Unlock()
	if c, ok := fam.byKey[key]; ok {
		return c
	}
	c = &Counter{}
	fam.byKey[key] = c
	return c
}

func (r *Registry) gauge(name string, labels map[string]string) *Gauge {
	r.mu.RLock()
	fam, ok := r.gauges[name]
	r.mu.RUnlock()
	if !ok {
		r.RegisterGauge(name)
		r.mu.RLock()
		fam = r.gauges[name]
		r.mu.RUnlock()
	}
	key := labelKey(labels)
	fam.mu.RLock()
	g, ok := fam.byKey[key]
	fam.mu.RUnlock()
	if ok {
		return g
	}
	fam.mu.Lock()
	defer fam.mu.Unlock()
	if g, ok := fam.byKey[key]; ok {
		return g
	}
	g = &Gauge{}
	fam.byKey[key] = g
	return g
}

func (r *Registry) histogram(name string, labels map[string]string) *Histogram {
	r.mu.RLock()
	fam, ok := r.histograms[name]
	r.mu.RUnlock()
	if !ok {
		r.RegisterHistogram(name, LatencyBuckets)
		r.mu.RLock()
		fam = r.histograms[name]
		r.mu.RUnlock()
	}
	key := labelKey(labels)
	fam.mu.RLock()
	h, ok := fam.byKey[key]
	fam.mu.RUnlock()
	if ok {
		return h
	}
	fam.mu.Lock()
	defer fam.mu.Unlock()
	if h, ok := fam.byKey[key]; ok {
		return h
	}
	h = newHistogram(fam.buckets)
	fam.byKey[key] = h
	return h
}

// CounterInc increments a counter, registering it implicitly if needed.
func (r *Registry) CounterInc(name string, labels map[string]string) { r.counter(name, labels).Inc() }

// CounterAdd adds n to a counter.
func (r *Registry) CounterAdd(name string, labels map[string]string, n int64) {
	r.counter(name, labels).Add(n)
}

// GaugeSet sets a gauge's value.
func (r *Registry) GaugeSet(name string, labels map[string]string, v float64) {
	r.gauge(name, labels).Set(v)
}

// HistogramObserve records an observation.
func (r *Registry) HistogramObserve(name string, labels map[string]string, v float64) {
	r.histogram(name, labels).Observe(v)
}

// ─── Exposition ─────────────────────────────────────────────

// WritePrometheus renders the registry in Prometheus text exposition format.
func (r *Registry) WritePrometheus() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sb strings.Builder
	for name, fam := range r.counters {
		fam.mu.RLock()
		sb.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
		for lk, c := range fam.byKey {
			writeSample(&sb, name, lk, fmt.Sprintf("%d", c.Value()))
		}
		fam.mu.RUnlock()
	}
	for name, fam := range r.gauges {
		fam.mu.RLock()
		sb.WriteString(fmt.Sprintf("# TYPE %s gauge\n", name))
		for lk, g := range fam.byKey {
			writeSample(&sb, name, lk, fmt.Sprintf("%f", g.Value()))
		}
		fam.mu.RUnlock()
	}
	for name, fam := range r.histograms {
		fam.mu.RLock()
		sb.WriteString(fmt.Sprintf("# TYPE %s histogram\n", name))
		for lk, h := range fam.byKey {
			buckets, cumulative, sum, count := h.snapshot()
			for i, b := range buckets {
				leLabel := joinLabel(lk, fmt.Sprintf("le=%q", fmt.Sprintf("%g", b)))
				sb.WriteString(fmt.Sprintf("%s_bucket{%s} %d\n", name, leLabel, cumulative[i]))
			}
			infLabel := joinLabel(lk, `le="+Inf"`)
			sb.WriteString(fmt.Sprintf("%s_bucket{%s} %d\n", name, infLabel, cumulative[len(buckets)]))
			writeSample(&sb, name+"_sum", lk, fmt.Sprintf("%f", sum))
			writeSample(&sb, name+"_count", lk, fmt.Sprintf("%d", count))
		}
		fam.mu.RUnlock()
	}
	return sb.String()
}

func writeSample(sb *strings.Builder, name, labelKey, value string) {
	if labelKey == "" {
		sb.WriteString(fmt.Sprintf("%s %s\n", name, value))
	} else {
		sb.WriteString(fmt.Sprintf("%s{%s} %s\n", name, labelKey, value))
	}
}

func joinLabel(existing, extra string) string {
	if existing == "" {
		return extra
	}
	return existing + "," + extra
}

// Sample is one JSON-exported metric observation.
type Sample struct {
	Name   string            `json:"name"`
	Type   string            `json:"type"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// WriteJSON renders the registry as a flat JSON list of samples.
func (r *Registry) WriteJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	samples := make([]Sample, 0)
	for name, fam := range r.counters {
		fam.mu.RLock()
		for lk, c := range fam.byKey {
			samples = append(samples, Sample{Name: name, Type: "counter", Labels: parseLabelKey(lk), Value: float64(c.Value())})
		}
		fam.mu.RUnlock()
	}
	for name, fam := range r.gauges {
		fam.mu.RLock()
		for lk, g := range fam.byKey {
			samples = append(samples, Sample{Name: name, Type: "gauge", Labels: parseLabelKey(lk), Value: g.Value()})
		}
		fam.mu.RUnlock()
	}
	for name, fam := range r.histograms {
		fam.mu.RLock()
		for lk, h := range fam.byKey {
			_, _, sum, count := h.snapshot()
			samples = append(samples, Sample{Name: name + "_sum", Type: "histogram", Labels: parseLabelKey(lk), Value: sum})
			samples = append(samples, Sample{Name: name + "_count", Type: "histogram", Labels: parseLabelKey(lk), Value: float64(count)})
		}
		fam.mu.RUnlock()
	}
	return json.Marshal(samples)
}

func parseLabelKey(lk string) map[string]string {
	if lk == "" {
		return nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(lk, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = strings.Trim(kv[1], `"`)
	}
	return out
}
