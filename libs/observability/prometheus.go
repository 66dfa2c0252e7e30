// prometheus.go is a dependency-free metrics registry speaking the
// Prometheus text exposition format (text/plain; version=0.0.4). The
// engine's collectors are counters, gauges, and fixed-bucket histograms,
// all label-aware and safe for concurrent use; [Registry.WriteText]
// renders the whole registry for any HTTP handler to serve.
package observability

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry owns a process's (or a test's) collectors.
type Registry struct {
	mu         sync.RWMutex
	collectors []collector
}

// collector is one named metric family able to render its samples.
type collector interface {
	family() (name, help, kind string)
	expose(w io.Writer)
}

// NewRegistry returns an empty registry. The zero value is not usable.
func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) add(c collector) {
	r.mu.Lock()
	r.collectors = append(r.collectors, c)
	r.mu.Unlock()
}

// WriteText renders every collector, in registration order, with its
// HELP/TYPE header.
func (r *Registry) WriteText(w io.Writer) {
	r.mu.RLock()
	cs := append([]collector(nil), r.collectors...)
	r.mu.RUnlock()

	for _, c := range cs {
		name, help, kind := c.family()
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
		c.expose(w)
	}
}

// labelSet is alternating key/value pairs as passed to Inc/Set/Observe.
type labelSet []string

// id is the map key identifying one labelled series within a family.
func (l labelSet) id() string { return strings.Join(l, "\x00") }

// render formats the set as {k="v",...}, empty for no labels.
func (l labelSet) render() string {
	if len(l) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i := 0; i+1 < len(l); i += 2 {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(l[i])
		sb.WriteString(`="`)
		sb.WriteString(strings.ReplaceAll(l[i+1], `"`, `\"`))
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}

// renderWithLE formats the set with an extra le label appended, as
// histogram bucket lines require.
func (l labelSet) renderWithLE(le string) string {
	if len(l) == 0 {
		return fmt.Sprintf(`{le="%s"}`, le)
	}
	base := l.render()
	return fmt.Sprintf(`%s,le="%s"}`, base[:len(base)-1], le)
}

// sortedIDs returns the series ids of m in stable order, so exposition
// output is deterministic across scrapes.
func sortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Counter is a monotone family; negative deltas are discarded.
type Counter struct {
	name, help string
	mu         sync.RWMutex
	series     map[string]*counterSeries
}

type counterSeries struct {
	labels labelSet
	value  float64
}

// NewCounter registers a counter family on r.
func (r *Registry) NewCounter(name, help string) *Counter {
	c := &Counter{name: name, help: help, series: make(map[string]*counterSeries)}
	r.add(c)
	return c
}

func (c *Counter) family() (string, string, string) { return c.name, c.help, "counter" }

// Inc adds 1 to the series named by the label pairs.
func (c *Counter) Inc(labels ...string) { c.Add(1, labels...) }

// Add adds delta (ignored when negative) to the series.
func (c *Counter) Add(delta float64, labels ...string) {
	if delta < 0 {
		return
	}
	ls := labelSet(labels)
	c.mu.Lock()
	s, ok := c.series[ls.id()]
	if !ok {
		s = &counterSeries{labels: ls}
		c.series[ls.id()] = s
	}
	s.value += delta
	c.mu.Unlock()
}

// Value reads the series' current value; 0 when it was never touched.
func (c *Counter) Value(labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.series[labelSet(labels).id()]; ok {
		return s.value
	}
	return 0
}

func (c *Counter) expose(w io.Writer) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range sortedIDs(c.series) {
		s := c.series[id]
		fmt.Fprintf(w, "%s%s %s\n", c.name, s.labels.render(), formatFloat(s.value))
	}
}

// Gauge is a family of freely settable values.
type Gauge struct {
	name, help string
	mu         sync.RWMutex
	series     map[string]*gaugeSeries
}

type gaugeSeries struct {
	labels labelSet
	value  float64
}

// NewGauge registers a gauge family on r.
func (r *Registry) NewGauge(name, help string) *Gauge {
	g := &Gauge{name: name, help: help, series: make(map[string]*gaugeSeries)}
	r.add(g)
	return g
}

func (g *Gauge) family() (string, string, string) { return g.name, g.help, "gauge" }

// Set overwrites the series' value.
func (g *Gauge) Set(v float64, labels ...string) {
	g.mu.Lock()
	g.upsert(labels).value = v
	g.mu.Unlock()
}

// Add shifts the series by delta, which may be negative.
func (g *Gauge) Add(delta float64, labels ...string) {
	g.mu.Lock()
	g.upsert(labels).value += delta
	g.mu.Unlock()
}

// upsert must be called with g.mu held.
func (g *Gauge) upsert(labels []string) *gaugeSeries {
	ls := labelSet(labels)
	s, ok := g.series[ls.id()]
	if !ok {
		s = &gaugeSeries{labels: ls}
		g.series[ls.id()] = s
	}
	return s
}

// Value reads the series' current value; 0 when it was never set.
func (g *Gauge) Value(labels ...string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if s, ok := g.series[labelSet(labels).id()]; ok {
		return s.value
	}
	return 0
}

func (g *Gauge) expose(w io.Writer) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, id := range sortedIDs(g.series) {
		s := g.series[id]
		fmt.Fprintf(w, "%s%s %s\n", g.name, s.labels.render(), formatFloat(s.value))
	}
}

// DefaultBuckets spans 1ms to 10s, the latency range of interest for
// order fills and orchestration sweeps.
var DefaultBuckets = []float64{
	0.001, 0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// Histogram buckets observations under fixed upper bounds.
type Histogram struct {
	name, help string
	bounds     []float64
	mu         sync.RWMutex
	series     map[string]*histSeries
}

type histSeries struct {
	labels     labelSet
	count      int64
	sum        float64
	cumulative []int64 // per-bound cumulative counts
}

// NewHistogram registers a histogram family with the given bucket upper
// bounds (sorted internally); nil means DefaultBuckets.
func (r *Registry) NewHistogram(name, help string, bounds []float64) *Histogram {
	if bounds == nil {
		bounds = DefaultBuckets
	}
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	h := &Histogram{name: name, help: help, bounds: sorted, series: make(map[string]*histSeries)}
	r.add(h)
	return h
}

func (h *Histogram) family() (string, string, string) { return h.name, h.help, "histogram" }

// Observe records one sample.
func (h *Histogram) Observe(v float64, labels ...string) {
	ls := labelSet(labels)
	h.mu.Lock()
	s, ok := h.series[ls.id()]
	if !ok {
		s = &histSeries{labels: ls, cumulative: make([]int64, len(h.bounds))}
		h.series[ls.id()] = s
	}
	s.count++
	s.sum += v
	for i, ub := range h.bounds {
		if v <= ub {
			s.cumulative[i]++
		}
	}
	h.mu.Unlock()
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration, labels ...string) {
	h.Observe(d.Seconds(), labels...)
}

func (h *Histogram) expose(w io.Writer) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range sortedIDs(h.series) {
		s := h.series[id]
		for i, ub := range h.bounds {
			fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, s.labels.renderWithLE(formatFloat(ub)), s.cumulative[i])
		}
		fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, s.labels.renderWithLE("+Inf"), s.count)
		fmt.Fprintf(w, "%s_sum%s %s\n", h.name, s.labels.render(), formatFloat(s.sum))
		fmt.Fprintf(w, "%s_count%s %d\n", h.name, s.labels.render(), s.count)
	}
}

// EngineMetrics is the pre-wired set of counters/gauges/histograms the
// options engine exports: one collector per event the engine emits (ticks,
// frames dropped, reconnects, candles finalised, signals by kind, risk
// rejections by code, fills, exits by reason). The Record* helpers feed
// the package-level DefaultMetrics instance.
type EngineMetrics struct {
	TicksProcessed   *Counter
	FramesDropped    *Counter
	FeedReconnects   *Counter
	CandlesFinalised *Counter
	SignalsIssued    *Counter
	RiskRejections   *Counter
	OrderFills       *Counter
	PositionCloses   *Counter
	OrderFillLatency *Histogram
	PositionHoldTime *Histogram
	OpenPositions    *Gauge
	AccountEquity    *Gauge
}

// NewEngineMetrics registers all standard engine metrics into reg.
func NewEngineMetrics(reg *Registry) *EngineMetrics {
	return &EngineMetrics{
		TicksProcessed: reg.NewCounter(
			"options_engine_ticks_processed_total",
			"Total ticks decoded and routed to an instrument lane."),
		FramesDropped: reg.NewCounter(
			"options_engine_frames_dropped_total",
			"Total feed frames discarded as malformed."),
		FeedReconnects: reg.NewCounter(
			"options_engine_feed_reconnects_total",
			"Total feed reconnect attempts."),
		CandlesFinalised: reg.NewCounter(
			"options_engine_candles_finalised_total",
			"Total candles finalised by the candle manager."),
		SignalsIssued: reg.NewCounter(
			"options_engine_signals_issued_total",
			"Total non-HOLD signals issued, by kind."),
		RiskRejections: reg.NewCounter(
			"options_engine_risk_rejections_total",
			"Total entries rejected by the risk gate, by rejection code."),
		OrderFills: reg.NewCounter(
			"options_engine_order_fills_total",
			"Total orders filled, by status."),
		PositionCloses: reg.NewCounter(
			"options_engine_position_closes_total",
			"Total positions closed, by exit reason."),
		OrderFillLatency: reg.NewHistogram(
			"options_engine_order_fill_latency_seconds",
			"Latency from order placement to fill acknowledgement.",
			[]float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0}),
		PositionHoldTime: reg.NewHistogram(
			"options_engine_position_hold_seconds",
			"Realised holding time per closed position, in seconds.",
			[]float64{30, 60, 300, 900, 1800, 3600, 7200, 21600}),
		OpenPositions: reg.NewGauge(
			"options_engine_open_positions",
			"Number of currently open positions."),
		AccountEquity: reg.NewGauge(
			"options_engine_account_equity",
			"Current paper or live account equity mark-to-market."),
	}
}

// formatFloat renders v the way Prometheus expects, including the
// infinities a bucket bound can carry.
func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	}
	return fmt.Sprintf("%g", v)
}
