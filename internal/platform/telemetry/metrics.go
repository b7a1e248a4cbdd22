package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// defaultDurationBuckets are the histogram bucket boundaries (in seconds)
// used for HTTP request duration.
var defaultDurationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// histogram is a thread-safe histogram with fixed bucket boundaries. Bucket
// counts are non-cumulative in storage; cumulative counts are computed at
// export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits, updated with CAS
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		next := math.Float64bits(math.Float64frombits(old) + v)
		if atomic.CompareAndSwapUint64(&h.sum, old, next) {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	var running int64
	for i, c := range raw {
		running += c
		raw[i] = running
	}
	return raw
}

// counterVec is a set of counters keyed by a single label value.
type counterVec struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterVec() *counterVec {
	return &counterVec{items: make(map[string]*int64)}
}

func (v *counterVec) inc(label string) {
	v.mu.RLock()
	p, ok := v.items[label]
	v.mu.RUnlock()
	if !ok {
		v.mu.Lock()
		p, ok = v.items[label]
		if !ok {
			p = new(int64)
			v.items[label] = p
		}
		v.mu.Unlock()
	}
	atomic.AddInt64(p, 1)
}

func (v *counterVec) get(label string) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if p, ok := v.items[label]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

// snapshot returns label/value pairs sorted by label.
func (v *counterVec) snapshot() ([]string, []int64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	labels := make([]string, 0, len(v.items))
	for k := range v.items {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	values := make([]int64, len(labels))
	for i, k := range labels {
		values[i] = atomic.LoadInt64(v.items[k])
	}
	return labels, values
}

// Metrics records HTTP server metrics and appointment outcomes and serves
// them in Prometheus text exposition format.
type Metrics struct {
	mu        sync.RWMutex
	durations map[string]*histogram // key: method|route|status

	active     int64
	rejections *counterVec // by reason
	events     *counterVec // by event type
}

func NewMetrics() *Metrics {
	return &Metrics{
		durations:  make(map[string]*histogram),
		rejections: newCounterVec(),
		events:     newCounterVec(),
	}
}

// LabelsKey builds the map key of a request duration histogram.
func LabelsKey(method, route, statusCode string) string {
	return method + "|" + route + "|" + statusCode
}

func (m *Metrics) duration(key string) *histogram {
	m.mu.RLock()
	h, ok := m.durations[key]
	m.mu.RUnlock()
	if ok {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.durations[key]; !ok {
		h = newHistogram(defaultDurationBuckets)
		m.durations[key] = h
	}
	return h
}

// ObserveRejection counts a proposal the validator turned down.
func (m *Metrics) ObserveRejection(reason string) { m.rejections.inc(reason) }

// ObserveEvent counts an appointment lifecycle event.
func (m *Metrics) ObserveEvent(eventType string) { m.events.inc(eventType) }

func (m *Metrics) Rejections(reason string) int64 { return m.rejections.get(reason) }

func (m *Metrics) Events(eventType string) int64 { return m.events.get(eventType) }

// Histogram returns the duration histogram for a label set, or nil.
func (m *Metrics) Histogram(key string) *histogram {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.durations[key]
}

// Middleware records request duration by method, route pattern, and status.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			defer atomic.AddInt64(&m.active, -1)

			start := time.Now()
			err := next(c)
			elapsed := time.Since(start).Seconds()

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			m.duration(LabelsKey(c.Request().Method, route, fmt.Sprintf("%d", status))).Observe(elapsed)
			return err
		}
	}
}

// Handler serves the metrics at /metrics.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
		b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
		m.mu.RLock()
		keys := make([]string, 0, len(m.durations))
		for k := range m.durations {
			keys = append(keys, k)
		}
		m.mu.RUnlock()
		sort.Strings(keys)
		for _, k := range keys {
			parts := strings.SplitN(k, "|", 3)
			if len(parts) != 3 {
				continue
			}
			labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
			writeHistogram(&b, "http_server_request_duration_seconds", labels, m.Histogram(k))
		}
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.active))

		writeCounterVec(&b, "citas_proposal_rejections_total", "Proposals rejected by the validator.", "reason", m.rejections)
		writeCounterVec(&b, "citas_appointment_events_total", "Appointment lifecycle events.", "type", m.events)

		return c.String(http.StatusOK, b.String())
	}
}

func writeCounterVec(b *strings.Builder, name, help, label string, v *counterVec) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)
	labels, values := v.snapshot()
	for i, l := range labels {
		fmt.Fprintf(b, "%s{%s=%q} %d\n", name, label, l, values[i])
	}
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	if h == nil {
		return
	}
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}
