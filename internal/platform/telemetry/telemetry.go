// Package telemetry records HTTP and row store metrics and serves them in the
// Prometheus text exposition format.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/patientsheet/internal/platform/rowstore"
)

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

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

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

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

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(next)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Labeled stores
// ---------------------------------------------------------------------------

// labelsKey joins label values in declaration order.
func labelsKey(values ...string) string {
	return strings.Join(values, "|")
}

type histogramStore struct {
	mu    sync.RWMutex
	items map[string]*histogram
}

func (s *histogramStore) get(key string) *histogram {
	s.mu.RLock()
	h, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return h
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.items[key]; !ok {
		h = newHistogram(defaultDurationBuckets)
		s.items[key] = h
	}
	return h
}

func (s *histogramStore) snapshot() map[string]*histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]*histogram, len(s.items))
	for k, v := range s.items {
		cp[k] = v
	}
	return cp
}

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func (s *counterStore) inc(key string) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		if p, ok = s.items[key]; !ok {
			p = new(int64)
			s.items[key] = p
		}
		s.mu.Unlock()
	}
	atomic.AddInt64(p, 1)
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *counterStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics holds every series the process exports.
type Metrics struct {
	active     int64
	httpTiming histogramStore // method|route|status
	storeOps   counterStore   // table|op|outcome
	storeTime  histogramStore // op
}

func New() *Metrics {
	return &Metrics{
		httpTiming: histogramStore{items: make(map[string]*histogram)},
		storeOps:   counterStore{items: make(map[string]*int64)},
		storeTime:  histogramStore{items: make(map[string]*histogram)},
	}
}

// StoreOps returns how many times op ran against table with the given
// outcome ("ok" or "error").
func (m *Metrics) StoreOps(table, op, outcome string) int64 {
	return m.storeOps.get(labelsKey(table, op, outcome))
}

func (m *Metrics) observeStore(table, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.storeOps.inc(labelsKey(table, op, outcome))
	m.storeTime.get(op).Observe(time.Since(start).Seconds())
}

// Middleware records request duration by route pattern and status code.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			atomic.AddInt64(&m.active, -1)
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			key := labelsKey(c.Request().Method, route, strconv.Itoa(c.Response().Status))
			m.httpTiming.get(key).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// Handler serves all series at /metrics.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		writeHistograms(&b, "http_server_request_duration_seconds",
			"Duration of HTTP requests in seconds.",
			[]string{"method", "route", "status_code"}, m.httpTiming.snapshot())

		b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.active))

		b.WriteString("# HELP rowstore_operations_total Row store calls by table, operation and outcome.\n")
		b.WriteString("# TYPE rowstore_operations_total counter\n")
		ops := m.storeOps.snapshot()
		for _, key := range sortedKeys(ops) {
			fmt.Fprintf(&b, "rowstore_operations_total{%s} %d\n",
				labels([]string{"table", "operation", "outcome"}, key), ops[key])
		}
		b.WriteByte('\n')

		writeHistograms(&b, "rowstore_operation_duration_seconds",
			"Duration of row store calls in seconds.",
			[]string{"operation"}, m.storeTime.snapshot())

		return c.String(http.StatusOK, b.String())
	}
}

// ---------------------------------------------------------------------------
// Instrumented store
// ---------------------------------------------------------------------------

// InstrumentStore wraps s so every call is counted and timed.
func (m *Metrics) InstrumentStore(s rowstore.Store) rowstore.Store {
	return &instrumented{Store: s, m: m}
}

type instrumented struct {
	rowstore.Store
	m *Metrics
}

func (i *instrumented) FetchAll(ctx context.Context, table string) ([]rowstore.Record, error) {
	start := time.Now()
	recs, err := i.Store.FetchAll(ctx, table)
	i.m.observeStore(table, "fetch_all", start, err)
	return recs, err
}

func (i *instrumented) Header(ctx context.Context, table string) ([]string, error) {
	start := time.Now()
	h, err := i.Store.Header(ctx, table)
	i.m.observeStore(table, "header", start, err)
	return h, err
}

func (i *instrumented) AppendRow(ctx context.Context, table string, values []string) error {
	start := time.Now()
	err := i.Store.AppendRow(ctx, table, values)
	i.m.observeStore(table, "append_row", start, err)
	return err
}

func (i *instrumented) DeleteRow(ctx context.Context, table string, row int) error {
	start := time.Now()
	err := i.Store.DeleteRow(ctx, table, row)
	i.m.observeStore(table, "delete_row", start, err)
	return err
}

func (i *instrumented) EnsureTable(ctx context.Context, table string, header []string) error {
	start := time.Now()
	err := i.Store.EnsureTable(ctx, table, header)
	i.m.observeStore(table, "ensure_table", start, err)
	return err
}

func (i *instrumented) UpdateHeader(ctx context.Context, table string, header []string) error {
	start := time.Now()
	err := i.Store.UpdateHeader(ctx, table, header)
	i.m.observeStore(table, "update_header", start, err)
	return err
}

// ---------------------------------------------------------------------------
// Prometheus format helpers
// ---------------------------------------------------------------------------

func writeHistograms(b *strings.Builder, name, help string, names []string, series map[string]*histogram) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)
	for _, key := range sortedKeys(series) {
		writeHistogram(b, name, labels(names, key), series[key])
	}
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, lbls string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()

	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, lbls, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, lbls, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, lbls, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, lbls, total)
}

// labels renders a labelsKey as name="value" pairs.
func labels(names []string, key string) string {
	values := strings.SplitN(key, "|", len(names))
	parts := make([]string, 0, len(names))
	for i, n := range names {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		parts = append(parts, fmt.Sprintf("%s=%q", n, v))
	}
	return strings.Join(parts, ",")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
