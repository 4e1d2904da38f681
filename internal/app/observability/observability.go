package observability

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Upper bounds, in milliseconds, of the latency histogram buckets.
var latencyBuckets = []float64{5, 25, 100, 500, 2000}

type routeKey struct {
	Method string
	Route  string
	Status int
}

type routeStat struct {
	Count     int64
	LatencyMS float64
	Buckets   []int64 // cumulative, one per latencyBuckets entry
}

// Collector keeps per-route request statistics and attendance counters and
// serves them in the Prometheus text format.
type Collector struct {
	db        *sql.DB
	startedAt time.Time

	mu     sync.Mutex
	routes map[routeKey]*routeStat
	marks  map[string]int64
}

func NewCollector(db *sql.DB) *Collector {
	return &Collector{
		db:        db,
		startedAt: time.Now(),
		routes:    make(map[routeKey]*routeStat),
		marks:     make(map[string]int64),
	}
}

// CountMarks adds n saved attendance marks with the given status.
func (c *Collector) CountMarks(status string, n int) {
	c.mu.Lock()
	c.marks[status] += int64(n)
	c.mu.Unlock()
}

func (c *Collector) observe(k routeKey, latencyMS float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.routes[k]
	if !ok {
		s = &routeStat{Buckets: make([]int64, len(latencyBuckets))}
		c.routes[k] = s
	}
	s.Count++
	s.LatencyMS += latencyMS
	for i, le := range latencyBuckets {
		if latencyMS <= le {
			s.Buckets[i]++
		}
	}
}

// Middleware records the request under its chi route pattern and writes one
// JSON log line per request.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		route := routePattern(r)
		c.observe(routeKey{Method: r.Method, Route: route, Status: status}, latencyMS)

		entry := map[string]any{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"route":      route,
			"status":     status,
			"bytes":      ww.BytesWritten(),
			"latency_ms": latencyMS,
			"remote_ip":  strings.TrimSpace(r.RemoteAddr),
		}
		if id := extractClassID(r.URL.Path); id > 0 {
			entry["class_id"] = id
		}
		b, _ := json.Marshal(entry)
		log.Printf("%s", b)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" && p != "/*" {
			return p
		}
	}
	return normalizedPath(r.URL.Path)
}

func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	keys := make([]routeKey, 0, len(c.routes))
	stats := make(map[routeKey]routeStat, len(c.routes))
	for k, s := range c.routes {
		keys = append(keys, k)
		cp := *s
		cp.Buckets = append([]int64(nil), s.Buckets...)
		stats[k] = cp
	}
	marks := make(map[string]int64, len(c.marks))
	for k, v := range c.marks {
		marks[k] = v
	}
	c.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Route != keys[j].Route {
			return keys[i].Route < keys[j].Route
		}
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		return keys[i].Status < keys[j].Status
	})

	var buf bytes.Buffer
	metric := func(name, typ string) {
		fmt.Fprintf(&buf, "# TYPE %s %s\n", name, typ)
	}

	metric("esportes_uptime_seconds", "gauge")
	fmt.Fprintf(&buf, "esportes_uptime_seconds %.0f\n", time.Since(c.startedAt).Seconds())

	metric("esportes_http_requests_total", "counter")
	for _, k := range keys {
		fmt.Fprintf(&buf, "esportes_http_requests_total{%s} %d\n", k.labels(), stats[k].Count)
	}
	metric("esportes_http_request_duration_ms", "histogram")
	for _, k := range keys {
		s := stats[k]
		for i, le := range latencyBuckets {
			fmt.Fprintf(&buf, "esportes_http_request_duration_ms_bucket{%s,le=\"%g\"} %d\n", k.labels(), le, s.Buckets[i])
		}
		fmt.Fprintf(&buf, "esportes_http_request_duration_ms_bucket{%s,le=\"+Inf\"} %d\n", k.labels(), s.Count)
		fmt.Fprintf(&buf, "esportes_http_request_duration_ms_sum{%s} %.3f\n", k.labels(), s.LatencyMS)
		fmt.Fprintf(&buf, "esportes_http_request_duration_ms_count{%s} %d\n", k.labels(), s.Count)
	}

	statuses := make([]string, 0, len(marks))
	for st := range marks {
		statuses = append(statuses, st)
	}
	sort.Strings(statuses)
	metric("esportes_attendance_marks_total", "counter")
	for _, st := range statuses {
		fmt.Fprintf(&buf, "esportes_attendance_marks_total{status=%q} %d\n", st, marks[st])
	}

	if c.db != nil {
		dbs := c.db.Stats()
		metric("esportes_db_connections", "gauge")
		fmt.Fprintf(&buf, "esportes_db_connections{state=\"open\"} %d\n", dbs.OpenConnections)
		fmt.Fprintf(&buf, "esportes_db_connections{state=\"in_use\"} %d\n", dbs.InUse)
		fmt.Fprintf(&buf, "esportes_db_connections{state=\"idle\"} %d\n", dbs.Idle)
		metric("esportes_db_wait_total", "counter")
		fmt.Fprintf(&buf, "esportes_db_wait_total %d\n", dbs.WaitCount)
		metric("esportes_db_wait_duration_ms", "counter")
		fmt.Fprintf(&buf, "esportes_db_wait_duration_ms %.3f\n", float64(dbs.WaitDuration.Microseconds())/1000.0)
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (k routeKey) labels() string {
	return fmt.Sprintf("method=%q,route=%q,status=\"%d\"", k.Method, k.Route, k.Status)
}

// normalizedPath collapses ids and dates of unrouted paths so labels stay bounded.
func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		} else if _, err := time.Parse("2006-01-02", p); err == nil {
			parts[i] = "{date}"
		}
	}
	return strings.Join(parts, "/")
}

// extractClassID finds the class a request works on, from /classes/{id}
// or /attendance/class/{id} paths.
func extractClassID(path string) int64 {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "classes" || (parts[i] == "class" && i > 0 && parts[i-1] == "attendance") {
			if id, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
				return id
			}
		}
	}
	return 0
}
