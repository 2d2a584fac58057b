package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
// It also records the inventory counters.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	unitsTotal      *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	notifyJobsTotal *prometheus.CounterVec
	fitmentRecords  prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caraudiopos_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "caraudiopos_http_request_duration_seconds",
		Help:    "HTTP request duration by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caraudiopos_inventory_units_total",
		Help: "Inventory unit movements by kind.",
	}, []string{"kind"})
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caraudiopos_cache_lookups_total",
		Help: "Shared cache lookups by cache and result.",
	}, []string{"cache", "result"})
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caraudiopos_notify_jobs_total",
		Help: "Backorder notification jobs by result.",
	}, []string{"result"})
	records := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "caraudiopos_fitment_records",
		Help: "Fitment records in the loaded catalog.",
	})
	registry.MustRegister(requests, duration, units, lookups, jobs, records)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		unitsTotal:      units,
		cacheLookups:    lookups,
		notifyJobsTotal: jobs,
		fitmentRecords:  records,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := RoutePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.Status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

func (m *Metrics) addUnits(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.unitsTotal.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) UnitsReceived(n int)         { m.addUnits("received", n) }
func (m *Metrics) UnitsAllocated(n int)        { m.addUnits("allocated", n) }
func (m *Metrics) BackorderedUnits(n int)      { m.addUnits("backordered", n) }
func (m *Metrics) BackorderUnitsApplied(n int) { m.addUnits("backorder_applied", n) }

// CacheLookup counts a shared cache read.
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) NotifyJob(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.notifyJobsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetFitmentRecords(n int) {
	if m == nil {
		return
	}
	m.fitmentRecords.Set(float64(n))
}

// StatusRecorder captures the status code written by a handler.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

func (r *StatusRecorder) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}

// RoutePattern returns the matched chi pattern, or "unknown".
func RoutePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
