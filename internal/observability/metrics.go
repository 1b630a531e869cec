package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics of the API and worker processes.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	movements       *prometheus.CounterVec
	journals        *prometheus.CounterVec
	journalLegs     *prometheus.HistogramVec
	payroll         *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerpay_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerpay_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerpay_treasury_movements_total",
		Help: "Recorded treasury movements by kind.",
	}, []string{"kind"})
	journals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerpay_journal_entries_total",
		Help: "Journal entries created by source type.",
	}, []string{"source_type"})
	legs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerpay_journal_entry_legs",
		Help:    "Number of legs per journal entry.",
		Buckets: []float64{2, 3, 4, 6, 8, 12, 20, 40},
	}, []string{"source_type"})
	payroll := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerpay_payroll_postings_total",
		Help: "Payroll runs by action (generate, post, reverse).",
	}, []string{"action"})
	registry.MustRegister(requests, duration, movements, journals, legs, payroll)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		movements:       movements,
		journals:        journals,
		journalLegs:     legs,
		payroll:         payroll,
	}
}

// Handler returns the http.Handler serving /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors such as job metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveMovement counts a recorded treasury movement.
func (m *Metrics) ObserveMovement(kind string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(kind).Inc()
}

// ObserveJournal counts a created journal entry and its size.
func (m *Metrics) ObserveJournal(sourceType string, legs int) {
	if m == nil {
		return
	}
	m.journals.WithLabelValues(sourceType).Inc()
	m.journalLegs.WithLabelValues(sourceType).Observe(float64(legs))
}

// ObservePayroll counts a payroll run action.
func (m *Metrics) ObservePayroll(action string) {
	if m == nil {
		return
	}
	m.payroll.WithLabelValues(action).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
