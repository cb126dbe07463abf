package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pitabwire/cylinder-portal/model"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
	cylinderCountBuckets = []float64{1, 2, 5, 10, 20, 50, 100}
)

// Metrics holds all Prometheus metric instruments for the portal.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Inward metrics
	InwardStartsTotal      prometheus.Counter
	InwardTransitionsTotal *prometheus.CounterVec
	InwardCompletionsTotal *prometheus.CounterVec
	InwardCylindersTagged  prometheus.Histogram

	// Issuance metrics
	IssuancesTotal             *prometheus.CounterVec
	IssuedCylinders            *prometheus.HistogramVec
	ExchangeValidationFailures *prometheus.CounterVec

	// Inventory metrics
	StockFullCylinders  *prometheus.GaugeVec
	StockEmptyCylinders *prometheus.GaugeVec
	StockLow            *prometheus.GaugeVec

	// Dashboard metrics
	DashboardRefreshesTotal  prometheus.Counter
	DashboardPendingRequests prometheus.Gauge
	DashboardActivePOs       prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Inward
		InwardStartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_inward_starts_total",
			Help: "Total number of material inward sessions started.",
		}),
		InwardTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_inward_transitions_total",
			Help: "Total number of inward step transitions.",
		}, []string{"from_step", "to_step"}),
		InwardCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_inward_completions_total",
			Help: "Total number of completed inward shipments.",
		}, []string{"gas"}),
		InwardCylindersTagged: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "portal_inward_cylinders_tagged",
			Help:    "RFID tags captured per completed shipment.",
			Buckets: cylinderCountBuckets,
		}),

		// Issuance
		IssuancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_issuances_total",
			Help: "Total number of confirmed cylinder issuances.",
		}, []string{"gas", "kind"}),
		IssuedCylinders: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_issued_cylinders",
			Help:    "Full cylinders handed out per issuance.",
			Buckets: cylinderCountBuckets,
		}, []string{"gas"}),
		ExchangeValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_exchange_validation_failures_total",
			Help: "Total number of issue attempts rejected by the exchange rule.",
		}, []string{"department"}),

		// Inventory
		StockFullCylinders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "portal_stock_full_cylinders",
			Help: "Full cylinders on hand.",
		}, []string{"gas"}),
		StockEmptyCylinders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "portal_stock_empty_cylinders",
			Help: "Empty cylinders on hand.",
		}, []string{"gas"}),
		StockLow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "portal_stock_low",
			Help: "1 when the gas is below the low-stock threshold.",
		}, []string{"gas"}),

		// Dashboard
		DashboardRefreshesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_dashboard_refreshes_total",
			Help: "Total dashboard snapshot refreshes.",
		}),
		DashboardPendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portal_dashboard_pending_requests",
			Help: "Open cylinder requests at the last refresh.",
		}),
		DashboardActivePOs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portal_dashboard_active_purchase_orders",
			Help: "Active purchase orders at the last refresh.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Inward
		m.InwardStartsTotal,
		m.InwardTransitionsTotal,
		m.InwardCompletionsTotal,
		m.InwardCylindersTagged,
		// Issuance
		m.IssuancesTotal,
		m.IssuedCylinders,
		m.ExchangeValidationFailures,
		// Inventory
		m.StockFullCylinders,
		m.StockEmptyCylinders,
		m.StockLow,
		// Dashboard
		m.DashboardRefreshesTotal,
		m.DashboardPendingRequests,
		m.DashboardActivePOs,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// OnInwardStarted implements inward.Observer.
func (m *Metrics) OnInwardStarted(context.Context) {
	m.InwardStartsTotal.Inc()
}

// OnStepChanged implements inward.Observer.
func (m *Metrics) OnStepChanged(_ context.Context, from, to model.Step) {
	m.InwardTransitionsTotal.WithLabelValues(from.Key(), to.Key()).Inc()
}

// OnShipmentCompleted implements inward.Observer.
func (m *Metrics) OnShipmentCompleted(_ context.Context, s model.CompletedShipment) {
	gas := string(s.Gas)
	if gas == "" {
		gas = "unknown"
	}
	m.InwardCompletionsTotal.WithLabelValues(gas).Inc()
	m.InwardCylindersTagged.Observe(float64(s.Record.Tagging.Tags.Len()))
}

// OnIssued implements issuance.Observer.
func (m *Metrics) OnIssued(_ context.Context, r model.IssuanceRecord) {
	kind := "exchange"
	if r.Department == model.DepartmentVendor {
		kind = "vendor"
	}
	m.IssuancesTotal.WithLabelValues(string(r.Gas), kind).Inc()
	m.IssuedCylinders.WithLabelValues(string(r.Gas)).Observe(float64(r.FullCylindersIssued))
}

// OnExchangeRejected implements issuance.Observer.
func (m *Metrics) OnExchangeRejected(_ context.Context, department string) {
	m.ExchangeValidationFailures.WithLabelValues(department).Inc()
}

// OnStockChanged implements inventory.Observer.
func (m *Metrics) OnStockChanged(_ context.Context, level model.StockLevel, low bool) {
	m.SetStockLevel(level, low)
}

// SetStockLevel publishes the current counts for one gas type.
func (m *Metrics) SetStockLevel(level model.StockLevel, low bool) {
	gas := string(level.Gas)
	m.StockFullCylinders.WithLabelValues(gas).Set(float64(level.Full))
	m.StockEmptyCylinders.WithLabelValues(gas).Set(float64(level.Empty))
	lowVal := 0.0
	if low {
		lowVal = 1
	}
	m.StockLow.WithLabelValues(gas).Set(lowVal)
}

// OnDashboardRefreshed implements dashboard.Observer.
func (m *Metrics) OnDashboardRefreshed(snap model.DashboardSnapshot) {
	m.DashboardRefreshesTotal.Inc()
	m.DashboardPendingRequests.Set(float64(snap.PendingRequests))
	m.DashboardActivePOs.Set(float64(snap.ActivePOs))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
