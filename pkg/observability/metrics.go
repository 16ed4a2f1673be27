package observability

import (
	"bufio"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Recording helpers are safe on a nil
// receiver so components can run without instrumentation.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Gateway metrics
	AuthAttemptsTotal         *prometheus.CounterVec
	AuthDuration              prometheus.Histogram
	AuthzDecisionsTotal       *prometheus.CounterVec
	RateLimitTripsTotal       *prometheus.CounterVec
	SessionInvalidationsTotal *prometheus.CounterVec
	EventsTotal               *prometheus.CounterVec
	ActiveConnections         prometheus.Gauge
	LimiterTrackedKeys        *prometheus.GaugeVec

	// Directory metrics
	DirectoryLookupDuration *prometheus.HistogramVec

	// Audit metrics
	AuditRecordsTotal         *prometheus.CounterVec
	AuditPublishFailuresTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socketgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "socketgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socketgate_auth_attempts_total",
				Help: "Connection authentication attempts by outcome code",
			},
			[]string{"outcome", "code"},
		),
		AuthDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "socketgate_auth_duration_seconds",
				Help:    "Time spent authenticating a connection",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socketgate_authz_decisions_total",
				Help: "Authorization check decisions",
			},
			[]string{"check", "outcome", "reason"},
		),
		RateLimitTripsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socketgate_rate_limit_trips_total",
				Help: "Requests rejected by a rate limiter",
			},
			[]string{"limiter"},
		),
		SessionInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socketgate_session_invalidations_total",
				Help: "Connections closed because their session became invalid",
			},
			[]string{"reason"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socketgate_events_total",
				Help: "Inbound events by outcome",
			},
			[]string{"event", "outcome"},
		),
		ActiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "socketgate_active_connections",
				Help: "Number of authenticated open connections",
			},
		),
		LimiterTrackedKeys: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "socketgate_limiter_tracked_keys",
				Help: "Keys held by in-memory rate limiters",
			},
			[]string{"limiter"},
		),

		DirectoryLookupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "socketgate_directory_lookup_duration_seconds",
				Help:    "User and resource lookup latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "status"},
		),

		AuditRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socketgate_audit_records_total",
				Help: "Audit decisions recorded",
			},
			[]string{"kind", "outcome"},
		),
		AuditPublishFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socketgate_audit_publish_failures_total",
				Help: "Audit writes or publishes that failed",
			},
			[]string{"target"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "socketgate_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "socketgate_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "socketgate_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "socketgate_db_connections_wait_duration_seconds",
				Help: "Total time blocked waiting for a new connection",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthAttemptsTotal,
		m.AuthDuration,
		m.AuthzDecisionsTotal,
		m.RateLimitTripsTotal,
		m.SessionInvalidationsTotal,
		m.EventsTotal,
		m.ActiveConnections,
		m.LimiterTrackedKeys,
		m.DirectoryLookupDuration,
		m.AuditRecordsTotal,
		m.AuditPublishFailuresTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
	)

	return m
}

// ObserveAuth records one authentication outcome. code is empty on success.
func (m *Metrics) ObserveAuth(code string, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if code != "" {
		outcome = "failure"
	}
	m.AuthAttemptsTotal.WithLabelValues(outcome, code).Inc()
	m.AuthDuration.Observe(d.Seconds())
}

// ObserveAuthz records one authorization check decision
func (m *Metrics) ObserveAuthz(check string, allowed bool, reason string) {
	if m == nil {
		return
	}
	outcome := "grant"
	if !allowed {
		outcome = "deny"
	}
	m.AuthzDecisionsTotal.WithLabelValues(check, outcome, reason).Inc()
}

// ObserveRateLimitTrip records a rejection by the named limiter
func (m *Metrics) ObserveRateLimitTrip(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitTripsTotal.WithLabelValues(limiter).Inc()
}

// ObserveSessionInvalidation records a session invalidation
func (m *Metrics) ObserveSessionInvalidation(reason string) {
	if m == nil {
		return
	}
	m.SessionInvalidationsTotal.WithLabelValues(reason).Inc()
}

// ObserveEvent records an inbound event outcome
func (m *Metrics) ObserveEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(event, outcome).Inc()
}

// ConnectionOpened increments the active connection gauge
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionClosed decrements the active connection gauge
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// ObserveDirectoryLookup records directory latency
func (m *Metrics) ObserveDirectoryLookup(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.DirectoryLookupDuration.WithLabelValues(operation, status).Observe(d.Seconds())
}

// ObserveAuditRecord counts a recorded audit decision
func (m *Metrics) ObserveAuditRecord(kind, outcome string) {
	if m == nil {
		return
	}
	m.AuditRecordsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveAuditFailure counts a failed audit write or publish
func (m *Metrics) ObserveAuditFailure(target string) {
	if m == nil {
		return
	}
	m.AuditPublishFailuresTotal.WithLabelValues(target).Inc()
}

// SetLimiterTrackedKeys publishes the key count of an in-memory limiter
func (m *Metrics) SetLimiterTrackedKeys(limiter string, n int) {
	if m == nil {
		return
	}
	m.LimiterTrackedKeys.WithLabelValues(limiter).Set(float64(n))
}

// RegisterDropCounter exposes a component's running count of discarded
// messages as socketgate_dropped_messages_total{component}
func (m *Metrics) RegisterDropCounter(component string, dropped func() int64) {
	if m == nil || m.registry == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name:        "socketgate_dropped_messages_total",
			Help:        "Messages discarded because a queue or pace limit was full",
			ConstLabels: prometheus.Labels{"component": component},
		},
		func() float64 { return float64(dropped()) },
	))
}

// RecordDBStats copies database pool statistics into gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
	m.DBConnectionsWaitDuration.Set(stats.WaitDuration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the wrapper
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// WebSocket upgrades are counted when the handler returns.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
