package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission metrics
	PermissionChecksTotal *prometheus.CounterVec
	OverrideStoreErrors   *prometheus.CounterVec
	OverrideCacheHits     prometheus.Counter
	OverrideCacheMisses   prometheus.Counter
	OverrideSavesTotal    *prometheus.CounterVec

	// Audit metrics
	AuditRecordsTotal  *prometheus.CounterVec
	AuditQueryDuration prometheus.Histogram
	AuditExportsTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// A nil registry creates the metrics without registering them.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acesso_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "acesso_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acesso_permission_checks_total",
				Help: "Permission checks by module, action, decision and decision source",
			},
			[]string{"module", "action", "decision", "source"},
		),
		OverrideStoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acesso_override_store_errors_total",
				Help: "Failures reading or writing permission overrides",
			},
			[]string{"operation"},
		),
		OverrideCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "acesso_override_cache_hits_total",
				Help: "Override lookups served from the in-process cache",
			},
		),
		OverrideCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "acesso_override_cache_misses_total",
				Help: "Override lookups that went to the document store",
			},
		),
		OverrideSavesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acesso_override_saves_total",
				Help: "Permission override saves by result",
			},
			[]string{"result"},
		),
		AuditRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acesso_audit_records_total",
				Help: "Audit entries recorded by action and status",
			},
			[]string{"action", "status"},
		),
		AuditQueryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "acesso_audit_query_duration_seconds",
				Help:    "Audit query duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		AuditExportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acesso_audit_exports_total",
				Help: "Audit exports by format",
			},
			[]string{"format"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.PermissionChecksTotal,
			m.OverrideStoreErrors,
			m.OverrideCacheHits,
			m.OverrideCacheMisses,
			m.OverrideSavesTotal,
			m.AuditRecordsTotal,
			m.AuditQueryDuration,
			m.AuditExportsTotal,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return m
}

// RecordPermissionCheck counts one permission decision
func (m *Metrics) RecordPermissionCheck(module, action string, allowed bool, source string) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.PermissionChecksTotal.WithLabelValues(module, action, decision, source).Inc()
}

// RecordOverrideStoreError counts an override store failure
func (m *Metrics) RecordOverrideStoreError(operation string) {
	if m == nil {
		return
	}
	m.OverrideStoreErrors.WithLabelValues(operation).Inc()
}

// RecordOverrideCache counts an override cache hit or miss
func (m *Metrics) RecordOverrideCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.OverrideCacheHits.Inc()
	} else {
		m.OverrideCacheMisses.Inc()
	}
}

// RecordOverrideSave counts an override save
func (m *Metrics) RecordOverrideSave(result string) {
	if m == nil {
		return
	}
	m.OverrideSavesTotal.WithLabelValues(result).Inc()
}

// RecordAudit counts one audit write attempt outcome
func (m *Metrics) RecordAudit(action string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.AuditRecordsTotal.WithLabelValues(action, status).Inc()
}

// ObserveAuditQuery records the duration of an audit query
func (m *Metrics) ObserveAuditQuery(d time.Duration) {
	if m == nil {
		return
	}
	m.AuditQueryDuration.Observe(d.Seconds())
}

// RecordAuditExport counts an audit export
func (m *Metrics) RecordAuditExport(format string) {
	if m == nil {
		return
	}
	m.AuditExportsTotal.WithLabelValues(format).Inc()
}

// HTTPMiddleware records request counts and durations. The route template
// is used as path label when the router exposes one through routeName.
func (m *Metrics) HTTPMiddleware(routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if routeName != nil {
				if name := routeName(r); name != "" {
					path = name
				}
			}
			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler returns the Prometheus scrape handler for registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
