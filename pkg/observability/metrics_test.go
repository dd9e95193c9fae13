package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Recorders(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordPermissionCheck("cobrancas", "view", true, "override")
	m.RecordPermissionCheck("cobrancas", "view", true, "override")
	m.RecordPermissionCheck("clientes", "delete", false, "role")
	m.RecordOverrideStoreError("get")
	m.RecordOverrideCache(true)
	m.RecordOverrideCache(false)
	m.RecordAudit("permission_change", nil)
	m.RecordAudit("permission_change", errors.New("down"))
	m.RecordAuditExport("csv")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PermissionChecksTotal.WithLabelValues("cobrancas", "view", "allow", "override")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PermissionChecksTotal.WithLabelValues("clientes", "delete", "deny", "role")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OverrideStoreErrors.WithLabelValues("get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OverrideCacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OverrideCacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditRecordsTotal.WithLabelValues("permission_change", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditExportsTotal.WithLabelValues("csv")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordPermissionCheck("clientes", "view", true, "role")
		m.RecordOverrideStoreError("get")
		m.RecordOverrideCache(true)
		m.RecordOverrideSave("ok")
		m.RecordAudit("login", nil)
		m.RecordAuditExport("json")
	})

	handler := m.HTTPMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMetrics_HTTPMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := m.HTTPMiddleware(func(*http.Request) string { return "/rbac/employees/{id}" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/rbac/employees/ana", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/rbac/employees/{id}", "403")))

	scrape := httptest.NewRecorder()
	Handler(registry).ServeHTTP(scrape, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), "acesso_http_requests_total")
}
