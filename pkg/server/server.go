// Package server assembles the HTTP surface of the permission service.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/acesso/pkg/audit"
	"github.com/platinummonkey/acesso/pkg/httputil"
	"github.com/platinummonkey/acesso/pkg/identity"
	"github.com/platinummonkey/acesso/pkg/observability"
	"github.com/platinummonkey/acesso/pkg/rbac"
)

const defaultMaxBodyBytes = 1 << 20

// Options holds the components the server routes to
type Options struct {
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Health   *observability.HealthChecker

	Identity  identity.Provider
	Directory *rbac.Directory
	Overrides *rbac.OverrideStore
	Resolver  *rbac.Resolver
	Audit     audit.QueryRecorder
	// Origins resolves client addresses for audit entries, nil trusts no proxy
	Origins *audit.OriginResolver

	// RateLimit is requests per minute per client IP, 0 disables it
	RateLimit    int
	Development  bool
	MaxBodyBytes int64
}

// Server represents the API server
type Server struct {
	router  *mux.Router
	handler http.Handler
	guard   *rbac.PermissionMiddleware
}

// New creates the server and registers every route
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	originMiddleware := audit.OriginMiddleware
	if opts.Origins != nil {
		originMiddleware = opts.Origins.Middleware
	}

	s := &Server{
		router: mux.NewRouter(),
		guard:  rbac.NewPermissionMiddleware(opts.Resolver, opts.Directory, opts.Audit, opts.Logger),
	}
	s.router.Use(opts.Metrics.HTTPMiddleware(routeTemplate))

	if opts.Health != nil {
		opts.Health.RegisterRoutes(s.router)
	}
	if opts.Registry != nil {
		s.router.Handle("/metrics", observability.Handler(opts.Registry)).Methods("GET")
	}

	s.RegisterRoutes(rbac.NewHandlers(opts.Directory, opts.Overrides, opts.Resolver, s.guard, opts.Logger))
	s.RegisterRoutes(audit.NewHandlers(opts.Audit, audit.RouteGuards{
		View:   s.guard.Require(rbac.ModuleFuncionarios, rbac.ActionView),
		Export: s.guard.Require(rbac.ModuleFuncionarios, rbac.ActionExport),
	}, opts.Metrics, opts.Logger))

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "not found")
	})

	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(opts.Logger),
		httputil.RecoveryMiddleware(opts.Logger),
		httputil.SecureHeadersMiddleware(opts.Development),
	}
	if opts.RateLimit > 0 {
		middlewares = append(middlewares, httputil.RateLimitMiddleware(opts.RateLimit))
	}
	middlewares = append(middlewares,
		httputil.MaxBytesMiddleware(opts.MaxBodyBytes),
		originMiddleware,
	)
	if opts.Identity != nil {
		middlewares = append(middlewares, identity.Middleware(opts.Identity, opts.Logger))
	}

	s.handler = otelhttp.NewHandler(httputil.Chain(middlewares...)(s.router), "acesso",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return s
}

// routeTemplate labels metrics by route pattern instead of raw path
func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tmpl, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return tmpl
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Guard returns the permission middleware so feature routes can be gated
func (s *Server) Guard() *rbac.PermissionMiddleware {
	return s.guard
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}
