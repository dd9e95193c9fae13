// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("employee_id", id).WithError(err).Warn("override lookup failed")
//
// Entries are JSON lines produced by logrus. Loggers travel through
// request contexts with WithLogger / FromContext.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Handle("/metrics", observability.Handler(registry))
//
// All record helpers are nil-safe so components can run without metrics.
//
// # Tracing
//
// InitOTel installs OTLP/gRPC trace and metric exporters as the global
// providers. Packages start spans from Tracer().
package observability
