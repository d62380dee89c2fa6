// Package observability provides structured logging, Prometheus metrics,
// dependency health checks, and graceful shutdown management for the
// Chronicle service.
//
// All components are injected rather than global: the logger travels in
// request context, metrics hang off an explicit registry, and the health
// checker is handed its database and Redis handles at construction.
package observability
