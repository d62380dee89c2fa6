// Package middleware provides HTTP middleware shared across the API
// surface, most notably rate limiting. A local token bucket limiter
// covers single-instance deployments; the Redis-backed limiter shares
// counters across replicas. Authentication middleware lives with the
// auth package.
package middleware
