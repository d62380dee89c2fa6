// Package httputil provides HTTP handler utilities shared by all Chronicle
// endpoints: consistent JSON encoding, error responses mapped onto the
// service error taxonomy, request parsing helpers, and the outermost
// middleware (request IDs, logging, panic recovery, CORS).
package httputil
