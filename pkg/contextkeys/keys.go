// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains the authenticated Identity
	// Set by: auth.Middleware (pkg/auth/middleware.go)
	// Required by: all protected API endpoints, RBAC middleware, collab gate
	IdentityKey Key = "identity"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: logger, error responses
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability middleware
	LoggerKey Key = "logger"
)

// Identity is the minimal projection of an authenticated user carried in
// request context. Role is empty when the user has no assigned role.
type Identity struct {
	Email string
	Role  string
}

// WithIdentity adds the authenticated identity to the context
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// IdentityFrom retrieves the authenticated identity from the context.
// The second return value reports whether an identity was present.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(Identity)
	return id, ok
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
