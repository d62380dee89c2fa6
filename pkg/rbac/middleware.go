package rbac

import (
	"net/http"

	"github.com/neofi/chronicle/pkg/contextkeys"
	"github.com/neofi/chronicle/pkg/httputil"
	"github.com/neofi/chronicle/pkg/observability"
)

// RequirePermission gates a route on the caller's global role permissions.
// Event-scoped routes do their own owner-bypass check in the service layer
// instead of using this middleware.
func RequirePermission(resolver *Resolver, resource Resource, verb Verb) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := contextkeys.IdentityFrom(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			decision, err := resolver.Authorize(r.Context(), identity.Role, resource, verb)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Error("authorization check failed")
				httputil.WriteServiceUnavailable(w, "authorization unavailable")
				return
			}
			if !decision.Allowed {
				httputil.WriteForbidden(w, denyMessage(decision.Reason))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func denyMessage(reason DenyReason) string {
	switch reason {
	case DenyNoRole:
		return "no role assigned"
	case DenyNoPermissions:
		return "role has no permissions configured"
	default:
		return "permission denied"
	}
}
