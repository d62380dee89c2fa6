package auth

import (
	"net/http"
	"strings"

	"github.com/neofi/chronicle/pkg/contextkeys"
	"github.com/neofi/chronicle/pkg/httputil"
)

// Middleware authenticates requests with a Bearer access token and puts
// the resolved identity into the request context.
func Middleware(service *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				httputil.WriteUnauthorized(w, "missing bearer token")
				return
			}

			user, err := service.ResolveAccessToken(r.Context(), token)
			if err != nil {
				httputil.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := contextkeys.WithIdentity(r.Context(), contextkeys.Identity{
				Email: user.Email,
				Role:  user.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
