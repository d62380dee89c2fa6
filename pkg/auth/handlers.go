package auth

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/neofi/chronicle/pkg/contextkeys"
	"github.com/neofi/chronicle/pkg/httputil"
	"github.com/neofi/chronicle/pkg/observability"
	"github.com/neofi/chronicle/pkg/rbac"
)

// Handlers exposes accounts and tokens over HTTP
type Handlers struct {
	service  *Service
	resolver *rbac.Resolver
}

// NewHandlers creates auth handlers
func NewHandlers(service *Service, resolver *rbac.Resolver) *Handlers {
	return &Handlers{service: service, resolver: resolver}
}

// RegisterPublicRoutes registers the unauthenticated credential routes
func (h *Handlers) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", h.Refresh).Methods(http.MethodPost)
}

// RegisterProtectedRoutes registers routes that require authentication
func (h *Handlers) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/auth/logout", h.Logout).Methods(http.MethodPost)
	r.HandleFunc("/users/me", h.Me).Methods(http.MethodGet)
	r.Handle("/users/list",
		rbac.RequirePermission(h.resolver, rbac.ResourceUsers, rbac.VerbGet)(http.HandlerFunc(h.ListUsers))).Methods(http.MethodGet)
	r.Handle("/users/assign-role/{email}",
		rbac.RequirePermission(h.resolver, rbac.ResourceUsers, rbac.VerbPost)(http.HandlerFunc(h.AssignRole))).Methods(http.MethodPost)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles POST /auth/register
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "email and password are required")
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			httputil.WriteConflict(w, "email already registered")
			return
		}
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	httputil.WriteCreated(w, user)
}

// Login handles POST /auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	pair, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInactiveUser):
			httputil.WriteUnauthorized(w, "invalid credentials")
		default:
			observability.FromContext(r.Context()).WithError(err).Error("login failed")
			httputil.WriteInternalError(w, err)
		}
		return
	}

	httputil.WriteSuccess(w, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh handles POST /auth/refresh
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteBadRequest(w, "refresh_token is required")
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrInactiveUser) {
			httputil.WriteUnauthorized(w, "invalid refresh token")
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("token refresh failed")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, pair)
}

// Logout handles POST /auth/logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	identity, ok := contextkeys.IdentityFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), identity.Email); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("logout failed")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteMessage(w, "logged out")
}

// Me handles GET /users/me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := contextkeys.IdentityFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	user, err := h.service.GetUser(r.Context(), identity.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			httputil.WriteNotFound(w, "user not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, user)
}

// ListUsers handles GET /users/list
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	role := httputil.QueryString(r, "role", "")

	users, err := h.service.ListUsers(r.Context(), role)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list users")
		httputil.WriteInternalError(w, err)
		return
	}
	if users == nil {
		users = []*User{}
	}
	httputil.WriteSuccess(w, users)
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

// AssignRole handles POST /users/assign-role/{email}
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	email, ok := httputil.PathStringOrError(w, r, "email")
	if !ok {
		return
	}

	var req assignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Role == "" {
		httputil.WriteBadRequest(w, "role is required")
		return
	}

	if err := h.service.AssignRole(r.Context(), email, req.Role); err != nil {
		switch {
		case errors.Is(err, rbac.ErrRoleNotFound):
			httputil.WriteNotFound(w, err.Error())
		case errors.Is(err, ErrUserNotFound):
			httputil.WriteNotFound(w, err.Error())
		default:
			observability.FromContext(r.Context()).WithError(err).Error("failed to assign role")
			httputil.WriteInternalError(w, err)
		}
		return
	}

	httputil.WriteMessage(w, "role assigned")
}
