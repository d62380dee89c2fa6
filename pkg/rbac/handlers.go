package rbac

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/neofi/chronicle/pkg/contextkeys"
	"github.com/neofi/chronicle/pkg/httputil"
	"github.com/neofi/chronicle/pkg/observability"
)

// Handlers exposes the role registry over HTTP
type Handlers struct {
	resolver *Resolver
}

// NewHandlers creates role registry handlers
func NewHandlers(resolver *Resolver) *Handlers {
	return &Handlers{resolver: resolver}
}

// RegisterRoutes registers role routes on the given router. The caller is
// expected to have wrapped the router with authentication middleware; each
// route is additionally gated on the roles resource.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.Handle("/roles/create-role",
		RequirePermission(h.resolver, ResourceRoles, VerbPost)(http.HandlerFunc(h.CreateRole))).Methods(http.MethodPost)
	r.Handle("/roles/assign-permissions/{role}",
		RequirePermission(h.resolver, ResourceRoles, VerbPost)(http.HandlerFunc(h.AssignPermissions))).Methods(http.MethodPost)
	r.Handle("/roles/list-roles",
		RequirePermission(h.resolver, ResourceRoles, VerbGet)(http.HandlerFunc(h.ListRoles))).Methods(http.MethodGet)
	r.Handle("/roles/role-permissions/{role}",
		RequirePermission(h.resolver, ResourceRoles, VerbGet)(http.HandlerFunc(h.RolePermissions))).Methods(http.MethodGet)
}

type createRoleRequest struct {
	Name string `json:"name"`
}

// CreateRole handles POST /roles/create-role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "role name is required")
		return
	}

	identity, _ := contextkeys.IdentityFrom(r.Context())
	role, err := h.resolver.CreateRole(r.Context(), req.Name, identity.Email)
	if err != nil {
		if errors.Is(err, ErrRoleExists) {
			httputil.WriteConflict(w, err.Error())
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("failed to create role")
		httputil.WriteInternalError(w, err)
		return
	}

	observability.FromContext(r.Context()).WithField("role", role.Name).Info("role created")
	httputil.WriteCreated(w, role)
}

// AssignPermissions handles POST /roles/assign-permissions/{role}. The
// body is the full permission grid for the role; assignment replaces the
// previous grid.
func (h *Handlers) AssignPermissions(w http.ResponseWriter, r *http.Request) {
	roleName, ok := httputil.PathStringOrError(w, r, "role")
	if !ok {
		return
	}

	var grid Grid
	if !httputil.ParseJSONOrError(w, r, &grid) {
		return
	}

	if err := h.resolver.SetGrid(r.Context(), roleName, grid); err != nil {
		switch {
		case errors.Is(err, ErrRoleNotFound):
			httputil.WriteNotFound(w, err.Error())
		case errors.Is(err, ErrInvalidGrid):
			httputil.WriteBadRequest(w, err.Error())
		default:
			observability.FromContext(r.Context()).WithError(err).Error("failed to assign permissions")
			httputil.WriteInternalError(w, err)
		}
		return
	}

	observability.FromContext(r.Context()).WithField("role", roleName).Info("permissions assigned")
	httputil.WriteMessage(w, "permissions assigned")
}

// ListRoles handles GET /roles/list-roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.resolver.ListRoles(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list roles")
		httputil.WriteInternalError(w, err)
		return
	}
	if roles == nil {
		roles = []*Role{}
	}
	httputil.WriteSuccess(w, roles)
}

// RolePermissions handles GET /roles/role-permissions/{role}
func (h *Handlers) RolePermissions(w http.ResponseWriter, r *http.Request) {
	roleName, ok := httputil.PathStringOrError(w, r, "role")
	if !ok {
		return
	}

	grid, err := h.resolver.RolePermissions(r.Context(), roleName)
	if err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			httputil.WriteNotFound(w, err.Error())
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("failed to get role permissions")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"role":        roleName,
		"permissions": grid,
	})
}
