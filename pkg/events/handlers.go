package events

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/neofi/chronicle/pkg/contextkeys"
	"github.com/neofi/chronicle/pkg/httputil"
	"github.com/neofi/chronicle/pkg/observability"
	"github.com/neofi/chronicle/pkg/rbac"
)

// Handlers exposes the event service over HTTP
type Handlers struct {
	service  *Service
	resolver *rbac.Resolver
}

// NewHandlers creates event handlers
func NewHandlers(service *Service, resolver *rbac.Resolver) *Handlers {
	return &Handlers{service: service, resolver: resolver}
}

// RegisterRoutes registers event routes. The router must already be
// wrapped with authentication middleware. Creation and listing are gated
// on the global events resource; event-scoped operations authorize inside
// the service where the owner bypass applies.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.Handle("/events",
		rbac.RequirePermission(h.resolver, rbac.ResourceEvents, rbac.VerbPost)(http.HandlerFunc(h.Create))).Methods(http.MethodPost)
	r.Handle("/events/batch",
		rbac.RequirePermission(h.resolver, rbac.ResourceEvents, rbac.VerbPost)(http.HandlerFunc(h.BatchCreate))).Methods(http.MethodPost)
	r.HandleFunc("/events", h.List).Methods(http.MethodGet)

	r.HandleFunc("/events/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/events/{id}", h.Update).Methods(http.MethodPut)
	r.HandleFunc("/events/{id}", h.Delete).Methods(http.MethodDelete)

	r.HandleFunc("/events/{id}/share", h.Share).Methods(http.MethodPost)
	r.HandleFunc("/events/{id}/permissions", h.Permissions).Methods(http.MethodGet)
	r.HandleFunc("/events/{id}/permissions/{userId}", h.ChangeCollaboratorRole).Methods(http.MethodPut)
	r.HandleFunc("/events/{id}/permissions/{userId}", h.RemoveCollaborator).Methods(http.MethodDelete)

	r.HandleFunc("/events/{id}/history/{versionId}", h.History).Methods(http.MethodGet)
	r.HandleFunc("/events/{id}/rollback/{versionId}", h.Rollback).Methods(http.MethodPost)
	r.HandleFunc("/events/{id}/changelog", h.Changelog).Methods(http.MethodGet)
	r.HandleFunc("/events/{id}/diff/{v1}/{v2}", h.Diff).Methods(http.MethodGet)
	r.HandleFunc("/events/{id}/versions/data", h.VersionsData).Methods(http.MethodGet)
}

// writeServiceError maps the service error taxonomy onto status codes
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrForbidden):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, ErrBadRequest):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrConflict):
		httputil.WriteConflict(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("event operation failed")
		httputil.WriteServiceUnavailable(w, "storage unavailable")
	}
}

func identityOrError(w http.ResponseWriter, r *http.Request) (contextkeys.Identity, bool) {
	identity, ok := contextkeys.IdentityFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
	}
	return identity, ok
}

// Create handles POST /events
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrError(w, r)
	if !ok {
		return
	}
	var input CreateInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	event, err := h.service.Create(r.Context(), identity, input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, event)
}

// BatchCreate handles POST /events/batch
func (h *Handlers) BatchCreate(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrError(w, r)
	if !ok {
		return
	}
	var req struct {
		Events []CreateInput `json:"events"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	events, err := h.service.BatchCreate(r.Context(), identity, req.Events)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, events)
}

// List handles GET /events
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrError(w, r)
	if !ok {
		return
	}

	opts := ListOptions{
		CollaboratorID: httputil.QueryString(r, "user_id", ""),
	}

	var err error
	if opts.Limit, err = httputil.QueryInt(r, "limit", 50); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if opts.Offset, err = httputil.QueryInt(r, "offset", 0); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if opts.From, err = queryTime(r, "start_date"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if opts.To, err = queryTime(r, "end_date"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.service.List(r.Context(), identity, opts)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, events)
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.New(key + " must be RFC3339")
	}
	return &ts, nil
}

// Get handles GET /events/{id}
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrError(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	event, err := h.service.Get(r.Context(), identity, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, event)
}

// Update handles PUT /events/{id}
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrError(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	var input UpdateInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	event, err := h.service.Update(r.Context(), identity, id, input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, event)
}

// Delete handles DELETE /events/{id}
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrError(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	if err := h.service.Delete(r.Context(), identity, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Share handles POST /events/{id}/share
func (h *Handlers) Share(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrError(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	var req struct {
		Users []Collaborator `json:"users"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	event, err := h.service.Share(r.Context(), identity, id, req.Users)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, event)
}

// Permissions handles GET /events/{id}/permissions
func (h *Handlers) Permissions(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrError(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	perms, err := h.service.Permissions(r.Context(), identity, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

// ChangeCollaboratorRole handles PUT /events/{id}/permissions/{userId}
func (h *Handlers) ChangeCollaboratorRole(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrError(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)

	var req struct {
		Role string `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Role == "" {
		httputil.WriteBadRequest(w, "role is required")
		return
	}

	event, err := h.service.ChangeCollaboratorRole(r.Context(), identity, vars["id"], vars["userId"], req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, event)
}

// RemoveCollaborator handles DELETE /events/{id}/permissions/{userId}
func (h *Handlers) RemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrError(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)

	event, err := h.service.RemoveCollaborator(r.Context(), identity, vars["id"], vars["userId"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, event)
}

// History handles GET /events/{id}/history/{versionId}
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrError(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	versionID, ok := httputil.PathInt64OrError(w, r, "versionId")
	if !ok {
		return
	}

	entry, err := h.service.History(r.Context(), identity, id, versionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, entry)
}

// Rollback handles POST /events/{id}/rollback/{versionId}
func (h *Handlers) Rollback(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrError(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	versionID, ok := httputil.PathInt64OrError(w, r, "versionId")
	if !ok {
		return
	}

	event, err := h.service.Rollback(r.Context(), identity, id, versionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, event)
}

// Changelog handles GET /events/{id}/changelog
func (h *Handlers) Changelog(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrError(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	entries, err := h.service.Changelog(r.Context(), identity, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, entries)
}

// Diff handles GET /events/{id}/diff/{v1}/{v2}
func (h *Handlers) Diff(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrError(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	v1, ok := httputil.PathInt64OrError(w, r, "v1")
	if !ok {
		return
	}
	v2, ok := httputil.PathInt64OrError(w, r, "v2")
	if !ok {
		return
	}

	delta, err := h.service.DiffBetween(r.Context(), identity, id, v1, v2)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, delta)
}

// VersionsData handles GET /events/{id}/versions/data, returning every
// stored snapshot for the event
func (h *Handlers) VersionsData(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrError(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	entries, err := h.service.Changelog(r.Context(), identity, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	data := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		data = append(data, map[string]interface{}{
			"version_id": entry.ID,
			"snapshot":   entry.Snapshot,
			"actor":      entry.Actor,
			"created_at": entry.CreatedAt,
		})
	}
	httputil.WriteSuccess(w, data)
}
