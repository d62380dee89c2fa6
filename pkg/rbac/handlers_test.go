package rbac

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neofi/chronicle/pkg/contextkeys"
	"github.com/neofi/chronicle/pkg/store"
)

func setupHandlersTest(t *testing.T) (*mux.Router, *Resolver) {
	t.Helper()
	db, err := store.Open(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.RunMigrations(context.Background(), db, "rbac", Migrations()))

	resolver := NewResolver(NewStore(db, nil), nil)

	ctx := context.Background()
	_, err = resolver.CreateRole(ctx, "admin", "owner@example.com")
	require.NoError(t, err)
	require.NoError(t, resolver.SetGrid(ctx, "admin", FullAccess()))

	router := mux.NewRouter()
	NewHandlers(resolver).RegisterRoutes(router)
	return router, resolver
}

func doAs(router *mux.Router, identity contextkeys.Identity, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(contextkeys.WithIdentity(req.Context(), identity))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

var admin = contextkeys.Identity{Email: "admin@example.com", Role: "admin"}

func TestCreateRoleEndpoint(t *testing.T) {
	router, _ := setupHandlersTest(t)

	rec := doAs(router, admin, "POST", "/roles/create-role", `{"name":"editor"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var role Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &role))
	assert.Equal(t, "editor", role.Name)
	assert.Equal(t, "admin@example.com", role.CreatedBy)
}

func TestCreateRoleDuplicateEndpoint(t *testing.T) {
	router, _ := setupHandlersTest(t)

	require.Equal(t, http.StatusCreated, doAs(router, admin, "POST", "/roles/create-role", `{"name":"editor"}`).Code)
	assert.Equal(t, http.StatusConflict, doAs(router, admin, "POST", "/roles/create-role", `{"name":"editor"}`).Code)
}

func TestCreateRoleMissingName(t *testing.T) {
	router, _ := setupHandlersTest(t)

	assert.Equal(t, http.StatusBadRequest, doAs(router, admin, "POST", "/roles/create-role", `{}`).Code)
}

func TestCreateRoleRequiresAuth(t *testing.T) {
	router, _ := setupHandlersTest(t)

	req := httptest.NewRequest("POST", "/roles/create-role", strings.NewReader(`{"name":"editor"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateRoleForbiddenWithoutRole(t *testing.T) {
	router, _ := setupHandlersTest(t)

	nobody := contextkeys.Identity{Email: "nobody@example.com"}
	rec := doAs(router, nobody, "POST", "/roles/create-role", `{"name":"editor"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "no role assigned")
}

func TestAssignAndReadPermissions(t *testing.T) {
	router, _ := setupHandlersTest(t)

	require.Equal(t, http.StatusCreated, doAs(router, admin, "POST", "/roles/create-role", `{"name":"viewer"}`).Code)

	rec := doAs(router, admin, "POST", "/roles/assign-permissions/viewer", `{"events":{"GET":true}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doAs(router, admin, "GET", "/roles/role-permissions/viewer", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Role        string `json:"role"`
		Permissions Grid   `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "viewer", body.Role)
	assert.True(t, body.Permissions.Allows(ResourceEvents, VerbGet))
	assert.False(t, body.Permissions.Allows(ResourceEvents, VerbPut))
}

func TestAssignPermissionsUnknownRole(t *testing.T) {
	router, _ := setupHandlersTest(t)

	rec := doAs(router, admin, "POST", "/roles/assign-permissions/ghost", `{"events":{"GET":true}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssignPermissionsInvalidGrid(t *testing.T) {
	router, _ := setupHandlersTest(t)

	require.Equal(t, http.StatusCreated, doAs(router, admin, "POST", "/roles/create-role", `{"name":"viewer"}`).Code)
	rec := doAs(router, admin, "POST", "/roles/assign-permissions/viewer", `{"files":{"GET":true}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRolesEndpoint(t *testing.T) {
	router, _ := setupHandlersTest(t)

	require.Equal(t, http.StatusCreated, doAs(router, admin, "POST", "/roles/create-role", `{"name":"editor"}`).Code)

	rec := doAs(router, admin, "GET", "/roles/list-roles", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var roles []Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &roles))
	require.Len(t, roles, 2)
	assert.Equal(t, "admin", roles[0].Name)
	assert.Equal(t, "editor", roles[1].Name)
}

func TestRolePermissionsUnknownRole(t *testing.T) {
	router, _ := setupHandlersTest(t)

	rec := doAs(router, admin, "GET", "/roles/role-permissions/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
