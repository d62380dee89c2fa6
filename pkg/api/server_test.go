package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neofi/chronicle/pkg/config"
	"github.com/neofi/chronicle/pkg/observability"
)

type serverEnv struct {
	server *Server
	ts     *httptest.Server
}

func setupServer(t *testing.T) *serverEnv {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           "0",
			HealthPort:     "0",
			AllowedOrigins: []string{"*"},
		},
		Storage: config.StorageConfig{
			Driver: "sqlite3",
			DSN:    ":memory:",
		},
		Auth: config.AuthConfig{
			JWTSecret:          "integration-test-secret",
			AccessTokenTTL:     time.Minute,
			RefreshTokenTTL:    time.Hour,
			OwnerEmail:         "owner@chronicle.local",
			OwnerPassword:      "owner-password",
			TokenPurgeSchedule: "@hourly",
		},
		Observability: config.ObservabilityConfig{LogLevel: observability.ErrorLevel},
	}

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	server, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return &serverEnv{server: server, ts: ts}
}

func (e *serverEnv) request(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	var decoded map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if len(raw) > 0 {
		json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func (e *serverEnv) requestList(t *testing.T, method, path, token string, body interface{}) (*http.Response, []map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	var decoded []map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if len(raw) > 0 {
		json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func (e *serverEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	resp, body := e.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestInfoEndpoints(t *testing.T) {
	env := setupServer(t)

	resp, body := env.request(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "chronicle", body["service"])

	resp, _ = env.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.request(t, http.MethodGet, "/version", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, Version, body["version"])
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	env := setupServer(t)

	resp, _ := env.request(t, http.MethodGet, "/api/events", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.request(t, http.MethodGet, "/api/users/me", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOwnerSeededAndCanLogin(t *testing.T) {
	env := setupServer(t)

	token := env.login(t, "owner@chronicle.local", "owner-password")

	resp, body := env.request(t, http.MethodGet, "/api/users/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "owner@chronicle.local", body["email"])
	assert.Equal(t, "owner", body["role"])
}

// The full lifecycle across the wired stack: accounts, roles, events,
// collaboration, versioning, and rollback.
func TestEndToEndEventLifecycle(t *testing.T) {
	env := setupServer(t)
	ownerToken := env.login(t, "owner@chronicle.local", "owner-password")

	// register and set up a second account with an event-editing role
	resp, _ := env.request(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "alice@example.com",
		"password": "alice-password",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.request(t, http.MethodPost, "/api/roles/create-role", ownerToken, map[string]string{
		"name": "Editor",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.request(t, http.MethodPost, "/api/roles/assign-permissions/Editor", ownerToken, map[string]map[string]bool{
		"events": {"GET": true, "POST": true, "PUT": true},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.request(t, http.MethodPost, "/api/users/assign-role/alice@example.com", ownerToken, map[string]string{
		"role": "Editor",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	aliceToken := env.login(t, "alice@example.com", "alice-password")

	// alice creates an event
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	resp, created := env.request(t, http.MethodPost, "/api/events", aliceToken, map[string]interface{}{
		"title":      "sprint review",
		"start_time": start.Format(time.RFC3339),
		"end_time":   start.Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	eventID, _ := created["id"].(string)
	require.NotEmpty(t, eventID)

	// update, which appends a version entry
	resp, _ = env.request(t, http.MethodPut, "/api/events/"+eventID, aliceToken, map[string]string{
		"title": "sprint review (moved)",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, changelog := env.requestList(t, http.MethodGet, "/api/events/"+eventID+"/changelog", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, changelog, 1)
	versionID := int64(changelog[0]["id"].(float64))
	assert.Equal(t, "update", changelog[0]["change_type"])

	// rollback restores the original title and appends a second entry
	resp, rolled := env.request(t, http.MethodPost,
		fmt.Sprintf("/api/events/%s/rollback/%d", eventID, versionID), aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sprint review", rolled["title"])

	resp, changelog = env.requestList(t, http.MethodGet, "/api/events/"+eventID+"/changelog", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, changelog, 2)
}

func TestAuthRateLimitOnCredentialEndpoints(t *testing.T) {
	env := setupServer(t)

	// hammer login until the strict per-IP budget runs out
	var limited bool
	for i := 0; i < 40; i++ {
		resp, _ := env.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "nobody@example.com",
			"password": "wrong",
		})
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	assert.True(t, limited, "expected the credential endpoint to rate limit")
}
