package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neofi/chronicle/pkg/contextkeys"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDistributedLimiterCountsAgainstWindow(t *testing.T) {
	client := setupRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 3,
		WindowDuration:    time.Minute,
	}, "test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "key")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := limiter.Allow(ctx, "key")
	require.NoError(t, err)
	assert.False(t, allowed)

	remaining, err := limiter.Remaining(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestDistributedLimiterReset(t *testing.T) {
	client := setupRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	}, "test")
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "key")
	require.NoError(t, err)
	require.True(t, allowed)
	allowed, _ = limiter.Allow(ctx, "key")
	require.False(t, allowed)

	require.NoError(t, limiter.Reset(ctx, "key"))
	allowed, err = limiter.Allow(ctx, "key")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestDistributedMiddlewareLimits(t *testing.T) {
	client := setupRedis(t)
	m := NewDistributedRateLimitMiddleware(client)
	m.userLimiter = NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
	}, "ratelimit:user")

	handler := m.Handler(okHandler())

	doAs := func(email string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
		ctx := contextkeys.WithIdentity(req.Context(), contextkeys.Identity{Email: email})
		handler.ServeHTTP(rec, req.WithContext(ctx))
		return rec
	}

	require.Equal(t, http.StatusOK, doAs("alice@example.com").Code)
	require.Equal(t, http.StatusOK, doAs("alice@example.com").Code)

	rec := doAs("alice@example.com")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, doAs("bob@example.com").Code)
}

func TestDistributedMiddlewareFailsOpenOnRedisLoss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	m := NewDistributedRateLimitMiddleware(client)
	handler := m.Handler(okHandler())

	mr.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// fail closed when fallback is disabled
	m.SetFallbackEnabled(false)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDistributedHealthCheck(t *testing.T) {
	client := setupRedis(t)
	m := NewDistributedRateLimitMiddleware(client)
	require.NoError(t, m.HealthCheck(context.Background()))
}
