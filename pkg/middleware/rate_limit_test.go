package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/procflow/procflow/internal/ratelimit"
)

func writeBuckets(limit int) ratelimit.Buckets {
	return ratelimit.Buckets{
		ratelimit.BucketRead:  {Limit: 100, Window: time.Minute},
		ratelimit.BucketWrite: {Limit: limit, Window: time.Minute},
	}
}

func claimsInjector(sub string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("claims", map[string]interface{}{"sub": sub})
		c.Next()
	}
}

func TestRateLimitMiddleware_DeniesWithRetryAfter(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	lim := ratelimit.NewRedisLimiter(client, writeBuckets(5), true)

	r := gin.New()
	r.Use(claimsInjector("u1"))
	r.Use(RateLimitMiddleware(lim, ratelimit.BucketWrite))
	r.PUT("/w", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("PUT", "/w", nil))
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("PUT", "/w", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Greater(t, body["retryAfterSeconds"].(float64), 0.0)

	// past the window boundary the identity is admitted again
	m.FastForward(2 * time.Minute)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("PUT", "/w", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitMiddleware_AnonymousKeyedByIP(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	lim := ratelimit.NewRedisLimiter(client, writeBuckets(1), true)

	r := gin.New()
	r.Use(RateLimitMiddleware(lim, ratelimit.BucketWrite))
	r.PUT("/w", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	req := httptest.NewRequest("PUT", "/w", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("PUT", "/w", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// a different source address has its own window
	req = httptest.NewRequest("PUT", "/w", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitMiddleware_FailOpenKeepsServing(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	lim := ratelimit.NewRedisLimiter(client, writeBuckets(1), true)
	m.Close()

	r := gin.New()
	r.Use(RateLimitMiddleware(lim, ratelimit.BucketWrite))
	r.PUT("/w", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("PUT", "/w", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimitMiddleware_MemoryLimiter(t *testing.T) {
	lim := ratelimit.NewMemoryLimiter(writeBuckets(1))

	r := gin.New()
	r.Use(claimsInjector("u1"))
	r.Use(RateLimitMiddleware(lim, ratelimit.BucketWrite))
	r.PUT("/w", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("PUT", "/w", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("PUT", "/w", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}
