package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"herald/internal/config"
)

func newRouter(ctx context.Context, cfg RateLimitConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(ctx, cfg))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func get(r *gin.Engine, tenant string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if tenant != "" {
		req.Header.Set(TenantHeader, tenant)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitPerTenant(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newRouter(ctx, RateLimitConfig{RPS: 0.001, Burst: 2, CleanupInterval: time.Minute, MaxAge: time.Minute})

	assert.Equal(t, http.StatusOK, get(r, "t1").Code)
	assert.Equal(t, http.StatusOK, get(r, "t1").Code)

	limited := get(r, "t1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "RATE_LIMIT_EXCEEDED")

	assert.Equal(t, http.StatusOK, get(r, "t2").Code)
}

func TestFromAPIConfigDefaults(t *testing.T) {
	cfg := FromAPIConfig(config.APIRateLimitConfig{RPS: 5})
	assert.Equal(t, 5.0, cfg.RPS)
	assert.Equal(t, 20, cfg.Burst)
	assert.Equal(t, 10*time.Minute, cfg.MaxAge)
}

func TestBucketSetEvictsIdle(t *testing.T) {
	set := newBucketSet(RateLimitConfig{RPS: 1, Burst: 1, MaxAge: time.Minute})
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	ok, _ := set.allow("tenant:a", start)
	assert.True(t, ok)
	ok, _ = set.allow("tenant:b", start.Add(50*time.Second))
	assert.True(t, ok)

	set.evictIdle(start.Add(90 * time.Second))
	assert.Equal(t, 1, set.len())
}

func TestRateLimitUsesRouteTenant(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(ctx, RateLimitConfig{RPS: 0.001, Burst: 1, CleanupInterval: time.Minute, MaxAge: time.Minute}))
	r.GET("/tenants/:tenant/rules", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(path string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("/tenants/acme/rules"))
	assert.Equal(t, http.StatusTooManyRequests, do("/tenants/acme/rules"))
	assert.Equal(t, http.StatusOK, do("/tenants/globex/rules"))
}
