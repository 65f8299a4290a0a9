package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opina/server/internal/auth"
)

func TestMemoryLimiter_window(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := &MemoryLimiter{requests: map[string][]time.Time{}, window: time.Minute, maxReqs: 2, now: func() time.Time { return now }}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "k")
	assert.False(t, ok)

	ok, _ = rl.Allow(ctx, "other")
	assert.True(t, ok, "keys are independent")

	now = now.Add(61 * time.Second)
	ok, _ = rl.Allow(ctx, "k")
	assert.True(t, ok, "window slid past earlier requests")
}

func TestMemoryLimiter_concurrent(t *testing.T) {
	rl := NewMemoryLimiter(time.Minute, 5)
	defer rl.Close()
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := rl.Allow(context.Background(), "k"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, allowed)
}

func TestMemoryLimiter_prune(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := &MemoryLimiter{requests: map[string][]time.Time{}, window: time.Minute, maxReqs: 2, now: func() time.Time { return now }}
	ctx := context.Background()

	_, _ = rl.Allow(ctx, "old")
	now = now.Add(30 * time.Second)
	_, _ = rl.Allow(ctx, "recent")
	now = now.Add(45 * time.Second)

	rl.prune()
	assert.NotContains(t, rl.requests, "old")
	assert.Len(t, rl.requests["recent"], 1)
}

func TestMemoryLimiter_Close(t *testing.T) {
	rl := NewMemoryLimiter(time.Minute, 1)
	rl.Close()
	rl.Close()

	select {
	case <-rl.done:
	default:
		t.Fatal("cleanup goroutine still running after Close")
	}

	ok, err := rl.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok, "a closed limiter keeps counting")
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("store down")
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	limiter := NewMemoryLimiter(time.Minute, 1)
	defer limiter.Close()
	handler := RateLimit(limiter, IPKey)(ok)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req.RemoteAddr = "10.0.0.1:6666"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Trop de tentatives, réessayez plus tard", decodeBody(t, rec)["erreur"])

	failOpen := RateLimit(failingLimiter{}, IPKey)(ok)
	rec = httptest.NewRecorder()
	failOpen.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestKeys(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.4:1234"
	assert.Equal(t, "ip:192.168.1.4", IPKey(req))
	assert.Equal(t, "ip:192.168.1.4", UserKey(req))

	req = req.WithContext(WithIdentity(req.Context(), auth.Identity{ID: 12}))
	assert.Equal(t, "user:12", UserKey(req))
}

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	if url := os.Getenv("REDIS_URL"); url != "" {
		opts, err := redis.ParseURL(url)
		require.NoError(t, err)
		return redis.NewClient(opts)
	}
	if testing.Short() {
		t.Skip("REDIS_URL not set")
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	endpoint, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)
	return redis.NewClient(&redis.Options{Addr: endpoint})
}

func TestRedisLimiter(t *testing.T) {
	client := redisClient(t)
	defer client.Close()
	ctx := context.Background()

	now := time.Now()
	rl := NewRedisLimiter(client, "test:ratelimit:"+t.Name()+":", time.Minute, 3)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		now = now.Add(time.Millisecond)
	}
	ok, err := rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := client.ZCard(ctx, rl.prefix+"k").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "refused requests are not counted")

	now = now.Add(time.Minute)
	ok, err = rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}
