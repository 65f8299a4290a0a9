package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Limiter decides whether one more request is allowed for a key
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter implements a simple in-memory rate limiter using a sliding window
type MemoryLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	maxReqs  int
	now      func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiter creates a new in-memory rate limiter. Close stops its
// cleanup goroutine.
func NewMemoryLimiter(window time.Duration, maxReqs int) *MemoryLimiter {
	rl := &MemoryLimiter{
		requests: make(map[string][]time.Time),
		window:   window,
		maxReqs:  maxReqs,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go rl.cleanup(time.Hour)

	return rl
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (rl *MemoryLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
	<-rl.done
}

// Allow checks if a request is allowed for the given key
func (rl *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	filtered := rl.recent(rl.requests[key], now.Add(-rl.window))

	if len(filtered) >= rl.maxReqs {
		rl.requests[key] = filtered
		return false, nil
	}

	rl.requests[key] = append(filtered, now)
	return true, nil
}

func (rl *MemoryLimiter) recent(reqs []time.Time, cutoff time.Time) []time.Time {
	filtered := make([]time.Time, 0, len(reqs))
	for _, t := range reqs {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// cleanup periodically removes old entries to prevent memory leaks
func (rl *MemoryLimiter) cleanup(every time.Duration) {
	defer close(rl.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.prune()
		}
	}
}

func (rl *MemoryLimiter) prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for key, reqs := range rl.requests {
		if filtered := rl.recent(reqs, cutoff); len(filtered) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = filtered
		}
	}
}

// RedisLimiter is a sliding window limiter shared by every instance, kept
// in one sorted set per key scored by request time.
type RedisLimiter struct {
	client  *redis.Client
	prefix  string
	window  time.Duration
	maxReqs int
	now     func() time.Time
}

// NewRedisLimiter creates a limiter storing its windows under prefix
func NewRedisLimiter(client *redis.Client, prefix string, window time.Duration, maxReqs int) *RedisLimiter {
	return &RedisLimiter{
		client:  client,
		prefix:  prefix,
		window:  window,
		maxReqs: maxReqs,
		now:     time.Now,
	}
}

// Allow records the request and reports whether the window still has room.
// Refused requests are not counted.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := rl.now()
	k := rl.prefix + key
	member := uuid.NewString()
	minScore := now.Add(-rl.window).UnixMicro()

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", "("+strconv.FormatInt(minScore, 10))
	pipe.ZAdd(ctx, k, &redis.Z{Score: float64(now.UnixMicro()), Member: member})
	pipe.Expire(ctx, k, rl.window)
	count := pipe.ZCard(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}

	if count.Val() > int64(rl.maxReqs) {
		if err := rl.client.ZRem(ctx, k, member).Err(); err != nil {
			log.Printf("rate limit %s: failed to drop refused request: %v", key, err)
		}
		return false, nil
	}
	return true, nil
}

// RateLimit creates a rate limiting middleware. A failing limiter lets the
// request through.
func RateLimit(limiter Limiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				log.Printf("rate limiter unavailable: %v", err)
				allowed = true
			}
			if !allowed {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				response := map[string]string{"erreur": "Trop de tentatives, réessayez plus tard"}
				_ = json.NewEncoder(w).Encode(response)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKey keys requests by client address. Run behind chi's RealIP so
// proxied requests carry the forwarded address.
func IPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// UserKey keys requests by authenticated user, falling back to the address
func UserKey(r *http.Request) string {
	if id, ok := GetIdentity(r.Context()); ok {
		return "user:" + strconv.FormatInt(id.ID, 10)
	}
	return IPKey(r)
}
