// Package ratelimit caps the number of concurrently running backtests per
// user. The cap is advisory: when the backing store is unreachable the run
// is allowed rather than blocked.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"qback/internal/config"
	"qback/internal/errors"
	"qback/internal/logger"
)

// ErrLimitExceeded is returned when a user already has the maximum number
// of running simulations
var ErrLimitExceeded = errors.ErrRateLimit

// Limiter admits or rejects new runs per user
type Limiter interface {
	// Acquire reserves a run slot. The returned release must be called when
	// the run ends, whatever its final status.
	Acquire(ctx context.Context, userID string) (release func(), err error)
}

// New picks the redis-backed limiter when redis is configured, otherwise
// the in-process one. A disabled limit admits everything.
func New(cfg config.RateLimitConfig, client *redis.Client, log logger.Logger) Limiter {
	if !cfg.Enabled {
		return noopLimiter{}
	}
	if log == nil {
		log = logger.Default()
	}
	if client != nil {
		return &RedisLimiter{client: client, max: cfg.MaxConcurrentRuns, ttl: cfg.TTL, log: log}
	}
	return NewMemoryLimiter(cfg.MaxConcurrentRuns)
}

type noopLimiter struct{}

func (noopLimiter) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

// RedisLimiter counts running simulations in redis, so the cap holds across
// engine processes. The counter key carries a TTL as a crash backstop.
type RedisLimiter struct {
	client *redis.Client
	max    int
	ttl    time.Duration
	log    logger.Logger
}

func (l *RedisLimiter) key(userID string) string {
	return fmt.Sprintf("backtest:running:%s", userID)
}

// Acquire increments the user's running count, backing the increment out
// when it exceeds the cap. Redis being down admits the run.
func (l *RedisLimiter) Acquire(ctx context.Context, userID string) (func(), error) {
	key := l.key(userID)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn("rate limiter unavailable, admitting run", "user", userID, "error", err)
		return func() {}, nil
	}
	if l.ttl > 0 {
		l.client.Expire(ctx, key, l.ttl)
	}
	if count > int64(l.max) {
		l.client.Decr(ctx, key)
		return nil, ErrLimitExceeded
	}
	release := func() {
		if err := l.client.Decr(context.Background(), key).Err(); err != nil {
			l.log.Warn("rate limiter release failed", "user", userID, "error", err)
		}
	}
	return release, nil
}

// MemoryLimiter counts running simulations in process
type MemoryLimiter struct {
	mu      sync.Mutex
	max     int
	running map[string]int
}

// NewMemoryLimiter creates an in-process limiter with the given cap
func NewMemoryLimiter(max int) *MemoryLimiter {
	return &MemoryLimiter{max: max, running: make(map[string]int)}
}

// Acquire reserves a slot for the user or fails with ErrLimitExceeded
func (l *MemoryLimiter) Acquire(_ context.Context, userID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running[userID] >= l.max {
		return nil, ErrLimitExceeded
	}
	l.running[userID]++
	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.running[userID] > 0 {
				l.running[userID]--
			}
		})
	}
	return release, nil
}
