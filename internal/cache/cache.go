package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"

	"qback/internal/config"
	"qback/internal/market"
)

// ErrMiss is returned when a key is absent or expired
var ErrMiss = errors.New("cache: miss")

// Cacher is the factor-chunk cache. All failures are advisory: callers fall
// through to recomputation when a cache operation errors.
type Cacher interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// New creates a cache from configuration: redis when enabled, otherwise an
// in-process memory cache. Redis connection failure falls back to memory
// rather than failing the caller.
func New(cfg config.RedisConfig) Cacher {
	if cfg.Enabled {
		if c, err := NewRedisCache(cfg); err == nil {
			return c
		}
	}
	return NewMemoryCache(defaultMemorySize)
}

// ChunkKey builds the content-addressed key for one date's factor chunk:
// hash of the date, the sorted factor set, and the sorted universe.
func ChunkKey(date time.Time, factors, universe []string) string {
	fs := append([]string(nil), factors...)
	us := append([]string(nil), universe...)
	sort.Strings(fs)
	sort.Strings(us)

	h := sha256.New()
	h.Write([]byte(market.DateKey(date)))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(fs, ",")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(us, ",")))
	return "factors:" + hex.EncodeToString(h.Sum(nil))[:32]
}
