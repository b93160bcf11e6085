// Package inflight keeps at most one job running per key.
package inflight

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrBusy is returned when the key is already held.
var ErrBusy = errors.New("a job is already in flight")

// Guard grants exclusive, expiring ownership of a key.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

const keyPrefix = "inflight:"

// release only deletes the key when the caller still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares ownership across API instances.
type RedisGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := g.rdb.SetNX(ctx, keyPrefix+key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrBusy
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, g.rdb, []string{keyPrefix + key}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to release in-flight lock")
		}
	}, nil
}

// MemoryGuard is the single-process fallback.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{held: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if expires, ok := g.held[key]; ok && now.Before(expires) {
		return nil, ErrBusy
	}
	expires := now.Add(g.ttl)
	g.held[key] = expires

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.held[key] == expires {
				delete(g.held, key)
			}
		})
	}, nil
}

// Noop never refuses; used when single-flight is disabled.
type Noop struct{}

func (Noop) Acquire(context.Context, string) (func(), error) { return func() {}, nil }
