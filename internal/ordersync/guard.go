package ordersync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"orderhub/internal/apperr"
)

// Guard is the single-flight gate in front of persistence. TryAcquire never
// waits: a held key fails fast with SyncInProgress. The returned release is
// safe to call more than once.
type Guard interface {
	TryAcquire(ctx context.Context, key string) (release func(), err error)
}

// MemoryGuard serializes keys within one process.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: map[string]struct{}{}}
}

func (g *MemoryGuard) TryAcquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[key]; busy {
		return nil, apperr.Errorf(apperr.KindSyncInProgress, "ordersync.guard", "%s", key)
	}
	g.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently acquired.
func (g *MemoryGuard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[key]
	return ok
}

// releaseScript deletes the lock only if it still carries our token, so an
// expired-then-reacquired lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares the gate across instances with SET NX PX. TTL bounds how
// long a crashed holder can block a key.
type RedisGuard struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisGuard{rdb: rdb, ttl: ttl, prefix: "orderhub:sync:"}
}

func (g *RedisGuard) TryAcquire(ctx context.Context, key string) (func(), error) {
	const op = "ordersync.guard"
	k := g.prefix + key
	token := uuid.NewString()
	ok, err := g.rdb.SetNX(ctx, k, token, g.ttl).Result()
	if err != nil {
		return nil, apperr.E(apperr.KindPersistenceUnavailable, op, err)
	}
	if !ok {
		return nil, apperr.Errorf(apperr.KindSyncInProgress, op, "%s", key)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, g.rdb, []string{k}, token).Err()
		})
	}, nil
}
