package indexing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker is the exclusive build-lock contract BM25 rebuilds and
// hierarchical-tree rebuilds take before running (spec §5: "rebuilds
// happen under an exclusive build lock"; SPEC_FULL.md's "Isolation lock"
// glossary entry). Kept as a small interface (rather than exposing
// *redis.Client directly) so tests can fake it without a live Redis.
type Locker interface {
	// Acquire attempts to take the named lock for ttl. ok is false when
	// another process already holds it; release must be called exactly
	// once when ok is true, regardless of whether the protected work
	// succeeds.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// unlockScript only deletes the key if it still holds the token this
// process set, so a lock that outlived its TTL and was re-acquired by
// another worker is never deleted out from under it.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// RedisLock implements Locker over go-redis/v9's SetNX, mirroring the
// teacher's initRedisClient wiring
// (_examples/scookiem-WeKnora/internal/container/container.go) generalized
// to the exclusive-lock use SPEC_FULL.md §4.4 calls for — no pack repo
// implements a distributed lock helper itself.
type RedisLock struct {
	client *redis.Client
	prefix string
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client, prefix: "kbretrieval:lock:"}
}

func (l *RedisLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	key := l.prefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("indexing: acquiring lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		return l.client.Eval(ctx, unlockScript, []string{key}, token).Err()
	}
	return release, true, nil
}

// WithLock runs fn while holding name, returning (false, nil) without
// running fn when the lock is already held elsewhere — callers (BM25
// rebuild, hierarchical rebuild) treat that as "a rebuild is already in
// progress, skip this trigger" rather than an error (spec §5: "core
// degrades to dense-only retrieval if a rebuild is in progress").
func WithLock(ctx context.Context, locker Locker, name string, ttl time.Duration, fn func(context.Context) error) (bool, error) {
	release, ok, err := locker.Acquire(ctx, name, ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer release(ctx)
	if err := fn(ctx); err != nil {
		return true, err
	}
	return true, nil
}
