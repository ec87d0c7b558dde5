// Package distlock provides a leader lease over Redis for deployments that
// run more than one process against the same backends. Only the lease
// holder runs the termination policy, so a session is never killed twice.
// Single-process deployments use the no-op lease and skip Redis entirely.
package distlock

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const DefaultLeaseTTL = 15 * time.Second

// Lease is held (or not) by this process. IsLeader is safe to call every
// cycle; Renew should run on a timer well inside the TTL.
type Lease interface {
	TryAcquire(ctx context.Context) bool
	Renew(ctx context.Context) bool
	Release(ctx context.Context)
}

// NoopLease always holds; the single-process default.
type NoopLease struct{}

func (NoopLease) TryAcquire(ctx context.Context) bool { return true }
func (NoopLease) Renew(ctx context.Context) bool      { return true }
func (NoopLease) Release(ctx context.Context)         {}

// Lua scripts keep renew/release atomic: the check-then-mutate must not
// race another instance acquiring an expired lease.
var renewScript = goredis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('pexpire', KEYS[1], ARGV[2])
else
  return 0
end
`)

var releaseScript = goredis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
else
  return 0
end
`)

// RedisLease is a SET NX lease with a TTL, keyed by role, owned by an
// instance id unique to this process.
type RedisLease struct {
	client     goredis.UniversalClient
	key        string
	instanceID string
	ttl        time.Duration
}

func NewRedisLease(client goredis.UniversalClient, key, instanceID string, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &RedisLease{client: client, key: key, instanceID: instanceID, ttl: ttl}
}

// TryAcquire reports whether this instance now holds the lease. Re-entrant:
// a holder that calls again keeps holding.
func (l *RedisLease) TryAcquire(ctx context.Context) bool {
	ok, err := l.client.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
	if err != nil {
		return false
	}
	if ok {
		return true
	}
	val, err := l.client.Get(ctx, l.key).Result()
	return err == nil && val == l.instanceID
}

// Renew atomically extends the TTL if we still hold the lease.
func (l *RedisLease) Renew(ctx context.Context) bool {
	ttlMs := int64(l.ttl / time.Millisecond)
	result, err := renewScript.Run(ctx, l.client, []string{l.key}, l.instanceID, ttlMs).Int64()
	return err == nil && result == 1
}

// Release atomically drops the lease if we hold it.
func (l *RedisLease) Release(ctx context.Context) {
	releaseScript.Run(ctx, l.client, []string{l.key}, l.instanceID) //nolint:errcheck
}
