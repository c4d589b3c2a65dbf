package escrow

import (
	"context"
	"time"

	"pevi-platform/pkg/rediskey"

	"github.com/redis/go-redis/v9"
)

const defaultLeaseTTL = 10 * time.Minute

// Lease is the at-most-one-in-flight-release guard per contract.
type Lease interface {
	// Acquire takes the release lease for the contract. It returns false
	// when another release already holds it.
	Acquire(ctx context.Context, contractID, holder string) (bool, error)
	// Held reports whether the given holder currently owns the lease. Steps
	// after the first require the lease to still be held, so an expired
	// lease forces the caller to restart from the idempotency-checked step.
	Held(ctx context.Context, contractID, holder string) (bool, error)
	// Extend refreshes the TTL so a slow multi-prompt release does not
	// expire mid-sequence.
	Extend(ctx context.Context, contractID string) error
	// Release drops the lease. Called on completion and on any halt.
	Release(ctx context.Context, contractID string) error
}

// redisLease backs the lease with an atomic SetNX and a TTL, so a crashed or
// abandoned release self-expires instead of wedging the campaign.
type redisLease struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewLease(rdb *redis.Client, ttl time.Duration) Lease {
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &redisLease{redis: rdb, ttl: ttl}
}

func (l *redisLease) Acquire(ctx context.Context, contractID, holder string) (bool, error) {
	return l.redis.SetNX(ctx, rediskey.BuildReleaseLeaseKey(contractID), holder, l.ttl).Result()
}

func (l *redisLease) Held(ctx context.Context, contractID, holder string) (bool, error) {
	val, err := l.redis.Get(ctx, rediskey.BuildReleaseLeaseKey(contractID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == holder, nil
}

func (l *redisLease) Extend(ctx context.Context, contractID string) error {
	return l.redis.Expire(ctx, rediskey.BuildReleaseLeaseKey(contractID), l.ttl).Err()
}

func (l *redisLease) Release(ctx context.Context, contractID string) error {
	return l.redis.Del(ctx, rediskey.BuildReleaseLeaseKey(contractID)).Err()
}
