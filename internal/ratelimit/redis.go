package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend is a multi-instance-safe Backend, grounded on the
// teacher's redisclient.Client wrapper. It keeps a sorted set per key
// (score = request unix-nano) and trims entries outside the window on
// every call, the Redis-native equivalent of MemoryBackend's prune.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an existing go-redis client. keyPrefix namespaces
// this limiter's keys from other Redis users, e.g. "signalhub:ratelimit:".
func NewRedisBackend(client *redis.Client, keyPrefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: keyPrefix}
}

func (b *RedisBackend) redisKey(key string) string { return b.prefix + key }

func (b *RedisBackend) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (Usage, error) {
	rk := b.redisKey(key)
	cutoff := now.Add(-window)
	member := redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()}

	pipe := b.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rk, "-inf", itoaScore(cutoff))
	pipe.ZAdd(ctx, rk, member)
	countCmd := pipe.ZCard(ctx, rk)
	pipe.Expire(ctx, rk, window+10*time.Second)
	oldest := pipe.ZRangeWithScores(ctx, rk, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return Usage{}, err
	}

	count, err := countCmd.Result()
	if err != nil {
		return Usage{}, err
	}
	return Usage{Count: int(count), ResetAt: resetAtFrom(oldest.Val(), window)}, nil
}

func (b *RedisBackend) GetUsage(ctx context.Context, key string, now time.Time, window time.Duration) (Usage, error) {
	rk := b.redisKey(key)
	cutoff := now.Add(-window)

	pipe := b.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rk, "-inf", itoaScore(cutoff))
	countCmd := pipe.ZCard(ctx, rk)
	oldest := pipe.ZRangeWithScores(ctx, rk, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return Usage{}, err
	}

	count, err := countCmd.Result()
	if err != nil {
		return Usage{}, err
	}
	return Usage{Count: int(count), ResetAt: resetAtFrom(oldest.Val(), window)}, nil
}

func (b *RedisBackend) Reset(ctx context.Context, key string) error {
	return b.client.Del(ctx, b.redisKey(key)).Err()
}

func itoaScore(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func resetAtFrom(members []redis.Z, window time.Duration) time.Time {
	if len(members) == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(members[0].Score)).Add(window)
}
