package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/procflow/procflow/pkg/logger"
)

// RedisLimiter is a fixed-window counter limiter suitable for distributed
// deployments: INCR a per-(identity, bucket, window) key and compare against
// the bucket limit. Deterministic and cheap; the window boundary burst it
// allows is acceptable for this gate.
type RedisLimiter struct {
	client   *redis.Client
	buckets  Buckets
	failOpen bool
}

func NewRedisLimiter(client *redis.Client, buckets Buckets, failOpen bool) *RedisLimiter {
	return &RedisLimiter{client: client, buckets: buckets, failOpen: failOpen}
}

func (l *RedisLimiter) Name() string { return "redis" }

func (l *RedisLimiter) Allow(ctx context.Context, identity, bucket string) (Decision, error) {
	bk := l.buckets.get(bucket)
	winSecs := int64(bk.Window / time.Second)
	if winSecs <= 0 {
		winSecs = 1
	}
	now := time.Now()
	slot := now.Unix() / winSecs
	key := fmt.Sprintf("rl:%s:%s:%d", bucket, identity, slot)
	reset := time.Unix((slot+1)*winSecs, 0)

	cnt, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		if l.failOpen {
			logger.Warnf("ratelimit: counter store unreachable, allowing request: %v", err)
			return Decision{Allowed: true, Remaining: -1, Reset: reset}, nil
		}
		return Decision{}, err
	}
	if cnt == 1 {
		// expire the window key shortly after the boundary
		_ = l.client.Expire(ctx, key, time.Duration(winSecs+1)*time.Second).Err()
	}

	remaining := bk.Limit - int(cnt)
	if remaining < 0 {
		remaining = 0
	}
	if int(cnt) > bk.Limit {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: time.Until(reset),
			Reset:      reset,
		}, nil
	}
	return Decision{Allowed: true, Remaining: remaining, Reset: reset}, nil
}
