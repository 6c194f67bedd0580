package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "media-module:ratelimit:"

// Redis — fixed window счётчик в Redis, общий для всех реплик.
type Redis struct {
	client   redis.UniversalClient
	requests int
	window   time.Duration
	now      func() time.Time
}

// NewRedis создаёт лимитер поверх готового клиента.
func NewRedis(client redis.UniversalClient, requests int, window time.Duration) *Redis {
	return &Redis{
		client:   client,
		requests: requests,
		window:   window,
		now:      time.Now,
	}
}

// Allow увеличивает счётчик текущего окна ключа.
func (r *Redis) Allow(ctx context.Context, key string) (Result, error) {
	now := r.now()
	windowStart := now.Truncate(r.window)
	windowKey := redisKeyPrefix + key + ":" + strconv.FormatInt(windowStart.Unix(), 10)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, windowKey)
		pipe.Expire(ctx, windowKey, r.window)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("ошибка счётчика rate limit в Redis: %w", err)
	}

	count := int(incr.Val())
	if count > r.requests {
		return Result{
			Allowed:    false,
			Limit:      r.requests,
			RetryAfter: windowStart.Add(r.window).Sub(now),
		}, nil
	}
	return Result{Allowed: true, Limit: r.requests, Remaining: r.requests - count}, nil
}

// Ping проверяет доступность Redis при старте.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
