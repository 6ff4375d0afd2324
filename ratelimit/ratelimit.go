// Package ratelimit - best-effort request rate limiting
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/redis/go-redis/v9"
)

/*
Limiter best-effort fixed-window request limiter.

Callers must fail open: a limiter backend outage must never block playback,
so an error from Allow is logged and treated as a pass.
*/
type Limiter interface {
	/*
		Allow check whether one more request fits the window

			@param ctx context.Context - execution context
			@param key string - limit bucket key, typically the identity
			@returns whether the request is within the limit
	*/
	Allow(ctx context.Context, key string) (bool, error)
}

// redisLimiter implements Limiter with a Redis backed fixed window counter
type redisLimiter struct {
	goutils.Component

	client      redis.UniversalClient
	limit       int64
	window      time.Duration
	callTimeout time.Duration
}

/*
NewRedisLimiter define a Redis backed fixed-window limiter

	@param client redis.UniversalClient - Redis client
	@param limit int64 - max requests per window
	@param window time.Duration - window length
	@returns limiter instance
*/
func NewRedisLimiter(
	client redis.UniversalClient, limit int64, window time.Duration,
) (Limiter, error) {
	if client == nil {
		return nil, fmt.Errorf("no Redis client provided")
	}
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("limiter needs a positive limit and window")
	}

	logTags := log.Fields{"module": "ratelimit", "component": "fixed-window-limiter"}

	return &redisLimiter{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		client:      client,
		limit:       limit,
		window:      window,
		callTimeout: time.Second * 2,
	}, nil
}

/*
Allow check whether one more request fits the window

	@param ctx context.Context - execution context
	@param key string - limit bucket key, typically the identity
	@returns whether the request is within the limit
*/
func (l *redisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()

	windowStart := time.Now().Unix() / int64(l.window.Seconds())
	bucket := fmt.Sprintf("ratelimit:{%s}:%d", key, windowStart)

	pipe := l.client.TxPipeline()
	count := pipe.Incr(callCtx, bucket)
	pipe.Expire(callCtx, bucket, l.window)
	if _, err := pipe.Exec(callCtx); err != nil {
		return false, fmt.Errorf("rate limit window update failed [%w]", err)
	}

	return count.Val() <= l.limit, nil
}

// --------------------------------------------------------------------------------------

// memoryLimiter an in-process fixed-window limiter for tests and
// single-instance deployments without Redis
type memoryLimiter struct {
	lock    sync.Mutex
	limit   int64
	window  time.Duration
	buckets map[string]int64
}

/*
NewMemoryLimiter define an in-process fixed-window limiter

Shares no state across instances; intended for unit tests and Redis-less
single-node setups.

	@param limit int64 - max requests per window
	@param window time.Duration - window length
	@returns limiter instance
*/
func NewMemoryLimiter(limit int64, window time.Duration) Limiter {
	return &memoryLimiter{limit: limit, window: window, buckets: map[string]int64{}}
}

// Allow check whether one more request fits the window
func (l *memoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	windowStart := time.Now().Unix() / int64(l.window.Seconds())
	bucket := fmt.Sprintf("%s:%d", key, windowStart)
	l.buckets[bucket]++
	return l.buckets[bucket] <= l.limit, nil
}
