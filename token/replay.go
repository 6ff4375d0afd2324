package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

/*
ReplayStore tracks playback token jti values for single-use enforcement.

A jti is remembered at issuance with the token's lifetime as TTL, and consumed
atomically on first verification.
*/
type ReplayStore interface {
	/*
		Remember record a fresh jti

			@param ctx context.Context - execution context
			@param jti string - token jti
			@param ttl time.Duration - how long the jti stays consumable
	*/
	Remember(ctx context.Context, jti string, ttl time.Duration) error

	/*
		Consume atomically claim a jti; only the first caller wins

			@param ctx context.Context - execution context
			@param jti string - token jti
			@returns whether this call was the first consumption
	*/
	Consume(ctx context.Context, jti string) (bool, error)
}

// redisReplayStore implements ReplayStore against Redis
type redisReplayStore struct {
	client redis.UniversalClient
}

/*
NewRedisReplayStore define a Redis backed replay store

	@param client redis.UniversalClient - Redis client
	@returns replay store instance
*/
func NewRedisReplayStore(client redis.UniversalClient) (ReplayStore, error) {
	if client == nil {
		return nil, fmt.Errorf("no Redis client provided")
	}
	return &redisReplayStore{client: client}, nil
}

// jtiKey the Redis key of one jti
func jtiKey(jti string) string {
	return fmt.Sprintf("playback-token:jti:%s", jti)
}

// Remember record a fresh jti
func (s *redisReplayStore) Remember(ctx context.Context, jti string, ttl time.Duration) error {
	if err := s.client.Set(ctx, jtiKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("jti record failed [%w]", err)
	}
	return nil
}

// Consume atomically claim a jti via GETDEL; only the first caller wins
func (s *redisReplayStore) Consume(ctx context.Context, jti string) (bool, error) {
	result, err := s.client.GetDel(ctx, jtiKey(jti)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("jti consume failed [%w]", err)
	}
	return result != "", nil
}

// --------------------------------------------------------------------------------------

// memoryReplayStore an in-process ReplayStore for tests and Redis-less setups
type memoryReplayStore struct {
	lock sync.Mutex
	jtis map[string]time.Time
}

// NewMemoryReplayStore define an in-process replay store
func NewMemoryReplayStore() ReplayStore {
	return &memoryReplayStore{jtis: map[string]time.Time{}}
}

// Remember record a fresh jti
func (s *memoryReplayStore) Remember(_ context.Context, jti string, ttl time.Duration) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.jtis[jti] = time.Now().Add(ttl)
	return nil
}

// Consume atomically claim a jti; only the first caller wins
func (s *memoryReplayStore) Consume(_ context.Context, jti string) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	expiry, present := s.jtis[jti]
	if !present {
		return false, nil
	}
	delete(s.jtis, jti)
	return time.Now().Before(expiry), nil
}
