package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey names the Redis set holding the processed references.
const DefaultRedisKey = "paygate:processed"

// RedisStore persists the processed set as a Redis set.
//
// This is the backend for multi-instance deployments: SADD is atomic
// add-if-absent, so the added flag returned by Add is authoritative
// across every instance sharing the key. Two instances racing to accept
// the same reference cannot both see added=true.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore creates a store over an existing Redis client, keyed
// under key (DefaultRedisKey if empty).
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{
		client: client,
		key:    key,
	}
}

// NewRedisStoreFromAddr creates a store with its own Redis connection.
func NewRedisStoreFromAddr(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStore(rdb, DefaultRedisKey)
}

// LoadAll fetches the full set with SMEMBERS.
func (s *RedisStore) LoadAll(ctx context.Context) (map[string]struct{}, error) {
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", s.key, err)
	}

	out := make(map[string]struct{}, len(members))
	for _, ref := range members {
		out[canonical(ref)] = struct{}{}
	}
	return out, nil
}

// Add records ref with SADD. The reply distinguishes a fresh add
// (added=true) from a reference some instance already stored.
func (s *RedisStore) Add(ctx context.Context, ref string) (bool, error) {
	n, err := s.client.SAdd(ctx, s.key, canonical(ref)).Result()
	if err != nil {
		return false, fmt.Errorf("redis sadd %s: %w", s.key, err)
	}
	return n == 1, nil
}

// Remove deletes ref with SREM. Absent references are a no-op.
func (s *RedisStore) Remove(ctx context.Context, ref string) error {
	if err := s.client.SRem(ctx, s.key, canonical(ref)).Err(); err != nil {
		return fmt.Errorf("redis srem %s: %w", s.key, err)
	}
	return nil
}

// Clear deletes the whole set key.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", s.key, err)
	}
	return nil
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
