package realtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-redis/redis/v8"
)

// VersionStore tracks the latest accepted version of each resource key.
// Versions are opaque strings that callers only compare for equality.
type VersionStore interface {
	// Current returns the recorded version, or ok=false when none exists.
	Current(ctx context.Context, key string) (version string, ok bool, err error)
	// Advance derives and stores the next version for key.
	Advance(ctx context.Context, key string) (string, error)
}

// MemoryVersionStore keeps versions in process memory. State is lost on
// restart.
type MemoryVersionStore struct {
	mu       sync.Mutex
	versions map[string]uint64
}

func NewMemoryVersionStore() *MemoryVersionStore {
	return &MemoryVersionStore{versions: make(map[string]uint64)}
}

func (s *MemoryVersionStore) Current(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[key]
	if !ok {
		return "", false, nil
	}
	return strconv.FormatUint(v, 10), true, nil
}

func (s *MemoryVersionStore) Advance(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[key]++
	return strconv.FormatUint(s.versions[key], 10), nil
}

const redisVersionPrefix = "tandem:version:"

// RedisVersionStore shares versions between gateway replicas using one Redis
// counter per resource key.
type RedisVersionStore struct {
	client *redis.Client
}

func NewRedisVersionStore(client *redis.Client) *RedisVersionStore {
	return &RedisVersionStore{client: client}
}

func redisVersionKey(key string) string {
	return redisVersionPrefix + key
}

func (s *RedisVersionStore) Current(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, redisVersionKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read version %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisVersionStore) Advance(ctx context.Context, key string) (string, error) {
	n, err := s.client.Incr(ctx, redisVersionKey(key)).Result()
	if err != nil {
		return "", fmt.Errorf("advance version %s: %w", key, err)
	}
	return strconv.FormatInt(n, 10), nil
}
