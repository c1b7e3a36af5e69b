package notify

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisReplayProtector claims delivery keys with SETNX so replicas sharing
// a Redis never deliver the same event twice.
type RedisReplayProtector struct {
	Client *redis.Client
}

// Acquire reports whether the caller now owns key for ttl.
func (r RedisReplayProtector) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.Client == nil {
		return true, nil
	}
	return r.Client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// Release drops key so a failed delivery can be retried.
func (r RedisReplayProtector) Release(ctx context.Context, key string) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, key).Err()
}

// MemoryReplayProtector is the single-process fallback used without Redis.
type MemoryReplayProtector struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func (m *MemoryReplayProtector) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

// Acquire reports whether the caller now owns key for ttl.
func (m *MemoryReplayProtector) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	if m.keys == nil {
		m.keys = make(map[string]time.Time)
	}
	for k, exp := range m.keys {
		if !now.Before(exp) {
			delete(m.keys, k)
		}
	}
	if _, held := m.keys[key]; held {
		return false, nil
	}
	m.keys[key] = now.Add(ttl)
	return true, nil
}

// Release drops key.
func (m *MemoryReplayProtector) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()
	return nil
}
