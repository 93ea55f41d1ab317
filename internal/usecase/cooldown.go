package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownStore rate limits repeating alerts. Acquire reports true when
// the caller won the slot; the slot stays taken for ttl.
type CooldownStore interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisCooldownStore keeps cooldown state in Redis so restarts and
// multiple instances share it.
type RedisCooldownStore struct {
	client *redis.Client
}

// NewRedisCooldownStore wraps an existing Redis client.
func NewRedisCooldownStore(client *redis.Client) *RedisCooldownStore {
	return &RedisCooldownStore{client: client}
}

func (s *RedisCooldownStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// MemoryCooldownStore is the single-instance fallback used when no
// Redis address is configured.
type MemoryCooldownStore struct {
	mu    sync.Mutex
	slots map[string]time.Time
	now   func() time.Time
}

// NewMemoryCooldownStore creates an empty in-process store.
func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{slots: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryCooldownStore) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if until, ok := s.slots[key]; ok && now.Before(until) {
		return false, nil
	}
	s.slots[key] = now.Add(ttl)
	return true, nil
}
