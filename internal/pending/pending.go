// Package pending remembers which order a contact is about to reply to.
package pending

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 10 * time.Minute

// Store maps a contact id to the order id awaiting its next free-text message.
// Get returns "" with a nil error when nothing is pending.
type Store interface {
	Set(ctx context.Context, contactID int64, orderID string) error
	Get(ctx context.Context, contactID int64) (string, error)
	Clear(ctx context.Context, contactID int64) error
}

type entry struct {
	orderID string
	expires time.Time
}

type MemoryStore struct {
	TTL time.Duration
	Now func() time.Time

	mu      sync.Mutex
	entries map[int64]entry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{TTL: ttl, entries: map[int64]entry{}}
}

func (m *MemoryStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MemoryStore) Set(_ context.Context, contactID int64, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[int64]entry{}
	}
	m.entries[contactID] = entry{orderID: orderID, expires: m.now().Add(m.TTL)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, contactID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[contactID]
	if !ok {
		return "", nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, contactID)
		return "", nil
	}
	return e.orderID, nil
}

func (m *MemoryStore) Clear(_ context.Context, contactID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, contactID)
	return nil
}

type RedisStore struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{Client: client, TTL: ttl}
}

func Key(contactID int64) string {
	return fmt.Sprintf("pending_order:%d", contactID)
}

func (s *RedisStore) Set(ctx context.Context, contactID int64, orderID string) error {
	return s.Client.Set(ctx, Key(contactID), orderID, s.TTL).Err()
}

func (s *RedisStore) Get(ctx context.Context, contactID int64) (string, error) {
	v, err := s.Client.Get(ctx, Key(contactID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (s *RedisStore) Clear(ctx context.Context, contactID int64) error {
	return s.Client.Del(ctx, Key(contactID)).Err()
}
