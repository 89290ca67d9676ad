package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoNonce is returned when no live nonce exists for an address.
var ErrNoNonce = errors.New("auth: no pending nonce")

// NonceStore keeps one pending login nonce per address.
type NonceStore interface {
	Put(ctx context.Context, addr, nonce string, ttl time.Duration) error
	// Take returns and deletes the nonce so it can be used once.
	Take(ctx context.Context, addr string) (string, error)
}

// MemoryNonces is a process-local NonceStore.
type MemoryNonces struct {
	mu      sync.Mutex
	entries map[string]memoryNonce
	now     func() time.Time
}

type memoryNonce struct {
	value   string
	expires time.Time
}

// NewMemoryNonces returns an empty store.
func NewMemoryNonces() *MemoryNonces {
	return &MemoryNonces{entries: make(map[string]memoryNonce), now: time.Now}
}

func (m *MemoryNonces) Put(_ context.Context, addr, nonce string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	// Sweep expired entries so abandoned logins do not accumulate.
	for k, v := range m.entries {
		if now.After(v.expires) {
			delete(m.entries, k)
		}
	}
	m.entries[addr] = memoryNonce{value: nonce, expires: now.Add(ttl)}
	return nil
}

func (m *MemoryNonces) Take(_ context.Context, addr string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[addr]
	delete(m.entries, addr)
	if !ok || m.now().After(e.expires) {
		return "", ErrNoNonce
	}
	return e.value, nil
}

// RedisNonces shares nonces between replicas.
type RedisNonces struct {
	rdb *redis.Client
}

// NewRedisNonces wraps rdb.
func NewRedisNonces(rdb *redis.Client) *RedisNonces {
	return &RedisNonces{rdb: rdb}
}

func nonceKey(addr string) string { return "escrow:nonce:" + addr }

func (r *RedisNonces) Put(ctx context.Context, addr, nonce string, ttl time.Duration) error {
	return r.rdb.Set(ctx, nonceKey(addr), nonce, ttl).Err()
}

func (r *RedisNonces) Take(ctx context.Context, addr string) (string, error) {
	v, err := r.rdb.GetDel(ctx, nonceKey(addr)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoNonce
	}
	return v, err
}
