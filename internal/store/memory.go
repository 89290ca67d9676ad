package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Update stages writes in an overlay and applies them only when fn
// succeeds. The write lock serializes all updates.
func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := &memOverlay{base: s.data, writes: make(map[string][]byte)}
	if err := fn(&kvTx{ctx: ctx, kv: staged}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for k, v := range staged.writes {
		s.data[k] = v
	}
	return nil
}

// View runs fn under the read lock. Readers see only committed data.
func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&kvTx{ctx: ctx, kv: &memOverlay{base: s.data}, readOnly: true})
}

func (s *MemoryStore) Close() error { return nil }

// memOverlay reads through pending writes to the committed map.
type memOverlay struct {
	base   map[string][]byte
	writes map[string][]byte
}

func (o *memOverlay) get(key string) ([]byte, bool, error) {
	if v, ok := o.writes[key]; ok {
		return v, true, nil
	}
	v, ok := o.base[key]
	return v, ok, nil
}

func (o *memOverlay) put(key string, val []byte) error {
	// Copy so callers cannot mutate staged state.
	o.writes[key] = append([]byte(nil), val...)
	return nil
}

func (o *memOverlay) scan(prefix, start string, fn func(string, []byte) error) error {
	seen := make(map[string]bool)
	var keys []string
	collect := func(m map[string][]byte) {
		for k := range m {
			if strings.HasPrefix(k, prefix) && k >= start && !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	collect(o.writes)
	collect(o.base)
	sort.Strings(keys)

	for _, k := range keys {
		v, _, _ := o.get(k)
		if err := fn(k, v); err != nil {
			if errors.Is(err, errStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}
