package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/firemarket/escrow-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// ads and orders. Updates always read the primary and invalidate every ad
// and order they write once the transaction commits; views check Redis
// first and tolerate entries up to ttl old.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) Update(ctx context.Context, fn func(Tx) error) error {
	var touched []string
	err := s.primary.Update(ctx, func(tx Tx) error {
		touched = touched[:0]
		return fn(&invalidatingTx{Tx: tx, touched: &touched})
	})
	if err != nil {
		return err
	}
	if len(touched) > 0 {
		if err := s.rdb.Del(ctx, touched...).Err(); err != nil {
			slog.Warn("cache invalidation failed", "keys", len(touched), "err", err)
		}
	}
	return nil
}

func (s *CachedStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.primary.View(ctx, func(tx Tx) error {
		return fn(&readThroughTx{Tx: tx, s: s})
	})
}

func (s *CachedStore) Close() error {
	return s.primary.Close()
}

// --- Write path (invalidate after commit) ---

type invalidatingTx struct {
	Tx
	touched *[]string
}

func (t *invalidatingTx) PutAd(ad *model.Ad) error {
	*t.touched = append(*t.touched, adCacheKey(ad.ID))
	return t.Tx.PutAd(ad)
}

func (t *invalidatingTx) PutOrder(o *model.Order) error {
	*t.touched = append(*t.touched, orderCacheKey(o.ID))
	return t.Tx.PutOrder(o)
}

// --- Read path (check cache first) ---

type readThroughTx struct {
	Tx
	s *CachedStore
}

func (t *readThroughTx) GetAd(id uint64) (*model.Ad, error) {
	ctx := t.Context()
	if data, err := t.s.rdb.Get(ctx, adCacheKey(id)).Bytes(); err == nil {
		var ad model.Ad
		if json.Unmarshal(data, &ad) == nil {
			return &ad, nil
		}
	}

	// Cache miss: read from primary.
	ad, err := t.Tx.GetAd(id)
	if err != nil {
		return nil, err
	}
	t.s.cache(ctx, adCacheKey(id), ad)
	return ad, nil
}

func (t *readThroughTx) GetOrder(id uint64) (*model.Order, error) {
	ctx := t.Context()
	if data, err := t.s.rdb.Get(ctx, orderCacheKey(id)).Bytes(); err == nil {
		var o model.Order
		if json.Unmarshal(data, &o) == nil {
			return &o, nil
		}
	}

	o, err := t.Tx.GetOrder(id)
	if err != nil {
		return nil, err
	}
	t.s.cache(ctx, orderCacheKey(id), o)
	return o, nil
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func adCacheKey(id uint64) string    { return fmt.Sprintf("escrow:ad:%d", id) }
func orderCacheKey(id uint64) string { return fmt.Sprintf("escrow:order:%d", id) }
