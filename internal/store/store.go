// Package store defines the persistence interface for the escrow engine.
// Implementations include PostgreSQL (source of truth), LevelDB (embedded
// single node), in-memory (testing and development), plus wrappers for a
// Redis read-through cache and post-commit event publishing.
//
// Every mutating operation runs inside Update, which is serialized: at most
// one Update function executes at a time and its writes become visible
// all-or-nothing. View runs against a consistent snapshot.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/model"
)

// ErrNotFound is returned by getters for entities that do not exist.
var ErrNotFound = errors.New("store: not found")

// ErrReadOnly is returned when a View function attempts a write.
var ErrReadOnly = errors.New("store: write in read-only transaction")

// Store is the transactional persistence interface.
type Store interface {
	// Update runs fn in a serialized read-write transaction. If fn returns
	// an error nothing it wrote is kept.
	Update(ctx context.Context, fn func(Tx) error) error

	// View runs fn against a read-only snapshot.
	View(ctx context.Context, fn func(Tx) error) error

	Close() error
}

// Sequence names used with Tx.NextID.
const (
	SeqAd    = "ad"
	SeqOrder = "order"
	SeqEvent = "event"
)

// AdFilter narrows ListAds. Zero values match everything.
type AdFilter struct {
	Maker         string
	Asset         string
	PaymentAsset  string
	PaymentMethod string // case-insensitive
	ActiveOnly    bool
	IsBuy         *bool
}

// Match reports whether ad satisfies f.
func (f AdFilter) Match(ad *model.Ad) bool {
	if f.Maker != "" && ad.Maker != f.Maker {
		return false
	}
	if f.Asset != "" && ad.Asset != f.Asset {
		return false
	}
	if f.PaymentAsset != "" && ad.PaymentAsset != f.PaymentAsset {
		return false
	}
	if f.PaymentMethod != "" && !strings.EqualFold(ad.PaymentMethod, f.PaymentMethod) {
		return false
	}
	if f.ActiveOnly && !ad.Active {
		return false
	}
	if f.IsBuy != nil && ad.IsBuy != *f.IsBuy {
		return false
	}
	return true
}

// OrderFilter narrows ListOrders. Zero values match everything.
type OrderFilter struct {
	AdID     uint64
	Party    string // buyer or seller
	Status   model.OrderStatus
	OpenOnly bool // exclude released orders
}

// Match reports whether o satisfies f.
func (f OrderFilter) Match(o *model.Order) bool {
	if f.AdID != 0 && o.AdID != f.AdID {
		return false
	}
	if f.Party != "" && o.Buyer != f.Party && o.Seller != f.Party {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.OpenOnly && o.Status.Terminal() {
		return false
	}
	return true
}

// Tx is the set of typed reads and writes available inside a transaction.
// Getters for balances, shareholders, flags, the distributor and settings
// return zero values for missing records; ads, orders, rates and
// idempotency records return ErrNotFound.
type Tx interface {
	Context() context.Context

	NextID(seq string) (uint64, error)

	GetAd(id uint64) (*model.Ad, error)
	PutAd(ad *model.Ad) error
	ListAds(f AdFilter) ([]model.Ad, error)

	GetOrder(id uint64) (*model.Order, error)
	PutOrder(o *model.Order) error
	ListOrders(f OrderFilter) ([]model.Order, error)

	GetBalance(account, asset string) (model.Balance, error)
	PutBalance(b model.Balance) error
	ListBalances(account string) ([]model.Balance, error)

	GetLockedTotal(asset string) (fixed.Amount, error)
	PutLockedTotal(asset string, total fixed.Amount) error
	ListLockedTotals() (map[string]fixed.Amount, error)

	GetShareholder(holder string) (model.Shareholder, error)
	PutShareholder(sh model.Shareholder) error
	ListShareholders() ([]model.Shareholder, error)

	GetDistributor() (model.DistributorState, error)
	PutDistributor(st model.DistributorState) error

	GetSettings() (model.Settings, error)
	PutSettings(s model.Settings) error

	GetFlags(account string) (model.AccountFlags, error)
	PutFlags(f model.AccountFlags) error

	GetRate(base, quote string) (*model.RateSnapshot, error)
	PutRate(r model.RateSnapshot) error

	GetIdempotency(key string) (*model.IdempotencyRecord, error)
	PutIdempotency(r model.IdempotencyRecord) error

	// AppendEvent assigns the next sequence number to e and stores it.
	AppendEvent(e *model.Event) error
	ListEvents(after uint64, limit int) ([]model.Event, error)
}
