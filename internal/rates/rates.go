// Package rates stores externally supplied conversion rates as explicit
// snapshots in the authoritative store. Nothing here is cached in process
// memory; every quote reads the snapshot inside the caller's transaction.
//
// A snapshot (base, quote, rate, decimals) means one raw unit of quote is
// worth rate/10^decimals raw units of base, e.g. base=FIRE quote=USDT
// rate=firePerUSDT.
package rates

import (
	"errors"
	"time"

	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/store"
)

// MaxDecimals bounds the rate scale.
const MaxDecimals = 36

// Book reads and writes rate snapshots.
type Book struct {
	owner string
	now   func() time.Time
}

// NewBook returns a Book whose writes are restricted to owner.
func NewBook(owner string) *Book {
	return &Book{owner: owner, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source.
func (b *Book) SetClock(now func() time.Time) { b.now = now }

// Set records a new snapshot. Owner only.
func (b *Book) Set(tx store.Tx, caller, base, quote string, rate fixed.Amount, decimals uint8) (*model.RateSnapshot, error) {
	if caller != b.owner {
		return nil, apperr.New(apperr.Unauthorized, "%s may not set rates", caller)
	}
	if base == quote || base == "" || quote == "" {
		return nil, apperr.New(apperr.InvalidParameters, "rate needs two distinct assets")
	}
	if rate.IsZero() {
		return nil, apperr.New(apperr.InvalidParameters, "rate must be positive")
	}
	if decimals > MaxDecimals {
		return nil, apperr.New(apperr.InvalidParameters, "rate decimals %d above %d", decimals, MaxDecimals)
	}
	snap := model.RateSnapshot{Base: base, Quote: quote, Rate: rate, RateDecimals: decimals, UpdatedAt: b.now()}
	if err := tx.PutRate(snap); err != nil {
		return nil, err
	}
	err := tx.AppendEvent(model.NewEvent(model.EventRateUpdated, snap.UpdatedAt, map[string]string{
		"base":          base,
		"quote":         quote,
		"rate":          rate.String(),
		"rate_decimals": fixed.New(uint64(decimals)).String(),
	}))
	return &snap, err
}

// Get returns the raw snapshot so clients can compute their own quotes.
func (b *Book) Get(tx store.Tx, base, quote string) (*model.RateSnapshot, error) {
	snap, err := tx.GetRate(base, quote)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "no rate for %s/%s", base, quote)
	}
	return snap, err
}

// Quote converts amountIn of from into to using whichever snapshot relates
// the two assets. Results are floored.
func (b *Book) Quote(tx store.Tx, from, to string, amountIn fixed.Amount) (fixed.Amount, *model.RateSnapshot, error) {
	// Paying in quote currency, receiving base.
	if snap, err := tx.GetRate(to, from); err == nil {
		out, err := QuoteToBase(snap, amountIn)
		return out, snap, err
	} else if !errors.Is(err, store.ErrNotFound) {
		return fixed.Zero, nil, err
	}

	snap, err := b.Get(tx, from, to)
	if err != nil {
		return fixed.Zero, nil, err
	}
	out, err := BaseToQuote(snap, amountIn)
	return out, snap, err
}

// QuoteToBase is amount*rate/10^decimals.
func QuoteToBase(snap *model.RateSnapshot, amount fixed.Amount) (fixed.Amount, error) {
	out, err := fixed.MulDiv(amount, snap.Rate, fixed.Pow10(uint(snap.RateDecimals)))
	if err != nil {
		return fixed.Zero, apperr.New(apperr.Overflow, "quote %s: %v", amount, err)
	}
	return out, nil
}

// BaseToQuote is amount*10^decimals/rate.
func BaseToQuote(snap *model.RateSnapshot, amount fixed.Amount) (fixed.Amount, error) {
	if snap.Rate.IsZero() {
		return fixed.Zero, apperr.New(apperr.InvalidState, "rate %s/%s is zero", snap.Base, snap.Quote)
	}
	out, err := fixed.MulDiv(amount, fixed.Pow10(uint(snap.RateDecimals)), snap.Rate)
	if err != nil {
		return fixed.Zero, apperr.New(apperr.Overflow, "quote %s: %v", amount, err)
	}
	return out, nil
}
