// Package ledger keeps custodial balances per (account, asset) and the
// per-asset escrow totals. Every function runs inside a store transaction
// supplied by the caller, so a sequence of ledger moves commits or fails
// as a unit with the operation that made them.
package ledger

import (
	"fmt"

	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/store"
)

// BalanceObserver is notified when an account's available balance of the
// observed asset changes.
type BalanceObserver interface {
	OnBalanceChanged(tx store.Tx, holder string, newBalance fixed.Amount) error
}

// Ledger applies balance movements. The zero value is usable and observes
// nothing.
type Ledger struct {
	observed string
	observer BalanceObserver
}

// New returns a ledger with no observer.
func New() *Ledger { return &Ledger{} }

// Observe registers obs for changes to asset. Only one observer is kept.
func (l *Ledger) Observe(asset string, obs BalanceObserver) {
	l.observed = asset
	l.observer = obs
}

func (l *Ledger) notify(tx store.Tx, account, asset string, available fixed.Amount) error {
	if l.observer == nil || asset != l.observed {
		return nil
	}
	return l.observer.OnBalanceChanged(tx, account, available)
}

func overflow(err error) error {
	return apperr.New(apperr.Overflow, "%v", err)
}

// Credit adds amount to the account's available balance.
func (l *Ledger) Credit(tx store.Tx, account, asset string, amount fixed.Amount) error {
	if amount.IsZero() {
		return nil
	}
	b, err := tx.GetBalance(account, asset)
	if err != nil {
		return err
	}
	if b.Available, err = b.Available.Add(amount); err != nil {
		return overflow(err)
	}
	if err := tx.PutBalance(b); err != nil {
		return err
	}
	return l.notify(tx, account, asset, b.Available)
}

// Debit removes amount from the account's available balance.
func (l *Ledger) Debit(tx store.Tx, account, asset string, amount fixed.Amount) error {
	if amount.IsZero() {
		return nil
	}
	b, err := tx.GetBalance(account, asset)
	if err != nil {
		return err
	}
	if b.Available.Lt(amount) {
		return apperr.New(apperr.InsufficientBalance,
			"%s holds %s of %s, needs %s", account, b.Available, asset, amount)
	}
	b.Available, _ = b.Available.Sub(amount)
	if err := tx.PutBalance(b); err != nil {
		return err
	}
	return l.notify(tx, account, asset, b.Available)
}

// Move transfers available funds between accounts.
func (l *Ledger) Move(tx store.Tx, from, to, asset string, amount fixed.Amount) error {
	if from == to {
		return nil
	}
	if err := l.Debit(tx, from, asset, amount); err != nil {
		return err
	}
	return l.Credit(tx, to, asset, amount)
}

// Lock moves amount from available to locked and raises the escrow total.
func (l *Ledger) Lock(tx store.Tx, account, asset string, amount fixed.Amount) error {
	if amount.IsZero() {
		return nil
	}
	if err := l.Debit(tx, account, asset, amount); err != nil {
		return err
	}
	b, err := tx.GetBalance(account, asset)
	if err != nil {
		return err
	}
	if b.Locked, err = b.Locked.Add(amount); err != nil {
		return overflow(err)
	}
	if err := tx.PutBalance(b); err != nil {
		return err
	}
	return l.adjustTotal(tx, asset, amount, true)
}

// Unlock returns locked funds to the same account's available balance.
func (l *Ledger) Unlock(tx store.Tx, account, asset string, amount fixed.Amount) error {
	if err := l.releaseLocked(tx, account, asset, amount); err != nil {
		return err
	}
	return l.Credit(tx, account, asset, amount)
}

// SettleLocked pays locked funds of from into the available balance of to.
func (l *Ledger) SettleLocked(tx store.Tx, from, to, asset string, amount fixed.Amount) error {
	if err := l.releaseLocked(tx, from, asset, amount); err != nil {
		return err
	}
	return l.Credit(tx, to, asset, amount)
}

func (l *Ledger) releaseLocked(tx store.Tx, account, asset string, amount fixed.Amount) error {
	if amount.IsZero() {
		return nil
	}
	b, err := tx.GetBalance(account, asset)
	if err != nil {
		return err
	}
	if b.Locked.Lt(amount) {
		// Escrow bookkeeping is broken; refuse rather than mint.
		return fmt.Errorf("ledger: %s has %s locked of %s, release of %s", account, b.Locked, asset, amount)
	}
	b.Locked, _ = b.Locked.Sub(amount)
	if err := tx.PutBalance(b); err != nil {
		return err
	}
	return l.adjustTotal(tx, asset, amount, false)
}

func (l *Ledger) adjustTotal(tx store.Tx, asset string, amount fixed.Amount, up bool) error {
	total, err := tx.GetLockedTotal(asset)
	if err != nil {
		return err
	}
	if up {
		total, err = total.Add(amount)
	} else {
		total, err = total.Sub(amount)
	}
	if err != nil {
		return fmt.Errorf("ledger: locked total for %s: %w", asset, err)
	}
	return tx.PutLockedTotal(asset, total)
}

// Available returns the spendable balance.
func Available(tx store.Tx, account, asset string) (fixed.Amount, error) {
	b, err := tx.GetBalance(account, asset)
	return b.Available, err
}
