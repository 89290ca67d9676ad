package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/ledger"
	"github.com/firemarket/escrow-engine/internal/store"
)

const (
	alice = "0x000000000000000000000000000000000000A11c"
	bob   = "0x000000000000000000000000000000000000b0B0"
	usdt  = "0x55d398326f99059fF775485246999027B3197955"
	fire  = "0x00000000000000000000000000000000000000F1"
)

type recorder struct{ calls map[string]fixed.Amount }

func (r *recorder) OnBalanceChanged(_ store.Tx, holder string, bal fixed.Amount) error {
	r.calls[holder] = bal
	return nil
}

func update(t *testing.T, st store.Store, fn func(tx store.Tx) error) error {
	t.Helper()
	return st.Update(context.Background(), fn)
}

func TestLockSettleKeepsTotals(t *testing.T) {
	st := store.NewMemoryStore()
	l := ledger.New()

	require.NoError(t, update(t, st, func(tx store.Tx) error {
		if err := l.Credit(tx, alice, usdt, fixed.New(100)); err != nil {
			return err
		}
		if err := l.Lock(tx, alice, usdt, fixed.New(60)); err != nil {
			return err
		}
		return l.SettleLocked(tx, alice, bob, usdt, fixed.New(25))
	}))

	st.View(context.Background(), func(tx store.Tx) error {
		a, _ := tx.GetBalance(alice, usdt)
		b, _ := tx.GetBalance(bob, usdt)
		total, _ := tx.GetLockedTotal(usdt)
		assert.Equal(t, "40", a.Available.String())
		assert.Equal(t, "35", a.Locked.String())
		assert.Equal(t, "25", b.Available.String())
		assert.Equal(t, "35", total.String())
		return nil
	})
}

func TestDebitInsufficient(t *testing.T) {
	st := store.NewMemoryStore()
	l := ledger.New()

	err := update(t, st, func(tx store.Tx) error {
		if err := l.Credit(tx, alice, usdt, fixed.New(5)); err != nil {
			return err
		}
		return l.Lock(tx, alice, usdt, fixed.New(6))
	})
	require.ErrorIs(t, err, apperr.ErrInsufficientBalance)

	// The credit was rolled back with the failed lock.
	st.View(context.Background(), func(tx store.Tx) error {
		a, _ := tx.GetBalance(alice, usdt)
		assert.True(t, a.Available.IsZero())
		return nil
	})
}

func TestUnlockMoreThanLockedFails(t *testing.T) {
	st := store.NewMemoryStore()
	l := ledger.New()
	err := update(t, st, func(tx store.Tx) error {
		if err := l.Credit(tx, alice, usdt, fixed.New(5)); err != nil {
			return err
		}
		if err := l.Lock(tx, alice, usdt, fixed.New(5)); err != nil {
			return err
		}
		return l.Unlock(tx, alice, usdt, fixed.New(6))
	})
	require.Error(t, err)
}

func TestObserverSeesOnlyObservedAsset(t *testing.T) {
	st := store.NewMemoryStore()
	rec := &recorder{calls: map[string]fixed.Amount{}}
	l := ledger.New()
	l.Observe(fire, rec)

	require.NoError(t, update(t, st, func(tx store.Tx) error {
		if err := l.Credit(tx, alice, fire, fixed.New(100)); err != nil {
			return err
		}
		if err := l.Credit(tx, bob, usdt, fixed.New(100)); err != nil {
			return err
		}
		// Locked tokens leave the eligible balance.
		return l.Lock(tx, alice, fire, fixed.New(30))
	}))

	assert.Equal(t, "70", rec.calls[alice].String())
	_, seen := rec.calls[bob]
	assert.False(t, seen)
}
