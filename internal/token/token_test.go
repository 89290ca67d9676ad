package token_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firemarket/escrow-engine/internal/address"
	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/ledger"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/rates"
	"github.com/firemarket/escrow-engine/internal/rewards"
	"github.com/firemarket/escrow-engine/internal/store"
	"github.com/firemarket/escrow-engine/internal/token"
)

const (
	fire      = "0x00000000000000000000000000000000000000F1"
	usdt      = "0x55d398326f99059fF775485246999027B3197955"
	owner     = "0x00000000000000000000000000000000000000AA"
	treasury  = "0x000000000000000000000000000000000000B002"
	pool      = "0x000000000000000000000000000000000000B001"
	devWallet = "0x00000000000000000000000000000000000000D1"
	mktWallet = "0x00000000000000000000000000000000000000D2"
	feeWallet = "0x00000000000000000000000000000000000000D3"
	alice     = "0x0000000000000000000000000000000000000A11"
	bob       = "0x0000000000000000000000000000000000000B0B"
)

type env struct {
	st     store.Store
	ledger *ledger.Ledger
	dist   *rewards.Distributor
	book   *rates.Book
	tok    *token.Token
}

func newEnv(t *testing.T) *env {
	t.Helper()
	l := ledger.New()
	d := rewards.New(rewards.Config{ShareAsset: fire, RewardAsset: usdt, Pool: pool, Owner: owner}, l)
	book := rates.NewBook(owner)
	tok := token.New(token.Config{ShareAsset: fire, RewardAsset: usdt, Treasury: treasury, Owner: owner}, l, d, book)
	e := &env{st: store.NewMemoryStore(), ledger: l, dist: d, book: book, tok: tok}

	e.update(t, func(tx store.Tx) error {
		if err := tx.PutSettings(model.Settings{
			Initialized:     true,
			Fees:            model.FeeConfig{DevBps: 100, MarketingBps: 50, HoldersBps: 50},
			DevWallet:       devWallet,
			MarketingWallet: mktWallet,
			FeesWallet:      feeWallet,
		}); err != nil {
			return err
		}
		for _, sys := range []string{treasury, pool, owner, devWallet, mktWallet, feeWallet} {
			if err := d.SetExcludedFromRewards(tx, owner, sys, true); err != nil {
				return err
			}
		}
		return l.Credit(tx, owner, fire, fixed.New(1_000_000))
	})
	return e
}

func (e *env) update(t *testing.T, fn func(tx store.Tx) error) {
	t.Helper()
	require.NoError(t, e.st.Update(context.Background(), fn))
}

func (e *env) try(fn func(tx store.Tx) error) error {
	return e.st.Update(context.Background(), fn)
}

func (e *env) balance(t *testing.T, account, asset string) string {
	t.Helper()
	var out string
	require.NoError(t, e.st.View(context.Background(), func(tx store.Tx) error {
		b, err := tx.GetBalance(account, asset)
		out = b.Available.String()
		return err
	}))
	return out
}

func (e *env) transfer(from, to string, amount uint64) (*token.Receipt, error) {
	var r *token.Receipt
	err := e.try(func(tx store.Tx) error {
		var err error
		r, err = e.tok.Transfer(tx, from, to, fixed.New(amount))
		return err
	})
	return r, err
}

func TestTransfer_TradingGate(t *testing.T) {
	e := newEnv(t)

	// Owner can seed holders before launch.
	_, err := e.transfer(owner, alice, 10_000)
	require.NoError(t, err)

	_, err = e.transfer(alice, bob, 100)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	e.update(t, func(tx store.Tx) error { return e.tok.EnableTrading(tx, owner) })
	_, err = e.transfer(alice, bob, 100)
	assert.NoError(t, err)

	err = e.try(func(tx store.Tx) error { return e.tok.EnableTrading(tx, owner) })
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestTransfer_RoutesFees(t *testing.T) {
	e := newEnv(t)
	e.update(t, func(tx store.Tx) error { return e.tok.EnableTrading(tx, owner) })
	_, err := e.transfer(owner, alice, 20_000)
	require.NoError(t, err)

	// Owner is not fee exempt here, so the seeding transfer was charged too.
	assert.Equal(t, "19600", e.balance(t, alice, fire))

	r, err := e.transfer(alice, bob, 10_000)
	require.NoError(t, err)
	assert.Equal(t, "9800", r.Breakdown.Net.String())
	assert.Equal(t, "9800", e.balance(t, bob, fire))
	assert.Equal(t, "9600", e.balance(t, alice, fire))
	assert.Equal(t, "300", e.balance(t, devWallet, fire))
	assert.Equal(t, "150", e.balance(t, mktWallet, fire))
	assert.Equal(t, "150", e.balance(t, treasury, fire))

	// No rate snapshot yet: holder fees stay queued.
	assert.True(t, r.Swapped.IsZero())
	e.st.View(context.Background(), func(tx store.Tx) error {
		s, _ := tx.GetSettings()
		assert.Equal(t, "150", s.AccumulatedFees.String())
		return nil
	})
}

func TestTransfer_SwapBackFundsDistributor(t *testing.T) {
	e := newEnv(t)
	e.update(t, func(tx store.Tx) error {
		if err := e.tok.EnableTrading(tx, owner); err != nil {
			return err
		}
		// 10 FIRE per USDT unit.
		if _, err := e.book.Set(tx, owner, fire, usdt, fixed.New(10), 0); err != nil {
			return err
		}
		return e.ledger.Credit(tx, owner, usdt, fixed.New(1_000))
	})
	_, err := e.transfer(owner, alice, 10_000)
	require.NoError(t, err)
	_, err = e.transfer(owner, bob, 10_000)
	require.NoError(t, err)

	// Reserve is empty so both fees are queued.
	var view token.Treasury
	e.st.View(context.Background(), func(tx store.Tx) error {
		view, err = e.tok.TreasuryState(tx)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "100", view.AccumulatedFees.String())
	assert.Equal(t, "10", view.PendingRewards.String())

	e.update(t, func(tx store.Tx) error { return e.tok.FundReserve(tx, owner, fixed.New(500)) })

	r, err := e.transfer(alice, bob, 1_000)
	require.NoError(t, err)
	// 100 queued + 5 from this transfer at 10:1; the odd 5 stays queued.
	assert.Equal(t, "10", r.Swapped.String())
	assert.Equal(t, "490", e.balance(t, treasury, usdt))
	assert.Equal(t, "10", e.balance(t, pool, usdt))

	e.st.View(context.Background(), func(tx store.Tx) error {
		s, _ := tx.GetSettings()
		assert.Equal(t, "5", s.AccumulatedFees.String())
		st, _ := tx.GetDistributor()
		assert.Equal(t, "10", st.TotalDividends.String())
		return nil
	})
}

func TestSwapBack_Strict(t *testing.T) {
	e := newEnv(t)

	err := e.try(func(tx store.Tx) error {
		_, err := e.tok.SwapBack(tx, alice)
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	err = e.try(func(tx store.Tx) error {
		_, err := e.tok.SwapBack(tx, owner)
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrNothingToClaim)

	e.update(t, func(tx store.Tx) error {
		if err := e.tok.EnableTrading(tx, owner); err != nil {
			return err
		}
		_, err := e.book.Set(tx, owner, fire, usdt, fixed.New(1), 0)
		return err
	})
	_, err = e.transfer(owner, alice, 10_000)
	require.NoError(t, err)

	err = e.try(func(tx store.Tx) error {
		_, err := e.tok.SwapBack(tx, owner)
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
}

func TestSetFees(t *testing.T) {
	const newFeeWallet = "0x00000000000000000000000000000000000000d4"
	e := newEnv(t)

	err := e.try(func(tx store.Tx) error {
		_, err := e.tok.SetFees(tx, owner, token.FeeUpdate{Fees: model.FeeConfig{DevBps: 6000, HoldersBps: 5000}})
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidParameters)

	err = e.try(func(tx store.Tx) error {
		_, err := e.tok.SetFees(tx, owner, token.FeeUpdate{Fees: model.FeeConfig{DevBps: 1}, DevWallet: "nope"})
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidParameters)

	e.update(t, func(tx store.Tx) error {
		s, err := e.tok.SetFees(tx, owner, token.FeeUpdate{
			Fees:       model.FeeConfig{TransferBps: 200},
			FeesWallet: newFeeWallet,
		})
		if err != nil {
			return err
		}
		assert.Equal(t, address.MustParse(newFeeWallet), s.FeesWallet)
		assert.Equal(t, devWallet, s.DevWallet)
		return e.tok.EnableTrading(tx, owner)
	})

	r, err := e.transfer(owner, alice, 1_000)
	require.NoError(t, err)
	assert.Equal(t, "20", r.Breakdown.Transfer.String())
	assert.Equal(t, "20", e.balance(t, address.MustParse(newFeeWallet), fire))
}

func TestTransfer_ExemptSender(t *testing.T) {
	e := newEnv(t)
	e.update(t, func(tx store.Tx) error {
		if err := e.dist.SetExcludedFromDevFees(tx, owner, owner, true); err != nil {
			return err
		}
		return e.dist.SetExcludedFromHoldersFees(tx, owner, owner, true)
	})
	r, err := e.transfer(owner, alice, 1_000)
	require.NoError(t, err)
	assert.Equal(t, "1000", r.Breakdown.Net.String())
	assert.Equal(t, "1000", e.balance(t, alice, fire))
}

func TestTransfer_InvalidInput(t *testing.T) {
	e := newEnv(t)
	_, err := e.transfer(owner, owner, 1)
	assert.ErrorIs(t, err, apperr.ErrInvalidParameters)
	_, err = e.transfer(owner, alice, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidParameters)
	_, err = e.transfer(alice, bob, 1)
	assert.Error(t, err)
}
