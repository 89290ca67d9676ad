package rates

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/store"
)

const (
	owner = "0x00000000000000000000000000000000000000AA"
	fire  = "0x00000000000000000000000000000000000000F1"
	usdt  = "0x55d398326f99059fF775485246999027B3197955"
)

func TestSetAndQuoteBothDirections(t *testing.T) {
	st := store.NewMemoryStore()
	book := NewBook(owner)
	ctx := context.Background()

	// 250 FIRE per USDT, scaled 1e18.
	rate := fixed.MustParse("250000000000000000000")
	require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
		_, err := book.Set(tx, owner, fire, usdt, rate, 18)
		return err
	}))

	st.View(ctx, func(tx store.Tx) error {
		out, snap, err := book.Quote(tx, usdt, fire, fixed.New(4))
		require.NoError(t, err)
		assert.Equal(t, "1000", out.String())
		assert.Equal(t, uint8(18), snap.RateDecimals)

		out, _, err = book.Quote(tx, fire, usdt, fixed.New(1000))
		require.NoError(t, err)
		assert.Equal(t, "4", out.String())

		// Raw fields stay readable for client-side fallback math.
		raw, err := book.Get(tx, fire, usdt)
		require.NoError(t, err)
		assert.Equal(t, rate.String(), raw.Rate.String())

		events, _ := tx.ListEvents(0, 0)
		assert.Len(t, events, 1)
		return nil
	})
}

func TestSet_Validation(t *testing.T) {
	st := store.NewMemoryStore()
	book := NewBook(owner)
	ctx := context.Background()

	err := st.Update(ctx, func(tx store.Tx) error {
		_, err := book.Set(tx, fire, fire, usdt, fixed.New(1), 0)
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	err = st.Update(ctx, func(tx store.Tx) error {
		_, err := book.Set(tx, owner, fire, usdt, fixed.Zero, 0)
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidParameters)

	err = st.Update(ctx, func(tx store.Tx) error {
		_, err := book.Set(tx, owner, fire, usdt, fixed.New(1), 40)
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidParameters)
}

func TestQuote_MissingRate(t *testing.T) {
	st := store.NewMemoryStore()
	book := NewBook(owner)
	st.View(context.Background(), func(tx store.Tx) error {
		_, _, err := book.Quote(tx, usdt, fire, fixed.New(1))
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		return nil
	})
}
