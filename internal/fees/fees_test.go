package fees

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/model"
)

func TestCompute_ReferenceSplit(t *testing.T) {
	cfg := model.FeeConfig{DevBps: 100, MarketingBps: 50, HoldersBps: 50}
	b, err := Compute(cfg, model.AccountFlags{}, fixed.New(10000))
	require.NoError(t, err)

	assert.Equal(t, "100", b.Dev.String())
	assert.Equal(t, "50", b.Marketing.String())
	assert.Equal(t, "50", b.Holders.String())
	assert.Equal(t, "0", b.Transfer.String())
	assert.Equal(t, "9800", b.Net.String())
}

func TestCompute_RemainderGoesToNet(t *testing.T) {
	cfg := model.FeeConfig{DevBps: 333, MarketingBps: 333, HoldersBps: 333}
	b, err := Compute(cfg, model.AccountFlags{}, fixed.New(101))
	require.NoError(t, err)

	// floor(101*333/10000) = 3 for each.
	assert.Equal(t, "3", b.Dev.String())
	assert.Equal(t, "92", b.Net.String())
}

func TestCompute_Exemptions(t *testing.T) {
	cfg := model.FeeConfig{DevBps: 200, MarketingBps: 100, HoldersBps: 300, TransferBps: 50}
	amount := fixed.New(1_000_000)

	b, err := Compute(cfg, model.AccountFlags{ExcludedFromDevFees: true}, amount)
	require.NoError(t, err)
	assert.True(t, b.Dev.IsZero())
	assert.True(t, b.Marketing.IsZero())
	assert.True(t, b.Transfer.IsZero())
	assert.Equal(t, "30000", b.Holders.String())

	b, err = Compute(cfg, model.AccountFlags{ExcludedFromHoldersFees: true}, amount)
	require.NoError(t, err)
	assert.True(t, b.Holders.IsZero())
	assert.Equal(t, "20000", b.Dev.String())

	b, err = Compute(cfg, model.AccountFlags{ExcludedFromDevFees: true, ExcludedFromHoldersFees: true}, amount)
	require.NoError(t, err)
	assert.True(t, b.Net.Eq(amount))
}

func TestCompute_RejectsBadConfig(t *testing.T) {
	_, err := Compute(model.FeeConfig{DevBps: 6000, HoldersBps: 5000}, model.AccountFlags{}, fixed.New(1))
	assert.ErrorIs(t, err, apperr.ErrInvalidParameters)

	_, err = Compute(model.FeeConfig{TransferBps: 10001}, model.AccountFlags{}, fixed.New(1))
	assert.ErrorIs(t, err, apperr.ErrInvalidParameters)
}

// Components always sum back to the gross amount.
func TestCompute_SplitIsExact(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		dev := uint32(rng.Intn(2500))
		mkt := uint32(rng.Intn(2500))
		hold := uint32(rng.Intn(2500))
		xfer := uint32(rng.Intn(2500))
		cfg := model.FeeConfig{DevBps: dev, MarketingBps: mkt, HoldersBps: hold, TransferBps: xfer}
		flags := model.AccountFlags{ExcludedFromDevFees: rng.Intn(4) == 0, ExcludedFromHoldersFees: rng.Intn(4) == 0}
		amount := fixed.New(rng.Uint64())

		b, err := Compute(cfg, flags, amount)
		require.NoError(t, err)
		sum, err := fixed.Sum(b.Dev, b.Marketing, b.Holders, b.Transfer, b.Net)
		require.NoError(t, err)
		require.True(t, sum.Eq(amount), "cfg=%+v amount=%s sum=%s", cfg, amount, sum)
	}

	b, err := Compute(model.FeeConfig{DevBps: 100}, model.AccountFlags{}, fixed.Zero)
	require.NoError(t, err)
	assert.True(t, b.Net.IsZero())
}
