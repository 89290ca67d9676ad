package token

import (
	"strconv"

	"github.com/firemarket/escrow-engine/internal/address"
	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/fees"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/store"
)

func (t *Token) requireOwner(caller string) error {
	if caller != t.cfg.Owner {
		return apperr.New(apperr.Unauthorized, "%s is not the owner", caller)
	}
	return nil
}

// FeeUpdate carries a new fee schedule. Empty wallet fields keep the
// current destination.
type FeeUpdate struct {
	Fees            model.FeeConfig `json:"fees"`
	DevWallet       string          `json:"dev_wallet,omitempty"`
	MarketingWallet string          `json:"marketing_wallet,omitempty"`
	FeesWallet      string          `json:"fees_wallet,omitempty"`
}

// SetFees replaces the fee schedule and optionally the fee wallets.
func (t *Token) SetFees(tx store.Tx, caller string, u FeeUpdate) (model.Settings, error) {
	if err := t.requireOwner(caller); err != nil {
		return model.Settings{}, err
	}
	if err := fees.Validate(u.Fees); err != nil {
		return model.Settings{}, err
	}
	settings, err := tx.GetSettings()
	if err != nil {
		return model.Settings{}, err
	}
	for _, w := range []struct {
		in  string
		dst *string
	}{
		{u.DevWallet, &settings.DevWallet},
		{u.MarketingWallet, &settings.MarketingWallet},
		{u.FeesWallet, &settings.FeesWallet},
	} {
		if w.in == "" {
			continue
		}
		addr, err := address.Parse(w.in)
		if err != nil || address.IsOffChain(addr) {
			return model.Settings{}, apperr.New(apperr.InvalidParameters, "invalid wallet %q", w.in)
		}
		*w.dst = addr
	}
	settings.Fees = u.Fees
	if err := tx.PutSettings(settings); err != nil {
		return model.Settings{}, err
	}
	err = tx.AppendEvent(model.NewEvent(model.EventFeesUpdated, t.now(), map[string]string{
		"dev_fee_bps":       strconv.FormatUint(uint64(u.Fees.DevBps), 10),
		"marketing_fee_bps": strconv.FormatUint(uint64(u.Fees.MarketingBps), 10),
		"holders_fee_bps":   strconv.FormatUint(uint64(u.Fees.HoldersBps), 10),
		"transfer_fee_bps":  strconv.FormatUint(uint64(u.Fees.TransferBps), 10),
		"dev_wallet":        settings.DevWallet,
		"marketing_wallet":  settings.MarketingWallet,
		"fees_wallet":       settings.FeesWallet,
	}))
	return settings, err
}

// EnableTrading opens transfers to every account. It cannot be undone.
func (t *Token) EnableTrading(tx store.Tx, caller string) error {
	if err := t.requireOwner(caller); err != nil {
		return err
	}
	settings, err := tx.GetSettings()
	if err != nil {
		return err
	}
	if settings.TradingEnabled {
		return apperr.New(apperr.InvalidState, "trading already enabled")
	}
	settings.TradingEnabled = true
	if err := tx.PutSettings(settings); err != nil {
		return err
	}
	return tx.AppendEvent(model.NewEvent(model.EventTradingEnabled, t.now(), map[string]string{"by": caller}))
}

// FundReserve moves reward asset from caller into the treasury reserve
// used by swap-back.
func (t *Token) FundReserve(tx store.Tx, caller string, amount fixed.Amount) error {
	if amount.IsZero() {
		return apperr.New(apperr.InvalidParameters, "reserve amount must be positive")
	}
	return t.ledger.Move(tx, caller, t.cfg.Treasury, t.cfg.RewardAsset, amount)
}

// SwapBack forces conversion of the queued holder fees. Unlike the
// automatic step after each transfer, every reason for not converting is
// reported as an error.
func (t *Token) SwapBack(tx store.Tx, caller string) (fixed.Amount, error) {
	if err := t.requireOwner(caller); err != nil {
		return fixed.Zero, err
	}
	return t.swapBack(tx, true)
}
