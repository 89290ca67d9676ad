package escrow

import (
	"strconv"

	"github.com/firemarket/escrow-engine/internal/address"
	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/store"
)

func (m *Market) requireOwner(caller string) error {
	if caller != m.cfg.Owner {
		return apperr.New(apperr.Unauthorized, "%s is not the owner", caller)
	}
	return nil
}

// Pause stops new ads and orders and purges every active ad, refunding
// its escrow. Orders already placed stay resolvable. Returns the purged
// ads.
func (m *Market) Pause(tx store.Tx, caller string) ([]model.Ad, error) {
	if err := m.requireOwner(caller); err != nil {
		return nil, err
	}
	s, err := tx.GetSettings()
	if err != nil {
		return nil, err
	}
	if s.Paused {
		return nil, apperr.New(apperr.InvalidState, "market already paused")
	}
	s.Paused = true
	if err := tx.PutSettings(s); err != nil {
		return nil, err
	}

	active, err := tx.ListAds(store.AdFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	purged := make([]model.Ad, 0, len(active))
	for i := range active {
		ad := &active[i]
		remaining := ad.AmountRemaining
		if _, err := m.refundAd(tx, ad, model.ClosePaused); err != nil {
			return nil, err
		}
		err := tx.AppendEvent(model.NewEvent(model.EventAdCancelledOnPause, *ad.ClosedAt, map[string]string{
			"ad_id":  strconv.FormatUint(ad.ID, 10),
			"maker":  ad.Maker,
			"asset":  ad.Asset,
			"amount": remaining.String(),
		}))
		if err != nil {
			return nil, err
		}
		purged = append(purged, *ad)
	}

	err = tx.AppendEvent(model.NewEvent(model.EventContractPaused, m.now(), map[string]string{
		"by":         caller,
		"ads_purged": strconv.Itoa(len(purged)),
	}))
	return purged, err
}

// Unpause reopens the market.
func (m *Market) Unpause(tx store.Tx, caller string) error {
	if err := m.requireOwner(caller); err != nil {
		return err
	}
	s, err := tx.GetSettings()
	if err != nil {
		return err
	}
	if !s.Paused {
		return apperr.New(apperr.InvalidState, "market is not paused")
	}
	s.Paused = false
	if err := tx.PutSettings(s); err != nil {
		return err
	}
	return tx.AppendEvent(model.NewEvent(model.EventContractUnpaused, m.now(), map[string]string{"by": caller}))
}

// Paused reports the pause flag.
func (m *Market) Paused(tx store.Tx) (bool, error) {
	s, err := tx.GetSettings()
	return s.Paused, err
}

// RescueToken sends amount of asset from the market account's available
// balance to the owner. Escrow lives in the locked balances of makers and
// takers, so it is unreachable from here.
func (m *Market) RescueToken(tx store.Tx, caller, asset string, amount fixed.Amount) error {
	if err := m.requireOwner(caller); err != nil {
		return err
	}
	if amount.IsZero() || asset == "" || address.IsOffChain(asset) {
		return apperr.New(apperr.InvalidParameters, "rescue needs an asset and a positive amount")
	}
	if err := m.ledger.Move(tx, m.cfg.Account, m.cfg.Owner, asset, amount); err != nil {
		return err
	}
	return tx.AppendEvent(model.NewEvent(model.EventTokenRescued, m.now(), map[string]string{
		"asset":  asset,
		"amount": amount.String(),
		"to":     m.cfg.Owner,
	}))
}

// RescueNative is RescueToken for the native coin.
func (m *Market) RescueNative(tx store.Tx, caller string, amount fixed.Amount) error {
	return m.RescueToken(tx, caller, address.Native, amount)
}
