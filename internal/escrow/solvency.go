package escrow

import (
	"sort"

	"github.com/firemarket/escrow-engine/internal/address"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/store"
)

// AssetSolvency compares the running locked total of one asset with the
// amount implied by open ads and orders.
type AssetSolvency struct {
	Asset    string       `json:"asset"`
	Recorded fixed.Amount `json:"recorded"`
	Expected fixed.Amount `json:"expected"`
}

// OK reports whether both sides agree.
func (a AssetSolvency) OK() bool { return a.Recorded.Eq(a.Expected) }

// Solvency recomputes expected escrow per asset: remaining amounts of
// active sell-ads, collateral of active buy-ads and both legs of every
// unreleased order.
func (m *Market) Solvency(tx store.Tx) ([]AssetSolvency, error) {
	expected := map[string]fixed.Amount{}
	add := func(asset string, v fixed.Amount) error {
		if v.IsZero() || address.IsOffChain(asset) {
			return nil
		}
		sum, err := expected[asset].Add(v)
		if err != nil {
			return err
		}
		expected[asset] = sum
		return nil
	}

	ads, err := tx.ListAds(store.AdFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	for _, ad := range ads {
		if ad.IsBuy {
			err = add(ad.PaymentAsset, ad.LockedPayment)
		} else {
			err = add(ad.Asset, ad.AmountRemaining)
		}
		if err != nil {
			return nil, err
		}
	}

	orders, err := tx.ListOrders(store.OrderFilter{OpenOnly: true})
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if err := add(o.Asset, o.AssetLocked); err != nil {
			return nil, err
		}
		if err := add(o.PaymentAsset, o.PaymentLocked); err != nil {
			return nil, err
		}
	}

	recorded, err := tx.ListLockedTotals()
	if err != nil {
		return nil, err
	}
	assets := map[string]struct{}{}
	for a := range expected {
		assets[a] = struct{}{}
	}
	for a := range recorded {
		assets[a] = struct{}{}
	}
	out := make([]AssetSolvency, 0, len(assets))
	for a := range assets {
		out = append(out, AssetSolvency{Asset: a, Recorded: recorded[a], Expected: expected[a]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}
