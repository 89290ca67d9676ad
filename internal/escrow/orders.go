package escrow

import (
	"errors"
	"strconv"
	"strings"

	"github.com/firemarket/escrow-engine/internal/address"
	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/store"
)

// PlaceOrder matches taker against ad for amount. The taker is the buyer of
// a sell-ad and the seller of a buy-ad. Both legs are locked before the
// order exists: the asset in the seller's escrow and, for on-engine
// payment, the payment in the buyer's escrow.
func (m *Market) PlaceOrder(tx store.Tx, taker string, adID uint64, amount fixed.Amount) (*model.Order, error) {
	if err := m.requireRunning(tx); err != nil {
		return nil, err
	}
	if taker == "" || address.IsOffChain(taker) {
		return nil, apperr.New(apperr.InvalidParameters, "taker is required")
	}
	ad, err := m.GetAd(tx, adID)
	if err != nil {
		return nil, err
	}
	if !ad.Active {
		return nil, apperr.New(apperr.AdNotActive, "ad %d is not active", adID)
	}
	if taker == ad.Maker {
		return nil, apperr.New(apperr.InvalidParameters, "maker cannot take own ad")
	}
	if amount.Lt(ad.MinOrderAmount) || amount.Gt(ad.AmountRemaining) {
		return nil, apperr.New(apperr.AmountOutOfRange,
			"amount %s outside [%s, %s]", amount, ad.MinOrderAmount, ad.AmountRemaining)
	}

	onEngine := !address.IsOffChain(ad.PaymentAsset)
	payment, err := PaymentFor(amount, ad.UnitPrice)
	if err != nil {
		return nil, err
	}
	if onEngine && payment.IsZero() {
		return nil, apperr.New(apperr.AmountOutOfRange, "amount %s is worth zero %s", amount, ad.PaymentAsset)
	}

	now := m.now()
	o := &model.Order{
		AdID:          ad.ID,
		Asset:         ad.Asset,
		PaymentAsset:  ad.PaymentAsset,
		Amount:        amount,
		PaymentAmount: payment,
		AssetLocked:   amount,
		Status:        model.OrderPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	ad.AmountRemaining, _ = ad.AmountRemaining.Sub(amount)

	if !ad.IsBuy {
		// The asset is already locked by the maker; it moves from the ad
		// to the order without touching balances.
		o.Buyer, o.Seller = taker, ad.Maker
		if onEngine {
			if err := m.ledger.Lock(tx, taker, ad.PaymentAsset, payment); err != nil {
				return nil, err
			}
			o.PaymentLocked = payment
		}
	} else {
		o.Buyer, o.Seller = ad.Maker, taker
		if err := m.ledger.Lock(tx, taker, ad.Asset, amount); err != nil {
			return nil, err
		}
		if onEngine {
			// Per-order floors never exceed the floor taken at creation.
			if ad.LockedPayment.Lt(payment) {
				return nil, apperr.New(apperr.InvalidState, "ad %d collateral %s below %s", ad.ID, ad.LockedPayment, payment)
			}
			ad.LockedPayment, _ = ad.LockedPayment.Sub(payment)
			o.PaymentLocked = payment
		}
	}

	if ad.AmountRemaining.IsZero() {
		ad.Active = false
		ad.CloseReason = model.CloseFilled
		ad.ClosedAt = &now
		if ad.IsBuy && !ad.LockedPayment.IsZero() {
			if err := m.ledger.Unlock(tx, ad.Maker, ad.PaymentAsset, ad.LockedPayment); err != nil {
				return nil, err
			}
			ad.LockedPayment = fixed.Zero
		}
	}
	if err := tx.PutAd(ad); err != nil {
		return nil, err
	}

	if o.ID, err = tx.NextID(store.SeqOrder); err != nil {
		return nil, err
	}
	if err := tx.PutOrder(o); err != nil {
		return nil, err
	}
	err = tx.AppendEvent(model.NewEvent(model.EventOrderPlaced, now, map[string]string{
		"order_id": strconv.FormatUint(o.ID, 10),
		"ad_id":    strconv.FormatUint(ad.ID, 10),
		"buyer":    o.Buyer,
		"seller":   o.Seller,
		"amount":   amount.String(),
	}))
	if err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrder returns an order by id.
func (m *Market) GetOrder(tx store.Tx, id uint64) (*model.Order, error) {
	o, err := tx.GetOrder(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "order %d not found", id)
	}
	return o, err
}

// ListOrders returns orders matching f in id order.
func (m *Market) ListOrders(tx store.Tx, f store.OrderFilter) ([]model.Order, error) {
	return tx.ListOrders(f)
}

func (m *Market) transition(tx store.Tx, o *model.Order, to model.OrderStatus, event string, attrs map[string]string) error {
	o.Status = to
	o.UpdatedAt = m.now()
	if err := tx.PutOrder(o); err != nil {
		return err
	}
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrs["order_id"] = strconv.FormatUint(o.ID, 10)
	return tx.AppendEvent(model.NewEvent(event, o.UpdatedAt, attrs))
}

func isOpen(o *model.Order) bool {
	return o.Status == model.OrderPending || o.Status == model.OrderPaid
}

// MarkPaid records the buyer's assertion that payment was sent. For
// off-chain payment it is not verified; disputes cover a false claim.
func (m *Market) MarkPaid(tx store.Tx, caller string, orderID uint64) (*model.Order, error) {
	o, err := m.GetOrder(tx, orderID)
	if err != nil {
		return nil, err
	}
	if caller != o.Buyer {
		return nil, apperr.New(apperr.Unauthorized, "only the buyer can mark order %d paid", orderID)
	}
	if o.Status != model.OrderPending {
		return nil, apperr.New(apperr.InvalidState, "order %d is %s", orderID, o.Status)
	}
	return o, m.transition(tx, o, model.OrderPaid, model.EventOrderPaid, nil)
}

// Release completes the swap: the asset leg goes to the buyer and the
// payment leg to the seller. Callable by the seller or the arbiter.
func (m *Market) Release(tx store.Tx, caller string, orderID uint64) (*model.Order, error) {
	o, err := m.GetOrder(tx, orderID)
	if err != nil {
		return nil, err
	}
	if caller != o.Seller && caller != m.cfg.Arbiter {
		return nil, apperr.New(apperr.Unauthorized, "%s may not release order %d", caller, orderID)
	}
	if !isOpen(o) {
		return nil, apperr.New(apperr.InvalidState, "order %d is %s", orderID, o.Status)
	}
	if err := m.settle(tx, o, model.PartyBuyer, model.PartySeller); err != nil {
		return nil, err
	}
	return o, m.transition(tx, o, model.OrderReleased, model.EventOrderReleased, map[string]string{"by": caller})
}

// Dispute freezes an open order until the arbiter resolves it. The reason
// is kept on the order for the arbiter and may be empty.
func (m *Market) Dispute(tx store.Tx, caller string, orderID uint64, reason string) (*model.Order, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > MaxDisputeReason {
		return nil, apperr.New(apperr.InvalidParameters, "dispute reason longer than %d bytes", MaxDisputeReason)
	}
	o, err := m.GetOrder(tx, orderID)
	if err != nil {
		return nil, err
	}
	if caller != o.Buyer && caller != o.Seller {
		return nil, apperr.New(apperr.Unauthorized, "%s is not a party to order %d", caller, orderID)
	}
	if !isOpen(o) {
		return nil, apperr.New(apperr.InvalidState, "order %d is %s", orderID, o.Status)
	}
	o.DisputeReason = reason
	return o, m.transition(tx, o, model.OrderDisputed, model.EventOrderDisputed, map[string]string{
		"by":     caller,
		"reason": reason,
	})
}

// ResolveDispute releases both legs of a disputed order to winner: the
// counterparty's escrow plus the winner's own escrow returned.
func (m *Market) ResolveDispute(tx store.Tx, caller string, orderID uint64, winner model.Party) (*model.Order, error) {
	if winner != model.PartyBuyer && winner != model.PartySeller {
		return nil, apperr.New(apperr.InvalidParameters, "winner must be buyer or seller")
	}
	o, err := m.GetOrder(tx, orderID)
	if err != nil {
		return nil, err
	}
	if caller != m.cfg.Arbiter {
		return nil, apperr.New(apperr.Unauthorized, "only the arbiter resolves disputes")
	}
	if o.Status != model.OrderDisputed {
		return nil, apperr.New(apperr.InvalidState, "order %d is %s", orderID, o.Status)
	}
	if err := m.settle(tx, o, winner, winner); err != nil {
		return nil, err
	}
	o.Resolution = winner
	winnerAccount := o.Buyer
	if winner == model.PartySeller {
		winnerAccount = o.Seller
	}
	err = tx.AppendEvent(model.NewEvent(model.EventDisputeResolved, m.now(), map[string]string{
		"order_id": strconv.FormatUint(o.ID, 10),
		"winner":   string(winner),
		"account":  winnerAccount,
	}))
	if err != nil {
		return nil, err
	}
	return o, m.transition(tx, o, model.OrderReleased, model.EventOrderReleased, map[string]string{
		"by":         caller,
		"resolution": string(winner),
	})
}

// settle pays the asset leg to assetTo and the payment leg to paymentTo
// out of escrow.
func (m *Market) settle(tx store.Tx, o *model.Order, assetTo, paymentTo model.Party) error {
	party := func(p model.Party) string {
		if p == model.PartyBuyer {
			return o.Buyer
		}
		return o.Seller
	}
	if err := m.ledger.SettleLocked(tx, o.Seller, party(assetTo), o.Asset, o.AssetLocked); err != nil {
		return err
	}
	if err := m.ledger.SettleLocked(tx, o.Buyer, party(paymentTo), o.PaymentAsset, o.PaymentLocked); err != nil {
		return err
	}
	o.AssetLocked = fixed.Zero
	o.PaymentLocked = fixed.Zero
	return nil
}
