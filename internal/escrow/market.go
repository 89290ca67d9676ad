// Package escrow implements the P2P escrow market: makers publish ads
// backed by locked funds, takers place orders against them and the two
// legs of each order settle through the order state machine.
//
// All operations take a store.Tx; the caller owns the transaction so an
// operation and its idempotency record commit together.
package escrow

import (
	"errors"
	"strconv"
	"time"

	"github.com/firemarket/escrow-engine/internal/address"
	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/asset"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/ledger"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/store"
)

const (
	// MaxPaymentMethod bounds the free-text payment method label.
	MaxPaymentMethod = 64

	// MaxDisputeReason bounds the free-text reason given with a dispute.
	MaxDisputeReason = 512
)

// Config holds the roles the market enforces.
type Config struct {
	Owner   string
	Arbiter string
	// Account receives stray funds; rescue can only draw from its
	// available balance.
	Account string
}

// Market applies escrow operations.
type Market struct {
	cfg    Config
	assets *asset.Registry
	ledger *ledger.Ledger
	now    func() time.Time
}

// New creates a market. A nil registry accepts any well-formed asset.
func New(cfg Config, assets *asset.Registry, l *ledger.Ledger) *Market {
	return &Market{cfg: cfg, assets: assets, ledger: l, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source.
func (m *Market) SetClock(now func() time.Time) { m.now = now }

// Config returns the market roles.
func (m *Market) Config() Config { return m.cfg }

// CreateAdRequest describes a new ad.
type CreateAdRequest struct {
	Maker          string       `json:"-"`
	Asset          string       `json:"asset"`
	Amount         fixed.Amount `json:"amount"`
	PaymentAsset   string       `json:"payment_asset"`
	MinOrderAmount fixed.Amount `json:"min_order_amount"`
	UnitPrice      fixed.Amount `json:"unit_price"`
	PaymentMethod  string       `json:"payment_method"`
	IsBuy          bool         `json:"is_buy"`
}

func (m *Market) knownAsset(id string) bool {
	return m.assets == nil || m.assets.Known(id)
}

func (m *Market) validate(req *CreateAdRequest) error {
	if req.Maker == "" || address.IsOffChain(req.Maker) {
		return apperr.New(apperr.InvalidParameters, "maker is required")
	}
	if req.Asset == "" || address.IsOffChain(req.Asset) || !m.knownAsset(req.Asset) {
		return apperr.New(apperr.InvalidParameters, "unknown asset %q", req.Asset)
	}
	if req.PaymentAsset == "" || !address.IsOffChain(req.PaymentAsset) && !m.knownAsset(req.PaymentAsset) {
		return apperr.New(apperr.InvalidParameters, "unknown payment asset %q", req.PaymentAsset)
	}
	if req.PaymentAsset == req.Asset {
		return apperr.New(apperr.InvalidParameters, "asset and payment asset must differ")
	}
	if req.Amount.IsZero() {
		return apperr.New(apperr.InvalidParameters, "amount must be positive")
	}
	if req.MinOrderAmount.IsZero() || req.MinOrderAmount.Gt(req.Amount) {
		return apperr.New(apperr.InvalidParameters, "min order amount must be in (0, %s]", req.Amount)
	}
	if req.UnitPrice.IsZero() {
		return apperr.New(apperr.InvalidParameters, "unit price must be positive")
	}
	if len(req.PaymentMethod) > MaxPaymentMethod {
		return apperr.New(apperr.InvalidParameters, "payment method longer than %d bytes", MaxPaymentMethod)
	}
	return nil
}

// PaymentFor is floor(amount*unitPrice/1e18).
func PaymentFor(amount, unitPrice fixed.Amount) (fixed.Amount, error) {
	out, err := fixed.MulDiv(amount, unitPrice, fixed.PricePrecision)
	if err != nil {
		return fixed.Zero, apperr.New(apperr.Overflow, "payment for %s at %s: %v", amount, unitPrice, err)
	}
	return out, nil
}

func (m *Market) requireRunning(tx store.Tx) error {
	s, err := tx.GetSettings()
	if err != nil {
		return err
	}
	if s.Paused {
		return apperr.New(apperr.PoolPaused, "market is paused")
	}
	return nil
}

// CreateAd locks the maker's side and publishes the ad. Sell-ads lock
// Amount of Asset; buy-ads with on-engine payment lock the full payment
// collateral.
func (m *Market) CreateAd(tx store.Tx, req CreateAdRequest) (*model.Ad, error) {
	if err := m.requireRunning(tx); err != nil {
		return nil, err
	}
	if err := m.validate(&req); err != nil {
		return nil, err
	}

	ad := &model.Ad{
		Maker:           req.Maker,
		IsBuy:           req.IsBuy,
		Asset:           req.Asset,
		OriginalAmount:  req.Amount,
		AmountRemaining: req.Amount,
		PaymentAsset:    req.PaymentAsset,
		UnitPrice:       req.UnitPrice,
		MinOrderAmount:  req.MinOrderAmount,
		PaymentMethod:   req.PaymentMethod,
		Active:          true,
		CreatedAt:       m.now(),
	}

	if !req.IsBuy {
		if err := m.ledger.Lock(tx, req.Maker, req.Asset, req.Amount); err != nil {
			return nil, err
		}
	} else if !address.IsOffChain(req.PaymentAsset) {
		collateral, err := PaymentFor(req.Amount, req.UnitPrice)
		if err != nil {
			return nil, err
		}
		if collateral.IsZero() {
			return nil, apperr.New(apperr.InvalidParameters, "ad value rounds to zero %s", req.PaymentAsset)
		}
		if err := m.ledger.Lock(tx, req.Maker, req.PaymentAsset, collateral); err != nil {
			return nil, err
		}
		ad.LockedPayment = collateral
	}

	id, err := tx.NextID(store.SeqAd)
	if err != nil {
		return nil, err
	}
	ad.ID = id
	if err := tx.PutAd(ad); err != nil {
		return nil, err
	}
	err = tx.AppendEvent(model.NewEvent(model.EventAdCreated, ad.CreatedAt, map[string]string{
		"ad_id":  strconv.FormatUint(ad.ID, 10),
		"maker":  ad.Maker,
		"asset":  ad.Asset,
		"amount": ad.OriginalAmount.String(),
		"is_buy": strconv.FormatBool(ad.IsBuy),
	}))
	if err != nil {
		return nil, err
	}
	return ad, nil
}

// refundAd returns whatever escrow still backs the ad to its maker and
// closes it.
func (m *Market) refundAd(tx store.Tx, ad *model.Ad, reason string) (fixed.Amount, error) {
	var refunded fixed.Amount
	if !ad.IsBuy {
		refunded = ad.AmountRemaining
		if err := m.ledger.Unlock(tx, ad.Maker, ad.Asset, refunded); err != nil {
			return fixed.Zero, err
		}
	} else {
		refunded = ad.LockedPayment
		if err := m.ledger.Unlock(tx, ad.Maker, ad.PaymentAsset, refunded); err != nil {
			return fixed.Zero, err
		}
	}
	now := m.now()
	ad.AmountRemaining = fixed.Zero
	ad.LockedPayment = fixed.Zero
	ad.Active = false
	ad.CloseReason = reason
	ad.ClosedAt = &now
	return refunded, tx.PutAd(ad)
}

// CancelAd closes an active ad and refunds its remaining escrow. Allowed
// for the maker and the owner.
func (m *Market) CancelAd(tx store.Tx, caller string, adID uint64) (*model.Ad, error) {
	ad, err := m.GetAd(tx, adID)
	if err != nil {
		return nil, err
	}
	if caller != ad.Maker && caller != m.cfg.Owner {
		return nil, apperr.New(apperr.Unauthorized, "%s may not cancel ad %d", caller, adID)
	}
	if !ad.Active {
		return nil, apperr.New(apperr.AdNotActive, "ad %d is %s", adID, ad.CloseReason)
	}
	remaining := ad.AmountRemaining
	refunded, err := m.refundAd(tx, ad, model.CloseCancelled)
	if err != nil {
		return nil, err
	}
	err = tx.AppendEvent(model.NewEvent(model.EventAdCancelled, *ad.ClosedAt, map[string]string{
		"ad_id":    strconv.FormatUint(ad.ID, 10),
		"maker":    ad.Maker,
		"asset":    ad.Asset,
		"amount":   remaining.String(),
		"refunded": refunded.String(),
		"by":       caller,
	}))
	return ad, err
}

// GetAd returns an ad by id.
func (m *Market) GetAd(tx store.Tx, id uint64) (*model.Ad, error) {
	ad, err := tx.GetAd(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "ad %d not found", id)
	}
	return ad, err
}

// ListAds returns ads matching f in id order.
func (m *Market) ListAds(tx store.Tx, f store.AdFilter) ([]model.Ad, error) {
	return tx.ListAds(f)
}

// TotalLockedForToken is the running sum of all escrow locked in asset.
func (m *Market) TotalLockedForToken(tx store.Tx, asset string) (fixed.Amount, error) {
	return tx.GetLockedTotal(asset)
}
