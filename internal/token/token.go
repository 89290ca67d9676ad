// Package token implements the fee-bearing transfer path of the share
// token. Each transfer is split by the fee engine; the holders portion is
// collected by the treasury and swapped back into the reward asset, which
// funds the reward distributor.
package token

import (
	"errors"
	"log/slog"
	"time"

	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/fees"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/ledger"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/rates"
	"github.com/firemarket/escrow-engine/internal/rewards"
	"github.com/firemarket/escrow-engine/internal/store"
)

// Config names the accounts involved in fee routing.
type Config struct {
	ShareAsset  string
	RewardAsset string
	Treasury    string // collects holder fees, holds the reward reserve
	Owner       string
}

// Token applies transfers inside caller-supplied transactions.
type Token struct {
	cfg    Config
	ledger *ledger.Ledger
	dist   *rewards.Distributor
	rates  *rates.Book
	now    func() time.Time
}

// New creates the transfer path.
func New(cfg Config, l *ledger.Ledger, dist *rewards.Distributor, book *rates.Book) *Token {
	return &Token{cfg: cfg, ledger: l, dist: dist, rates: book, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source.
func (t *Token) SetClock(now func() time.Time) { t.now = now }

// Receipt describes a completed transfer.
type Receipt struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Breakdown fees.Breakdown `json:"breakdown"`
	Swapped   fixed.Amount   `json:"swapped"` // reward asset sent to the pool by this transfer
}

// Transfer moves amount of the share token from one account to another,
// routing fees to their destinations atomically with the transfer.
func (t *Token) Transfer(tx store.Tx, from, to string, amount fixed.Amount) (*Receipt, error) {
	if amount.IsZero() {
		return nil, apperr.New(apperr.InvalidParameters, "transfer amount must be positive")
	}
	if from == to {
		return nil, apperr.New(apperr.InvalidParameters, "sender and recipient are the same")
	}
	settings, err := tx.GetSettings()
	if err != nil {
		return nil, err
	}
	flags, err := tx.GetFlags(from)
	if err != nil {
		return nil, err
	}
	if !settings.TradingEnabled && from != t.cfg.Owner && !flags.ExcludedFromDevFees {
		return nil, apperr.New(apperr.InvalidState, "trading is not enabled")
	}

	b, err := fees.Compute(settings.Fees, flags, amount)
	if err != nil {
		return nil, err
	}
	if err := t.ledger.Debit(tx, from, t.cfg.ShareAsset, amount); err != nil {
		return nil, err
	}
	routes := []struct {
		account string
		amount  fixed.Amount
	}{
		{to, b.Net},
		{settings.DevWallet, b.Dev},
		{settings.MarketingWallet, b.Marketing},
		{settings.FeesWallet, b.Transfer},
		{t.cfg.Treasury, b.Holders},
	}
	for _, r := range routes {
		if err := t.ledger.Credit(tx, r.account, t.cfg.ShareAsset, r.amount); err != nil {
			return nil, err
		}
	}

	if settings.AccumulatedFees, err = settings.AccumulatedFees.Add(b.Holders); err != nil {
		return nil, apperr.New(apperr.Overflow, "accumulated fees: %v", err)
	}
	if err := tx.PutSettings(settings); err != nil {
		return nil, err
	}
	err = tx.AppendEvent(model.NewEvent(model.EventFeeTransfer, t.now(), map[string]string{
		"from":          from,
		"to":            to,
		"amount":        amount.String(),
		"net":           b.Net.String(),
		"dev_fee":       b.Dev.String(),
		"marketing_fee": b.Marketing.String(),
		"holders_fee":   b.Holders.String(),
		"transfer_fee":  b.Transfer.String(),
	}))
	if err != nil {
		return nil, err
	}

	swapped, err := t.swapBack(tx, false)
	if err != nil {
		return nil, err
	}
	return &Receipt{From: from, To: to, Breakdown: b, Swapped: swapped}, nil
}

// swapBack converts accumulated holder fees into the reward asset at the
// current rate and deposits them into the distributor. Unless strict is
// set, a missing rate, a short reserve or an empty share base leaves the
// fees queued for a later attempt.
func (t *Token) swapBack(tx store.Tx, strict bool) (fixed.Amount, error) {
	settings, err := tx.GetSettings()
	if err != nil {
		return fixed.Zero, err
	}
	if settings.AccumulatedFees.IsZero() {
		if strict {
			return fixed.Zero, apperr.New(apperr.NothingToClaim, "no accumulated fees")
		}
		return fixed.Zero, nil
	}

	snap, out, err := t.pending(tx, settings.AccumulatedFees)
	if err != nil {
		if !strict && apperr.KindOf(err) == apperr.NotFound {
			return fixed.Zero, nil
		}
		return fixed.Zero, err
	}
	if out.IsZero() {
		return fixed.Zero, nil
	}

	reserve, err := ledger.Available(tx, t.cfg.Treasury, t.cfg.RewardAsset)
	if err != nil {
		return fixed.Zero, err
	}
	if reserve.Lt(out) {
		if strict {
			return fixed.Zero, apperr.New(apperr.InsufficientBalance, "treasury reserve %s below %s", reserve, out)
		}
		slog.Debug("swap-back deferred", "reserve", reserve.String(), "needed", out.String())
		return fixed.Zero, nil
	}

	if err := t.dist.Deposit(tx, t.cfg.Treasury, out); err != nil {
		if !strict && errors.Is(err, apperr.ErrNoShares) {
			return fixed.Zero, nil
		}
		return fixed.Zero, err
	}
	// The rounding remainder stays queued.
	consumed, err := rates.QuoteToBase(snap, out)
	if err != nil {
		return fixed.Zero, err
	}
	if settings.AccumulatedFees.Gt(consumed) {
		settings.AccumulatedFees, _ = settings.AccumulatedFees.Sub(consumed)
	} else {
		settings.AccumulatedFees = fixed.Zero
	}
	if err := tx.PutSettings(settings); err != nil {
		return fixed.Zero, err
	}
	return out, nil
}

func (t *Token) pending(tx store.Tx, accumulated fixed.Amount) (*model.RateSnapshot, fixed.Amount, error) {
	snap, err := t.rates.Get(tx, t.cfg.ShareAsset, t.cfg.RewardAsset)
	if err != nil {
		return nil, fixed.Zero, err
	}
	out, err := rates.BaseToQuote(snap, accumulated)
	return snap, out, err
}

// Treasury is the fee accounting view exposed to operators.
type Treasury struct {
	AccumulatedFees fixed.Amount `json:"accumulated_fees"`
	PendingRewards  fixed.Amount `json:"pending_rewards"` // accumulated fees valued in the reward asset
	Reserve         fixed.Amount `json:"reserve"`
	TotalAccrued    fixed.Amount `json:"total_accrued"`
	TotalClaimed    fixed.Amount `json:"total_claimed"`
	EligibleSupply  fixed.Amount `json:"eligible_supply"`
}

// TreasuryState reports queued fees and distributor totals.
func (t *Token) TreasuryState(tx store.Tx) (Treasury, error) {
	settings, err := tx.GetSettings()
	if err != nil {
		return Treasury{}, err
	}
	st, err := tx.GetDistributor()
	if err != nil {
		return Treasury{}, err
	}
	reserve, err := ledger.Available(tx, t.cfg.Treasury, t.cfg.RewardAsset)
	if err != nil {
		return Treasury{}, err
	}
	view := Treasury{
		AccumulatedFees: settings.AccumulatedFees,
		Reserve:         reserve,
		TotalAccrued:    st.TotalDividends,
		TotalClaimed:    st.TotalDistributed,
		EligibleSupply:  st.TotalShares,
	}
	if !settings.AccumulatedFees.IsZero() {
		if _, view.PendingRewards, err = t.pending(tx, settings.AccumulatedFees); err != nil && apperr.KindOf(err) != apperr.NotFound {
			return Treasury{}, err
		}
	}
	return view, nil
}
