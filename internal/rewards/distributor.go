// Package rewards implements the dividends-per-share distributor. Holders
// carry a share weight equal to their eligible balance of the share token;
// deposits raise a global accumulator and each holder's claim is derived
// from it lazily, so no operation iterates over holders.
//
// Earnings accrued under an old share weight are moved into Carried when
// the weight changes, so a balance change never pays out or forfeits
// anything:
//
//	unpaid = floor(shares*acc/Precision) - totalExcluded + carried
//
// totalExcluded is taken rounded up, so every interval between two
// snapshots pays at most its exact share and the pool always covers the
// sum of unpaid earnings.
package rewards

import (
	"time"

	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/ledger"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/store"
)

// Precision scales the dividends-per-share accumulator (1e36).
var Precision = fixed.Pow10(36)

// Config names the accounts and assets the distributor works with.
type Config struct {
	ShareAsset  string // token whose balances carry shares
	RewardAsset string // currency paid out
	Pool        string // account holding undistributed rewards
	Owner       string
}

// Distributor applies reward operations inside caller-supplied
// transactions.
type Distributor struct {
	cfg    Config
	ledger *ledger.Ledger
	now    func() time.Time
}

// New creates a distributor and registers it as the ledger's observer of
// the share asset.
func New(cfg Config, l *ledger.Ledger) *Distributor {
	d := &Distributor{cfg: cfg, ledger: l, now: func() time.Time { return time.Now().UTC() }}
	l.Observe(cfg.ShareAsset, d)
	return d
}

// SetClock overrides the time source.
func (d *Distributor) SetClock(now func() time.Time) { d.now = now }

// Config returns the distributor configuration.
func (d *Distributor) Config() Config { return d.cfg }

// OnBalanceChanged re-weights holder to its new eligible balance. Excluded
// holders are forced to zero shares.
func (d *Distributor) OnBalanceChanged(tx store.Tx, holder string, newBalance fixed.Amount) error {
	flags, err := tx.GetFlags(holder)
	if err != nil {
		return err
	}
	if flags.ExcludedFromRewards {
		newBalance = fixed.Zero
	}
	return d.setShares(tx, holder, newBalance)
}

func (d *Distributor) setShares(tx store.Tx, holder string, shares fixed.Amount) error {
	st, err := tx.GetDistributor()
	if err != nil {
		return err
	}
	sh, err := tx.GetShareholder(holder)
	if err != nil {
		return err
	}
	if sh.Shares.Eq(shares) {
		return nil
	}

	pending, err := accrued(sh, st.DividendsPerShare)
	if err != nil {
		return err
	}
	if sh.Carried, err = sh.Carried.Add(pending); err != nil {
		return overflow(err)
	}

	remaining, err := st.TotalShares.Sub(sh.Shares)
	if err != nil {
		return err
	}
	if st.TotalShares, err = remaining.Add(shares); err != nil {
		return overflow(err)
	}

	sh.Shares = shares
	if sh.TotalExcluded, err = baseline(shares, st.DividendsPerShare); err != nil {
		return err
	}
	sh.UpdatedAt = d.now()

	if err := tx.PutShareholder(sh); err != nil {
		return err
	}
	return tx.PutDistributor(st)
}

// Deposit moves amount of the reward asset from funder into the pool and
// spreads it over current shares.
func (d *Distributor) Deposit(tx store.Tx, funder string, amount fixed.Amount) error {
	if amount.IsZero() {
		return apperr.New(apperr.InvalidParameters, "deposit amount must be positive")
	}
	st, err := tx.GetDistributor()
	if err != nil {
		return err
	}
	if st.TotalShares.IsZero() {
		return apperr.New(apperr.NoShares, "no eligible shares to distribute %s over", amount)
	}

	increment, err := fixed.MulDiv(amount, Precision, st.TotalShares)
	if err != nil {
		return overflow(err)
	}
	if st.DividendsPerShare, err = st.DividendsPerShare.Add(increment); err != nil {
		return overflow(err)
	}
	if st.TotalDividends, err = st.TotalDividends.Add(amount); err != nil {
		return overflow(err)
	}

	if err := d.ledger.Move(tx, funder, d.cfg.Pool, d.cfg.RewardAsset, amount); err != nil {
		return err
	}
	if err := tx.PutDistributor(st); err != nil {
		return err
	}
	return tx.AppendEvent(model.NewEvent(model.EventDividendDeposited, d.now(), map[string]string{
		"funder":              funder,
		"amount":              amount.String(),
		"total_shares":        st.TotalShares.String(),
		"dividends_per_share": st.DividendsPerShare.String(),
	}))
}

// UnpaidEarnings is a pure read of what holder could claim now.
func (d *Distributor) UnpaidEarnings(tx store.Tx, holder string) (fixed.Amount, error) {
	st, err := tx.GetDistributor()
	if err != nil {
		return fixed.Zero, err
	}
	sh, err := tx.GetShareholder(holder)
	if err != nil {
		return fixed.Zero, err
	}
	return unpaid(sh, st.DividendsPerShare)
}

// Claim pays holder everything owed. The baseline reset and the payout are
// written in the same transaction, so a repeated claim sees zero.
func (d *Distributor) Claim(tx store.Tx, holder string) (fixed.Amount, error) {
	st, err := tx.GetDistributor()
	if err != nil {
		return fixed.Zero, err
	}
	sh, err := tx.GetShareholder(holder)
	if err != nil {
		return fixed.Zero, err
	}
	owed, err := unpaid(sh, st.DividendsPerShare)
	if err != nil {
		return fixed.Zero, err
	}
	if owed.IsZero() {
		return fixed.Zero, apperr.New(apperr.NothingToClaim, "%s has no unpaid earnings", holder)
	}

	if sh.TotalExcluded, err = baseline(sh.Shares, st.DividendsPerShare); err != nil {
		return fixed.Zero, err
	}
	sh.Carried = fixed.Zero
	if sh.TotalRealised, err = sh.TotalRealised.Add(owed); err != nil {
		return fixed.Zero, overflow(err)
	}
	sh.UpdatedAt = d.now()
	if st.TotalDistributed, err = st.TotalDistributed.Add(owed); err != nil {
		return fixed.Zero, overflow(err)
	}
	if err := tx.PutShareholder(sh); err != nil {
		return fixed.Zero, err
	}
	if err := tx.PutDistributor(st); err != nil {
		return fixed.Zero, err
	}

	if err := d.ledger.Move(tx, d.cfg.Pool, holder, d.cfg.RewardAsset, owed); err != nil {
		return fixed.Zero, err
	}
	err = tx.AppendEvent(model.NewEvent(model.EventDividendClaimed, d.now(), map[string]string{
		"holder": holder,
		"amount": owed.String(),
	}))
	return owed, err
}

// State returns the global accumulator.
func (d *Distributor) State(tx store.Tx) (model.DistributorState, error) {
	return tx.GetDistributor()
}

// HolderView is a shareholder record with its current unpaid earnings.
type HolderView struct {
	model.Shareholder
	Unpaid fixed.Amount `json:"unpaid"`
}

// Holder returns holder's record and unpaid earnings.
func (d *Distributor) Holder(tx store.Tx, holder string) (HolderView, error) {
	st, err := tx.GetDistributor()
	if err != nil {
		return HolderView{}, err
	}
	sh, err := tx.GetShareholder(holder)
	if err != nil {
		return HolderView{}, err
	}
	owed, err := unpaid(sh, st.DividendsPerShare)
	if err != nil {
		return HolderView{}, err
	}
	return HolderView{Shareholder: sh, Unpaid: owed}, nil
}

// cumulative is shares*acc/Precision, floored.
func cumulative(shares, acc fixed.Amount) (fixed.Amount, error) {
	v, err := fixed.MulDiv(shares, acc, Precision)
	if err != nil {
		return fixed.Zero, overflow(err)
	}
	return v, nil
}

// baseline is shares*acc/Precision, rounded up.
func baseline(shares, acc fixed.Amount) (fixed.Amount, error) {
	v, err := fixed.MulDivUp(shares, acc, Precision)
	if err != nil {
		return fixed.Zero, overflow(err)
	}
	return v, nil
}

// accrued is what the current share weight earned since the last snapshot.
// A floored total one below the rounded-up snapshot means nothing accrued.
func accrued(sh model.Shareholder, acc fixed.Amount) (fixed.Amount, error) {
	total, err := cumulative(sh.Shares, acc)
	if err != nil {
		return fixed.Zero, err
	}
	if total.Lt(sh.TotalExcluded) {
		return fixed.Zero, nil
	}
	return total.Sub(sh.TotalExcluded)
}

func unpaid(sh model.Shareholder, acc fixed.Amount) (fixed.Amount, error) {
	pending, err := accrued(sh, acc)
	if err != nil {
		return fixed.Zero, err
	}
	v, err := pending.Add(sh.Carried)
	if err != nil {
		return fixed.Zero, overflow(err)
	}
	return v, nil
}

func overflow(err error) error {
	return apperr.New(apperr.Overflow, "%v", err)
}
