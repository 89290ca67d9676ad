package rewards

import (
	"strconv"

	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/ledger"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/store"
)

func (d *Distributor) requireOwner(caller string) error {
	if caller != d.cfg.Owner {
		return apperr.New(apperr.Unauthorized, "%s is not the owner", caller)
	}
	return nil
}

// SetExcludedFromRewards toggles reward eligibility and reconciles the
// holder's shares immediately. Earnings accrued before exclusion stay
// claimable.
func (d *Distributor) SetExcludedFromRewards(tx store.Tx, caller, holder string, excluded bool) error {
	if err := d.requireOwner(caller); err != nil {
		return err
	}
	flags, err := tx.GetFlags(holder)
	if err != nil {
		return err
	}
	flags.ExcludedFromRewards = excluded
	if err := tx.PutFlags(flags); err != nil {
		return err
	}
	if err := d.emitExclusion(tx, flags); err != nil {
		return err
	}
	bal, err := ledger.Available(tx, holder, d.cfg.ShareAsset)
	if err != nil {
		return err
	}
	return d.OnBalanceChanged(tx, holder, bal)
}

// SetExcludedFromDevFees toggles the dev, marketing and transfer fee
// exemption.
func (d *Distributor) SetExcludedFromDevFees(tx store.Tx, caller, account string, excluded bool) error {
	return d.setFlag(tx, caller, account, func(f *model.AccountFlags) { f.ExcludedFromDevFees = excluded })
}

// SetExcludedFromHoldersFees toggles the holders fee exemption.
func (d *Distributor) SetExcludedFromHoldersFees(tx store.Tx, caller, account string, excluded bool) error {
	return d.setFlag(tx, caller, account, func(f *model.AccountFlags) { f.ExcludedFromHoldersFees = excluded })
}

func (d *Distributor) setFlag(tx store.Tx, caller, account string, apply func(*model.AccountFlags)) error {
	if err := d.requireOwner(caller); err != nil {
		return err
	}
	flags, err := tx.GetFlags(account)
	if err != nil {
		return err
	}
	apply(&flags)
	if err := tx.PutFlags(flags); err != nil {
		return err
	}
	return d.emitExclusion(tx, flags)
}

func (d *Distributor) emitExclusion(tx store.Tx, f model.AccountFlags) error {
	return tx.AppendEvent(model.NewEvent(model.EventExclusionUpdated, d.now(), map[string]string{
		"account":                    f.Account,
		"excluded_from_rewards":      strconv.FormatBool(f.ExcludedFromRewards),
		"excluded_from_dev_fees":     strconv.FormatBool(f.ExcludedFromDevFees),
		"excluded_from_holders_fees": strconv.FormatBool(f.ExcludedFromHoldersFees),
	}))
}
