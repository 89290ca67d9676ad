// Package fees computes the deterministic split of a gross transfer into
// dev, marketing, holders and transfer fees plus the net amount delivered.
package fees

import (
	"fmt"

	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/store"
)

// BpsDenominator is 100%.
const BpsDenominator = 10_000

var bpsDenominator = fixed.New(BpsDenominator)

// Breakdown is the result of splitting one transfer.
// Dev + Marketing + Holders + Transfer + Net == Gross.
type Breakdown struct {
	Gross     fixed.Amount `json:"gross"`
	Dev       fixed.Amount `json:"dev_fee"`
	Marketing fixed.Amount `json:"marketing_fee"`
	Holders   fixed.Amount `json:"holders_fee"`
	Transfer  fixed.Amount `json:"transfer_fee"`
	Net       fixed.Amount `json:"net"`
}

// Validate checks each rate and their sum against 10000 bps.
func Validate(cfg model.FeeConfig) error {
	for name, bps := range map[string]uint32{
		"dev":       cfg.DevBps,
		"marketing": cfg.MarketingBps,
		"holders":   cfg.HoldersBps,
		"transfer":  cfg.TransferBps,
	} {
		if bps > BpsDenominator {
			return apperr.New(apperr.InvalidParameters, "%s fee %d bps exceeds %d", name, bps, BpsDenominator)
		}
	}
	if total := cfg.TotalBps(); total > BpsDenominator {
		return apperr.New(apperr.InvalidParameters, "total fee %d bps exceeds %d", total, BpsDenominator)
	}
	return nil
}

// Compute splits amount. Each component is floored independently and the
// rounding remainder stays in Net. An account excluded from dev fees pays
// no dev, marketing or transfer fee; one excluded from holders fees pays
// no holders fee.
func Compute(cfg model.FeeConfig, flags model.AccountFlags, amount fixed.Amount) (Breakdown, error) {
	if err := Validate(cfg); err != nil {
		return Breakdown{}, err
	}
	b := Breakdown{Gross: amount}

	var err error
	if !flags.ExcludedFromDevFees {
		if b.Dev, err = portion(amount, cfg.DevBps); err != nil {
			return Breakdown{}, err
		}
		if b.Marketing, err = portion(amount, cfg.MarketingBps); err != nil {
			return Breakdown{}, err
		}
		if b.Transfer, err = portion(amount, cfg.TransferBps); err != nil {
			return Breakdown{}, err
		}
	}
	if !flags.ExcludedFromHoldersFees {
		if b.Holders, err = portion(amount, cfg.HoldersBps); err != nil {
			return Breakdown{}, err
		}
	}

	taken, err := fixed.Sum(b.Dev, b.Marketing, b.Holders, b.Transfer)
	if err != nil {
		return Breakdown{}, err
	}
	if b.Net, err = amount.Sub(taken); err != nil {
		// Unreachable while the rates sum to at most 10000 bps.
		return Breakdown{}, fmt.Errorf("fees: components exceed gross: %w", err)
	}
	return b, nil
}

func portion(amount fixed.Amount, bps uint32) (fixed.Amount, error) {
	if bps == 0 {
		return fixed.Zero, nil
	}
	v, err := fixed.MulDiv(amount, fixed.New(uint64(bps)), bpsDenominator)
	if err != nil {
		return fixed.Zero, apperr.New(apperr.Overflow, "fee on %s: %v", amount, err)
	}
	return v, nil
}

// BreakdownFor reads the sender's flags and the current fee configuration
// and splits amount.
func BreakdownFor(tx store.Tx, sender string, amount fixed.Amount) (Breakdown, error) {
	settings, err := tx.GetSettings()
	if err != nil {
		return Breakdown{}, err
	}
	flags, err := tx.GetFlags(sender)
	if err != nil {
		return Breakdown{}, err
	}
	return Compute(settings.Fees, flags, amount)
}
