package api

import (
	"context"
	"log/slog"

	"github.com/firemarket/escrow-engine/internal/fees"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/store"
)

// Genesis seeds the settings of a fresh store.
type Genesis struct {
	Fees            model.FeeConfig
	DevWallet       string
	MarketingWallet string
	FeesWallet      string
	TradingEnabled  bool
	// SystemAccounts never earn rewards and pay no fees.
	SystemAccounts []string
	// FeeExempt accounts pay no fees but still earn rewards.
	FeeExempt []string
}

// Bootstrap writes g once. Later starts keep the stored settings, which
// change only through the admin endpoints.
func Bootstrap(ctx context.Context, st store.Store, g Genesis) error {
	if err := fees.Validate(g.Fees); err != nil {
		return err
	}
	return st.Update(ctx, func(tx store.Tx) error {
		settings, err := tx.GetSettings()
		if err != nil {
			return err
		}
		if settings.Initialized {
			return nil
		}
		settings = model.Settings{
			Initialized:     true,
			TradingEnabled:  g.TradingEnabled,
			Fees:            g.Fees,
			DevWallet:       g.DevWallet,
			MarketingWallet: g.MarketingWallet,
			FeesWallet:      g.FeesWallet,
		}
		if err := tx.PutSettings(settings); err != nil {
			return err
		}
		for _, acct := range g.SystemAccounts {
			f := model.AccountFlags{Account: acct, ExcludedFromRewards: true, ExcludedFromDevFees: true, ExcludedFromHoldersFees: true}
			if err := tx.PutFlags(f); err != nil {
				return err
			}
		}
		for _, acct := range g.FeeExempt {
			f, err := tx.GetFlags(acct)
			if err != nil {
				return err
			}
			f.ExcludedFromDevFees, f.ExcludedFromHoldersFees = true, true
			if err := tx.PutFlags(f); err != nil {
				return err
			}
		}
		slog.Info("settings initialised",
			"trading_enabled", g.TradingEnabled,
			"fee_bps", g.Fees.TotalBps(),
			"system_accounts", len(g.SystemAccounts),
		)
		return nil
	})
}
