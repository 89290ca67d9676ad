package ledger

import (
	"time"

	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/store"
)

// Deposit credits funds that arrived from outside the engine and records a
// FundsDeposited event. Authorization is the caller's concern.
func (l *Ledger) Deposit(tx store.Tx, account, asset string, amount fixed.Amount, at time.Time) error {
	if amount.IsZero() {
		return apperr.New(apperr.InvalidParameters, "deposit amount must be positive")
	}
	if err := l.Credit(tx, account, asset, amount); err != nil {
		return err
	}
	return tx.AppendEvent(model.NewEvent(model.EventFundsDeposited, at, map[string]string{
		"account": account,
		"asset":   asset,
		"amount":  amount.String(),
	}))
}

// Withdraw debits available funds leaving the engine.
func (l *Ledger) Withdraw(tx store.Tx, account, asset string, amount fixed.Amount, at time.Time) error {
	if amount.IsZero() {
		return apperr.New(apperr.InvalidParameters, "withdraw amount must be positive")
	}
	if err := l.Debit(tx, account, asset, amount); err != nil {
		return err
	}
	return tx.AppendEvent(model.NewEvent(model.EventFundsWithdrawn, at, map[string]string{
		"account": account,
		"asset":   asset,
		"amount":  amount.String(),
	}))
}
