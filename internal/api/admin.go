package api

import (
	"net/http"
	"strings"

	"github.com/firemarket/escrow-engine/internal/address"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/store"
	"github.com/firemarket/escrow-engine/internal/token"
)

// PauseResponse lists the ads purged by a pause.
type PauseResponse struct {
	Paused bool       `json:"paused"`
	Purged []model.Ad `json:"purged,omitempty"`
}

// DepositRequest is the JSON body for POST /admin/deposit.
type DepositRequest struct {
	Account string       `json:"account"`
	Asset   string       `json:"asset"`
	Amount  fixed.Amount `json:"amount"`
}

// ExclusionRequest is the JSON body for PUT /admin/exclusions/{account}.
// Omitted fields keep their current value.
type ExclusionRequest struct {
	Rewards     *bool `json:"excluded_from_rewards,omitempty"`
	DevFees     *bool `json:"excluded_from_dev_fees,omitempty"`
	HoldersFees *bool `json:"excluded_from_holders_fees,omitempty"`
}

// Pause handles POST /api/v1/admin/pause
func (s *Service) Pause(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "pause", http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		purged, err := s.Market.Pause(tx, caller)
		if err != nil {
			return nil, err
		}
		return PauseResponse{Paused: true, Purged: purged}, nil
	})
}

// Unpause handles POST /api/v1/admin/unpause
func (s *Service) Unpause(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "unpause", http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		if err := s.Market.Unpause(tx, caller); err != nil {
			return nil, err
		}
		return PauseResponse{Paused: false}, nil
	})
}

// Rescue handles POST /api/v1/admin/rescue
// Asset "native" names the chain coin.
func (s *Service) Rescue(w http.ResponseWriter, r *http.Request) {
	var req AssetAmountRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	native := strings.EqualFold(req.Asset, "native")
	var id string
	if !native {
		var err error
		if id, err = addrParam(req.Asset, "asset"); err != nil {
			writeFailure(w, err)
			return
		}
	}
	s.mutate(w, r, "rescue", http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		if native || id == address.Native {
			id = address.Native
			if err := s.Market.RescueNative(tx, caller, req.Amount); err != nil {
				return nil, err
			}
		} else if err := s.Market.RescueToken(tx, caller, id, req.Amount); err != nil {
			return nil, err
		}
		return AssetAmountRequest{Asset: id, Amount: req.Amount}, nil
	})
}

// AdminDeposit handles POST /api/v1/admin/deposit
// Credits funds that arrived outside the engine.
func (s *Service) AdminDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	account, err := addrParam(req.Account, "account")
	if err != nil {
		writeFailure(w, err)
		return
	}
	id, err := s.knownAsset(req.Asset)
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.mutate(w, r, "deposit", http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		if err := s.requireOwner(caller); err != nil {
			return nil, err
		}
		if err := s.Ledger.Deposit(tx, account, id, req.Amount, s.now()); err != nil {
			return nil, err
		}
		return tx.GetBalance(account, id)
	})
}

// SetFees handles PUT /api/v1/admin/fees
func (s *Service) SetFees(w http.ResponseWriter, r *http.Request) {
	var req token.FeeUpdate
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	s.mutate(w, r, "set_fees", http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		return s.Token.SetFees(tx, caller, req)
	})
}

// SetExclusions handles PUT /api/v1/admin/exclusions/{account}
func (s *Service) SetExclusions(w http.ResponseWriter, r *http.Request) {
	account, err := addrParam(chiParam(r, "account"), "account")
	if err != nil {
		writeFailure(w, err)
		return
	}
	var req ExclusionRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	s.mutate(w, r, "set_exclusions", http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		if err := s.requireOwner(caller); err != nil {
			return nil, err
		}
		if req.Rewards != nil {
			if err := s.Rewards.SetExcludedFromRewards(tx, caller, account, *req.Rewards); err != nil {
				return nil, err
			}
		}
		if req.DevFees != nil {
			if err := s.Rewards.SetExcludedFromDevFees(tx, caller, account, *req.DevFees); err != nil {
				return nil, err
			}
		}
		if req.HoldersFees != nil {
			if err := s.Rewards.SetExcludedFromHoldersFees(tx, caller, account, *req.HoldersFees); err != nil {
				return nil, err
			}
		}
		return tx.GetFlags(account)
	})
}

// EnableTrading handles POST /api/v1/admin/trading
func (s *Service) EnableTrading(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "enable_trading", http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		if err := s.Token.EnableTrading(tx, caller); err != nil {
			return nil, err
		}
		return map[string]bool{"trading_enabled": true}, nil
	})
}

// FundTreasury handles POST /api/v1/admin/treasury/fund
// Moves reward asset from the owner into the swap-back reserve.
func (s *Service) FundTreasury(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	s.mutate(w, r, "fund_treasury", http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		if err := s.Token.FundReserve(tx, caller, req.Amount); err != nil {
			return nil, err
		}
		return s.Token.TreasuryState(tx)
	})
}

// SwapBack handles POST /api/v1/admin/treasury/swap
// Converts queued holder fees into a distributor deposit.
func (s *Service) SwapBack(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "swap_back", http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		swapped, err := s.Token.SwapBack(tx, caller)
		if err != nil {
			return nil, err
		}
		return map[string]fixed.Amount{"swapped": swapped}, nil
	})
}
