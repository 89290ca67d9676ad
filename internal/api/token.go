package api

import (
	"net/http"
	"strings"

	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/fees"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/store"
	"github.com/firemarket/escrow-engine/internal/token"
)

// TransferRequest is the JSON body for POST /transfers.
type TransferRequest struct {
	To     string       `json:"to"`
	Amount fixed.Amount `json:"amount"`
}

// AmountRequest carries a single amount.
type AmountRequest struct {
	Amount fixed.Amount `json:"amount"`
}

// AssetAmountRequest names an asset and an amount.
type AssetAmountRequest struct {
	Asset  string       `json:"asset"`
	Amount fixed.Amount `json:"amount"`
}

// ClaimResponse reports a dividend payout.
type ClaimResponse struct {
	Holder string       `json:"holder"`
	Amount fixed.Amount `json:"amount"`
}

// RewardsResponse is the global distributor and treasury state.
type RewardsResponse struct {
	ShareAsset  string                 `json:"share_asset"`
	RewardAsset string                 `json:"reward_asset"`
	Distributor model.DistributorState `json:"distributor"`
	Treasury    token.Treasury         `json:"treasury"`
}

// FeesResponse is the current fee schedule.
type FeesResponse struct {
	Fees            model.FeeConfig `json:"fees"`
	TotalBps        uint32          `json:"total_bps"`
	DevWallet       string          `json:"dev_wallet"`
	MarketingWallet string          `json:"marketing_wallet"`
	FeesWallet      string          `json:"fees_wallet"`
	TradingEnabled  bool            `json:"trading_enabled"`
}

// QuoteResponse is the output of GET /quote.
type QuoteResponse struct {
	From      string              `json:"from"`
	To        string              `json:"to"`
	AmountIn  fixed.Amount        `json:"amount_in"`
	AmountOut fixed.Amount        `json:"amount_out"`
	Rate      *model.RateSnapshot `json:"rate"`
}

// Transfer handles POST /api/v1/transfers
// Moves the share token and routes transfer fees.
func (s *Service) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	to, err := addrParam(req.To, "to")
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.mutate(w, r, "transfer", http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		return s.Token.Transfer(tx, caller, to, req.Amount)
	})
}

// ClaimDividend handles POST /api/v1/rewards/claim
func (s *Service) ClaimDividend(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "claim_dividend", http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		amount, err := s.Rewards.Claim(tx, caller)
		if err != nil {
			return nil, err
		}
		return ClaimResponse{Holder: caller, Amount: amount}, nil
	})
}

// DepositDividends handles POST /api/v1/rewards/deposit
// Anyone may fund the pool from their own reward balance.
func (s *Service) DepositDividends(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	s.mutate(w, r, "deposit_dividends", http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		if err := s.Rewards.Deposit(tx, caller, req.Amount); err != nil {
			return nil, err
		}
		return s.Rewards.State(tx)
	})
}

// GetRewards handles GET /api/v1/rewards
func (s *Service) GetRewards(w http.ResponseWriter, r *http.Request) {
	cfg := s.Rewards.Config()
	s.view(w, r, func(tx store.Tx) (any, error) {
		st, err := s.Rewards.State(tx)
		if err != nil {
			return nil, err
		}
		tr, err := s.Token.TreasuryState(tx)
		if err != nil {
			return nil, err
		}
		return RewardsResponse{ShareAsset: cfg.ShareAsset, RewardAsset: cfg.RewardAsset, Distributor: st, Treasury: tr}, nil
	})
}

// GetHolder handles GET /api/v1/rewards/{holder}
func (s *Service) GetHolder(w http.ResponseWriter, r *http.Request) {
	holder, err := addrParam(chiParam(r, "holder"), "holder")
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.view(w, r, func(tx store.Tx) (any, error) {
		hv, err := s.Rewards.Holder(tx, holder)
		if err != nil {
			return nil, err
		}
		hv.Holder = holder
		return hv, nil
	})
}

// GetFees handles GET /api/v1/fees
func (s *Service) GetFees(w http.ResponseWriter, r *http.Request) {
	s.view(w, r, func(tx store.Tx) (any, error) {
		st, err := tx.GetSettings()
		if err != nil {
			return nil, err
		}
		return FeesResponse{
			Fees:            st.Fees,
			TotalBps:        st.Fees.TotalBps(),
			DevWallet:       st.DevWallet,
			MarketingWallet: st.MarketingWallet,
			FeesWallet:      st.FeesWallet,
			TradingEnabled:  st.TradingEnabled,
		}, nil
	})
}

// GetFeeBreakdown handles GET /api/v1/fees/breakdown?sender=&amount=
// A pure preview of what a transfer from sender would be charged.
func (s *Service) GetFeeBreakdown(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sender, err := addrParam(q.Get("sender"), "sender")
	if err != nil {
		writeFailure(w, err)
		return
	}
	amount, err := amountParam(q.Get("amount"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.view(w, r, func(tx store.Tx) (any, error) {
		return fees.BreakdownFor(tx, sender, amount)
	})
}

// GetRate handles GET /api/v1/rates/{base}/{quote}
func (s *Service) GetRate(w http.ResponseWriter, r *http.Request) {
	base, err := addrParam(chiParam(r, "base"), "base")
	if err != nil {
		writeFailure(w, err)
		return
	}
	quote, err := addrParam(chiParam(r, "quote"), "quote")
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.view(w, r, func(tx store.Tx) (any, error) {
		return s.Rates.Get(tx, base, quote)
	})
}

// GetQuote handles GET /api/v1/quote?from=&to=&amount=
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := addrParam(q.Get("from"), "from")
	if err != nil {
		writeFailure(w, err)
		return
	}
	to, err := addrParam(q.Get("to"), "to")
	if err != nil {
		writeFailure(w, err)
		return
	}
	amount, err := amountParam(q.Get("amount"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.view(w, r, func(tx store.Tx) (any, error) {
		out, snap, err := s.Rates.Quote(tx, from, to, amount)
		if err != nil {
			return nil, err
		}
		return QuoteResponse{From: from, To: to, AmountIn: amount, AmountOut: out, Rate: snap}, nil
	})
}

// SetRateRequest is the JSON body for PUT /admin/rates.
type SetRateRequest struct {
	Base         string       `json:"base"`
	Quote        string       `json:"quote"`
	Rate         fixed.Amount `json:"rate"`
	RateDecimals uint8        `json:"rate_decimals"`
}

// SetRate handles PUT /api/v1/admin/rates
func (s *Service) SetRate(w http.ResponseWriter, r *http.Request) {
	var req SetRateRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	base, err := addrParam(req.Base, "base")
	if err != nil {
		writeFailure(w, err)
		return
	}
	quote, err := addrParam(req.Quote, "quote")
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.mutate(w, r, "set_rate", http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		return s.Rates.Set(tx, caller, base, quote, req.Rate, req.RateDecimals)
	})
}

// MyBalances handles GET /api/v1/balances/me
func (s *Service) MyBalances(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	s.view(w, r, func(tx store.Tx) (any, error) {
		bals, err := tx.ListBalances(caller)
		if err != nil {
			return nil, err
		}
		out := make([]BalanceView, 0, len(bals))
		for _, b := range bals {
			out = append(out, BalanceView{
				Balance:        b,
				AvailableUnits: s.units(b.Asset, b.Available),
				LockedUnits:    s.units(b.Asset, b.Locked),
			})
		}
		return out, nil
	})
}

// BalanceView is a balance with human-readable amounts.
type BalanceView struct {
	model.Balance
	AvailableUnits string `json:"available_units,omitempty"`
	LockedUnits    string `json:"locked_units,omitempty"`
}

// Withdraw handles POST /api/v1/balances/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req AssetAmountRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	id, err := s.knownAsset(req.Asset)
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.mutate(w, r, "withdraw", http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		if err := s.Ledger.Withdraw(tx, caller, id, req.Amount, s.now()); err != nil {
			return nil, err
		}
		return tx.GetBalance(caller, id)
	})
}

func amountParam(raw string) (fixed.Amount, error) {
	a, err := fixed.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fixed.Zero, apperr.New(apperr.InvalidParameters, "amount: %v", err)
	}
	return a, nil
}
