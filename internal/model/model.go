// Package model defines the core domain types shared across the escrow
// engine. All monetary values are fixed.Amount integers in the asset's
// smallest unit; never float64 for money.
package model

import (
	"time"

	"github.com/firemarket/escrow-engine/internal/fixed"
)

// Close reasons recorded on inactive ads.
const (
	CloseFilled    = "filled"
	CloseCancelled = "cancelled"
	ClosePaused    = "paused"
)

// Ad is a standing offer to trade Asset for PaymentAsset at UnitPrice.
// Sell-ads escrow AmountRemaining of Asset; buy-ads escrow LockedPayment
// of PaymentAsset.
type Ad struct {
	ID              uint64       `json:"id"`
	Maker           string       `json:"maker"`
	IsBuy           bool         `json:"is_buy"`
	Asset           string       `json:"asset"`
	OriginalAmount  fixed.Amount `json:"original_amount"`
	AmountRemaining fixed.Amount `json:"amount_remaining"`
	PaymentAsset    string       `json:"payment_asset"`
	UnitPrice       fixed.Amount `json:"unit_price"` // scaled by fixed.PricePrecision
	MinOrderAmount  fixed.Amount `json:"min_order_amount"`
	PaymentMethod   string       `json:"payment_method"`
	LockedPayment   fixed.Amount `json:"locked_payment"` // buy-ads only
	Active          bool         `json:"active"`
	CloseReason     string       `json:"close_reason,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	ClosedAt        *time.Time   `json:"closed_at,omitempty"`
}

// OrderStatus is a state of the order lifecycle.
type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderPaid     OrderStatus = "paid"
	OrderDisputed OrderStatus = "disputed"
	OrderReleased OrderStatus = "released"
)

// Terminal reports whether no transition leaves s.
func (s OrderStatus) Terminal() bool { return s == OrderReleased }

// Party names a side of an order in dispute resolution.
type Party string

const (
	PartyBuyer  Party = "buyer"
	PartySeller Party = "seller"
)

// Order is a single match against an ad. Orders are never deleted.
type Order struct {
	ID            uint64       `json:"id"`
	AdID          uint64       `json:"ad_id"`
	Buyer         string       `json:"buyer"`
	Seller        string       `json:"seller"`
	Asset         string       `json:"asset"`
	PaymentAsset  string       `json:"payment_asset"`
	Amount        fixed.Amount `json:"amount"`
	PaymentAmount fixed.Amount `json:"payment_amount"`
	AssetLocked   fixed.Amount `json:"asset_locked"`   // held in the seller's escrow
	PaymentLocked fixed.Amount `json:"payment_locked"` // held in the buyer's escrow, zero off-chain
	Status        OrderStatus  `json:"status"`
	Resolution    Party        `json:"resolution,omitempty"`
	DisputeReason string       `json:"dispute_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Balance is one account's holding of one asset. Locked funds are escrowed
// for ads or orders and cannot be spent.
type Balance struct {
	Account   string       `json:"account"`
	Asset     string       `json:"asset"`
	Available fixed.Amount `json:"available"`
	Locked    fixed.Amount `json:"locked"`
}

// Shareholder is a holder's weight in the reward pool.
type Shareholder struct {
	Holder        string       `json:"holder"`
	Shares        fixed.Amount `json:"shares"`
	TotalExcluded fixed.Amount `json:"total_excluded"` // accumulator snapshot at last touch
	TotalRealised fixed.Amount `json:"total_realised"`
	Carried       fixed.Amount `json:"carried"` // earnings accrued under a previous share amount
	UpdatedAt     time.Time    `json:"updated_at"`
}

// DistributorState is the global reward accumulator.
type DistributorState struct {
	TotalShares       fixed.Amount `json:"total_shares"`
	DividendsPerShare fixed.Amount `json:"dividends_per_share"` // scaled by rewards.Precision
	TotalDividends    fixed.Amount `json:"total_dividends"`
	TotalDistributed  fixed.Amount `json:"total_distributed"`
}

// FeeConfig holds transfer fee rates in basis points.
type FeeConfig struct {
	DevBps       uint32 `json:"dev_fee_bps" yaml:"dev_fee_bps"`
	MarketingBps uint32 `json:"marketing_fee_bps" yaml:"marketing_fee_bps"`
	HoldersBps   uint32 `json:"holders_fee_bps" yaml:"holders_fee_bps"`
	TransferBps  uint32 `json:"transfer_fee_bps" yaml:"transfer_fee_bps"`
}

// TotalBps is the sum of all components.
func (c FeeConfig) TotalBps() uint32 {
	return c.DevBps + c.MarketingBps + c.HoldersBps + c.TransferBps
}

// Settings is the mutable engine configuration kept in the authoritative
// store so that every operation reads it atomically with the state it
// changes.
type Settings struct {
	Initialized     bool         `json:"initialized"`
	Paused          bool         `json:"paused"`
	TradingEnabled  bool         `json:"trading_enabled"`
	Fees            FeeConfig    `json:"fees"`
	DevWallet       string       `json:"dev_wallet"`
	MarketingWallet string       `json:"marketing_wallet"`
	FeesWallet      string       `json:"fees_wallet"`
	AccumulatedFees fixed.Amount `json:"accumulated_fees"` // holder fees awaiting conversion
}

// AccountFlags are the per-address exclusion switches.
type AccountFlags struct {
	Account                 string `json:"account"`
	ExcludedFromRewards     bool   `json:"excluded_from_rewards"`
	ExcludedFromDevFees     bool   `json:"excluded_from_dev_fees"`
	ExcludedFromHoldersFees bool   `json:"excluded_from_holders_fees"`
}

// RateSnapshot is the externally supplied price of Base in Quote units:
// one unit of Quote buys Rate/10^RateDecimals units of Base.
type RateSnapshot struct {
	Base         string       `json:"base"`
	Quote        string       `json:"quote"`
	Rate         fixed.Amount `json:"rate"`
	RateDecimals uint8        `json:"rate_decimals"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Event is an entry of the append-only audit log.
type Event struct {
	Seq        uint64            `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Time       time.Time         `json:"time"`
}

// IdempotencyRecord remembers the response of a mutating call.
type IdempotencyRecord struct {
	Key       string    `json:"key"`
	Operation string    `json:"operation"`
	Caller    string    `json:"caller"`
	Status    int       `json:"status"`
	Response  []byte    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}
