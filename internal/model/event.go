package model

import (
	"time"

	"github.com/google/uuid"
)

// Event types written to the audit log.
const (
	EventAdCreated          = "AdCreated"
	EventAdCancelled        = "AdCancelled"
	EventAdCancelledOnPause = "AdCancelledOnPause"
	EventOrderPlaced        = "OrderPlaced"
	EventOrderPaid          = "OrderPaid"
	EventOrderReleased      = "OrderReleased"
	EventOrderDisputed      = "OrderDisputed"
	EventDisputeResolved    = "DisputeResolved"
	EventContractPaused     = "ContractPaused"
	EventContractUnpaused   = "ContractUnpaused"
	EventDividendDeposited  = "DividendDeposited"
	EventDividendClaimed    = "DividendClaimed"
	EventFeeTransfer        = "FeeTransfer"
	EventRateUpdated        = "RateUpdated"
	EventTokenRescued       = "TokenRescued"
	EventFundsDeposited     = "FundsDeposited"
	EventFundsWithdrawn     = "FundsWithdrawn"
	EventFeesUpdated        = "FeesUpdated"
	EventTradingEnabled     = "TradingEnabled"
	EventExclusionUpdated   = "ExclusionUpdated"
)

// NewEvent builds an event with a fresh ID. Seq is assigned on append.
func NewEvent(typ string, at time.Time, attrs map[string]string) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Attributes: attrs,
		Time:       at,
	}
}
