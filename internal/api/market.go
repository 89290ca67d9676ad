package api

import (
	"net/http"
	"strings"

	"github.com/firemarket/escrow-engine/internal/address"
	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/escrow"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/store"
)

// PlaceOrderRequest is the JSON body for POST /ads/{adID}/orders.
type PlaceOrderRequest struct {
	Amount fixed.Amount `json:"amount"`
}

// DisputeRequest is the optional JSON body for POST /orders/{orderID}/dispute.
type DisputeRequest struct {
	Reason string `json:"reason"`
}

// ResolveRequest is the JSON body for POST /orders/{orderID}/resolve.
type ResolveRequest struct {
	Winner model.Party `json:"winner"`
}

// CreateAd handles POST /api/v1/ads
func (s *Service) CreateAd(w http.ResponseWriter, r *http.Request) {
	var req escrow.CreateAdRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	var err error
	if req.Asset, err = addrParam(req.Asset, "asset"); err != nil {
		writeFailure(w, err)
		return
	}
	if req.PaymentAsset, err = addrParam(req.PaymentAsset, "payment_asset"); err != nil {
		writeFailure(w, err)
		return
	}
	s.mutate(w, r, "create_ad", http.StatusCreated, func(tx store.Tx, caller string) (any, error) {
		req.Maker = caller
		return s.Market.CreateAd(tx, req)
	})
}

// CancelAd handles POST /api/v1/ads/{adID}/cancel
func (s *Service) CancelAd(w http.ResponseWriter, r *http.Request) {
	adID, err := idParam(r, "adID")
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.mutate(w, r, "cancel_ad", http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		return s.Market.CancelAd(tx, caller, adID)
	})
}

// GetAd handles GET /api/v1/ads/{adID}
func (s *Service) GetAd(w http.ResponseWriter, r *http.Request) {
	adID, err := idParam(r, "adID")
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.view(w, r, func(tx store.Tx) (any, error) {
		return s.Market.GetAd(tx, adID)
	})
}

// ListAds handles GET /api/v1/ads
// Optional filters: ?maker=, ?asset=, ?payment_asset=, ?payment_method=,
// ?side=buy|sell, ?active=false to include closed ads.
func (s *Service) ListAds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AdFilter{ActiveOnly: q.Get("active") != "false"}
	var err error
	if v := q.Get("maker"); v != "" {
		if f.Maker, err = addrParam(v, "maker"); err != nil {
			writeFailure(w, err)
			return
		}
	}
	if v := q.Get("asset"); v != "" {
		if f.Asset, err = addrParam(v, "asset"); err != nil {
			writeFailure(w, err)
			return
		}
	}
	if v := q.Get("payment_asset"); v != "" {
		if f.PaymentAsset, err = addrParam(v, "payment_asset"); err != nil {
			writeFailure(w, err)
			return
		}
	}
	f.PaymentMethod = strings.TrimSpace(q.Get("payment_method"))
	switch q.Get("side") {
	case "":
	case "buy":
		isBuy := true
		f.IsBuy = &isBuy
	case "sell":
		isBuy := false
		f.IsBuy = &isBuy
	default:
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}
	s.view(w, r, func(tx store.Tx) (any, error) {
		ads, err := s.Market.ListAds(tx, f)
		if ads == nil {
			ads = []model.Ad{}
		}
		return ads, err
	})
}

// PlaceOrder handles POST /api/v1/ads/{adID}/orders
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	adID, err := idParam(r, "adID")
	if err != nil {
		writeFailure(w, err)
		return
	}
	var req PlaceOrderRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	s.mutate(w, r, "place_order", http.StatusCreated, func(tx store.Tx, caller string) (any, error) {
		return s.Market.PlaceOrder(tx, caller, adID, req.Amount)
	})
}

// GetOrder handles GET /api/v1/orders/{orderID}
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := idParam(r, "orderID")
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.view(w, r, func(tx store.Tx) (any, error) {
		return s.Market.GetOrder(tx, orderID)
	})
}

// ListOrders handles GET /api/v1/orders
// Returns the caller's orders on either side. The arbiter and the owner
// see every order and may narrow by ?party=. ?status= selects one state
// and ?open=true hides released orders.
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	q := r.URL.Query()
	f := store.OrderFilter{Party: caller, OpenOnly: q.Get("open") == "true"}
	if caller == s.Owner || caller == s.Market.Config().Arbiter {
		f.Party = ""
		if v := q.Get("party"); v != "" {
			party, err := addrParam(v, "party")
			if err != nil {
				writeFailure(w, err)
				return
			}
			f.Party = party
		}
	}
	if v := q.Get("status"); v != "" {
		switch st := model.OrderStatus(v); st {
		case model.OrderPending, model.OrderPaid, model.OrderDisputed, model.OrderReleased:
			f.Status = st
		default:
			writeFailure(w, apperr.New(apperr.InvalidParameters, "unknown order status %q", v))
			return
		}
	}
	s.view(w, r, func(tx store.Tx) (any, error) {
		orders, err := s.Market.ListOrders(tx, f)
		if orders == nil {
			orders = []model.Order{}
		}
		return orders, err
	})
}

// MarkPaid handles POST /api/v1/orders/{orderID}/paid
func (s *Service) MarkPaid(w http.ResponseWriter, r *http.Request) {
	s.orderAction(w, r, "mark_paid", s.Market.MarkPaid)
}

// Release handles POST /api/v1/orders/{orderID}/release
func (s *Service) Release(w http.ResponseWriter, r *http.Request) {
	s.orderAction(w, r, "release", s.Market.Release)
}

// Dispute handles POST /api/v1/orders/{orderID}/dispute
// The body is optional; {"reason": "..."} is recorded on the order.
func (s *Service) Dispute(w http.ResponseWriter, r *http.Request) {
	orderID, err := idParam(r, "orderID")
	if err != nil {
		writeFailure(w, err)
		return
	}
	var req DisputeRequest
	if err := decodeOptional(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	s.mutate(w, r, "dispute", http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		return s.Market.Dispute(tx, caller, orderID, req.Reason)
	})
}

// ResolveDispute handles POST /api/v1/orders/{orderID}/resolve
func (s *Service) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	orderID, err := idParam(r, "orderID")
	if err != nil {
		writeFailure(w, err)
		return
	}
	var req ResolveRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	s.mutate(w, r, "resolve_dispute", http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		return s.Market.ResolveDispute(tx, caller, orderID, req.Winner)
	})
}

func (s *Service) orderAction(w http.ResponseWriter, r *http.Request, op string, act func(store.Tx, string, uint64) (*model.Order, error)) {
	orderID, err := idParam(r, "orderID")
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.mutate(w, r, op, http.StatusOK, func(tx store.Tx, caller string) (any, error) {
		return act(tx, caller, orderID)
	})
}

// LockedResponse reports TotalLockedForToken.
type LockedResponse struct {
	Asset  string       `json:"asset"`
	Locked fixed.Amount `json:"locked"`
	Units  string       `json:"locked_units,omitempty"`
}

// GetLocked handles GET /api/v1/assets/{asset}/locked
func (s *Service) GetLocked(w http.ResponseWriter, r *http.Request) {
	id, err := addrParam(chiParam(r, "asset"), "asset")
	if err != nil {
		writeFailure(w, err)
		return
	}
	if address.IsOffChain(id) {
		writeFailure(w, apperr.New(apperr.InvalidParameters, "off-chain payments are never escrowed"))
		return
	}
	s.view(w, r, func(tx store.Tx) (any, error) {
		locked, err := s.Market.TotalLockedForToken(tx, id)
		if err != nil {
			return nil, err
		}
		return LockedResponse{Asset: id, Locked: locked, Units: s.units(id, locked)}, nil
	})
}
