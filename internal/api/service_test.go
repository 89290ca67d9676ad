package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/firemarket/escrow-engine/internal/address"
	"github.com/firemarket/escrow-engine/internal/api"
	"github.com/firemarket/escrow-engine/internal/asset"
	"github.com/firemarket/escrow-engine/internal/audit"
	"github.com/firemarket/escrow-engine/internal/auth"
	"github.com/firemarket/escrow-engine/internal/escrow"
	"github.com/firemarket/escrow-engine/internal/fees"
	"github.com/firemarket/escrow-engine/internal/ledger"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/rates"
	"github.com/firemarket/escrow-engine/internal/rewards"
	"github.com/firemarket/escrow-engine/internal/store"
	"github.com/firemarket/escrow-engine/internal/token"
)

var (
	fire     = address.MustParse("0x00000000000000000000000000000000000000f1")
	usdt     = address.MustParse("0x00000000000000000000000000000000000000f2")
	owner    = address.MustParse("0x00000000000000000000000000000000000000a1")
	arbiter  = address.MustParse("0x00000000000000000000000000000000000000a2")
	seller   = address.MustParse("0x0000000000000000000000000000000000000a11")
	buyer    = address.MustParse("0x0000000000000000000000000000000000000b0b")
	carol    = address.MustParse("0x0000000000000000000000000000000000000c0c")
	escrowAc = address.Reserved(0xE5C0)
	treasury = address.Reserved(0x7EA5)
	pool     = address.Reserved(0xD1F0)
)

const two = "2000000000000000000" // unit price 2.0

// newTestEnv creates a Service over an in-memory store, mounted on a chi
// router. Callers authenticate with the X-Account header.
func newTestEnv(t *testing.T) (*api.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	reg, err := asset.NewRegistry([]asset.Asset{
		{ID: fire, Symbol: "FIRE", Decimals: 18},
		{ID: usdt, Symbol: "USDT", Decimals: 6},
	})
	if err != nil {
		t.Fatal(err)
	}
	ms := store.NewMemoryStore()
	l := ledger.New()
	dist := rewards.New(rewards.Config{ShareAsset: fire, RewardAsset: usdt, Pool: pool, Owner: owner}, l)
	book := rates.NewBook(owner)
	tok := token.New(token.Config{ShareAsset: fire, RewardAsset: usdt, Treasury: treasury, Owner: owner}, l, dist, book)
	market := escrow.New(escrow.Config{Owner: owner, Arbiter: arbiter, Account: escrowAc}, reg, l)

	err = api.Bootstrap(context.Background(), ms, api.Genesis{
		Fees:            model.FeeConfig{DevBps: 100, MarketingBps: 50, HoldersBps: 50},
		DevWallet:       address.MustParse("0x00000000000000000000000000000000000000d1"),
		MarketingWallet: address.MustParse("0x00000000000000000000000000000000000000d2"),
		FeesWallet:      address.MustParse("0x00000000000000000000000000000000000000d3"),
		TradingEnabled:  true,
		SystemAccounts:  []string{escrowAc, treasury, pool},
		FeeExempt:       []string{owner},
	})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	svc := api.NewService(api.Deps{
		Store:   ms,
		Assets:  reg,
		Ledger:  l,
		Market:  market,
		Rewards: dist,
		Token:   tok,
		Rates:   book,
		Auth:    auth.New(auth.Config{DevHeader: true}, auth.NewMemoryNonces()),
		Auditor: audit.New(ms, market, dist),
		Owner:   owner,
	})
	r := chi.NewRouter()
	svc.Mount(r)
	return svc, ms, r
}

func do(t *testing.T, router chi.Router, method, path, caller string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set("X-Account", caller)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func expect(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func deposit(t *testing.T, router chi.Router, account, asset, amount string) {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/admin/deposit", owner, map[string]string{
		"account": account, "asset": asset, "amount": amount,
	})
	expect(t, w, http.StatusOK)
}

func balanceOf(t *testing.T, router chi.Router, account, asset string) model.Balance {
	t.Helper()
	w := do(t, router, "GET", "/api/v1/balances/me", account, nil)
	expect(t, w, http.StatusOK)
	var bals []api.BalanceView
	decodeBody(t, w, &bals)
	for _, b := range bals {
		if b.Asset == asset {
			return b.Balance
		}
	}
	return model.Balance{Account: account, Asset: asset}
}

func sellAd(t *testing.T, router chi.Router, amount, minOrder string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, router, "POST", "/api/v1/ads", seller, map[string]any{
		"asset":            fire,
		"amount":           amount,
		"payment_asset":    usdt,
		"min_order_amount": minOrder,
		"unit_price":       two,
		"payment_method":   "bank transfer",
	}, headers...)
}

// --- Escrow flow ---

func TestAdLifecycle(t *testing.T) {
	_, _, router := newTestEnv(t)
	deposit(t, router, seller, fire, "1000")
	deposit(t, router, buyer, usdt, "1000")

	w := sellAd(t, router, "100", "10")
	expect(t, w, http.StatusCreated)
	var ad model.Ad
	decodeBody(t, w, &ad)
	if ad.ID != 1 || !ad.Active || ad.Maker != seller {
		t.Fatalf("unexpected ad %+v", ad)
	}

	w = do(t, router, "POST", "/api/v1/ads/1/orders", buyer, map[string]string{"amount": "40"})
	expect(t, w, http.StatusCreated)
	var order model.Order
	decodeBody(t, w, &order)
	if order.PaymentAmount.String() != "80" || order.Status != model.OrderPending {
		t.Fatalf("unexpected order %+v", order)
	}

	w = do(t, router, "GET", "/api/v1/assets/"+fire+"/locked", "", nil)
	expect(t, w, http.StatusOK)
	var locked api.LockedResponse
	decodeBody(t, w, &locked)
	if locked.Locked.String() != "100" {
		t.Errorf("locked FIRE = %s, want 100", locked.Locked)
	}

	// Only the buyer may mark paid; only seller or arbiter may release.
	expect(t, do(t, router, "POST", "/api/v1/orders/1/paid", seller, nil), http.StatusForbidden)
	expect(t, do(t, router, "POST", "/api/v1/orders/1/paid", buyer, nil), http.StatusOK)
	expect(t, do(t, router, "POST", "/api/v1/orders/1/release", buyer, nil), http.StatusForbidden)
	expect(t, do(t, router, "POST", "/api/v1/orders/1/release", seller, nil), http.StatusOK)

	if b := balanceOf(t, router, buyer, fire); b.Available.String() != "40" {
		t.Errorf("buyer FIRE = %s, want 40", b.Available)
	}
	if b := balanceOf(t, router, seller, usdt); b.Available.String() != "80" {
		t.Errorf("seller USDT = %s, want 80", b.Available)
	}
	if b := balanceOf(t, router, seller, fire); b.Available.String() != "900" || b.Locked.String() != "60" {
		t.Errorf("seller FIRE = %+v, want 900 available / 60 locked", b)
	}

	w = do(t, router, "GET", "/api/v1/orders/1", "", nil)
	expect(t, w, http.StatusOK)
	decodeBody(t, w, &order)
	if order.Status != model.OrderReleased {
		t.Errorf("order status = %s", order.Status)
	}

	w = do(t, router, "GET", "/api/v1/audit", "", nil)
	expect(t, w, http.StatusOK)
	var rep audit.Report
	decodeBody(t, w, &rep)
	if !rep.Healthy {
		t.Errorf("audit unhealthy: %s", w.Body.String())
	}
}

func TestDisputeResolvedByArbiter(t *testing.T) {
	_, _, router := newTestEnv(t)
	deposit(t, router, seller, fire, "100")
	deposit(t, router, buyer, usdt, "200")
	expect(t, sellAd(t, router, "100", "10"), http.StatusCreated)
	expect(t, do(t, router, "POST", "/api/v1/ads/1/orders", buyer, map[string]string{"amount": "50"}), http.StatusCreated)
	expect(t, do(t, router, "POST", "/api/v1/orders/1/dispute", seller, nil), http.StatusOK)

	expect(t, do(t, router, "POST", "/api/v1/orders/1/resolve", seller, map[string]string{"winner": "seller"}), http.StatusForbidden)
	expect(t, do(t, router, "POST", "/api/v1/orders/1/resolve", arbiter, map[string]string{"winner": "nobody"}), http.StatusBadRequest)
	expect(t, do(t, router, "POST", "/api/v1/orders/1/resolve", arbiter, map[string]string{"winner": "buyer"}), http.StatusOK)

	if b := balanceOf(t, router, buyer, fire); b.Available.String() != "50" {
		t.Errorf("buyer FIRE = %s, want 50", b.Available)
	}
	if b := balanceOf(t, router, buyer, usdt); b.Available.String() != "200" || !b.Locked.IsZero() {
		t.Errorf("buyer USDT = %+v, want collateral refunded", b)
	}
}

func TestListAds_Filters(t *testing.T) {
	_, _, router := newTestEnv(t)
	deposit(t, router, seller, fire, "1000")
	expect(t, sellAd(t, router, "100", "10"), http.StatusCreated)
	expect(t, sellAd(t, router, "200", "10"), http.StatusCreated)
	expect(t, do(t, router, "POST", "/api/v1/ads/1/cancel", seller, nil), http.StatusOK)

	var ads []model.Ad
	w := do(t, router, "GET", "/api/v1/ads", "", nil)
	expect(t, w, http.StatusOK)
	decodeBody(t, w, &ads)
	if len(ads) != 1 || ads[0].ID != 2 {
		t.Fatalf("active ads = %+v", ads)
	}

	w = do(t, router, "GET", "/api/v1/ads?active=false&maker="+seller, "", nil)
	expect(t, w, http.StatusOK)
	decodeBody(t, w, &ads)
	if len(ads) != 2 {
		t.Fatalf("expected 2 ads, got %d", len(ads))
	}

	w = do(t, router, "GET", "/api/v1/ads?side=buy", "", nil)
	expect(t, w, http.StatusOK)
	decodeBody(t, w, &ads)
	if len(ads) != 0 {
		t.Fatalf("expected no buy ads, got %d", len(ads))
	}

	expect(t, do(t, router, "GET", "/api/v1/ads?side=sideways", "", nil), http.StatusBadRequest)
	expect(t, do(t, router, "GET", "/api/v1/ads/99", "", nil), http.StatusNotFound)
	expect(t, do(t, router, "GET", "/api/v1/ads/abc", "", nil), http.StatusBadRequest)
}

func TestListAds_PaymentFilters(t *testing.T) {
	_, _, router := newTestEnv(t)
	deposit(t, router, seller, fire, "1000")
	expect(t, sellAd(t, router, "100", "10"), http.StatusCreated)
	expect(t, do(t, router, "POST", "/api/v1/ads", seller, map[string]any{
		"asset":            fire,
		"amount":           "100",
		"payment_asset":    address.OffChain,
		"min_order_amount": "10",
		"unit_price":       two,
		"payment_method":   "SEPA",
	}), http.StatusCreated)

	ids := func(query string) []uint64 {
		t.Helper()
		w := do(t, router, "GET", "/api/v1/ads?"+query, "", nil)
		expect(t, w, http.StatusOK)
		var ads []model.Ad
		decodeBody(t, w, &ads)
		var out []uint64
		for _, ad := range ads {
			out = append(out, ad.ID)
		}
		return out
	}

	if got := ids("payment_method=" + url.QueryEscape("Bank Transfer")); len(got) != 1 || got[0] != 1 {
		t.Errorf("payment_method filter = %v, want [1]", got)
	}
	if got := ids("payment_asset=" + address.OffChain); len(got) != 1 || got[0] != 2 {
		t.Errorf("off-chain payment_asset filter = %v, want [2]", got)
	}
	if got := ids("payment_asset=" + usdt + "&payment_method=sepa"); len(got) != 0 {
		t.Errorf("combined filter = %v, want none", got)
	}
	if got := ids("payment_method=sepa&side=sell"); len(got) != 1 || got[0] != 2 {
		t.Errorf("payment_method with side = %v, want [2]", got)
	}
	expect(t, do(t, router, "GET", "/api/v1/ads?payment_asset=usdt", "", nil), http.StatusBadRequest)
}

func TestDispute_ReasonRecorded(t *testing.T) {
	_, _, router := newTestEnv(t)
	deposit(t, router, seller, fire, "100")
	deposit(t, router, buyer, usdt, "200")
	expect(t, sellAd(t, router, "100", "10"), http.StatusCreated)
	expect(t, do(t, router, "POST", "/api/v1/ads/1/orders", buyer, map[string]string{"amount": "50"}), http.StatusCreated)

	expect(t, do(t, router, "POST", "/api/v1/orders/1/dispute", buyer, map[string]string{"why": "x"}), http.StatusBadRequest)
	w := do(t, router, "POST", "/api/v1/orders/1/dispute", buyer, map[string]string{"reason": "coins never released"})
	expect(t, w, http.StatusOK)

	w = do(t, router, "GET", "/api/v1/orders/1", "", nil)
	expect(t, w, http.StatusOK)
	var order model.Order
	decodeBody(t, w, &order)
	if order.Status != model.OrderDisputed || order.DisputeReason != "coins never released" {
		t.Fatalf("unexpected order %+v", order)
	}

	w = do(t, router, "GET", "/api/v1/events", "", nil)
	expect(t, w, http.StatusOK)
	var evs []model.Event
	decodeBody(t, w, &evs)
	last := evs[len(evs)-1]
	if last.Type != model.EventOrderDisputed || last.Attributes["reason"] != "coins never released" || last.Attributes["by"] != buyer {
		t.Errorf("unexpected dispute event %+v", last)
	}
}

func TestListOrders_StatusAndArbiterView(t *testing.T) {
	_, _, router := newTestEnv(t)
	deposit(t, router, seller, fire, "1000")
	deposit(t, router, buyer, usdt, "1000")
	deposit(t, router, carol, usdt, "1000")
	expect(t, sellAd(t, router, "100", "10"), http.StatusCreated)
	expect(t, do(t, router, "POST", "/api/v1/ads/1/orders", buyer, map[string]string{"amount": "20"}), http.StatusCreated)
	expect(t, do(t, router, "POST", "/api/v1/ads/1/orders", carol, map[string]string{"amount": "20"}), http.StatusCreated)
	expect(t, do(t, router, "POST", "/api/v1/orders/2/dispute", carol, map[string]string{"reason": "no reply"}), http.StatusOK)

	ids := func(caller, query string) []uint64 {
		t.Helper()
		w := do(t, router, "GET", "/api/v1/orders?"+query, caller, nil)
		expect(t, w, http.StatusOK)
		var orders []model.Order
		decodeBody(t, w, &orders)
		var out []uint64
		for _, o := range orders {
			out = append(out, o.ID)
		}
		return out
	}

	if got := ids(arbiter, "status=disputed"); len(got) != 1 || got[0] != 2 {
		t.Errorf("arbiter disputed orders = %v, want [2]", got)
	}
	if got := ids(owner, "status=disputed"); len(got) != 1 || got[0] != 2 {
		t.Errorf("owner disputed orders = %v, want [2]", got)
	}
	if got := ids(arbiter, "party="+buyer); len(got) != 1 || got[0] != 1 {
		t.Errorf("arbiter orders for buyer = %v, want [1]", got)
	}
	if got := ids(arbiter, ""); len(got) != 2 {
		t.Errorf("arbiter sees %v, want both orders", got)
	}

	// Parties only ever see their own orders.
	if got := ids(buyer, "status=disputed"); len(got) != 0 {
		t.Errorf("buyer disputed orders = %v, want none", got)
	}
	if got := ids(buyer, "party="+carol); len(got) != 1 || got[0] != 1 {
		t.Errorf("buyer with party param = %v, want own order [1]", got)
	}
	if got := ids(seller, "status=pending"); len(got) != 1 || got[0] != 1 {
		t.Errorf("seller pending orders = %v, want [1]", got)
	}

	expect(t, do(t, router, "GET", "/api/v1/orders?status=lost", arbiter, nil), http.StatusBadRequest)
}

// --- Idempotency ---

func TestCreateAd_IdempotencyKey(t *testing.T) {
	_, ms, router := newTestEnv(t)
	deposit(t, router, seller, fire, "1000")

	first := sellAd(t, router, "100", "10", "Idempotency-Key", "ad-1")
	expect(t, first, http.StatusCreated)
	second := sellAd(t, router, "100", "10", "Idempotency-Key", "ad-1")
	expect(t, second, http.StatusCreated)

	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay header on repeated key")
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("replayed body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}

	var ads []model.Ad
	ms.View(context.Background(), func(tx store.Tx) error {
		var err error
		ads, err = tx.ListAds(store.AdFilter{})
		return err
	})
	if len(ads) != 1 {
		t.Fatalf("expected 1 ad after replay, got %d", len(ads))
	}

	// The same key may not be reused for a different operation.
	w := do(t, router, "POST", "/api/v1/ads/1/cancel", seller, nil, "Idempotency-Key", "ad-1")
	expect(t, w, http.StatusConflict)
}

func TestIdempotencyKey_ScopedToCaller(t *testing.T) {
	_, _, router := newTestEnv(t)
	deposit(t, router, seller, fire, "1000")
	deposit(t, router, buyer, fire, "1000")

	expect(t, sellAd(t, router, "100", "10", "Idempotency-Key", "k-1"), http.StatusCreated)

	// Another caller's identical key is a fresh request, not a replay.
	w := do(t, router, "POST", "/api/v1/ads", buyer, map[string]any{
		"asset":            fire,
		"amount":           "50",
		"payment_asset":    usdt,
		"min_order_amount": "10",
		"unit_price":       two,
		"payment_method":   "bank transfer",
	}, "Idempotency-Key", "k-1")
	expect(t, w, http.StatusCreated)
	if w.Header().Get("Idempotent-Replayed") != "" {
		t.Error("key from another caller must not replay")
	}
	var ad model.Ad
	decodeBody(t, w, &ad)
	if ad.ID != 2 || ad.Maker != buyer {
		t.Fatalf("unexpected ad %+v", ad)
	}

	// And it may be used for a different operation.
	w = do(t, router, "POST", "/api/v1/ads/2/cancel", buyer, nil, "Idempotency-Key", "k-2")
	expect(t, w, http.StatusOK)
	w = do(t, router, "POST", "/api/v1/transfers", seller, map[string]string{"to": carol, "amount": "10"}, "Idempotency-Key", "k-2")
	expect(t, w, http.StatusOK)
}

// --- Access control and protocol ---

func TestAuthRequired(t *testing.T) {
	_, _, router := newTestEnv(t)
	expect(t, sellAdAnonymous(t, router), http.StatusUnauthorized)
	expect(t, do(t, router, "GET", "/api/v1/balances/me", "", nil), http.StatusUnauthorized)
}

func sellAdAnonymous(t *testing.T, router chi.Router) *httptest.ResponseRecorder {
	return do(t, router, "POST", "/api/v1/ads", "", map[string]string{"asset": fire})
}

func TestProtocolVersion(t *testing.T) {
	_, _, router := newTestEnv(t)
	w := do(t, router, "GET", "/api/v1/assets", "", nil, "X-Protocol-Version", "2")
	expect(t, w, http.StatusBadRequest)

	w = do(t, router, "GET", "/api/v1/assets", "", nil, "X-Protocol-Version", "1")
	expect(t, w, http.StatusOK)
	if w.Header().Get("X-Protocol-Version") != api.ProtocolVersion {
		t.Error("response should carry the protocol version")
	}
	var assets []asset.Asset
	decodeBody(t, w, &assets)
	if len(assets) != 2 {
		t.Errorf("expected 2 assets, got %d", len(assets))
	}
}

func TestPause_OwnerOnly(t *testing.T) {
	_, _, router := newTestEnv(t)
	deposit(t, router, seller, fire, "1000")
	expect(t, sellAd(t, router, "100", "10"), http.StatusCreated)

	expect(t, do(t, router, "POST", "/api/v1/admin/pause", seller, nil), http.StatusForbidden)
	w := do(t, router, "POST", "/api/v1/admin/pause", owner, nil)
	expect(t, w, http.StatusOK)
	var resp api.PauseResponse
	decodeBody(t, w, &resp)
	if !resp.Paused || len(resp.Purged) != 1 {
		t.Fatalf("unexpected pause response %+v", resp)
	}

	w = sellAd(t, router, "100", "10")
	expect(t, w, http.StatusServiceUnavailable)
	var e map[string]string
	decodeBody(t, w, &e)
	if e["kind"] != "PoolPaused" {
		t.Errorf("kind = %q", e["kind"])
	}
	if b := balanceOf(t, router, seller, fire); b.Available.String() != "1000" {
		t.Errorf("purged ad not refunded: %+v", b)
	}

	expect(t, do(t, router, "POST", "/api/v1/admin/unpause", owner, nil), http.StatusOK)
	expect(t, sellAd(t, router, "100", "10"), http.StatusCreated)
}

func TestAdminDeposit_RejectsUnknownAsset(t *testing.T) {
	_, _, router := newTestEnv(t)
	w := do(t, router, "POST", "/api/v1/admin/deposit", owner, map[string]string{
		"account": seller, "asset": "0x0000000000000000000000000000000000000bad", "amount": "1",
	})
	expect(t, w, http.StatusBadRequest)

	w = do(t, router, "POST", "/api/v1/admin/deposit", seller, map[string]string{
		"account": seller, "asset": fire, "amount": "1",
	})
	expect(t, w, http.StatusForbidden)
}

// --- Token, fees and rewards ---

func TestTransfer_ChargesFees(t *testing.T) {
	_, _, router := newTestEnv(t)
	deposit(t, router, seller, fire, "10000")

	w := do(t, router, "GET", "/api/v1/fees/breakdown?sender="+seller+"&amount=10000", "", nil)
	expect(t, w, http.StatusOK)
	var preview fees.Breakdown
	decodeBody(t, w, &preview)
	if preview.Net.String() != "9800" || preview.Dev.String() != "100" {
		t.Fatalf("unexpected preview %+v", preview)
	}

	w = do(t, router, "POST", "/api/v1/transfers", seller, map[string]string{"to": buyer, "amount": "10000"})
	expect(t, w, http.StatusOK)
	var receipt token.Receipt
	decodeBody(t, w, &receipt)
	if receipt.Breakdown != preview {
		t.Errorf("receipt %+v differs from preview %+v", receipt.Breakdown, preview)
	}
	if b := balanceOf(t, router, buyer, fire); b.Available.String() != "9800" {
		t.Errorf("buyer FIRE = %s, want 9800", b.Available)
	}

	w = do(t, router, "GET", "/api/v1/rewards", "", nil)
	expect(t, w, http.StatusOK)
	var rw api.RewardsResponse
	decodeBody(t, w, &rw)
	if rw.Treasury.AccumulatedFees.String() != "50" {
		t.Errorf("queued holder fees = %s, want 50", rw.Treasury.AccumulatedFees)
	}
}

func TestDepositAndClaimDividends(t *testing.T) {
	_, _, router := newTestEnv(t)
	deposit(t, router, seller, fire, "300")
	deposit(t, router, buyer, fire, "100")
	deposit(t, router, carol, usdt, "400")

	expect(t, do(t, router, "POST", "/api/v1/rewards/deposit", carol, map[string]string{"amount": "400"}), http.StatusOK)

	w := do(t, router, "GET", "/api/v1/rewards/"+seller, "", nil)
	expect(t, w, http.StatusOK)
	var hv rewards.HolderView
	decodeBody(t, w, &hv)
	if hv.Unpaid.String() != "300" || hv.Shares.String() != "300" {
		t.Fatalf("unexpected holder view %+v", hv)
	}

	w = do(t, router, "POST", "/api/v1/rewards/claim", seller, nil)
	expect(t, w, http.StatusOK)
	var claim api.ClaimResponse
	decodeBody(t, w, &claim)
	if claim.Amount.String() != "300" {
		t.Errorf("claimed %s, want 300", claim.Amount)
	}
	expect(t, do(t, router, "POST", "/api/v1/rewards/claim", seller, nil), http.StatusConflict)

	if b := balanceOf(t, router, seller, usdt); b.Available.String() != "300" {
		t.Errorf("seller USDT = %s, want 300", b.Available)
	}
}

func TestExclusions(t *testing.T) {
	_, _, router := newTestEnv(t)
	deposit(t, router, seller, fire, "100")

	excluded := true
	w := do(t, router, "PUT", "/api/v1/admin/exclusions/"+seller, owner, api.ExclusionRequest{Rewards: &excluded})
	expect(t, w, http.StatusOK)
	var flags model.AccountFlags
	decodeBody(t, w, &flags)
	if !flags.ExcludedFromRewards || flags.ExcludedFromDevFees {
		t.Fatalf("unexpected flags %+v", flags)
	}

	w = do(t, router, "GET", "/api/v1/rewards/"+seller, "", nil)
	expect(t, w, http.StatusOK)
	var hv rewards.HolderView
	decodeBody(t, w, &hv)
	if !hv.Shares.IsZero() {
		t.Errorf("excluded holder keeps %s shares", hv.Shares)
	}

	expect(t, do(t, router, "PUT", "/api/v1/admin/exclusions/"+seller, seller, api.ExclusionRequest{Rewards: &excluded}), http.StatusForbidden)
}

func TestRatesAndQuote(t *testing.T) {
	_, _, router := newTestEnv(t)
	expect(t, do(t, router, "GET", "/api/v1/rates/"+fire+"/"+usdt, "", nil), http.StatusNotFound)

	body := map[string]any{"base": fire, "quote": usdt, "rate": "25", "rate_decimals": 1}
	expect(t, do(t, router, "PUT", "/api/v1/admin/rates", seller, body), http.StatusForbidden)
	expect(t, do(t, router, "PUT", "/api/v1/admin/rates", owner, body), http.StatusOK)

	w := do(t, router, "GET", "/api/v1/rates/"+fire+"/"+usdt, "", nil)
	expect(t, w, http.StatusOK)
	var snap model.RateSnapshot
	decodeBody(t, w, &snap)
	if snap.Rate.String() != "25" || snap.RateDecimals != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	w = do(t, router, "GET", "/api/v1/quote?from="+usdt+"&to="+fire+"&amount=10", "", nil)
	expect(t, w, http.StatusOK)
	var q api.QuoteResponse
	decodeBody(t, w, &q)
	if q.AmountOut.String() != "25" {
		t.Errorf("10 USDT quoted as %s FIRE, want 25", q.AmountOut)
	}
}

// --- Events ---

func TestListEvents_Pages(t *testing.T) {
	_, _, router := newTestEnv(t)
	deposit(t, router, seller, fire, "1000")
	expect(t, sellAd(t, router, "100", "10"), http.StatusCreated)
	expect(t, do(t, router, "POST", "/api/v1/ads/1/cancel", seller, nil), http.StatusOK)

	w := do(t, router, "GET", "/api/v1/events?limit=2", "", nil)
	expect(t, w, http.StatusOK)
	var page []model.Event
	decodeBody(t, w, &page)
	if len(page) != 2 || page[0].Type != model.EventFundsDeposited || page[1].Type != model.EventAdCreated {
		t.Fatalf("unexpected first page %+v", page)
	}

	w = do(t, router, "GET", "/api/v1/events?after=2", "", nil)
	expect(t, w, http.StatusOK)
	decodeBody(t, w, &page)
	if len(page) != 1 || page[0].Type != model.EventAdCancelled || page[0].Seq != 3 {
		t.Fatalf("unexpected second page %+v", page)
	}

	expect(t, do(t, router, "GET", "/api/v1/events?limit=-1", "", nil), http.StatusBadRequest)
}

func TestRateLimiter(t *testing.T) {
	limiter := api.NewRateLimiter(0.001, 2)
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "203.0.113.9:5000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.1:5000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("other client limited: %d", w.Code)
	}
}
