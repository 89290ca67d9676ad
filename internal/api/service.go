// Package api provides the HTTP handlers for the escrow market, the reward
// distributor and the fee-bearing token.
//
// Every mutating handler runs its engine calls in one store transaction,
// so balances, locked totals, events and idempotency records commit
// together. Amounts travel as decimal strings of raw units.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/firemarket/escrow-engine/internal/address"
	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/asset"
	"github.com/firemarket/escrow-engine/internal/audit"
	"github.com/firemarket/escrow-engine/internal/auth"
	"github.com/firemarket/escrow-engine/internal/escrow"
	"github.com/firemarket/escrow-engine/internal/events"
	"github.com/firemarket/escrow-engine/internal/ledger"
	"github.com/firemarket/escrow-engine/internal/metrics"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/rates"
	"github.com/firemarket/escrow-engine/internal/rewards"
	"github.com/firemarket/escrow-engine/internal/store"
	"github.com/firemarket/escrow-engine/internal/telemetry"
	"github.com/firemarket/escrow-engine/internal/token"
)

// ProtocolVersion is the only accepted X-Protocol-Version value.
const ProtocolVersion = "1"

// Deps are the components a Service serves. Auditor and Hub are optional.
type Deps struct {
	Store   store.Store
	Assets  *asset.Registry
	Ledger  *ledger.Ledger
	Market  *escrow.Market
	Rewards *rewards.Distributor
	Token   *token.Token
	Rates   *rates.Book
	Auth    *auth.Service
	Auditor *audit.Auditor
	Hub     *events.Hub
	Limiter *RateLimiter
	Owner   string
}

// Service handles HTTP requests against the engines.
type Service struct {
	Deps
	now func() time.Time
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	return &Service{Deps: d, now: func() time.Time { return time.Now().UTC() }}
}

// Mount registers the /api/v1 routes on r.
func (s *Service) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireProtocolVersion)
		if s.Limiter != nil {
			r.Use(s.Limiter.Middleware)
		}
		if s.Hub != nil {
			r.Get("/ws", s.Hub.HandleWS)
		}

		r.Post("/auth/nonce", s.IssueNonce)
		r.Post("/auth/verify", s.VerifySignature)

		r.Get("/assets", s.ListAssets)
		r.Get("/assets/{asset}/locked", s.GetLocked)
		r.Get("/ads", s.ListAds)
		r.Get("/ads/{adID}", s.GetAd)
		r.Get("/orders/{orderID}", s.GetOrder)
		r.Get("/rewards", s.GetRewards)
		r.Get("/rewards/{holder}", s.GetHolder)
		r.Get("/fees", s.GetFees)
		r.Get("/fees/breakdown", s.GetFeeBreakdown)
		r.Get("/rates/{base}/{quote}", s.GetRate)
		r.Get("/quote", s.GetQuote)
		r.Get("/events", s.ListEvents)
		r.Get("/audit", s.GetAudit)

		r.Group(func(r chi.Router) {
			r.Use(s.Auth.Middleware)

			r.Post("/ads", s.CreateAd)
			r.Post("/ads/{adID}/cancel", s.CancelAd)
			r.Post("/ads/{adID}/orders", s.PlaceOrder)
			r.Get("/orders", s.ListOrders)
			r.Post("/orders/{orderID}/paid", s.MarkPaid)
			r.Post("/orders/{orderID}/release", s.Release)
			r.Post("/orders/{orderID}/dispute", s.Dispute)
			r.Post("/orders/{orderID}/resolve", s.ResolveDispute)

			r.Get("/balances/me", s.MyBalances)
			r.Post("/balances/withdraw", s.Withdraw)
			r.Post("/transfers", s.Transfer)
			r.Post("/rewards/claim", s.ClaimDividend)
			r.Post("/rewards/deposit", s.DepositDividends)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/pause", s.Pause)
				r.Post("/unpause", s.Unpause)
				r.Post("/rescue", s.Rescue)
				r.Post("/deposit", s.AdminDeposit)
				r.Put("/fees", s.SetFees)
				r.Put("/exclusions/{account}", s.SetExclusions)
				r.Put("/rates", s.SetRate)
				r.Post("/trading", s.EnableTrading)
				r.Post("/treasury/fund", s.FundTreasury)
				r.Post("/treasury/swap", s.SwapBack)
			})
		})
	})
}

// mutate runs fn in one transaction. With an Idempotency-Key header the
// response is stored in that transaction and replayed for a repeated key.
// Keys are scoped to the caller; reusing one for another operation is a
// conflict.
func (s *Service) mutate(w http.ResponseWriter, r *http.Request, op string, status int, fn func(tx store.Tx, caller string) (any, error)) {
	started := time.Now()
	caller, _ := auth.Caller(r.Context())
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	ctx, span := telemetry.Tracer().Start(r.Context(), "escrow."+op)
	defer span.End()
	span.SetAttributes(attribute.String("escrow.caller", caller))

	var body []byte
	var replay *model.IdempotencyRecord
	err := s.Store.Update(ctx, func(tx store.Tx) error {
		replay = nil
		if key != "" {
			rec, err := tx.GetIdempotency(idempotencyKey(caller, key))
			switch {
			case err == nil:
				if rec.Operation != op || rec.Caller != caller {
					return apperr.New(apperr.Conflict, "idempotency key %q was used for %s", key, rec.Operation)
				}
				replay = rec
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}
		v, err := fn(tx, caller)
		if err != nil {
			return err
		}
		if body, err = json.Marshal(v); err != nil {
			return err
		}
		if key == "" {
			return nil
		}
		return tx.PutIdempotency(model.IdempotencyRecord{
			Key:       idempotencyKey(caller, key),
			Operation: op,
			Caller:    caller,
			Status:    status,
			Response:  body,
			CreatedAt: s.now(),
		})
	})

	switch {
	case err != nil:
		outcome := string(apperr.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		metrics.ObserveOperation(op, outcome, started)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		slog.Info("operation rejected", "op", op, "caller", caller, "err", err, "request_id", middleware.GetReqID(ctx))
		writeFailure(w, err)
	case replay != nil:
		metrics.ObserveOperation(op, "replay", started)
		w.Header().Set("Idempotent-Replayed", "true")
		writeRaw(w, replay.Status, replay.Response)
	default:
		metrics.ObserveOperation(op, "ok", started)
		slog.Info("operation committed", "op", op, "caller", caller, "request_id", middleware.GetReqID(ctx))
		writeRaw(w, status, body)
	}
}

func idempotencyKey(caller, key string) string { return caller + ":" + key }

// view runs fn against a read-only snapshot and writes its result.
func (s *Service) view(w http.ResponseWriter, r *http.Request, fn func(tx store.Tx) (any, error)) {
	var v any
	err := s.Store.View(r.Context(), func(tx store.Tx) error {
		var err error
		v, err = fn(tx)
		return err
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// --- request helpers ---

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.New(apperr.InvalidParameters, "invalid request body: %v", err)
	}
	return nil
}

// decodeOptional is decode for endpoints whose body may be empty.
func decodeOptional(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.New(apperr.InvalidParameters, "invalid request body: %v", err)
	}
	return nil
}

func idParam(r *http.Request, name string) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.New(apperr.InvalidParameters, "invalid %s", name)
	}
	return id, nil
}

func addrParam(raw, name string) (string, error) {
	a, err := address.Parse(raw)
	if err != nil {
		return "", apperr.New(apperr.InvalidParameters, "%s: %v", name, err)
	}
	return a, nil
}

func (s *Service) requireOwner(caller string) error {
	if caller != s.Owner {
		return apperr.New(apperr.Unauthorized, "%s is not the owner", caller)
	}
	return nil
}

// --- response helpers ---

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, errorBody{Error: message})
}

// writeFailure maps err onto a status. Internal errors are logged and
// hidden from the client.
func writeFailure(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: string(apperr.KindOf(err))})
}
