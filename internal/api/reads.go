package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/firemarket/escrow-engine/internal/apperr"
	"github.com/firemarket/escrow-engine/internal/asset"
	"github.com/firemarket/escrow-engine/internal/auth"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/store"
)

const maxEventPage = 500

// NonceRequest is the JSON body for POST /auth/nonce.
type NonceRequest struct {
	Address string `json:"address"`
}

// NonceResponse carries the message the wallet must sign.
type NonceResponse struct {
	Nonce   string `json:"nonce"`
	Message string `json:"message"`
}

// VerifyRequest is the JSON body for POST /auth/verify.
type VerifyRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// IssueNonce handles POST /api/v1/auth/nonce
func (s *Service) IssueNonce(w http.ResponseWriter, r *http.Request) {
	var req NonceRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	nonce, msg, err := s.Auth.IssueNonce(r.Context(), req.Address)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NonceResponse{Nonce: nonce, Message: msg})
}

// VerifySignature handles POST /api/v1/auth/verify
func (s *Service) VerifySignature(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	tok, err := s.Auth.Verify(r.Context(), req.Address, req.Signature)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

// ListAssets handles GET /api/v1/assets
func (s *Service) ListAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Assets.All())
}

// ListEvents handles GET /api/v1/events?after=&limit=
// Pages the audit log in sequence order.
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after uint64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, "after must be a sequence number", http.StatusBadRequest)
			return
		}
		after = n
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be positive", http.StatusBadRequest)
			return
		}
		limit = min(n, maxEventPage)
	}
	s.view(w, r, func(tx store.Tx) (any, error) {
		evs, err := tx.ListEvents(after, limit)
		if evs == nil {
			evs = []model.Event{}
		}
		return evs, err
	})
}

// GetAudit handles GET /api/v1/audit
// Returns the latest solvency report, running a pass if none exists yet.
func (s *Service) GetAudit(w http.ResponseWriter, r *http.Request) {
	if s.Auditor == nil {
		writeError(w, "audit not configured", http.StatusNotFound)
		return
	}
	rep := s.Auditor.Last()
	if rep == nil {
		var err error
		if rep, err = s.Auditor.Run(r.Context()); err != nil {
			writeFailure(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, rep)
}

func callerOf(r *http.Request) string {
	c, _ := auth.Caller(r.Context())
	return c
}

func chiParam(r *http.Request, name string) string { return chi.URLParam(r, name) }

// knownAsset parses raw and requires it to be registered.
func (s *Service) knownAsset(raw string) (string, error) {
	id, err := addrParam(raw, "asset")
	if err != nil {
		return "", err
	}
	if !s.Assets.Known(id) {
		return "", apperr.New(apperr.InvalidParameters, "unknown asset %s", id)
	}
	return id, nil
}

// units renders v in the asset's display precision, or "" for unknown
// assets.
func (s *Service) units(id string, v fixed.Amount) string {
	a, err := s.Assets.Get(id)
	if err != nil {
		return ""
	}
	return asset.FormatUnits(v, a.Decimals)
}
