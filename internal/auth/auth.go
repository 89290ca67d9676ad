// Package auth implements wallet login: the client signs a one-time nonce
// with its wallet (EIP-191 personal_sign) and receives an HS256 JWT whose
// subject is the checksummed address.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/firemarket/escrow-engine/internal/address"
	"github.com/firemarket/escrow-engine/internal/apperr"
)

// MessagePrefix precedes the nonce in the signed login message.
const MessagePrefix = "Sign this nonce to authenticate: "

// Config controls token issue and validation.
type Config struct {
	Secret    string
	Issuer    string
	TokenTTL  time.Duration
	NonceTTL  time.Duration
	ClockSkew time.Duration
	// DevHeader trusts X-Account when no secret is configured. Never
	// enable in production.
	DevHeader bool
}

// Service issues nonces and tokens.
type Service struct {
	cfg    Config
	secret []byte
	nonces NonceStore
	now    func() time.Time
}

// New returns a Service.
func New(cfg Config, nonces NonceStore) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = 5 * time.Minute
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "escrow-engine"
	}
	return &Service{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.Secret)), nonces: nonces, now: time.Now}
}

// Enabled reports whether bearer tokens are required.
func (s *Service) Enabled() bool { return len(s.secret) > 0 }

// Message is the text the wallet signs.
func Message(nonce string) string { return MessagePrefix + nonce }

// IssueNonce creates a fresh nonce for addr and returns it with the
// message to sign.
func (s *Service) IssueNonce(ctx context.Context, addr string) (nonce, message string, err error) {
	addr, err = address.Parse(addr)
	if err != nil {
		return "", "", apperr.New(apperr.InvalidParameters, "%v", err)
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate nonce: %w", err)
	}
	nonce = hex.EncodeToString(buf)
	if err := s.nonces.Put(ctx, addr, nonce, s.cfg.NonceTTL); err != nil {
		return "", "", fmt.Errorf("store nonce: %w", err)
	}
	return nonce, Message(nonce), nil
}

// Token is an issued bearer token.
type Token struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Verify checks sig over the pending nonce of addr, consumes the nonce and
// issues a token.
func (s *Service) Verify(ctx context.Context, addr, sig string) (*Token, error) {
	addr, err := address.Parse(addr)
	if err != nil {
		return nil, apperr.New(apperr.InvalidParameters, "%v", err)
	}
	nonce, err := s.nonces.Take(ctx, addr)
	if errors.Is(err, ErrNoNonce) {
		return nil, apperr.New(apperr.Unauthorized, "no pending nonce for %s", addr)
	}
	if err != nil {
		return nil, err
	}
	signer, err := RecoverSigner(Message(nonce), sig)
	if err != nil {
		return nil, apperr.New(apperr.Unauthorized, "%v", err)
	}
	if signer != addr {
		return nil, apperr.New(apperr.Unauthorized, "signature does not match %s", addr)
	}
	return s.Issue(addr)
}

// Issue signs a token for addr without a wallet challenge.
func (s *Service) Issue(addr string) (*Token, error) {
	if !s.Enabled() {
		return nil, errors.New("auth secret not configured")
	}
	now := s.now()
	exp := now.Add(s.cfg.TokenTTL)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    s.cfg.Issuer,
		Subject:   addr,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{Token: signed, Address: addr, ExpiresAt: exp}, nil
}

// RecoverSigner returns the checksummed address that produced an EIP-191
// personal signature of message.
func RecoverSigner(message, sigHex string) (string, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// ParseToken validates a bearer token and returns its subject address.
func (s *Service) ParseToken(tokenString string) (string, error) {
	if !s.Enabled() {
		return "", errors.New("auth secret not configured")
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithLeeway(s.cfg.ClockSkew), jwt.WithIssuer(s.cfg.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("token invalid")
	}
	return address.Parse(claims.Subject)
}

type contextKey string

const callerKey contextKey = "escrow.caller"

// WithCaller returns ctx carrying addr as the authenticated caller.
func WithCaller(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, callerKey, addr)
}

// Caller returns the authenticated caller, if any.
func Caller(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(callerKey).(string)
	return v, ok && v != ""
}

// Middleware resolves the caller from the bearer token, or from X-Account
// in dev mode, and rejects anonymous requests.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var caller string
		switch {
		case s.Enabled():
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				writeUnauthorized(w, "missing bearer token")
				return
			}
			addr, err := s.ParseToken(tokenString)
			if err != nil {
				slog.Debug("token validation failed", "err", err)
				writeUnauthorized(w, "invalid token")
				return
			}
			caller = addr
		case s.cfg.DevHeader:
			addr, err := address.Parse(r.Header.Get("X-Account"))
			if err != nil {
				writeUnauthorized(w, "missing or invalid X-Account")
				return
			}
			caller = addr
		default:
			writeUnauthorized(w, "authentication not configured")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
