// Package apperr defines the domain error taxonomy shared by the escrow,
// reward and fee engines, and its mapping onto HTTP statuses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain failure.
type Kind string

const (
	InvalidParameters   Kind = "InvalidParameters"
	InsufficientBalance Kind = "InsufficientBalance"
	AdNotActive         Kind = "AdNotActive"
	AmountOutOfRange    Kind = "AmountOutOfRange"
	InvalidState        Kind = "InvalidState"
	Unauthorized        Kind = "Unauthorized"
	NoShares            Kind = "NoShares"
	NothingToClaim      Kind = "NothingToClaim"
	PoolPaused          Kind = "PoolPaused"
	NotFound            Kind = "NotFound"
	Conflict            Kind = "Conflict"
	Overflow            Kind = "Overflow"
)

// Error is a domain error carrying a Kind. Two Errors match under
// errors.Is when their kinds are equal, so callers test against the
// sentinels below.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Msg
}

// Is matches on kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidParameters   = &Error{Kind: InvalidParameters}
	ErrInsufficientBalance = &Error{Kind: InsufficientBalance}
	ErrAdNotActive         = &Error{Kind: AdNotActive}
	ErrAmountOutOfRange    = &Error{Kind: AmountOutOfRange}
	ErrInvalidState        = &Error{Kind: InvalidState}
	ErrUnauthorized        = &Error{Kind: Unauthorized}
	ErrNoShares            = &Error{Kind: NoShares}
	ErrNothingToClaim      = &Error{Kind: NothingToClaim}
	ErrPoolPaused          = &Error{Kind: PoolPaused}
	ErrNotFound            = &Error{Kind: NotFound}
	ErrConflict            = &Error{Kind: Conflict}
	ErrOverflow            = &Error{Kind: Overflow}
)

// New returns an Error of kind k with a formatted message.
func New(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind of err, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

var statusByKind = map[Kind]int{
	InvalidParameters:   http.StatusBadRequest,
	AmountOutOfRange:    http.StatusBadRequest,
	Overflow:            http.StatusBadRequest,
	Unauthorized:        http.StatusForbidden,
	NotFound:            http.StatusNotFound,
	InsufficientBalance: http.StatusConflict,
	AdNotActive:         http.StatusConflict,
	InvalidState:        http.StatusConflict,
	NoShares:            http.StatusConflict,
	NothingToClaim:      http.StatusConflict,
	Conflict:            http.StatusConflict,
	PoolPaused:          http.StatusServiceUnavailable,
}

// HTTPStatus maps err onto a response status. Errors without a Kind are
// internal failures.
func HTTPStatus(err error) int {
	if s, ok := statusByKind[KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}
