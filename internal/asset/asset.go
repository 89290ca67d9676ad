// Package asset holds the published per-asset precision table and the
// conversion between raw integer amounts and human-readable units.
package asset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/firemarket/escrow-engine/internal/address"
	"github.com/firemarket/escrow-engine/internal/fixed"
)

var (
	ErrUnknown   = errors.New("asset: unknown asset")
	ErrPrecision = errors.New("asset: value has more fractional digits than the asset allows")
)

// Asset is one entry of the registry.
type Asset struct {
	ID       string `json:"id" yaml:"id"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Decimals int32  `json:"decimals" yaml:"decimals"`
}

// Registry is an immutable lookup of known assets by checksummed address.
type Registry struct {
	byID map[string]Asset
}

// NewRegistry validates and indexes the given assets.
func NewRegistry(assets []Asset) (*Registry, error) {
	r := &Registry{byID: make(map[string]Asset, len(assets))}
	for _, a := range assets {
		id, err := address.Parse(a.ID)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", a.Symbol, err)
		}
		if address.IsOffChain(id) {
			return nil, fmt.Errorf("asset %s: zero address is reserved for off-chain payment", a.Symbol)
		}
		if a.Decimals < 0 || a.Decimals > 36 {
			return nil, fmt.Errorf("asset %s: decimals %d out of range", a.Symbol, a.Decimals)
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("asset %s: duplicate id %s", a.Symbol, id)
		}
		a.ID = id
		r.byID[id] = a
	}
	return r, nil
}

// Get returns the asset with the given id.
func (r *Registry) Get(id string) (Asset, error) {
	a, ok := r.byID[id]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	return a, nil
}

// Known reports whether id is registered.
func (r *Registry) Known(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// All returns the registry sorted by symbol.
func (r *Registry) All() []Asset {
	out := make([]Asset, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// FormatUnits renders a raw amount with the asset's decimals, e.g.
// 1500000 with 6 decimals -> "1.500000".
func FormatUnits(a fixed.Amount, decimals int32) string {
	return decimal.NewFromBigInt(a.Big(), -decimals).StringFixed(decimals)
}

// ParseUnits converts a human-readable value into raw units. It rejects
// negative values and values finer than the asset precision.
func ParseUnits(s string, decimals int32) (fixed.Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fixed.Amount{}, fmt.Errorf("asset: parse %q: %w", s, err)
	}
	if d.IsNegative() {
		return fixed.Amount{}, fmt.Errorf("asset: negative value %q", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return fixed.Amount{}, fmt.Errorf("%w: %q", ErrPrecision, s)
	}
	return fixed.FromBig(scaled.BigInt())
}
