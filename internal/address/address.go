// Package address normalises account and asset identifiers. Every identity
// in the engine is a 20-byte hex address stored in EIP-55 checksum form.
package address

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalid is returned for strings that are not 0x-prefixed 20-byte hex.
var ErrInvalid = errors.New("address: invalid hex address")

var (
	// OffChain marks an ad whose payment settles outside the engine.
	OffChain = common.Address{}.Hex()

	// Native is the identifier used for the chain's native coin.
	Native = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE").Hex()
)

// Parse validates s and returns its checksummed form.
func Parse(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return common.HexToAddress(s).Hex(), nil
}

// MustParse is Parse that panics.
func MustParse(s string) string {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsOffChain reports whether a is the off-chain payment sentinel.
func IsOffChain(a string) bool {
	return a == OffChain
}

// Reserved derives a deterministic system address from a small tag, e.g.
// Reserved(0xE5C0) for the escrow account.
func Reserved(tag int64) string {
	return common.BigToAddress(big.NewInt(tag)).Hex()
}

// Equal compares two addresses case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}
