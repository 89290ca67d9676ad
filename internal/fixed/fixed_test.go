package fixed

import (
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	a, err := Parse("123456789012345678901234567890")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a.String() != "123456789012345678901234567890" {
		t.Errorf("round trip got %s", a)
	}

	for _, bad := range []string{"", "-1", "+1", "1.5", "1e18", " 1", "0x10", strings.Repeat("9", 79)} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q) should fail", bad)
		}
	}

	// 2^256 does not fit.
	if _, err := Parse("115792089237316195423570985008687907853269984665640564039457584007913129639936"); err == nil {
		t.Error("2^256 should overflow")
	}
}

func TestCheckedArithmetic(t *testing.T) {
	if _, err := New(1).Sub(New(2)); !errors.Is(err, ErrUnderflow) {
		t.Errorf("expected underflow, got %v", err)
	}

	maxVal := MustParse("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	if _, err := maxVal.Add(New(1)); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected overflow on add, got %v", err)
	}
	if _, err := maxVal.Mul(New(2)); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected overflow on mul, got %v", err)
	}

	sum, err := New(40).Add(New(2))
	if err != nil || !sum.Eq(New(42)) {
		t.Errorf("40+2 = %s, %v", sum, err)
	}
}

func TestMulDiv(t *testing.T) {
	// 40 units at price 2.0 (scaled 1e18) costs 80.
	price := MustParse("2000000000000000000")
	got, err := MulDiv(New(40), price, PricePrecision)
	if err != nil {
		t.Fatalf("muldiv: %v", err)
	}
	if !got.Eq(New(80)) {
		t.Errorf("expected 80, got %s", got)
	}

	// Floors.
	got, _ = MulDiv(New(10), New(1), New(3))
	if !got.Eq(New(3)) {
		t.Errorf("expected floor 3, got %s", got)
	}

	// Intermediate wider than 256 bits still resolves.
	big36 := Pow10(36)
	huge := MustParse("100000000000000000000000000000000000000000000000000") // 1e50
	got, err = MulDiv(huge, big36, big36)
	if err != nil || !got.Eq(huge) {
		t.Errorf("expected 1e50, got %s (%v)", got, err)
	}

	if _, err := MulDiv(New(1), New(1), Zero); !errors.Is(err, ErrDivByZero) {
		t.Errorf("expected div by zero, got %v", err)
	}
}

func TestMulDivUp(t *testing.T) {
	got, err := MulDivUp(New(10), New(1), New(3))
	if err != nil || !got.Eq(New(4)) {
		t.Errorf("expected ceil 4, got %s (%v)", got, err)
	}
	got, _ = MulDivUp(New(9), New(1), New(3))
	if !got.Eq(New(3)) {
		t.Errorf("exact quotient should not round, got %s", got)
	}
	got, _ = MulDivUp(Zero, New(7), New(3))
	if !got.IsZero() {
		t.Errorf("expected 0, got %s", got)
	}
	if _, err := MulDivUp(New(1), New(1), Zero); !errors.Is(err, ErrDivByZero) {
		t.Errorf("expected div by zero, got %v", err)
	}
}

func TestFromBig(t *testing.T) {
	if _, err := FromBig(big.NewInt(-1)); err == nil {
		t.Error("negative should fail")
	}
	a, err := FromBig(big.NewInt(99))
	if err != nil || !a.Eq(New(99)) {
		t.Errorf("got %s, %v", a, err)
	}
	if a.Big().Int64() != 99 {
		t.Errorf("Big() = %s", a.Big())
	}
}

func TestJSONIsQuotedDecimal(t *testing.T) {
	type body struct {
		Amount Amount `json:"amount"`
	}
	out, err := json.Marshal(body{Amount: MustParse("1000000000000000000")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"amount":"1000000000000000000"}` {
		t.Errorf("unexpected json %s", out)
	}

	var in body
	if err := json.Unmarshal([]byte(`{"amount":1.5}`), &in); err == nil {
		t.Error("numeric json should be rejected")
	}
	if err := json.Unmarshal([]byte(`{"amount":"77"}`), &in); err != nil || !in.Amount.Eq(New(77)) {
		t.Errorf("got %s, %v", in.Amount, err)
	}
}
