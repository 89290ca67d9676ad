package address

import (
	"errors"
	"testing"
)

func TestParse_Checksums(t *testing.T) {
	got, err := Parse("0x52908400098527886e0f7030069857d2e4169ee7")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != "0x52908400098527886E0F7030069857D2E4169EE7" {
		t.Errorf("unexpected checksum form %s", got)
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, bad := range []string{"", "0x123", "52908400098527886e0f7030069857d2e4169ee7", "0xzz908400098527886e0f7030069857d2e4169ee7"} {
		if _, err := Parse(bad); !errors.Is(err, ErrInvalid) {
			t.Errorf("Parse(%q) = %v, want ErrInvalid", bad, err)
		}
	}
}

func TestSentinels(t *testing.T) {
	if !IsOffChain("0x0000000000000000000000000000000000000000") {
		t.Error("zero address must be the off-chain sentinel")
	}
	if IsOffChain(Native) {
		t.Error("native coin is on-engine")
	}
	if Reserved(1) == Reserved(2) {
		t.Error("reserved addresses must differ")
	}
	if !Equal(Native, "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee") {
		t.Error("Equal should ignore case")
	}
}
