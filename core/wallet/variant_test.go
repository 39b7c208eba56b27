package wallet

import "testing"

func TestMaxMessages(t *testing.T) {
	want := map[Variant]int{StandardV3: 4, StandardV4: 4, StandardV5: 255, HighThroughput: 254}
	for v, n := range want {
		if got := v.MaxMessages(); got != n {
			t.Fatalf("%s: got %d want %d", v, got, n)
		}
	}
	if Variant(0).MaxMessages() != 0 {
		t.Fatalf("unknown variant must have zero capacity")
	}
}

func TestCompositeIDRequirement(t *testing.T) {
	for _, v := range Variants {
		if v.NeedsCompositeID() != (v == HighThroughput) {
			t.Fatalf("%s: unexpected composite id requirement", v)
		}
	}
}

func TestDefaultSubwallet(t *testing.T) {
	if got := StandardV4.DefaultSubwallet(0); got != 698983191 {
		t.Fatalf("basechain subwallet %d", got)
	}
	if got := StandardV3.DefaultSubwallet(-1); got != 698983190 {
		t.Fatalf("masterchain subwallet %d", got)
	}
	if got := HighThroughput.DefaultSubwallet(0); got != 0x10ad {
		t.Fatalf("highload subwallet %#x", got)
	}
}

func TestWalletIDMainnetBasechain(t *testing.T) {
	if got := WalletID(false, 0, 0); got != 0x7FFFFF11 {
		t.Fatalf("v5 mainnet wallet id %#x", got)
	}
}

func TestParseVariant(t *testing.T) {
	for _, v := range Variants {
		back, err := ParseVariant(v.String())
		if err != nil || back != v {
			t.Fatalf("round trip %s: %v %v", v, back, err)
		}
	}
	if _, err := ParseVariant("v2"); err == nil {
		t.Fatalf("expected unknown variant error")
	}
}
