package units

import (
	stderrors "errors"
	"math/big"
	"testing"

	werrors "walletkit/core/errors"
)

func TestToUnitsExact(t *testing.T) {
	cases := []struct {
		amount   string
		decimals int
		want     string
	}{
		{"1", 9, "1000000000"},
		{"0.000000001", 9, "1"},
		{"12.5", 6, "12500000"},
		{".5", 2, "50"},
		{"7.", 0, "7"},
		{"0", 18, "0"},
		{"123456789.123456789123456789", 18, "123456789123456789123456789"},
	}
	for _, tc := range cases {
		got, err := ToUnits(tc.amount, tc.decimals)
		if err != nil {
			t.Fatalf("ToUnits(%q, %d): %v", tc.amount, tc.decimals, err)
		}
		if got.String() != tc.want {
			t.Fatalf("ToUnits(%q, %d) = %s, want %s", tc.amount, tc.decimals, got, tc.want)
		}
	}
}

func TestToUnitsRejectsFractionOverflow(t *testing.T) {
	_, err := ToUnits("1.0000001", 6)
	if !stderrors.Is(err, werrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	rounded, err := ToUnitsRounded("1.0000005", 6)
	if err != nil {
		t.Fatalf("rounded: %v", err)
	}
	if rounded.String() != "1000001" {
		t.Fatalf("unexpected rounding %s", rounded)
	}
	down, err := ToUnitsRounded("1.0000004", 6)
	if err != nil {
		t.Fatalf("rounded: %v", err)
	}
	if down.String() != "1000000" {
		t.Fatalf("unexpected rounding %s", down)
	}
}

func TestToUnitsRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "-1", "+2", "1e9", "1.2.3", "abc", ".", " 1 2"} {
		if _, err := ToUnits(in, 9); err == nil {
			t.Fatalf("expected %q to be rejected", in)
		}
	}
	if _, err := ToUnits("1", 19); err == nil {
		t.Fatalf("expected decimals above 18 to be rejected")
	}
}

func TestFromUnitsRoundTrip(t *testing.T) {
	amounts := []string{"0", "1", "0.1", "00012.3400", "999999999999.999999999", "0.000000000000000001", "5.05"}
	for decimals := 0; decimals <= MaxDecimals; decimals++ {
		for _, amount := range amounts {
			units, err := ToUnits(amount, decimals)
			if err != nil {
				continue
			}
			want, err := Normalize(amount)
			if err != nil {
				t.Fatalf("normalize %q: %v", amount, err)
			}
			if got := FromUnits(units, decimals); got != want {
				t.Fatalf("round trip %q at %d decimals: got %q want %q", amount, decimals, got, want)
			}
		}
	}
}

func TestFromUnitsNegative(t *testing.T) {
	if got := FromUnits(big.NewInt(-1500), 3); got != "-1.5" {
		t.Fatalf("unexpected rendering %q", got)
	}
	if got := FromUnits(nil, 9); got != "0" {
		t.Fatalf("unexpected nil rendering %q", got)
	}
}
