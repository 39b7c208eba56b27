package units

import (
	"fmt"
	"math/big"
	"strings"

	werrors "walletkit/core/errors"
)

// MaxDecimals bounds the supported fixed-point precision.
const MaxDecimals = 18

// NativeDecimals is the precision of the network's native asset.
const NativeDecimals = 9

var ten = big.NewInt(10)

// Pow10 returns 10^n as a fresh integer.
func Pow10(n int) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
}

// ToUnits converts a human decimal amount into integer base units. Inputs with
// more fractional digits than decimals are rejected.
func ToUnits(amount string, decimals int) (*big.Int, error) {
	whole, frac, err := split(amount, decimals)
	if err != nil {
		return nil, err
	}
	if len(frac) > decimals {
		return nil, werrors.Validation("amount %q has more than %d fractional digits", amount, decimals)
	}
	return compose(whole, frac, decimals), nil
}

// ToUnitsRounded behaves like ToUnits but rounds half-up when the fractional
// part exceeds the precision.
func ToUnitsRounded(amount string, decimals int) (*big.Int, error) {
	whole, frac, err := split(amount, decimals)
	if err != nil {
		return nil, err
	}
	if len(frac) <= decimals {
		return compose(whole, frac, decimals), nil
	}
	roundUp := frac[decimals] >= '5'
	out := compose(whole, frac[:decimals], decimals)
	if roundUp {
		out.Add(out, big.NewInt(1))
	}
	return out, nil
}

// FromUnits renders base units as a normalised decimal string (no trailing
// fractional zeros, no dangling point).
func FromUnits(units *big.Int, decimals int) string {
	if units == nil {
		return "0"
	}
	if decimals < 0 || decimals > MaxDecimals {
		decimals = 0
	}
	neg := units.Sign() < 0
	abs := new(big.Int).Abs(units)
	digits := abs.String()
	if decimals > 0 {
		if len(digits) <= decimals {
			digits = strings.Repeat("0", decimals-len(digits)+1) + digits
		}
		cut := len(digits) - decimals
		whole, frac := digits[:cut], strings.TrimRight(digits[cut:], "0")
		digits = whole
		if frac != "" {
			digits = whole + "." + frac
		}
	}
	if neg && digits != "0" {
		return "-" + digits
	}
	return digits
}

// Normalize canonicalises a decimal string the same way FromUnits renders it.
func Normalize(amount string) (string, error) {
	whole, frac, err := split(amount, MaxDecimals)
	if err != nil {
		return "", err
	}
	whole = strings.TrimLeft(whole, "0")
	if whole == "" {
		whole = "0"
	}
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return whole, nil
	}
	return whole + "." + frac, nil
}

// ParseUnits parses an integer base-unit string.
func ParseUnits(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, werrors.Validation("amount required")
	}
	out, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, werrors.Validation("invalid integer amount %q", raw)
	}
	return out, nil
}

func split(amount string, decimals int) (string, string, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return "", "", werrors.Validation("decimals %d outside [0,%d]", decimals, MaxDecimals)
	}
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return "", "", werrors.Validation("amount required")
	}
	if strings.HasPrefix(trimmed, "+") || strings.HasPrefix(trimmed, "-") {
		return "", "", werrors.Validation("amount %q must be unsigned", amount)
	}
	whole, frac, hasPoint := strings.Cut(trimmed, ".")
	if hasPoint && frac == "" && whole == "" {
		return "", "", werrors.Validation("invalid amount %q", amount)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return "", "", werrors.Validation("invalid amount %q", amount)
	}
	if whole == "" {
		whole = "0"
	}
	return whole, frac, nil
}

func compose(whole, frac string, decimals int) *big.Int {
	padded := frac + strings.Repeat("0", decimals-len(frac))
	out, ok := new(big.Int).SetString(whole+padded, 10)
	if !ok {
		panic(fmt.Sprintf("units: compose %q.%q", whole, frac))
	}
	return out
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
