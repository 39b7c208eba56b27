// Package wallet describes the closed set of account contract variants and
// their envelope capabilities.
package wallet

import (
	"fmt"
	"strings"
)

// Variant identifies an account contract template.
type Variant int

const (
	StandardV3 Variant = iota + 1
	StandardV4
	StandardV5
	HighThroughput
)

// Variants lists every supported variant.
var Variants = []Variant{StandardV3, StandardV4, StandardV5, HighThroughput}

const (
	// subwalletBase is the conventional default subwallet for v3/v4.
	subwalletBase uint32 = 698983191
	// highloadSubwallet is the conventional default for high-throughput accounts.
	highloadSubwallet uint32 = 0x10ad
	// mainnetGlobalID is the network id mixed into v5 wallet ids.
	mainnetGlobalID int32 = -239
	testnetGlobalID int32 = -3
)

func (v Variant) String() string {
	switch v {
	case StandardV3:
		return "v3"
	case StandardV4:
		return "v4"
	case StandardV5:
		return "v5"
	case HighThroughput:
		return "highload_v3"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// Valid reports whether v is one of the known variants.
func (v Variant) Valid() bool {
	return v >= StandardV3 && v <= HighThroughput
}

// MaxMessages is the envelope capacity.
func (v Variant) MaxMessages() int {
	switch v {
	case StandardV3, StandardV4:
		return 4
	case StandardV5:
		return 255
	case HighThroughput:
		return 254
	default:
		return 0
	}
}

// NeedsCompositeID reports whether envelopes carry a composite id instead of
// a sequence number.
func (v Variant) NeedsCompositeID() bool { return v == HighThroughput }

// Standard reports whether v is one of the seqno based variants.
func (v Variant) Standard() bool { return v.Valid() && v != HighThroughput }

// DefaultSubwallet returns the conventional subwallet id for the workchain.
func (v Variant) DefaultSubwallet(workchain int8) uint32 {
	if v == HighThroughput {
		return highloadSubwallet
	}
	return subwalletBase + uint32(int32(workchain))
}

// WalletID computes the v5 wallet id from the network, workchain and subwallet.
func WalletID(testnet bool, workchain int8, subwallet uint32) uint32 {
	global := mainnetGlobalID
	if testnet {
		global = testnetGlobalID
	}
	const version = 0
	context := uint32(1)<<31 |
		(uint32(uint8(workchain)) << 23) |
		(uint32(version) << 15) |
		(subwallet & 0x7fff)
	return uint32(global) ^ context
}

// ParseVariant accepts the names produced by String plus common aliases.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v3", "v3r2", "wallet_v3", "standard_v3":
		return StandardV3, nil
	case "v4", "v4r2", "wallet_v4", "standard_v4":
		return StandardV4, nil
	case "v5", "v5r1", "w5", "wallet_v5", "standard_v5":
		return StandardV5, nil
	case "highload", "highload_v3", "high_throughput":
		return HighThroughput, nil
	default:
		return 0, fmt.Errorf("unknown wallet variant %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v Variant) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("invalid wallet variant %d", int(v))
	}
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Variant) UnmarshalText(text []byte) error {
	parsed, err := ParseVariant(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
