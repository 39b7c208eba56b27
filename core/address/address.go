// Package address parses and renders account identifiers in both the raw
// "workchain:hex" form and the 48 character user-friendly form.
package address

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	werrors "walletkit/core/errors"
)

const (
	tagBounceable    byte = 0x11
	tagNonBounceable byte = 0x51
	tagTestnet       byte = 0x80

	friendlyLen = 48
)

var (
	errChecksum = errors.New("checksum mismatch")
	errTag      = errors.New("unknown address tag")
)

// Address is a (workchain, account hash) pair plus the rendering flags carried
// by the friendly form.
type Address struct {
	workchain  int8
	hash       [32]byte
	bounceable bool
	testnet    bool
}

// New constructs a bounceable mainnet address.
func New(workchain int8, hash [32]byte) *Address {
	return &Address{workchain: workchain, hash: hash, bounceable: true}
}

// Parse accepts either representation. Failures are validation errors.
func Parse(s string) (*Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, werrors.InvalidAddress(s, errors.New("empty address"))
	}
	var (
		a   *Address
		err error
	)
	if strings.Contains(s, ":") {
		a, err = parseRaw(s)
	} else {
		a, err = parseFriendly(s)
	}
	if err != nil {
		return nil, werrors.InvalidAddress(s, err)
	}
	return a, nil
}

// MustParse panics on invalid input. Intended for constants and tests.
func MustParse(s string) *Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func parseRaw(s string) (*Address, error) {
	parts := strings.SplitN(s, ":", 2)
	wc, err := strconv.ParseInt(parts[0], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("workchain: %w", err)
	}
	if len(parts[1]) != 64 {
		return nil, fmt.Errorf("account hash must be 64 hex characters, got %d", len(parts[1]))
	}
	raw, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("account hash: %w", err)
	}
	a := &Address{workchain: int8(wc), bounceable: true}
	copy(a.hash[:], raw)
	return a, nil
}

func parseFriendly(s string) (*Address, error) {
	if len(s) != friendlyLen {
		return nil, fmt.Errorf("friendly address must be %d characters, got %d", friendlyLen, len(s))
	}
	var (
		raw []byte
		err error
	)
	if strings.ContainsAny(s, "-_") {
		raw, err = base64.URLEncoding.DecodeString(s)
	} else {
		raw, err = base64.StdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	if len(raw) != 36 {
		return nil, fmt.Errorf("decoded length %d", len(raw))
	}
	sum := crc16(raw[:34])
	if raw[34] != byte(sum>>8) || raw[35] != byte(sum) {
		return nil, errChecksum
	}
	tag := raw[0]
	a := &Address{workchain: int8(raw[1])}
	if tag&tagTestnet != 0 {
		a.testnet = true
		tag &^= tagTestnet
	}
	switch tag {
	case tagBounceable:
		a.bounceable = true
	case tagNonBounceable:
	default:
		return nil, errTag
	}
	copy(a.hash[:], raw[2:34])
	return a, nil
}

// Workchain returns the workchain id.
func (a *Address) Workchain() int8 { return a.workchain }

// Hash returns the 32 byte account hash.
func (a *Address) Hash() [32]byte { return a.hash }

// Bounceable reports the friendly-form bounce flag.
func (a *Address) Bounceable() bool { return a.bounceable }

// Testnet reports the friendly-form testnet flag.
func (a *Address) Testnet() bool { return a.testnet }

// WithBounceable returns a copy with the bounce flag set.
func (a *Address) WithBounceable(b bool) *Address {
	c := *a
	c.bounceable = b
	return &c
}

// WithTestnet returns a copy with the testnet flag set.
func (a *Address) WithTestnet(t bool) *Address {
	c := *a
	c.testnet = t
	return &c
}

// Equal compares workchain and hash, ignoring rendering flags.
func (a *Address) Equal(b *Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.workchain == b.workchain && bytes.Equal(a.hash[:], b.hash[:])
}

// Raw renders "workchain:hex".
func (a *Address) Raw() string {
	return fmt.Sprintf("%d:%s", a.workchain, hex.EncodeToString(a.hash[:]))
}

// String renders the url-safe friendly form.
func (a *Address) String() string {
	if a == nil {
		return ""
	}
	raw := make([]byte, 0, 36)
	tag := tagNonBounceable
	if a.bounceable {
		tag = tagBounceable
	}
	if a.testnet {
		tag |= tagTestnet
	}
	raw = append(raw, tag, byte(a.workchain))
	raw = append(raw, a.hash[:]...)
	sum := crc16(raw)
	raw = append(raw, byte(sum>>8), byte(sum))
	return base64.URLEncoding.EncodeToString(raw)
}

// MarshalText implements encoding.TextMarshaler.
func (a *Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = *parsed
	return nil
}

// crc16 is CRC-16/XMODEM (poly 0x1021, init 0).
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
