package fees

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"walletkit/core/wallet"
)

type fileSchedule struct {
	Variants  []fileVariant  `json:"variants" toml:"variants"`
	Providers []fileProvider `json:"providers" toml:"providers"`
}

type fileVariant struct {
	Variant string `json:"variant" toml:"variant"`
	Op      string `json:"op" toml:"op"`
	Gas     string `json:"gas" toml:"gas"`
	Attach  string `json:"attach" toml:"attach"`
	Forward string `json:"forward" toml:"forward"`
}

type fileProvider struct {
	Provider  string `json:"provider" toml:"provider"`
	Direction string `json:"direction" toml:"direction"`
	Attach    string `json:"attach" toml:"attach"`
	Forward   string `json:"forward" toml:"forward"`
}

// LoadSchedule reads fee overrides from a TOML or JSON file and applies them
// on top of the default table. The merged policy is validated before return.
func LoadSchedule(path string) (*Policy, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("fees: schedule path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fees: read schedule: %w", err)
	}
	var parsed fileSchedule
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&parsed); err != nil {
			return nil, fmt.Errorf("fees: decode schedule json: %w", err)
		}
	case ".toml", ".tml":
		meta, err := toml.DecodeReader(bytes.NewReader(data), &parsed)
		if err != nil {
			return nil, fmt.Errorf("fees: decode schedule toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("fees: unknown schedule fields %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("fees: unsupported schedule format %q", ext)
	}

	policy := Default()
	for i, entry := range parsed.Variants {
		v, err := wallet.ParseVariant(entry.Variant)
		if err != nil {
			return nil, fmt.Errorf("fees: variants[%d]: %w", i, err)
		}
		op, err := parseOp(entry.Op)
		if err != nil {
			return nil, fmt.Errorf("fees: variants[%d]: %w", i, err)
		}
		current, _ := policy.Budget(v, op)
		if current.Gas, err = override(current.Gas, entry.Gas); err != nil {
			return nil, fmt.Errorf("fees: variants[%d] gas: %w", i, err)
		}
		if current.Attach, err = override(current.Attach, entry.Attach); err != nil {
			return nil, fmt.Errorf("fees: variants[%d] attach: %w", i, err)
		}
		if current.Forward, err = override(current.Forward, entry.Forward); err != nil {
			return nil, fmt.Errorf("fees: variants[%d] forward: %w", i, err)
		}
		policy.Set(v, op, current)
	}
	for i, entry := range parsed.Providers {
		name := strings.ToLower(strings.TrimSpace(entry.Provider))
		if name == "" {
			return nil, fmt.Errorf("fees: providers[%d] name required", i)
		}
		dir := Direction(strings.ToLower(strings.TrimSpace(entry.Direction)))
		if dir != DirectionNativeIn && dir != DirectionTokenIn {
			return nil, fmt.Errorf("fees: providers[%d] direction %q unsupported", i, entry.Direction)
		}
		current, err := policy.Swap(name, dir)
		if err != nil {
			current = Budget{}.Clone()
		}
		if current.Attach, err = override(current.Attach, entry.Attach); err != nil {
			return nil, fmt.Errorf("fees: providers[%d] attach: %w", i, err)
		}
		if current.Forward, err = override(current.Forward, entry.Forward); err != nil {
			return nil, fmt.Errorf("fees: providers[%d] forward: %w", i, err)
		}
		policy.SetSwap(name, dir, current)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

func parseOp(s string) (OpKind, error) {
	op := OpKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range OpKinds {
		if op == known {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown op %q", s)
}

func override(current *big.Int, raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return current, nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount %q cannot be negative", raw)
	}
	return v, nil
}
