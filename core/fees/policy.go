// Package fees centralises gas and forward-value budgeting. Every call site
// asks the policy table instead of carrying its own constants.
package fees

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"walletkit/core/wallet"
)

// OpKind is the kind of operation an envelope performs.
type OpKind string

const (
	OpValueTransfer OpKind = "value_transfer"
	OpTokenTransfer OpKind = "token_transfer"
	OpSwapNativeIn  OpKind = "swap_native_in"
	OpSwapTokenIn   OpKind = "swap_token_in"
)

// OpKinds lists every operation kind.
var OpKinds = []OpKind{OpValueTransfer, OpTokenTransfer, OpSwapNativeIn, OpSwapTokenIn}

// Direction is the asset side a swap is paid from.
type Direction string

const (
	DirectionNativeIn Direction = "native_in"
	DirectionTokenIn  Direction = "token_in"
)

// Budget amounts are in native base units.
//
// Gas is the envelope execution budget reserved from the balance; for the
// high-throughput variant it is the value carried by the self-addressed
// internal transfer. Attach is value added to an outgoing message on top of
// the transferred amount. Forward is the value forwarded with a token
// notification.
type Budget struct {
	Gas     *big.Int
	Attach  *big.Int
	Forward *big.Int
}

func nano(v int64) *big.Int { return big.NewInt(v) }

// Clone deep copies b.
func (b Budget) Clone() Budget {
	return Budget{Gas: cloneInt(b.Gas), Attach: cloneInt(b.Attach), Forward: cloneInt(b.Forward)}
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

type variantKey struct {
	variant wallet.Variant
	op      OpKind
}

type swapKey struct {
	provider  string
	direction Direction
}

// Policy is the fee table keyed by (variant, op) and (provider, direction).
type Policy struct {
	variants map[variantKey]Budget
	swaps    map[swapKey]Budget
}

// Default returns the shipped table.
func Default() *Policy {
	p := &Policy{variants: make(map[variantKey]Budget), swaps: make(map[swapKey]Budget)}
	standard := map[OpKind]Budget{
		OpValueTransfer: {Gas: nano(10_000_000)},
		OpTokenTransfer: {Gas: nano(10_000_000), Attach: nano(50_000_000), Forward: nano(1)},
		OpSwapNativeIn:  {Gas: nano(10_000_000)},
		OpSwapTokenIn:   {Gas: nano(10_000_000)},
	}
	highload := map[OpKind]Budget{
		OpValueTransfer: {Gas: nano(50_000_000)},
		OpTokenTransfer: {Gas: nano(60_000_000), Attach: nano(50_000_000), Forward: nano(1)},
		OpSwapNativeIn:  {Gas: nano(70_000_000)},
		OpSwapTokenIn:   {Gas: nano(70_000_000)},
	}
	for _, v := range wallet.Variants {
		table := standard
		if v == wallet.HighThroughput {
			table = highload
		}
		for op, b := range table {
			p.variants[variantKey{v, op}] = b.Clone()
		}
	}
	p.swaps[swapKey{"dedust", DirectionNativeIn}] = Budget{Attach: nano(200_000_000)}.Clone()
	p.swaps[swapKey{"dedust", DirectionTokenIn}] = Budget{Attach: nano(300_000_000), Forward: nano(250_000_000)}.Clone()
	p.swaps[swapKey{"ston", DirectionNativeIn}] = Budget{Attach: nano(215_000_000), Forward: nano(215_000_000)}.Clone()
	p.swaps[swapKey{"ston", DirectionTokenIn}] = Budget{Attach: nano(265_000_000), Forward: nano(205_000_000)}.Clone()
	return p
}

// Budget returns the envelope budget for (variant, op).
func (p *Policy) Budget(v wallet.Variant, op OpKind) (Budget, error) {
	b, ok := p.variants[variantKey{v, op}]
	if !ok {
		return Budget{}, fmt.Errorf("fees: no budget for %s/%s", v, op)
	}
	return b.Clone(), nil
}

// Swap returns the provider message budget for a swap direction.
func (p *Policy) Swap(provider string, dir Direction) (Budget, error) {
	b, ok := p.swaps[swapKey{strings.ToLower(provider), dir}]
	if !ok {
		return Budget{}, fmt.Errorf("fees: no swap budget for %s/%s", provider, dir)
	}
	return b.Clone(), nil
}

// Set overrides one (variant, op) entry.
func (p *Policy) Set(v wallet.Variant, op OpKind, b Budget) {
	p.variants[variantKey{v, op}] = b.Clone()
}

// SetSwap overrides one (provider, direction) entry.
func (p *Policy) SetSwap(provider string, dir Direction, b Budget) {
	p.swaps[swapKey{strings.ToLower(provider), dir}] = b.Clone()
}

// Validate enforces that the high-throughput variant always budgets strictly
// more gas than every standard variant for the same operation, and that no
// entry is negative.
func (p *Policy) Validate() error {
	for key, b := range p.variants {
		for name, v := range map[string]*big.Int{"gas": b.Gas, "attach": b.Attach, "forward": b.Forward} {
			if v.Sign() < 0 {
				return fmt.Errorf("fees: %s/%s %s cannot be negative", key.variant, key.op, name)
			}
		}
	}
	for key, b := range p.swaps {
		if b.Attach.Sign() < 0 || b.Forward.Sign() < 0 {
			return fmt.Errorf("fees: swap %s/%s cannot be negative", key.provider, key.direction)
		}
		if b.Attach.Cmp(b.Forward) < 0 {
			return fmt.Errorf("fees: swap %s/%s attach must cover forward", key.provider, key.direction)
		}
	}
	for _, op := range OpKinds {
		hl, ok := p.variants[variantKey{wallet.HighThroughput, op}]
		if !ok {
			return fmt.Errorf("fees: missing %s budget for %s", op, wallet.HighThroughput)
		}
		for _, v := range wallet.Variants {
			if !v.Standard() {
				continue
			}
			std, ok := p.variants[variantKey{v, op}]
			if !ok {
				return fmt.Errorf("fees: missing %s budget for %s", op, v)
			}
			if hl.Gas.Cmp(std.Gas) <= 0 {
				return fmt.Errorf("fees: %s gas %s must exceed %s gas %s for %s", wallet.HighThroughput, hl.Gas, v, std.Gas, op)
			}
		}
	}
	return nil
}

// Providers lists providers with swap budgets, sorted.
func (p *Policy) Providers() []string {
	seen := make(map[string]struct{})
	for key := range p.swaps {
		seen[key.provider] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
