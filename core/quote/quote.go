// Package quote aggregates swap quotes from exchange providers into one
// canonical shape and picks the best executable conversion.
package quote

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	basisPoints = 10_000

	// DefaultSlippageBps is applied when a request leaves slippage unset.
	DefaultSlippageBps = 100
	// MaxSlippageBps bounds user supplied slippage.
	MaxSlippageBps = 5_000
	// DefaultEstimateHaircutBps is the extra margin taken from estimate quotes
	// that are explicitly confirmed for execution.
	DefaultEstimateHaircutBps = 150
	// MaxValidity bounds how long any quote stays executable.
	MaxValidity = 30 * time.Second
	// DefaultValidity is how long a quote stays executable.
	DefaultValidity = MaxValidity
)

// NativeAssetID identifies the network's native coin.
const NativeAssetID = "native"

// Asset identifies a tradable asset. ID is NativeAssetID or the token master
// address.
type Asset struct {
	ID       string `json:"id" yaml:"id"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Decimals int    `json:"decimals" yaml:"decimals"`
}

// Native reports whether a is the native coin.
func (a Asset) Native() bool { return a.ID == NativeAssetID }

func (a Asset) String() string {
	if a.Symbol != "" {
		return a.Symbol
	}
	return a.ID
}

// Source records how a quote was derived.
type Source string

const (
	SourceLive   Source = "live"
	SourceAMM    Source = "amm"
	SourceStatic Source = "static"
)

// Route carries provider specific addresses needed to execute the quote.
type Route struct {
	Pool         string `json:"pool,omitempty"`
	Vault        string `json:"vault,omitempty"`
	Router       string `json:"router,omitempty"`
	RouterWallet string `json:"router_wallet,omitempty"`
	AskWallet    string `json:"ask_wallet,omitempty"`
}

// Quote is the normalised conversion offer. Amounts are in base units.
type Quote struct {
	ProviderID   string    `json:"provider"`
	Source       Source    `json:"source"`
	SourceAsset  Asset     `json:"source_asset"`
	TargetAsset  Asset     `json:"target_asset"`
	InputAmount  *big.Int  `json:"input_amount"`
	OutputAmount *big.Int  `json:"output_amount"`
	MinOutput    *big.Int  `json:"min_output_amount"`
	FeeEstimate  *big.Int  `json:"fee_estimate"`
	PriceImpact  float64   `json:"price_impact"`
	ValidUntil   time.Time `json:"valid_until"`
	IsEstimate   bool      `json:"is_estimate"`
	Route        Route     `json:"route"`
}

// Executable reports whether the quote may back a real submission without
// an explicit confirmation.
func (q *Quote) Executable() bool { return q != nil && !q.IsEstimate }

// Expired reports whether now is past ValidUntil.
func (q *Quote) Expired(now time.Time) bool { return !now.Before(q.ValidUntil) }

// Remaining is the countdown until the quote expires.
func (q *Quote) Remaining(now time.Time) time.Duration {
	if rem := q.ValidUntil.Sub(now); rem > 0 {
		return rem
	}
	return 0
}

// WithHaircut returns a copy whose MinOutput is reduced by bps.
func (q *Quote) WithHaircut(bps int) *Quote {
	c := *q
	c.MinOutput = ApplySlippage(q.MinOutput, bps)
	return &c
}

// Validate checks the quote invariants.
func (q *Quote) Validate() error {
	if q == nil {
		return fmt.Errorf("quote: nil")
	}
	if q.InputAmount == nil || q.InputAmount.Sign() <= 0 {
		return fmt.Errorf("quote %s: input amount must be positive", q.ProviderID)
	}
	if q.OutputAmount == nil || q.OutputAmount.Sign() <= 0 {
		return fmt.Errorf("quote %s: output amount must be positive", q.ProviderID)
	}
	if q.MinOutput == nil || q.MinOutput.Sign() < 0 || q.MinOutput.Cmp(q.OutputAmount) > 0 {
		return fmt.Errorf("quote %s: min output must be within [0, output]", q.ProviderID)
	}
	return nil
}

// Request is a conversion to price.
type Request struct {
	From        Asset
	To          Asset
	Amount      *big.Int
	SlippageBps int
}

// Pair is the canonical key for a direction of trade.
func (r Request) Pair() string {
	return strings.ToLower(r.From.ID) + "->" + strings.ToLower(r.To.ID)
}

func (r Request) validate() error {
	if strings.TrimSpace(r.From.ID) == "" || strings.TrimSpace(r.To.ID) == "" {
		return fmt.Errorf("source and target assets required")
	}
	if strings.EqualFold(r.From.ID, r.To.ID) {
		return fmt.Errorf("source and target assets must differ")
	}
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if r.SlippageBps < 0 || r.SlippageBps > MaxSlippageBps {
		return fmt.Errorf("slippage must be within [0, %d] bps", MaxSlippageBps)
	}
	return nil
}

// Result is the outcome of an aggregation.
type Result struct {
	Best     *Quote
	All      []*Quote
	Failures map[string]error
}

// ApplySlippage floors amount*(10000-bps)/10000.
func ApplySlippage(amount *big.Int, bps int) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	if bps <= 0 {
		return new(big.Int).Set(amount)
	}
	if bps >= basisPoints {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(basisPoints-bps)))
	return out.Quo(out, big.NewInt(basisPoints))
}

func feeOf(amount *big.Int, feeBps int) *big.Int {
	if amount == nil || feeBps <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(feeBps)))
	return out.Quo(out, big.NewInt(basisPoints))
}
