package quote

import (
	"errors"
	"math/big"
)

// ErrNoPool reports that a provider has no usable pool for a pair.
var ErrNoPool = errors.New("quote: no executable pool")

// Pool is a constant-product pool snapshot oriented in the trade direction.
type Pool struct {
	Address    string
	ReserveIn  *big.Int
	ReserveOut *big.Int
	FeeBps     int
	Route      Route
}

// Usable reports whether the pool has reserves on both sides.
func (p Pool) Usable() bool {
	return p.ReserveIn != nil && p.ReserveOut != nil && p.ReserveIn.Sign() > 0 && p.ReserveOut.Sign() > 0
}

// AMMOutput computes the constant-product output
//
//	out = in*(10000-fee)*rOut / (rIn*10000 + in*(10000-fee))
//
// floored to integer units.
func AMMOutput(amountIn, reserveIn, reserveOut *big.Int, feeBps int) *big.Int {
	if amountIn == nil || reserveIn == nil || reserveOut == nil ||
		amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int)
	}
	if feeBps < 0 {
		feeBps = 0
	}
	if feeBps >= basisPoints {
		return new(big.Int)
	}
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(basisPoints-feeBps)))
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(basisPoints))
	den.Add(den, inWithFee)
	return num.Quo(num, den)
}

// PriceImpact is the share of the input-side reserve consumed by the trade,
// as a percentage capped at 100.
func PriceImpact(amountIn, reserveIn *big.Int) float64 {
	if amountIn == nil || reserveIn == nil || amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 {
		return 0
	}
	impact := new(big.Rat).SetFrac(new(big.Int).Mul(amountIn, big.NewInt(100)), reserveIn)
	if impact.Cmp(big.NewRat(100, 1)) > 0 {
		return 100
	}
	f, _ := impact.Float64()
	return f
}

// bestPool picks the usable pool yielding the largest output.
func bestPool(pools []Pool, amountIn *big.Int) (Pool, *big.Int, bool) {
	var (
		best    Pool
		bestOut *big.Int
		found   bool
	)
	for _, p := range pools {
		if !p.Usable() {
			continue
		}
		out := AMMOutput(amountIn, p.ReserveIn, p.ReserveOut, p.FeeBps)
		if out.Sign() <= 0 {
			continue
		}
		if !found || out.Cmp(bestOut) > 0 {
			best, bestOut, found = p, out, true
		}
	}
	return best, bestOut, found
}
