package quote

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"walletkit/core/units"
)

// StaticPrices is the last-resort reference price table, one price per whole
// unit of each asset in a common reference currency.
type StaticPrices struct {
	mu     sync.RWMutex
	prices map[string]*big.Rat
}

// NewStaticPrices parses decimal price strings keyed by asset id.
func NewStaticPrices(raw map[string]string) (*StaticPrices, error) {
	s := &StaticPrices{prices: make(map[string]*big.Rat, len(raw))}
	for id, value := range raw {
		if err := s.Set(id, value); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Set replaces the price of one asset.
func (s *StaticPrices) Set(assetID, price string) error {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(price))
	if !ok || r.Sign() <= 0 {
		return fmt.Errorf("static price for %s must be a positive decimal, got %q", assetID, price)
	}
	s.mu.Lock()
	s.prices[strings.ToLower(strings.TrimSpace(assetID))] = r
	s.mu.Unlock()
	return nil
}

func (s *StaticPrices) price(assetID string) (*big.Rat, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[strings.ToLower(assetID)]
	return p, ok
}

// Convert estimates the output for amount of from, in base units of to.
func (s *StaticPrices) Convert(from, to Asset, amount *big.Int) (*big.Int, error) {
	pin, ok := s.price(from.ID)
	if !ok {
		return nil, fmt.Errorf("no static price for %s", from)
	}
	pout, ok := s.price(to.ID)
	if !ok {
		return nil, fmt.Errorf("no static price for %s", to)
	}
	// amount / 10^decIn * pin / pout * 10^decOut
	v := new(big.Rat).SetInt(amount)
	v.Mul(v, pin)
	v.Quo(v, pout)
	v.Mul(v, new(big.Rat).SetFrac(units.Pow10(to.Decimals), units.Pow10(from.Decimals)))
	out := new(big.Int).Quo(v.Num(), v.Denom())
	if out.Sign() <= 0 {
		return nil, fmt.Errorf("static conversion of %s %s rounds to zero", amount, from)
	}
	return out, nil
}

